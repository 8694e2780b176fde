// Package query serves reads from the bridge_state tables, which the
// persistence worker maintains transactionally with the event log. Results
// can lag the in-memory ledger by one flush interval; every response carries
// as_of_sequence, the last event sequence the worker has applied, so callers
// can judge freshness.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tidebridge/internal/escrow"
	"tidebridge/internal/ledger"
	"tidebridge/internal/observability"
)

// Per-read deadline. The state tables are small and indexed; anything slower
// means a stuck pool connection, not a slow query.
const queryTimeout = 500 * time.Millisecond

// Listing limits. Callers asking for more than MaxListLimit get MaxListLimit.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// QueryService provides read-only access to the state tables.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// GetRequest returns a single request by id. Returns escrow.ErrNotFound when
// no such request has been persisted.
func (qs *QueryService) GetRequest(ctx context.Context, id uint64) (*RequestRecord, error) {
	start := time.Now()
	rec, err := qs.getRequest(ctx, id)
	qs.observe("get_request", start, err)
	return rec, err
}

func (qs *QueryService) getRequest(ctx context.Context, id uint64) (*RequestRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var (
		rec        RequestRecord
		positionID sql.NullString
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT id, requester, kind, status, asset, amount, position_id,
		       position_type, strategy, result_message, created_at, updated_at
		FROM bridge_state.requests
		WHERE id = $1
	`, int64(id)).Scan(
		&rec.ID, &rec.Requester, &rec.Kind, &rec.Status, &rec.Asset,
		&rec.Amount, &positionID, &rec.PositionType, &rec.Strategy,
		&rec.ResultMessage, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, escrow.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.PositionID = positionID.String
	rec.AsOfSequence = asOfSeq
	return &rec, nil
}

// ListRequests returns requests newest first, optionally filtered by
// requester and status. Cursor pagination follows the id ordering: pass the
// last id of the previous page as afterID to fetch the next one.
func (qs *QueryService) ListRequests(
	ctx context.Context,
	requester *common.Address,
	status *string,
	limit int,
	afterID *uint64,
) ([]RequestRecord, error) {
	start := time.Now()
	recs, err := qs.listRequests(ctx, requester, status, limit, afterID)
	qs.observe("list_requests", start, err)
	return recs, err
}

func (qs *QueryService) listRequests(
	ctx context.Context,
	requester *common.Address,
	status *string,
	limit int,
	afterID *uint64,
) ([]RequestRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `
		SELECT id, requester, kind, status, asset, amount, position_id,
		       position_type, strategy, result_message, created_at, updated_at
		FROM bridge_state.requests
	`
	var (
		conds  []string
		args   []interface{}
		argIdx = 1
	)

	if requester != nil {
		conds = append(conds, fmt.Sprintf("requester = $%d", argIdx))
		args = append(args, requester.Hex())
		argIdx++
	}
	if status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *status)
		argIdx++
	}
	if afterID != nil {
		conds = append(conds, fmt.Sprintf("id < $%d", argIdx))
		args = append(args, int64(*afterID))
		argIdx++
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RequestRecord
	for rows.Next() {
		var (
			rec        RequestRecord
			positionID sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.Requester, &rec.Kind, &rec.Status, &rec.Asset,
			&rec.Amount, &positionID, &rec.PositionType, &rec.Strategy,
			&rec.ResultMessage, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rec.PositionID = positionID.String
		rec.AsOfSequence = asOfSeq
		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetEscrowBalances returns a requester's non-zero escrow holdings per asset.
func (qs *QueryService) GetEscrowBalances(ctx context.Context, requester common.Address) ([]EscrowBalance, error) {
	start := time.Now()
	balances, err := qs.getEscrowBalances(ctx, requester)
	qs.observe("escrow_balances", start, err)
	return balances, err
}

func (qs *QueryService) getEscrowBalances(ctx context.Context, requester common.Address) ([]EscrowBalance, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, balance
		FROM bridge_state.escrow_balances
		WHERE scope = $1 AND entity = $2 AND sub_type = $3 AND balance <> 0
		ORDER BY asset_id
	`, int16(ledger.AccountScopeUser), requester.Bytes(), int16(ledger.SubTypeEscrow))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []EscrowBalance
	for rows.Next() {
		var (
			assetID int32
			balance int64
		)
		if err := rows.Scan(&assetID, &balance); err != nil {
			return nil, err
		}
		asset, ok := ledger.GetAssetName(ledger.AssetID(assetID))
		if !ok {
			asset = fmt.Sprintf("ASSET_%d", assetID)
		}
		balances = append(balances, EscrowBalance{
			Requester:    requester.Hex(),
			Asset:        asset,
			Balance:      balance,
			AsOfSequence: asOfSeq,
		})
	}

	return balances, rows.Err()
}

// GetPositions returns the positions registered to an owner.
func (qs *QueryService) GetPositions(ctx context.Context, owner common.Address) ([]PositionRecord, error) {
	start := time.Now()
	positions, err := qs.getPositions(ctx, owner)
	qs.observe("positions", start, err)
	return positions, err
}

func (qs *QueryService) getPositions(ctx context.Context, owner common.Address) ([]PositionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT position_id, owner
		FROM bridge_state.positions
		WHERE owner = $1
		ORDER BY position_id
	`, owner.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionRecord
	for rows.Next() {
		var rec PositionRecord
		if err := rows.Scan(&rec.PositionID, &rec.Owner); err != nil {
			return nil, err
		}
		rec.AsOfSequence = asOfSeq
		positions = append(positions, rec)
	}

	return positions, rows.Err()
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT value FROM bridge_state.meta WHERE key = 'event_seq'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) observe(endpoint string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		if err == escrow.ErrNotFound {
			status = "not_found"
		}
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
