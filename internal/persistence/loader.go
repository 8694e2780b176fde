package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"tidebridge/internal/escrow"
	"tidebridge/internal/ledger"
)

// State is everything the escrow ledger needs to resume where the last
// committed flush left off.
type State struct {
	Requests      []escrow.Request
	Balances      map[ledger.AccountKey]int64
	Positions     map[uuid.UUID]common.Address
	NextRequestID uint64
	EventSeq      int64
	JournalSeq    int64
}

// PendingCount returns how many loaded requests will re-enter the queue.
func (s *State) PendingCount() int {
	n := 0
	for i := range s.Requests {
		if s.Requests[i].Status == escrow.StatusPending {
			n++
		}
	}
	return n
}

// ProcessingCount returns how many loaded requests were claimed but never
// finalized before the shutdown.
func (s *State) ProcessingCount() int {
	n := 0
	for i := range s.Requests {
		if s.Requests[i].Status == escrow.StatusProcessing {
			n++
		}
	}
	return n
}

// LoadState reads the bridge_state tables. Requests come back in id order,
// which is submission order, so the rebuilt pending queue keeps its FIFO
// ordering. An empty database yields a usable zero state.
func LoadState(ctx context.Context, db *sql.DB) (*State, error) {
	st := &State{
		Balances:      make(map[ledger.AccountKey]int64),
		Positions:     make(map[uuid.UUID]common.Address),
		NextRequestID: 1,
	}

	if err := loadRequests(ctx, db, st); err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	if err := loadBalances(ctx, db, st); err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	if err := loadPositions(ctx, db, st); err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	if err := loadMeta(ctx, db, st); err != nil {
		return nil, fmt.Errorf("load meta: %w", err)
	}
	return st, nil
}

func loadRequests(ctx context.Context, db *sql.DB, st *State) error {
	rows, err := db.QueryContext(ctx, `
		SELECT id, requester, kind, asset, amount, position_id,
		       position_type, strategy, status, result_message, created_at
		FROM bridge_state.requests
		ORDER BY id ASC
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id         int64
			requester  string
			kindStr    string
			statusStr  string
			positionID sql.NullString
			req        escrow.Request
		)
		if err := rows.Scan(
			&id, &requester, &kindStr, &req.Asset, &req.Amount, &positionID,
			&req.PositionType, &req.Strategy, &statusStr, &req.ResultMessage, &req.CreatedAt,
		); err != nil {
			return err
		}

		req.ID = uint64(id)
		req.Requester = common.HexToAddress(requester)

		kind, ok := escrow.ParseRequestKind(kindStr)
		if !ok {
			return fmt.Errorf("request %d: unknown kind %q", id, kindStr)
		}
		req.Kind = kind

		status, ok := escrow.ParseRequestStatus(statusStr)
		if !ok {
			return fmt.Errorf("request %d: unknown status %q", id, statusStr)
		}
		req.Status = status

		if positionID.Valid && positionID.String != "" {
			pid, err := uuid.Parse(positionID.String)
			if err != nil {
				return fmt.Errorf("request %d: bad position id %q: %v", id, positionID.String, err)
			}
			req.PositionID = pid
		}

		st.Requests = append(st.Requests, req)
	}
	return rows.Err()
}

func loadBalances(ctx context.Context, db *sql.DB, st *State) error {
	rows, err := db.QueryContext(ctx, `
		SELECT scope, entity, sub_type, asset_id, balance
		FROM bridge_state.escrow_balances
		WHERE balance <> 0
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			scope   int16
			entity  []byte
			subType int16
			assetID int32
			balance int64
		)
		if err := rows.Scan(&scope, &entity, &subType, &assetID, &balance); err != nil {
			return err
		}
		if len(entity) != 20 {
			return fmt.Errorf("balance row has %d-byte entity, want 20", len(entity))
		}

		key := ledger.AccountKey{
			Scope:   ledger.AccountScope(scope),
			SubType: ledger.AccountSubType(subType),
			AssetID: ledger.AssetID(assetID),
		}
		copy(key.EntityID[:], entity)
		st.Balances[key] = balance
	}
	return rows.Err()
}

func loadPositions(ctx context.Context, db *sql.DB, st *State) error {
	rows, err := db.QueryContext(ctx, `
		SELECT position_id, owner FROM bridge_state.positions
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    uuid.UUID
			owner string
		)
		if err := rows.Scan(&id, &owner); err != nil {
			return err
		}
		st.Positions[id] = common.HexToAddress(owner)
	}
	return rows.Err()
}

func loadMeta(ctx context.Context, db *sql.DB, st *State) error {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM bridge_state.meta`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			value int64
		)
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		switch key {
		case metaNextRequestID:
			if value > 0 {
				st.NextRequestID = uint64(value)
			}
		case metaEventSeq:
			st.EventSeq = value
		case metaJournalSeq:
			st.JournalSeq = value
		}
	}
	return rows.Err()
}
