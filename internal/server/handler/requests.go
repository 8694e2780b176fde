package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tidebridge/internal/escrow"
	"tidebridge/internal/query"
)

// LedgerWriter is the slice of the escrow ledger the request handler mutates.
type LedgerWriter interface {
	Submit(requester common.Address, kind escrow.RequestKind, asset string, amount int64, positionID uuid.UUID, positionType, strategy string) (uint64, error)
	Cancel(requestID uint64, caller common.Address, isAdmin bool) error
}

// RequestReader serves request lookups from the state tables.
type RequestReader interface {
	GetRequest(ctx context.Context, id uint64) (*query.RequestRecord, error)
	ListRequests(ctx context.Context, requester *common.Address, status *string, limit int, afterID *uint64) ([]query.RequestRecord, error)
}

// RequestHandler serves the request lifecycle endpoints. Writes go to the
// in-memory escrow ledger; reads come from the state tables and can lag by
// one flush interval (responses carry as_of_sequence).
type RequestHandler struct {
	ledger LedgerWriter
	reader RequestReader
	logger zerolog.Logger
}

func NewRequestHandler(ledger LedgerWriter, reader RequestReader, logger zerolog.Logger) *RequestHandler {
	return &RequestHandler{
		ledger: ledger,
		reader: reader,
		logger: logger,
	}
}

type submitRequest struct {
	Requester    string `json:"requester"`
	Kind         string `json:"kind"`
	Asset        string `json:"asset"`
	Amount       int64  `json:"amount"`
	PositionID   string `json:"position_id,omitempty"`
	PositionType string `json:"position_type,omitempty"`
	Strategy     string `json:"strategy,omitempty"`
}

type submitResponse struct {
	ID     uint64 `json:"id"`
	Status string `json:"status"`
}

// Submit records a new request.
// POST /api/requests
func (h *RequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	requester, ok := parseAddr(body.Requester)
	if !ok {
		writeError(w, http.StatusBadRequest, "requester must be a 0x-prefixed hex address")
		return
	}
	kind, ok := escrow.ParseRequestKind(body.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown request kind: "+body.Kind)
		return
	}

	positionID := uuid.Nil
	if body.PositionID != "" {
		var err error
		positionID, err = uuid.Parse(body.PositionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid position_id: "+err.Error())
			return
		}
	}

	id, err := h.ledger.Submit(requester, kind, body.Asset, body.Amount, positionID, body.PositionType, body.Strategy)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("requester", body.Requester).Msg("submit failed")
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitResponse{ID: id, Status: escrow.StatusPending.String()})
}

// Get returns one request by id.
// GET /api/requests/{id}
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "request id must be numeric")
		return
	}

	rec, err := h.reader.GetRequest(r.Context(), id)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error().Err(err).Uint64("id", id).Msg("get request failed")
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

type listRequestsResponse struct {
	Requests   []query.RequestRecord `json:"requests"`
	NextCursor uint64                `json:"next_cursor,omitempty"`
}

// List returns requests newest first with cursor pagination.
// GET /api/requests?requester=0x...&status=PENDING&limit=50&after=123
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var requester *common.Address
	if v := q.Get("requester"); v != "" {
		addr, ok := parseAddr(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "requester must be a 0x-prefixed hex address")
			return
		}
		requester = &addr
	}

	var status *string
	if v := q.Get("status"); v != "" {
		parsed, ok := escrow.ParseRequestStatus(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown status: "+v)
			return
		}
		canonical := parsed.String()
		status = &canonical
	}

	limit := query.DefaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > query.MaxListLimit {
		limit = query.MaxListLimit
	}

	var afterID *uint64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be a request id")
			return
		}
		afterID = &n
	}

	records, err := h.reader.ListRequests(r.Context(), requester, status, limit, afterID)
	if err != nil {
		h.logger.Error().Err(err).Msg("list requests failed")
		writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []query.RequestRecord{}
	}

	resp := listRequestsResponse{Requests: records}
	if len(records) == limit {
		resp.NextCursor = records[len(records)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// Cancel withdraws a PENDING request on behalf of its requester.
// DELETE /api/requests/{id}?requester=0x...
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "request id must be numeric")
		return
	}

	caller, ok := parseAddr(r.URL.Query().Get("requester"))
	if !ok {
		writeError(w, http.StatusBadRequest, "requester query parameter required")
		return
	}

	if err := h.ledger.Cancel(id, caller, false); err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error().Err(err).Uint64("id", id).Msg("cancel failed")
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": escrow.StatusFailed.String(),
	})
}
