package handler

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"tidebridge/internal/query"
)

// PositionReader serves position ownership lookups from the state tables.
type PositionReader interface {
	GetPositions(ctx context.Context, owner common.Address) ([]query.PositionRecord, error)
}

// PositionHandler serves position ownership reads.
type PositionHandler struct {
	reader PositionReader
	logger zerolog.Logger
}

func NewPositionHandler(reader PositionReader, logger zerolog.Logger) *PositionHandler {
	return &PositionHandler{reader: reader, logger: logger}
}

type positionsResponse struct {
	Positions []query.PositionRecord `json:"positions"`
}

// List returns the positions registered to an owner.
// GET /api/positions?owner=0x...
func (h *PositionHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddr(r.URL.Query().Get("owner"))
	if !ok {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	positions, err := h.reader.GetPositions(r.Context(), owner)
	if err != nil {
		h.logger.Error().Err(err).Str("owner", owner.Hex()).Msg("positions lookup failed")
		writeServiceError(w, err)
		return
	}
	if positions == nil {
		positions = []query.PositionRecord{}
	}

	writeJSON(w, http.StatusOK, positionsResponse{Positions: positions})
}
