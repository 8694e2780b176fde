package handler

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"tidebridge/internal/query"
)

// BalanceReader serves escrow balance lookups from the state tables.
type BalanceReader interface {
	GetEscrowBalances(ctx context.Context, requester common.Address) ([]query.EscrowBalance, error)
}

// EscrowHandler serves escrow balance reads.
type EscrowHandler struct {
	reader BalanceReader
	logger zerolog.Logger
}

func NewEscrowHandler(reader BalanceReader, logger zerolog.Logger) *EscrowHandler {
	return &EscrowHandler{reader: reader, logger: logger}
}

type escrowResponse struct {
	Balances []query.EscrowBalance `json:"balances"`
}

// Get returns a requester's non-zero escrow holdings per asset.
// GET /api/escrow?requester=0x...
func (h *EscrowHandler) Get(w http.ResponseWriter, r *http.Request) {
	requester, ok := parseAddr(r.URL.Query().Get("requester"))
	if !ok {
		writeError(w, http.StatusBadRequest, "requester query parameter required")
		return
	}

	balances, err := h.reader.GetEscrowBalances(r.Context(), requester)
	if err != nil {
		h.logger.Error().Err(err).Str("requester", requester.Hex()).Msg("escrow lookup failed")
		writeServiceError(w, err)
		return
	}
	if balances == nil {
		balances = []query.EscrowBalance{}
	}

	writeJSON(w, http.StatusOK, escrowResponse{Balances: balances})
}
