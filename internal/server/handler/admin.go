package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"tidebridge/internal/ledger"
)

// AdminLedger is the administrative slice of the escrow ledger.
type AdminLedger interface {
	DropRequests(ids []uint64) []uint64
	CorrectEscrow(caller, requester common.Address, asset string, delta int64, reason string) error
	SetPendingCap(limit int) error
	SetMinDeposit(asset string, min int64) error
	SetRelayAddress(addr common.Address) error
	SetAllowlistEnabled(enabled bool)
	SetBlocklistEnabled(enabled bool)
	Allow(addr common.Address)
	Disallow(addr common.Address)
	Block(addr common.Address)
	Unblock(addr common.Address)
	RelayAddress() common.Address
	PendingCap() int
	MinDeposit(asset string) int64
	AllowlistEnabled() bool
	BlocklistEnabled() bool
	Backlog() int
	EventSeq() int64
	JournalSeq() int64
}

// Recoverer re-fails PROCESSING requests left behind by a crash.
type Recoverer interface {
	RecoverStuck() []uint64
}

// SchedulerControl adjusts the scheduler's per-tick batch cap at runtime
// and reports its progress.
type SchedulerControl interface {
	BatchLimit() int
	SetBatchLimit(limit int) error
	Ticks() int64
	LastRun() time.Time
}

// AdminHandler serves the operator surface. Routes are registered behind the
// admin key, separate from the public API key.
type AdminHandler struct {
	ledger AdminLedger
	worker Recoverer
	sched  SchedulerControl
	logger zerolog.Logger
}

func NewAdminHandler(ledger AdminLedger, worker Recoverer, sched SchedulerControl, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		ledger: ledger,
		worker: worker,
		sched:  sched,
		logger: logger,
	}
}

// DropRequests force-fails the given requests and refunds their escrow.
// POST /api/admin/requests/drop
func (h *AdminHandler) DropRequests(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []uint64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(body.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids must not be empty")
		return
	}

	dropped := h.ledger.DropRequests(body.IDs)
	if dropped == nil {
		dropped = []uint64{}
	}
	h.logger.Info().Ints64("ids", toInt64s(dropped)).Msg("requests dropped")

	writeJSON(w, http.StatusOK, map[string]interface{}{"dropped": dropped})
}

// Recover re-drives failure completion for requests stuck in PROCESSING.
// POST /api/admin/recover
func (h *AdminHandler) Recover(w http.ResponseWriter, r *http.Request) {
	recovered := h.worker.RecoverStuck()
	if recovered == nil {
		recovered = []uint64{}
	}
	h.logger.Info().Ints64("ids", toInt64s(recovered)).Msg("recovery run")

	writeJSON(w, http.StatusOK, map[string]interface{}{"recovered": recovered})
}

// CorrectEscrow applies a balance correction found by reconciliation.
// POST /api/admin/escrow/correct
func (h *AdminHandler) CorrectEscrow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Requester string `json:"requester"`
		Asset     string `json:"asset"`
		Delta     int64  `json:"delta"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	requester, ok := parseAddr(body.Requester)
	if !ok {
		writeError(w, http.StatusBadRequest, "requester must be a 0x-prefixed hex address")
		return
	}
	if body.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	if err := h.ledger.CorrectEscrow(h.ledger.RelayAddress(), requester, body.Asset, body.Delta, body.Reason); err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("requester", body.Requester).Msg("escrow correction failed")
		}
		writeServiceError(w, err)
		return
	}

	h.logger.Info().
		Str("requester", requester.Hex()).
		Str("asset", body.Asset).
		Int64("delta", body.Delta).
		Str("reason", body.Reason).
		Msg("escrow corrected")
	writeJSON(w, http.StatusOK, map[string]string{"status": "corrected"})
}

// SetPendingCap updates the per-requester cap on outstanding requests.
// PUT /api/admin/pending-cap
func (h *AdminHandler) SetPendingCap(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Limit int `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.ledger.SetPendingCap(body.Limit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"pending_cap": body.Limit})
}

// SetBatchLimit updates the scheduler's per-tick batch cap.
// PUT /api/admin/batch-limit
func (h *AdminHandler) SetBatchLimit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Limit int `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.sched.SetBatchLimit(body.Limit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"batch_limit": body.Limit})
}

// SetMinDeposit updates the deposit floor for one asset.
// PUT /api/admin/min-deposit
func (h *AdminHandler) SetMinDeposit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Asset   string `json:"asset"`
		Minimum int64  `json:"minimum"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.ledger.SetMinDeposit(body.Asset, body.Minimum); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":   body.Asset,
		"minimum": body.Minimum,
	})
}

// SetRelayAddress rotates the custodial relay identity's address.
// PUT /api/admin/relay-address
func (h *AdminHandler) SetRelayAddress(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	addr, ok := parseAddr(body.Address)
	if !ok {
		writeError(w, http.StatusBadRequest, "address must be a 0x-prefixed hex address")
		return
	}

	if err := h.ledger.SetRelayAddress(addr); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().Str("relay_address", addr.Hex()).Msg("relay address rotated")
	writeJSON(w, http.StatusOK, map[string]string{"relay_address": addr.Hex()})
}

// accessListUpdate is the body shared by the allowlist and blocklist routes.
// Enabled toggles enforcement when present; Add and Remove adjust membership.
type accessListUpdate struct {
	Enabled *bool    `json:"enabled,omitempty"`
	Add     []string `json:"add,omitempty"`
	Remove  []string `json:"remove,omitempty"`
}

// UpdateAllowlist toggles allowlist enforcement and adjusts membership.
// PUT /api/admin/allowlist
func (h *AdminHandler) UpdateAllowlist(w http.ResponseWriter, r *http.Request) {
	h.updateAccessList(w, r, h.ledger.SetAllowlistEnabled, h.ledger.Allow, h.ledger.Disallow, "allowlist")
}

// UpdateBlocklist toggles blocklist enforcement and adjusts membership.
// PUT /api/admin/blocklist
func (h *AdminHandler) UpdateBlocklist(w http.ResponseWriter, r *http.Request) {
	h.updateAccessList(w, r, h.ledger.SetBlocklistEnabled, h.ledger.Block, h.ledger.Unblock, "blocklist")
}

func (h *AdminHandler) updateAccessList(
	w http.ResponseWriter,
	r *http.Request,
	setEnabled func(bool),
	add func(common.Address),
	remove func(common.Address),
	name string,
) {
	var body accessListUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	// Validate every address before applying anything.
	addAddrs, err := parseAddrs(body.Add)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	removeAddrs, err := parseAddrs(body.Remove)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if body.Enabled != nil {
		setEnabled(*body.Enabled)
	}
	for _, addr := range addAddrs {
		add(addr)
	}
	for _, addr := range removeAddrs {
		remove(addr)
	}

	h.logger.Info().
		Str("list", name).
		Int("added", len(addAddrs)).
		Int("removed", len(removeAddrs)).
		Msg("access list updated")
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Status reports runtime counters for operations dashboards.
// GET /api/admin/status
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"backlog":     h.ledger.Backlog(),
		"event_seq":   h.ledger.EventSeq(),
		"journal_seq": h.ledger.JournalSeq(),
		"batch_ticks": h.sched.Ticks(),
	}
	if last := h.sched.LastRun(); !last.IsZero() {
		status["last_batch"] = last.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, status)
}

// Settings returns the current operator-tunable knobs.
// GET /api/admin/settings
func (h *AdminHandler) Settings(w http.ResponseWriter, r *http.Request) {
	minDeposits := make(map[string]int64)
	for _, asset := range ledger.SupportedAssets() {
		minDeposits[asset] = h.ledger.MinDeposit(asset)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"relay_address":     h.ledger.RelayAddress().Hex(),
		"pending_cap":       h.ledger.PendingCap(),
		"batch_limit":       h.sched.BatchLimit(),
		"allowlist_enabled": h.ledger.AllowlistEnabled(),
		"blocklist_enabled": h.ledger.BlocklistEnabled(),
		"min_deposits":      minDeposits,
	})
}

// --- helpers ---

func parseAddrs(values []string) ([]common.Address, error) {
	addrs := make([]common.Address, 0, len(values))
	for _, v := range values {
		addr, ok := parseAddr(v)
		if !ok {
			return nil, fmt.Errorf("invalid address: %s", v)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func toInt64s(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
