package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"tidebridge/internal/escrow"
	"tidebridge/internal/query"
	"tidebridge/internal/server"
	"tidebridge/internal/server/handler"
)

const (
	publicKey = "public-test-key"
	adminKey  = "admin-test-key"
)

var (
	testRelay = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testAlice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testBob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// --- Test helpers ---

func newTestLedger() *escrow.Ledger {
	return escrow.NewLedger(escrow.Config{
		RelayAddress: testRelay,
		PendingCap:   2,
		MinDeposits:  map[string]int64{"USDC": 100},
	}, nil, nil, nil)
}

type stubReader struct {
	records   map[uint64]query.RequestRecord
	balances  map[common.Address][]query.EscrowBalance
	positions map[common.Address][]query.PositionRecord
}

func (s *stubReader) GetRequest(ctx context.Context, id uint64) (*query.RequestRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, escrow.ErrNotFound
	}
	return &rec, nil
}

func (s *stubReader) ListRequests(
	ctx context.Context,
	requester *common.Address,
	status *string,
	limit int,
	afterID *uint64,
) ([]query.RequestRecord, error) {
	var ids []uint64
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	var out []query.RequestRecord
	for _, id := range ids {
		rec := s.records[id]
		if requester != nil && rec.Requester != requester.Hex() {
			continue
		}
		if status != nil && rec.Status != *status {
			continue
		}
		if afterID != nil && id >= *afterID {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *stubReader) GetEscrowBalances(ctx context.Context, requester common.Address) ([]query.EscrowBalance, error) {
	return s.balances[requester], nil
}

func (s *stubReader) GetPositions(ctx context.Context, owner common.Address) ([]query.PositionRecord, error) {
	return s.positions[owner], nil
}

type stubRecoverer struct{ ids []uint64 }

func (s *stubRecoverer) RecoverStuck() []uint64 { return s.ids }

type stubLimiter struct {
	limit   int
	ticks   int64
	lastRun time.Time
}

func (s *stubLimiter) BatchLimit() int { return s.limit }

func (s *stubLimiter) SetBatchLimit(limit int) error {
	if limit < 1 {
		return fmt.Errorf("batch limit must be at least 1: %d", limit)
	}
	s.limit = limit
	return nil
}

func (s *stubLimiter) Ticks() int64 { return s.ticks }

func (s *stubLimiter) LastRun() time.Time { return s.lastRun }

type fixture struct {
	handler http.Handler
	ledger  *escrow.Ledger
	reader  *stubReader
	limiter *stubLimiter
}

func newFixture(recovered ...uint64) *fixture {
	logger := zerolog.Nop()
	led := newTestLedger()
	reader := &stubReader{
		records:   make(map[uint64]query.RequestRecord),
		balances:  make(map[common.Address][]query.EscrowBalance),
		positions: make(map[common.Address][]query.PositionRecord),
	}
	limiter := &stubLimiter{limit: 50}

	srv := server.NewServer(server.Config{
		Port:     0,
		APIKey:   publicKey,
		AdminKey: adminKey,
	}, server.Handlers{
		Requests:  handler.NewRequestHandler(led, reader, logger),
		Escrow:    handler.NewEscrowHandler(reader, logger),
		Positions: handler.NewPositionHandler(reader, logger),
		Admin:     handler.NewAdminHandler(led, &stubRecoverer{ids: recovered}, limiter, logger),
	}, logger)

	return &fixture{
		handler: srv.Handler(),
		ledger:  led,
		reader:  reader,
		limiter: limiter,
	}
}

func (f *fixture) do(t *testing.T, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func submitBody(requester common.Address, kind string, amount int64) map[string]interface{} {
	return map[string]interface{}{
		"requester": requester.Hex(),
		"kind":      kind,
		"asset":     "USDC",
		"amount":    amount,
	}
}

// ============================================================================
// Test: authentication
// ============================================================================

func TestAuthRequiredPerSurface(t *testing.T) {
	f := newFixture()

	if rec := f.do(t, http.MethodGet, "/api/requests/1", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/requests/1", "wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", rec.Code)
	}

	// The public key does not open the admin surface.
	if rec := f.do(t, http.MethodGet, "/api/admin/settings", publicKey, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("public key on admin route: status = %d, want 401", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/admin/settings", adminKey, nil); rec.Code != http.StatusOK {
		t.Errorf("admin key on admin route: status = %d, want 200", rec.Code)
	}
}

// ============================================================================
// Test: submit and cancel
// ============================================================================

func TestSubmitAndCancel(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/requests", publicKey, submitBody(testAlice, "OPEN_POSITION", 2000))
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID     uint64 `json:"id"`
		Status string `json:"status"`
	}
	decodeBody(t, rec, &created)
	if created.ID != 1 || created.Status != "PENDING" {
		t.Errorf("created = %+v, want id 1 PENDING", created)
	}

	if got, _ := f.ledger.EscrowBalance(testAlice, "USDC"); got != 2000 {
		t.Errorf("escrow after submit = %d, want 2000", got)
	}

	// Only the requester may cancel.
	rec = f.do(t, http.MethodDelete, "/api/requests/1?requester="+testBob.Hex(), publicKey, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("cancel by stranger: status = %d, want 403", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/api/requests/1?requester="+testAlice.Hex(), publicKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got, _ := f.ledger.EscrowBalance(testAlice, "USDC"); got != 0 {
		t.Errorf("escrow after cancel = %d, want 0", got)
	}
	req, ok := f.ledger.Get(1)
	if !ok || req.Status != escrow.StatusFailed {
		t.Errorf("request after cancel = %+v, want FAILED", req)
	}

	rec = f.do(t, http.MethodDelete, "/api/requests/99?requester="+testAlice.Hex(), publicKey, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cancel unknown: status = %d, want 404", rec.Code)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture()

	cases := []struct {
		name string
		body interface{}
		want int
	}{
		{"bad requester", map[string]interface{}{"requester": "nope", "kind": "OPEN_POSITION", "asset": "USDC", "amount": 500}, http.StatusBadRequest},
		{"unknown kind", map[string]interface{}{"requester": testAlice.Hex(), "kind": "TRANSFER", "asset": "USDC", "amount": 500}, http.StatusBadRequest},
		{"unsupported asset", map[string]interface{}{"requester": testAlice.Hex(), "kind": "OPEN_POSITION", "asset": "DOGE", "amount": 500}, http.StatusBadRequest},
		{"below minimum", submitBody(testAlice, "OPEN_POSITION", 50), http.StatusBadRequest},
		{"bad position id", map[string]interface{}{"requester": testAlice.Hex(), "kind": "ADD_FUNDS", "asset": "USDC", "amount": 500, "position_id": "not-a-uuid"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if rec := f.do(t, http.MethodPost, "/api/requests", publicKey, tc.body); rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d (body %s)", tc.name, rec.Code, tc.want, rec.Body.String())
		}
	}

	// Malformed JSON body.
	req := httptest.NewRequest(http.MethodPost, "/api/requests", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-API-Key", publicKey)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}
}

func TestSubmitPendingCap(t *testing.T) {
	f := newFixture()

	for i := 0; i < 2; i++ {
		if rec := f.do(t, http.MethodPost, "/api/requests", publicKey, submitBody(testAlice, "OPEN_POSITION", 500)); rec.Code != http.StatusCreated {
			t.Fatalf("submit %d: status = %d", i+1, rec.Code)
		}
	}

	rec := f.do(t, http.MethodPost, "/api/requests", publicKey, submitBody(testAlice, "OPEN_POSITION", 500))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("over cap: status = %d, want 429", rec.Code)
	}
}

// ============================================================================
// Test: reads through the query stubs
// ============================================================================

func TestGetRequestEndpoint(t *testing.T) {
	f := newFixture()
	f.reader.records[5] = query.RequestRecord{ID: 5, Requester: testAlice.Hex(), Kind: "ADD_FUNDS", Status: "COMPLETED", Asset: "USDC", Amount: 900}

	rec := f.do(t, http.MethodGet, "/api/requests/5", publicKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	var got query.RequestRecord
	decodeBody(t, rec, &got)
	if got.ID != 5 || got.Status != "COMPLETED" {
		t.Errorf("record = %+v", got)
	}

	if rec := f.do(t, http.MethodGet, "/api/requests/404", publicKey, nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/requests/abc", publicKey, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id: status = %d, want 400", rec.Code)
	}
}

func TestListRequestsEndpoint(t *testing.T) {
	f := newFixture()
	for id := uint64(1); id <= 5; id++ {
		f.reader.records[id] = query.RequestRecord{ID: id, Requester: testAlice.Hex(), Kind: "ADD_FUNDS", Status: "PENDING", Asset: "USDC", Amount: int64(id) * 100}
	}

	rec := f.do(t, http.MethodGet, "/api/requests?limit=2", publicKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var page struct {
		Requests   []query.RequestRecord `json:"requests"`
		NextCursor uint64                `json:"next_cursor"`
	}
	decodeBody(t, rec, &page)
	if len(page.Requests) != 2 || page.Requests[0].ID != 5 || page.Requests[1].ID != 4 {
		t.Fatalf("first page = %+v, want ids 5,4", page.Requests)
	}
	if page.NextCursor != 4 {
		t.Errorf("next_cursor = %d, want 4", page.NextCursor)
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/requests?limit=2&after=%d", page.NextCursor), publicKey, nil)
	decodeBody(t, rec, &page)
	if len(page.Requests) != 2 || page.Requests[0].ID != 3 || page.Requests[1].ID != 2 {
		t.Fatalf("second page = %+v, want ids 3,2", page.Requests)
	}

	if rec := f.do(t, http.MethodGet, "/api/requests?status=NOPE", publicKey, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad status filter: status = %d, want 400", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/requests?limit=-1", publicKey, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", rec.Code)
	}
}

func TestEscrowAndPositionEndpoints(t *testing.T) {
	f := newFixture()
	f.reader.balances[testAlice] = []query.EscrowBalance{{Requester: testAlice.Hex(), Asset: "USDC", Balance: 1500}}
	f.reader.positions[testAlice] = []query.PositionRecord{{PositionID: "11111111-2222-3333-4444-555555555555", Owner: testAlice.Hex()}}

	rec := f.do(t, http.MethodGet, "/api/escrow?requester="+testAlice.Hex(), publicKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("escrow: status = %d", rec.Code)
	}
	var escrowResp struct {
		Balances []query.EscrowBalance `json:"balances"`
	}
	decodeBody(t, rec, &escrowResp)
	if len(escrowResp.Balances) != 1 || escrowResp.Balances[0].Balance != 1500 {
		t.Errorf("balances = %+v", escrowResp.Balances)
	}

	// A requester with nothing escrowed gets an empty list, not null.
	rec = f.do(t, http.MethodGet, "/api/escrow?requester="+testBob.Hex(), publicKey, nil)
	if body := rec.Body.String(); body != `{"balances":[]}` {
		t.Errorf("empty escrow body = %s", body)
	}

	rec = f.do(t, http.MethodGet, "/api/positions?owner="+testAlice.Hex(), publicKey, nil)
	var posResp struct {
		Positions []query.PositionRecord `json:"positions"`
	}
	decodeBody(t, rec, &posResp)
	if len(posResp.Positions) != 1 || posResp.Positions[0].Owner != testAlice.Hex() {
		t.Errorf("positions = %+v", posResp.Positions)
	}

	if rec := f.do(t, http.MethodGet, "/api/escrow", publicKey, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("escrow without requester: status = %d, want 400", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/positions", publicKey, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("positions without owner: status = %d, want 400", rec.Code)
	}
}

// ============================================================================
// Test: admin surface
// ============================================================================

func TestAdminDropRequests(t *testing.T) {
	f := newFixture()

	f.do(t, http.MethodPost, "/api/requests", publicKey, submitBody(testAlice, "OPEN_POSITION", 700))

	rec := f.do(t, http.MethodPost, "/api/admin/requests/drop", adminKey, map[string]interface{}{"ids": []uint64{1, 42}})
	if rec.Code != http.StatusOK {
		t.Fatalf("drop: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Dropped []uint64 `json:"dropped"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Dropped) != 1 || resp.Dropped[0] != 1 {
		t.Errorf("dropped = %v, want [1]", resp.Dropped)
	}

	if got, _ := f.ledger.EscrowBalance(testAlice, "USDC"); got != 0 {
		t.Errorf("escrow after drop = %d, want 0", got)
	}

	if rec := f.do(t, http.MethodPost, "/api/admin/requests/drop", adminKey, map[string]interface{}{"ids": []uint64{}}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty ids: status = %d, want 400", rec.Code)
	}
}

func TestAdminTuning(t *testing.T) {
	f := newFixture()

	if rec := f.do(t, http.MethodPut, "/api/admin/pending-cap", adminKey, map[string]int{"limit": 9}); rec.Code != http.StatusOK {
		t.Fatalf("pending-cap: status = %d", rec.Code)
	}
	if got := f.ledger.PendingCap(); got != 9 {
		t.Errorf("pending cap = %d, want 9", got)
	}
	if rec := f.do(t, http.MethodPut, "/api/admin/pending-cap", adminKey, map[string]int{"limit": 0}); rec.Code != http.StatusBadRequest {
		t.Errorf("zero cap: status = %d, want 400", rec.Code)
	}

	if rec := f.do(t, http.MethodPut, "/api/admin/batch-limit", adminKey, map[string]int{"limit": 40}); rec.Code != http.StatusOK {
		t.Fatalf("batch-limit: status = %d", rec.Code)
	}
	if f.limiter.limit != 40 {
		t.Errorf("batch limit = %d, want 40", f.limiter.limit)
	}

	if rec := f.do(t, http.MethodPut, "/api/admin/min-deposit", adminKey, map[string]interface{}{"asset": "USDC", "minimum": 250}); rec.Code != http.StatusOK {
		t.Fatalf("min-deposit: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/requests", publicKey, submitBody(testAlice, "OPEN_POSITION", 150)); rec.Code != http.StatusBadRequest {
		t.Errorf("deposit below raised minimum: status = %d, want 400", rec.Code)
	}

	var settings struct {
		RelayAddress     string           `json:"relay_address"`
		PendingCap       int              `json:"pending_cap"`
		BatchLimit       int              `json:"batch_limit"`
		AllowlistEnabled bool             `json:"allowlist_enabled"`
		MinDeposits      map[string]int64 `json:"min_deposits"`
	}
	rec := f.do(t, http.MethodGet, "/api/admin/settings", adminKey, nil)
	decodeBody(t, rec, &settings)
	if settings.PendingCap != 9 || settings.BatchLimit != 40 {
		t.Errorf("settings = %+v", settings)
	}
	if settings.MinDeposits["USDC"] != 250 {
		t.Errorf("min_deposits = %v, want USDC 250", settings.MinDeposits)
	}
	if settings.RelayAddress != testRelay.Hex() {
		t.Errorf("relay_address = %s, want %s", settings.RelayAddress, testRelay.Hex())
	}
}

func TestAdminRelayRotation(t *testing.T) {
	f := newFixture()
	next := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	rec := f.do(t, http.MethodPut, "/api/admin/relay-address", adminKey, map[string]string{"address": next.Hex()})
	if rec.Code != http.StatusOK {
		t.Fatalf("relay rotation: status = %d", rec.Code)
	}
	if got := f.ledger.RelayAddress(); got != next {
		t.Errorf("relay address = %s, want %s", got.Hex(), next.Hex())
	}

	if rec := f.do(t, http.MethodPut, "/api/admin/relay-address", adminKey, map[string]string{"address": "bogus"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bogus address: status = %d, want 400", rec.Code)
	}
}

func TestAdminStatus(t *testing.T) {
	f := newFixture()
	f.limiter.ticks = 12
	f.limiter.lastRun = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	f.do(t, http.MethodPost, "/api/requests", publicKey, submitBody(testAlice, "OPEN_POSITION", 500))

	rec := f.do(t, http.MethodGet, "/api/admin/status", adminKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: status = %d", rec.Code)
	}
	var status struct {
		Backlog    int    `json:"backlog"`
		EventSeq   int64  `json:"event_seq"`
		BatchTicks int64  `json:"batch_ticks"`
		LastBatch  string `json:"last_batch"`
	}
	decodeBody(t, rec, &status)
	if status.Backlog != 1 {
		t.Errorf("backlog = %d, want 1", status.Backlog)
	}
	if status.EventSeq != 1 {
		t.Errorf("event_seq = %d, want 1", status.EventSeq)
	}
	if status.BatchTicks != 12 {
		t.Errorf("batch_ticks = %d, want 12", status.BatchTicks)
	}
	if status.LastBatch != "2026-03-01T10:00:00Z" {
		t.Errorf("last_batch = %s", status.LastBatch)
	}
}

func TestAdminRecover(t *testing.T) {
	f := newFixture(7, 8)

	rec := f.do(t, http.MethodPost, "/api/admin/recover", adminKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recover: status = %d", rec.Code)
	}
	var resp struct {
		Recovered []uint64 `json:"recovered"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Recovered) != 2 || resp.Recovered[0] != 7 {
		t.Errorf("recovered = %v, want [7 8]", resp.Recovered)
	}
}

func TestAdminCorrectEscrow(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/admin/escrow/correct", adminKey, map[string]interface{}{
		"requester": testAlice.Hex(),
		"asset":     "USDC",
		"delta":     500,
		"reason":    "reconciliation drift",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("correct: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got, _ := f.ledger.EscrowBalance(testAlice, "USDC"); got != 500 {
		t.Errorf("escrow after correction = %d, want 500", got)
	}

	// Reason is part of the audit trail and must be present.
	rec = f.do(t, http.MethodPost, "/api/admin/escrow/correct", adminKey, map[string]interface{}{
		"requester": testAlice.Hex(),
		"asset":     "USDC",
		"delta":     100,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing reason: status = %d, want 400", rec.Code)
	}

	// A negative correction cannot take the balance below zero.
	rec = f.do(t, http.MethodPost, "/api/admin/escrow/correct", adminKey, map[string]interface{}{
		"requester": testAlice.Hex(),
		"asset":     "USDC",
		"delta":     -900,
		"reason":    "reconciliation drift",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("overdraw correction: status = %d, want 400", rec.Code)
	}
}

func TestAdminAccessLists(t *testing.T) {
	f := newFixture()
	enabled := true

	rec := f.do(t, http.MethodPut, "/api/admin/allowlist", adminKey, map[string]interface{}{
		"enabled": &enabled,
		"add":     []string{testAlice.Hex()},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("allowlist update: status = %d", rec.Code)
	}

	if rec := f.do(t, http.MethodPost, "/api/requests", publicKey, submitBody(testAlice, "OPEN_POSITION", 500)); rec.Code != http.StatusCreated {
		t.Errorf("allowlisted submit: status = %d, want 201", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/requests", publicKey, submitBody(testBob, "OPEN_POSITION", 500)); rec.Code != http.StatusForbidden {
		t.Errorf("non-member submit: status = %d, want 403", rec.Code)
	}

	// Adding bob lifts the restriction for him.
	f.do(t, http.MethodPut, "/api/admin/allowlist", adminKey, map[string]interface{}{"add": []string{testBob.Hex()}})
	if rec := f.do(t, http.MethodPost, "/api/requests", publicKey, submitBody(testBob, "OPEN_POSITION", 500)); rec.Code != http.StatusCreated {
		t.Errorf("submit after allowlisting: status = %d, want 201", rec.Code)
	}

	// Blocklist wins over allowlist membership.
	f.do(t, http.MethodPut, "/api/admin/blocklist", adminKey, map[string]interface{}{
		"enabled": &enabled,
		"add":     []string{testAlice.Hex()},
	})
	if rec := f.do(t, http.MethodPost, "/api/requests", publicKey, submitBody(testAlice, "OPEN_POSITION", 500)); rec.Code != http.StatusForbidden {
		t.Errorf("blocklisted submit: status = %d, want 403", rec.Code)
	}

	if rec := f.do(t, http.MethodPut, "/api/admin/allowlist", adminKey, map[string]interface{}{"add": []string{"junk"}}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid member address: status = %d, want 400", rec.Code)
	}
}
