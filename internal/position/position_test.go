package position_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"tidebridge/internal/position"
)

// --- Test helpers ---

func mustMint(t *testing.T, asset string, amount int64) *position.Funds {
	t.Helper()
	f, err := position.Mint(asset, amount)
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	return f
}

func mustOpen(t *testing.T, ml *position.MemoryLedger, amount int64) uuid.UUID {
	t.Helper()
	id, err := ml.OpenPosition(context.Background(), "perp", "momentum", mustMint(t, "USDC", amount))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return id
}

// ============================================================================
// Test: Linear Funds
// ============================================================================

func TestMint_RejectsNonPositive(t *testing.T) {
	if _, err := position.Mint("USDC", 0); err == nil {
		t.Error("expected zero amount to fail")
	}
	if _, err := position.Mint("USDC", -5); err == nil {
		t.Error("expected negative amount to fail")
	}
	if _, err := position.Mint("", 100); err == nil {
		t.Error("expected empty asset to fail")
	}
}

func TestFunds_ConsumeExactlyOnce(t *testing.T) {
	f := mustMint(t, "USDC", 500)

	amount, err := f.Consume()
	if err != nil || amount != 500 {
		t.Fatalf("first consume: got %d, %v", amount, err)
	}
	if !f.Consumed() {
		t.Error("handle should report consumed")
	}
	if _, err := f.Consume(); !errors.Is(err, position.ErrFundsConsumed) {
		t.Errorf("expected ErrFundsConsumed, got %v", err)
	}
}

// ============================================================================
// Test: Memory Ledger
// ============================================================================

func TestMemoryLedger_Lifecycle(t *testing.T) {
	ml := position.NewMemoryLedger([]string{"perp"}, []string{"momentum"})
	ctx := context.Background()

	id := mustOpen(t, ml, 5000)
	p, ok := ml.Get(id)
	if !ok || p.Balance != 5000 || p.Asset != "USDC" {
		t.Fatalf("unexpected position: %+v ok=%v", p, ok)
	}

	if err := ml.AddFunds(ctx, id, mustMint(t, "USDC", 2000)); err != nil {
		t.Fatalf("add funds failed: %v", err)
	}
	if p, _ := ml.Get(id); p.Balance != 7000 {
		t.Errorf("expected balance 7000, got %d", p.Balance)
	}

	funds, err := ml.Withdraw(ctx, id, 1500)
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if funds.Amount() != 1500 || funds.Asset() != "USDC" {
		t.Errorf("unexpected withdrawal: %d %s", funds.Amount(), funds.Asset())
	}
	if p, _ := ml.Get(id); p.Balance != 5500 {
		t.Errorf("expected balance 5500, got %d", p.Balance)
	}

	remaining, err := ml.Close(ctx, id)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if remaining.Amount() != 5500 {
		t.Errorf("expected close to return 5500, got %d", remaining.Amount())
	}
	if _, ok := ml.Get(id); ok {
		t.Error("position should be gone after close")
	}
	if _, err := ml.Close(ctx, id); !errors.Is(err, position.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestMemoryLedger_OverWithdraw_Fails(t *testing.T) {
	ml := position.NewMemoryLedger(nil, nil)
	id := mustOpen(t, ml, 5000)

	_, err := ml.Withdraw(context.Background(), id, 6000)
	if !errors.Is(err, position.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	// The reason string travels back to the requester verbatim.
	if !strings.Contains(err.Error(), "insufficient position balance") {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if p, _ := ml.Get(id); p.Balance != 5000 {
		t.Errorf("balance must be untouched, got %d", p.Balance)
	}
}

func TestMemoryLedger_RejectionLeavesFundsIntact(t *testing.T) {
	ml := position.NewMemoryLedger([]string{"perp"}, []string{"momentum"})
	f := mustMint(t, "USDC", 1000)

	_, err := ml.OpenPosition(context.Background(), "spot", "momentum", f)
	if !errors.Is(err, position.ErrUnknownPositionType) {
		t.Fatalf("expected ErrUnknownPositionType, got %v", err)
	}
	if f.Consumed() {
		t.Error("rejected open must not consume the funds")
	}

	// The same handle still works against a valid open.
	if _, err := ml.OpenPosition(context.Background(), "perp", "momentum", f); err != nil {
		t.Errorf("open with intact funds failed: %v", err)
	}
}

func TestMemoryLedger_AssetMismatch(t *testing.T) {
	ml := position.NewMemoryLedger(nil, nil)
	id := mustOpen(t, ml, 1000)

	f := mustMint(t, "DAI", 500)
	err := ml.AddFunds(context.Background(), id, f)
	if !errors.Is(err, position.ErrAssetMismatch) {
		t.Fatalf("expected ErrAssetMismatch, got %v", err)
	}
	if f.Consumed() {
		t.Error("mismatched add must not consume the funds")
	}
}

// ============================================================================
// Test: HTTP Client
// ============================================================================

func TestClient_OpenPosition(t *testing.T) {
	posID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/positions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			PositionType string `json:"position_type"`
			Asset        string `json:"asset"`
			Amount       int64  `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.PositionType != "perp" || req.Asset != "USDC" || req.Amount != 5000 {
			t.Errorf("unexpected body: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]string{"position_id": posID.String()})
	}))
	defer srv.Close()

	c := position.NewClient(srv.URL, "test-key")
	f := mustMint(t, "USDC", 5000)
	got, err := c.OpenPosition(context.Background(), "perp", "momentum", f)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if got != posID {
		t.Errorf("expected %s, got %s", posID, got)
	}
	if !f.Consumed() {
		t.Error("successful open must consume the funds")
	}
}

func TestClient_NotFoundMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such position", http.StatusNotFound)
	}))
	defer srv.Close()

	c := position.NewClient(srv.URL, "")
	_, err := c.Withdraw(context.Background(), uuid.New(), 100)
	if !errors.Is(err, position.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestClient_RemoteRejectionSurfacesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient position balance: have=100, want=500", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := position.NewClient(srv.URL, "")
	_, err := c.Withdraw(context.Background(), uuid.New(), 500)
	if err == nil || !strings.Contains(err.Error(), "insufficient position balance") {
		t.Errorf("expected remote reason surfaced, got %v", err)
	}
}
