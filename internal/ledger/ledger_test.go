package ledger_test

import (
	"testing"

	"tidebridge/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var testRequester = common.HexToAddress("0x1111111111111111111111111111111111111111")

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	assetID, _ := ledger.GetAssetID("USDC")
	key := ledger.NewUserAccountKey(testRequester, ledger.SubTypeEscrow, assetID)

	path := key.AccountPath()
	expected := "user:0x1111111111111111111111111111111111111111:escrow:USDC"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_BridgePath(t *testing.T) {
	assetID, _ := ledger.GetAssetID("USDC")
	key := ledger.NewBridgeAccountKey(ledger.CustodyAccountName, ledger.SubTypeBridgeCustody, assetID)

	path := key.AccountPath()
	if path != "bridge:custody:USDC" {
		t.Errorf("got %q, want %q", path, "bridge:custody:USDC")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	assetID, _ := ledger.GetAssetID("USDC")
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID)

	path := key.AccountPath()
	if path != "external:deposits:USDC" {
		t.Errorf("got %q, want %q", path, "external:deposits:USDC")
	}
}

func TestGetAssetID_Known(t *testing.T) {
	id, ok := ledger.GetAssetID("USDC")
	if !ok {
		t.Fatal("USDC should be a known asset")
	}
	if id == 0 {
		t.Error("USDC asset ID should be non-zero")
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	_, ok := ledger.GetAssetID("DOGE")
	if ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID, _ := ledger.GetAssetID("USDC")

	balance := bt.GetEscrowBalance(testRequester, assetID)
	if balance != 0 {
		t.Errorf("initial balance should be 0, got %d", balance)
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID, _ := ledger.GetAssetID("USDC")

	// Simulate deposit: debit user:escrow, credit external:deposits
	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(testRequester, ledger.SubTypeEscrow, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	}

	bt.ApplyJournal(j)

	escrowed := bt.GetEscrowBalance(testRequester, assetID)
	if escrowed != 1_000_000 {
		t.Errorf("escrow: got %d, want 1_000_000", escrowed)
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID, _ := ledger.GetAssetID("USDC")

	// Deposit
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(testRequester, ledger.SubTypeEscrow, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	})

	// Reserve into custody
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewBridgeAccountKey(ledger.CustodyAccountName, ledger.SubTypeBridgeCustody, assetID),
		CreditAccount: ledger.NewUserAccountKey(testRequester, ledger.SubTypeEscrow, assetID),
		AssetID:       assetID,
		Amount:        300_000,
	})

	totals := bt.ComputeGlobalBalance()
	for aid, total := range totals {
		if total != 0 {
			t.Errorf("asset %d has non-zero global balance: %d", aid, total)
		}
	}
}

func TestBalanceTracker_ValidateSufficientEscrow(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID, _ := ledger.GetAssetID("USDC")

	// No balance, should fail
	err := bt.ValidateSufficientEscrow(testRequester, assetID, 100)
	if err == nil {
		t.Error("expected error for insufficient escrow")
	}

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(testRequester, ledger.SubTypeEscrow, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        1_000,
	})

	err = bt.ValidateSufficientEscrow(testRequester, assetID, 1_000)
	if err != nil {
		t.Errorf("should have sufficient escrow: %v", err)
	}

	err = bt.ValidateSufficientEscrow(testRequester, assetID, 1_001)
	if err == nil {
		t.Error("expected error for 1_001 > 1_000")
	}
}

func TestBalanceTracker_SnapshotRestore(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID, _ := ledger.GetAssetID("USDC")

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(testRequester, ledger.SubTypeEscrow, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        999,
	})

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	restored := ledger.NewBalanceTracker()
	restored.Restore(snap)
	if restored.GetEscrowBalance(testRequester, assetID) != 999 {
		t.Error("restored tracker should carry the escrow balance")
	}

	// Mutating snapshot should not affect the source tracker
	for k := range snap {
		snap[k] = 0
	}
	if bt.GetEscrowBalance(testRequester, assetID) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewUserAccountKey(testRequester, ledger.SubTypeEscrow, assetID),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
				AssetID:       assetID,
				Amount:        0,
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")
	sameAccount := ledger.NewUserAccountKey(testRequester, ledger.SubTypeEscrow, assetID)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  sameAccount,
				CreditAccount: sameAccount,
				AssetID:       assetID,
				Amount:        100,
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       uuid.New(), // Different batch ID
				DebitAccount:  ledger.NewUserAccountKey(testRequester, ledger.SubTypeEscrow, assetID),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
				AssetID:       assetID,
				Amount:        100,
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestJournalGenerator_DepositReserveConsumeCycle(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	assetID, _ := ledger.GetAssetID("USDC")

	deposit, err := jg.GenerateEscrowDeposit(testRequester, 1, 500, assetID, 0)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := bt.ApplyBatch(deposit); err != nil {
		t.Fatalf("apply deposit: %v", err)
	}
	if bt.GetEscrowBalance(testRequester, assetID) != 500 {
		t.Errorf("escrow after deposit: got %d, want 500", bt.GetEscrowBalance(testRequester, assetID))
	}

	reserve, err := jg.GenerateEscrowReserve(testRequester, 1, 500, assetID, 0)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := bt.ApplyBatch(reserve); err != nil {
		t.Fatalf("apply reserve: %v", err)
	}
	if bt.GetEscrowBalance(testRequester, assetID) != 0 {
		t.Errorf("escrow after reserve: got %d, want 0", bt.GetEscrowBalance(testRequester, assetID))
	}
	if bt.GetCustodyBalance(assetID) != 500 {
		t.Errorf("custody after reserve: got %d, want 500", bt.GetCustodyBalance(assetID))
	}

	consume, err := jg.GenerateEscrowConsume(1, 500, assetID, 0)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := bt.ApplyBatch(consume); err != nil {
		t.Fatalf("apply consume: %v", err)
	}
	if bt.GetCustodyBalance(assetID) != 0 {
		t.Errorf("custody after consume: got %d, want 0", bt.GetCustodyBalance(assetID))
	}

	// The full cycle stays zero-sum
	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance: %v", err)
	}
}

func TestJournalGenerator_RefundReturnsFunds(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	assetID, _ := ledger.GetAssetID("USDC")

	deposit, _ := jg.GenerateEscrowDeposit(testRequester, 7, 250, assetID, 0)
	bt.ApplyBatch(deposit)
	reserve, _ := jg.GenerateEscrowReserve(testRequester, 7, 250, assetID, 0)
	bt.ApplyBatch(reserve)

	refund, err := jg.GenerateEscrowRefund(testRequester, 7, 250, assetID, 0)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if len(refund.Journals) != 2 {
		t.Fatalf("refund batch journals: got %d, want 2", len(refund.Journals))
	}
	if err := bt.ApplyBatch(refund); err != nil {
		t.Fatalf("apply refund: %v", err)
	}

	// Funds pass through escrow and land back at the deposit boundary
	if bt.GetEscrowBalance(testRequester, assetID) != 0 {
		t.Errorf("escrow after refund: got %d, want 0", bt.GetEscrowBalance(testRequester, assetID))
	}
	if bt.GetCustodyBalance(assetID) != 0 {
		t.Errorf("custody after refund: got %d, want 0", bt.GetCustodyBalance(assetID))
	}
	deposits := bt.GetBalance(ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID))
	if deposits != 0 {
		t.Errorf("deposits boundary after full cycle: got %d, want 0", deposits)
	}
}

func TestJournalGenerator_AdjustCreditsAndDebits(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	assetID, _ := ledger.GetAssetID("USDC")

	credit, err := jg.GenerateEscrowAdjust(testRequester, 80, assetID, 0)
	if err != nil {
		t.Fatalf("credit adjust: %v", err)
	}
	bt.ApplyBatch(credit)
	if bt.GetEscrowBalance(testRequester, assetID) != 80 {
		t.Errorf("escrow after credit adjust: got %d, want 80", bt.GetEscrowBalance(testRequester, assetID))
	}

	debit, err := jg.GenerateEscrowAdjust(testRequester, -30, assetID, 0)
	if err != nil {
		t.Fatalf("debit adjust: %v", err)
	}
	bt.ApplyBatch(debit)
	if bt.GetEscrowBalance(testRequester, assetID) != 50 {
		t.Errorf("escrow after debit adjust: got %d, want 50", bt.GetEscrowBalance(testRequester, assetID))
	}

	if _, err := jg.GenerateEscrowAdjust(testRequester, 0, assetID, 0); err == nil {
		t.Error("zero adjustment should be rejected")
	}
	if _, err := jg.GenerateEscrowAdjust(testRequester, -51, assetID, 0); err == nil {
		t.Error("over-debit adjustment should fail the pre-check")
	}
}

func TestJournalGenerator_ReserveInsufficientEscrow_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	assetID, _ := ledger.GetAssetID("USDC")

	_, err := jg.GenerateEscrowReserve(testRequester, 3, 100, assetID, 0)
	if err == nil {
		t.Error("reserve with empty escrow should fail the pre-check")
	}
}

func TestJournalGenerator_SequenceAdvances(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(10, bt)
	assetID, _ := ledger.GetAssetID("USDC")

	batch, _ := jg.GenerateEscrowDeposit(testRequester, 1, 100, assetID, 0)
	if batch.Sequence != 10 {
		t.Errorf("first batch sequence: got %d, want 10", batch.Sequence)
	}
	if jg.Sequence() != 11 {
		t.Errorf("generator sequence after one batch: got %d, want 11", jg.Sequence())
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	// Empty ledger, should pass
	err := v.ValidateGlobalBalance()
	if err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	assetID, _ := ledger.GetAssetID("USDC")
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(testRequester, ledger.SubTypeEscrow, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	})

	// Still zero-sum
	err = v.ValidateGlobalBalance()
	if err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}
}

func TestInvariantValidator_EscrowCovers(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)
	assetID, _ := ledger.GetAssetID("USDC")

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(testRequester, ledger.SubTypeEscrow, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        400,
	})

	if err := v.ValidateEscrowCovers(testRequester, assetID, 400); err != nil {
		t.Errorf("escrow of 400 should cover pending total 400: %v", err)
	}
	if err := v.ValidateEscrowCovers(testRequester, assetID, 401); err == nil {
		t.Error("escrow of 400 should not cover pending total 401")
	}
}
