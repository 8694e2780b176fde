package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// CustodyAccountName labels the bridge account holding funds reserved for
// in-flight requests. A single custody pool is kept per asset.
const CustodyAccountName = "relay"

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// GetEscrowBalance returns the funds currently escrowed for a requester
func (bt *BalanceTracker) GetEscrowBalance(requester common.Address, assetID AssetID) int64 {
	return bt.GetBalance(NewUserAccountKey(requester, SubTypeEscrow, assetID))
}

// GetCustodyBalance returns the funds held by the bridge for in-flight requests
func (bt *BalanceTracker) GetCustodyBalance(assetID AssetID) int64 {
	return bt.GetBalance(NewBridgeAccountKey(CustodyAccountName, SubTypeBridgeCustody, assetID))
}

// ValidateSufficientEscrow checks the requester's escrow covers a reservation
func (bt *BalanceTracker) ValidateSufficientEscrow(requester common.Address, assetID AssetID, required int64) error {
	escrowed := bt.GetEscrowBalance(requester, assetID)
	if escrowed < required {
		return fmt.Errorf("insufficient escrow balance: have=%d, need=%d", escrowed, required)
	}
	return nil
}

// ValidateSufficientCustody checks the bridge custody pool covers a release
func (bt *BalanceTracker) ValidateSufficientCustody(assetID AssetID, required int64) error {
	held := bt.GetCustodyBalance(assetID)
	if held < required {
		return fmt.Errorf("insufficient custody balance: have=%d, need=%d", held, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for persistence and restore)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances from a snapshot, dropping zero entries
func (bt *BalanceTracker) Restore(snapshot map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(snapshot))
	for k, v := range snapshot {
		if v == 0 {
			continue
		}
		bt.balances[k] = v
	}
}
