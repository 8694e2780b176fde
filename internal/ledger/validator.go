package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateEscrowNonNegative checks a requester's escrow balance >= 0
func (v *InvariantValidator) ValidateEscrowNonNegative(requester common.Address, assetID AssetID) error {
	key := NewUserAccountKey(requester, SubTypeEscrow, assetID)
	return v.tracker.ValidateNonNegative(key)
}

// ValidateCustodyNonNegative checks the bridge custody pool >= 0
func (v *InvariantValidator) ValidateCustodyNonNegative(assetID AssetID) error {
	key := NewBridgeAccountKey(CustodyAccountName, SubTypeBridgeCustody, assetID)
	return v.tracker.ValidateNonNegative(key)
}

// ValidateEscrowCovers checks escrow holds at least the given pending total.
// Callers pass the sum of amounts across a requester's pending funding
// requests; escrow below that sum means a reservation was lost.
func (v *InvariantValidator) ValidateEscrowCovers(requester common.Address, assetID AssetID, pendingTotal int64) error {
	escrowed := v.tracker.GetEscrowBalance(requester, assetID)
	if escrowed < pendingTotal {
		return fmt.Errorf("escrow for %s does not cover pending total: have=%d, need=%d",
			requester.Hex(), escrowed, pendingTotal)
	}
	return nil
}

// ValidateGlobalBalance verifies the ledger is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
