package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches for escrow movements
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // Reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// Sequence returns the next journal sequence to be assigned
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

// SetSequence repositions the generator after a restore
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

func requestRef(requestID uint64) string {
	return fmt.Sprintf("req:%d", requestID)
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 1),
	}
}

func (jg *JournalGenerator) appendJournal(batch *Batch, debit, credit AccountKey, assetID AssetID, amount int64, jt JournalType) {
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      batch.EventRef,
		Sequence:      jg.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     batch.Timestamp,
	})
}

// GenerateEscrowDeposit records funds entering escrow at submission.
// Moves funds: external:deposits → user:escrow
func (jg *JournalGenerator) GenerateEscrowDeposit(
	requester common.Address,
	requestID uint64,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(requestRef(requestID), timestamp)
	jg.appendJournal(batch,
		NewUserAccountKey(requester, SubTypeEscrow, assetID),
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		assetID, amount, JournalTypeEscrowDeposit)
	jg.sequence++
	return batch, nil
}

// GenerateEscrowReserve moves escrowed funds into bridge custody when
// processing starts. Pre-check: the requester's escrow must cover the amount.
func (jg *JournalGenerator) GenerateEscrowReserve(
	requester common.Address,
	requestID uint64,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientEscrow(requester, assetID, amount); err != nil {
		return nil, fmt.Errorf("reserve pre-check failed: %w", err)
	}

	batch := jg.newBatch(requestRef(requestID), timestamp)
	jg.appendJournal(batch,
		NewBridgeAccountKey(CustodyAccountName, SubTypeBridgeCustody, assetID),
		NewUserAccountKey(requester, SubTypeEscrow, assetID),
		assetID, amount, JournalTypeEscrowReserve)
	jg.sequence++
	return batch, nil
}

// GenerateEscrowConsume settles custody funds into the position ledger on
// successful completion of a funding request.
func (jg *JournalGenerator) GenerateEscrowConsume(
	requestID uint64,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientCustody(assetID, amount); err != nil {
		return nil, fmt.Errorf("consume pre-check failed: %w", err)
	}

	batch := jg.newBatch(requestRef(requestID), timestamp)
	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalPositions, assetID),
		NewBridgeAccountKey(CustodyAccountName, SubTypeBridgeCustody, assetID),
		assetID, amount, JournalTypeEscrowConsume)
	jg.sequence++
	return batch, nil
}

// GenerateEscrowRefund rolls back a failed funding request after processing
// started: custody funds return to the requester's escrow, then leave escrow
// toward the deposit boundary. Two journals in one batch, so the requester's
// escrowed balance is unchanged once the batch is applied and the refunded
// amount is back under the requester's control.
func (jg *JournalGenerator) GenerateEscrowRefund(
	requester common.Address,
	requestID uint64,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientCustody(assetID, amount); err != nil {
		return nil, fmt.Errorf("refund pre-check failed: %w", err)
	}

	batch := jg.newBatch(requestRef(requestID), timestamp)
	jg.appendJournal(batch,
		NewUserAccountKey(requester, SubTypeEscrow, assetID),
		NewBridgeAccountKey(CustodyAccountName, SubTypeBridgeCustody, assetID),
		assetID, amount, JournalTypeEscrowRefund)
	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		NewUserAccountKey(requester, SubTypeEscrow, assetID),
		assetID, amount, JournalTypeEscrowRelease)
	jg.sequence++
	return batch, nil
}

// GenerateEscrowRelease returns escrowed funds to the deposit boundary when a
// pending funding request is cancelled or dropped before processing.
func (jg *JournalGenerator) GenerateEscrowRelease(
	requester common.Address,
	requestID uint64,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientEscrow(requester, assetID, amount); err != nil {
		return nil, fmt.Errorf("release pre-check failed: %w", err)
	}

	batch := jg.newBatch(requestRef(requestID), timestamp)
	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		NewUserAccountKey(requester, SubTypeEscrow, assetID),
		assetID, amount, JournalTypeEscrowRelease)
	jg.sequence++
	return batch, nil
}

// GenerateEscrowAdjust posts a signed correction to a requester's escrow
// balance. Positive delta credits escrow from the deposit boundary, negative
// delta returns escrow to it. Used only by the bridge identity to repair
// accounting drift.
func (jg *JournalGenerator) GenerateEscrowAdjust(
	requester common.Address,
	delta int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if delta == 0 {
		return nil, fmt.Errorf("adjustment delta must be non-zero")
	}

	eventRef := fmt.Sprintf("adjust:%s:%d", requester.Hex(), jg.sequence)
	batch := jg.newBatch(eventRef, timestamp)

	if delta > 0 {
		jg.appendJournal(batch,
			NewUserAccountKey(requester, SubTypeEscrow, assetID),
			NewExternalAccountKey(SubTypeExternalDeposits, assetID),
			assetID, delta, JournalTypeEscrowAdjust)
	} else {
		if err := jg.balanceTracker.ValidateSufficientEscrow(requester, assetID, -delta); err != nil {
			return nil, fmt.Errorf("adjust pre-check failed: %w", err)
		}
		jg.appendJournal(batch,
			NewExternalAccountKey(SubTypeExternalDeposits, assetID),
			NewUserAccountKey(requester, SubTypeEscrow, assetID),
			assetID, -delta, JournalTypeEscrowAdjust)
	}

	jg.sequence++
	return batch, nil
}

// GeneratePayoutReturn records funds leaving the position ledger toward the
// deposit boundary after a withdrawal or close. The positions boundary account
// may go negative when positions pay out more than was consumed.
func (jg *JournalGenerator) GeneratePayoutReturn(
	requestID uint64,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(requestRef(requestID), timestamp)
	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		NewExternalAccountKey(SubTypeExternalPositions, assetID),
		assetID, amount, JournalTypePayoutReturn)
	jg.sequence++
	return batch, nil
}
