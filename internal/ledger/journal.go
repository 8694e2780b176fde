package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeEscrowDeposit JournalType = iota
	JournalTypeEscrowReserve
	JournalTypeEscrowConsume
	JournalTypeEscrowRefund
	JournalTypeEscrowRelease
	JournalTypeEscrowAdjust
	JournalTypePayoutReturn
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeEscrowDeposit:
		return "ESCROW_DEPOSIT"
	case JournalTypeEscrowReserve:
		return "ESCROW_RESERVE"
	case JournalTypeEscrowConsume:
		return "ESCROW_CONSUME"
	case JournalTypeEscrowRefund:
		return "ESCROW_REFUND"
	case JournalTypeEscrowRelease:
		return "ESCROW_RELEASE"
	case JournalTypeEscrowAdjust:
		return "ESCROW_ADJUST"
	case JournalTypePayoutReturn:
		return "PAYOUT_RETURN"
	default:
		return "UNKNOWN"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups related entries
	EventRef      string      // Reference to the source request or action
	Sequence      int64       // Global journal sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Token units (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Epoch microseconds
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Note on balance invariant: each journal entry is a balanced transfer by construction
// (a single positive amount moves from credit account to debit account). Therefore
// Σ debits == Σ credits is guaranteed per-entry. Multi-leg batches use multiple
// entries under one batch_id, each individually balanced.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}
