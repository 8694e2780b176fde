package position

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPositionNotFound    = errors.New("position not found")
	ErrUnknownPositionType = errors.New("unknown position type")
	ErrUnknownStrategy     = errors.New("unknown strategy")
	ErrAssetMismatch       = errors.New("funds asset does not match position")
	ErrInsufficientBalance = errors.New("insufficient position balance")
)

// Ledger is the position-ledger side of the bridge. Funding flows in as
// linear Funds handles and comes back out the same way; error strings are
// surfaced verbatim as request result messages, so implementations phrase
// them for end users.
type Ledger interface {
	// OpenPosition creates a position of the given type and strategy funded
	// by the handle, returning the new position's id.
	OpenPosition(ctx context.Context, positionType, strategy string, funds *Funds) (uuid.UUID, error)

	// AddFunds credits an existing position with the handle's value.
	AddFunds(ctx context.Context, positionID uuid.UUID, funds *Funds) error

	// Withdraw removes amount from a position and returns it as a handle.
	Withdraw(ctx context.Context, positionID uuid.UUID, amount int64) (*Funds, error)

	// Close liquidates a position and returns its remaining balance as a
	// handle, or nil when the balance was zero.
	Close(ctx context.Context, positionID uuid.UUID) (*Funds, error)
}

// Position is a single funded position as the ledger sees it.
type Position struct {
	ID       uuid.UUID
	Type     string
	Strategy string
	Asset    string
	Balance  int64
	OpenedAt time.Time
}
