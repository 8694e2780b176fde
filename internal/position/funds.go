package position

import (
	"errors"
	"fmt"
)

// ErrFundsConsumed is returned when a Funds handle is used twice.
var ErrFundsConsumed = errors.New("funds already consumed")

// Funds is a linear handle on value moving between the escrow ledger and
// the position ledger. A handle is minted against custody, spent exactly
// once with Consume, and must be explicitly destroyed by its holder if the
// transfer it was minted for does not happen. Implementations of Ledger
// consume only after their own validation passes, so a failed call leaves
// the handle intact for the caller to dispose of.
type Funds struct {
	asset    string
	amount   int64
	consumed bool
}

// Mint creates a funds handle. The amount must be positive.
func Mint(asset string, amount int64) (*Funds, error) {
	if asset == "" {
		return nil, fmt.Errorf("funds asset must be set")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("funds amount must be positive: %d", amount)
	}
	return &Funds{asset: asset, amount: amount}, nil
}

func (f *Funds) Asset() string {
	return f.asset
}

func (f *Funds) Amount() int64 {
	return f.amount
}

func (f *Funds) Consumed() bool {
	return f.consumed
}

// Consume spends the handle and returns its amount. A second call fails
// with ErrFundsConsumed.
func (f *Funds) Consume() (int64, error) {
	if f.consumed {
		return 0, ErrFundsConsumed
	}
	f.consumed = true
	return f.amount, nil
}
