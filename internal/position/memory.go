package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is a mutex-guarded in-process position ledger. It backs
// development and test deployments where no remote position service exists.
// An empty type or strategy set accepts any value; a non-empty set rejects
// everything outside it.
type MemoryLedger struct {
	mu            sync.Mutex
	positions     map[uuid.UUID]*Position
	positionTypes map[string]struct{}
	strategies    map[string]struct{}
}

func NewMemoryLedger(positionTypes, strategies []string) *MemoryLedger {
	ml := &MemoryLedger{
		positions:     make(map[uuid.UUID]*Position),
		positionTypes: make(map[string]struct{}, len(positionTypes)),
		strategies:    make(map[string]struct{}, len(strategies)),
	}
	for _, t := range positionTypes {
		ml.positionTypes[t] = struct{}{}
	}
	for _, s := range strategies {
		ml.strategies[s] = struct{}{}
	}
	return ml
}

func (ml *MemoryLedger) OpenPosition(ctx context.Context, positionType, strategy string, funds *Funds) (uuid.UUID, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if funds == nil || funds.Consumed() {
		return uuid.Nil, ErrFundsConsumed
	}
	if len(ml.positionTypes) > 0 {
		if _, ok := ml.positionTypes[positionType]; !ok {
			return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownPositionType, positionType)
		}
	}
	if len(ml.strategies) > 0 {
		if _, ok := ml.strategies[strategy]; !ok {
			return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
		}
	}

	amount, err := funds.Consume()
	if err != nil {
		return uuid.Nil, err
	}
	p := &Position{
		ID:       uuid.New(),
		Type:     positionType,
		Strategy: strategy,
		Asset:    funds.Asset(),
		Balance:  amount,
		OpenedAt: time.Now().UTC(),
	}
	ml.positions[p.ID] = p
	return p.ID, nil
}

func (ml *MemoryLedger) AddFunds(ctx context.Context, positionID uuid.UUID, funds *Funds) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if funds == nil || funds.Consumed() {
		return ErrFundsConsumed
	}
	p, ok := ml.positions[positionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if p.Asset != funds.Asset() {
		return fmt.Errorf("%w: position holds %s, funds are %s", ErrAssetMismatch, p.Asset, funds.Asset())
	}

	amount, err := funds.Consume()
	if err != nil {
		return err
	}
	p.Balance += amount
	return nil
}

func (ml *MemoryLedger) Withdraw(ctx context.Context, positionID uuid.UUID, amount int64) (*Funds, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if amount <= 0 {
		return nil, fmt.Errorf("withdrawal amount must be positive: %d", amount)
	}
	p, ok := ml.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if p.Balance < amount {
		return nil, fmt.Errorf("%w: have=%d, want=%d", ErrInsufficientBalance, p.Balance, amount)
	}

	p.Balance -= amount
	return Mint(p.Asset, amount)
}

func (ml *MemoryLedger) Close(ctx context.Context, positionID uuid.UUID) (*Funds, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	p, ok := ml.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	delete(ml.positions, positionID)
	if p.Balance == 0 {
		return nil, nil
	}
	return Mint(p.Asset, p.Balance)
}

// Get returns a copy of a position, for inspection.
func (ml *MemoryLedger) Get(positionID uuid.UUID) (Position, bool) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	p, ok := ml.positions[positionID]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

func (ml *MemoryLedger) Count() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return len(ml.positions)
}
