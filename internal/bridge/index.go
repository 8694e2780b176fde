package bridge

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// OwnerIndex is the worker's requester→positions mirror. It answers
// ownership lookups without a round trip to the escrow ledger, and is
// rebuilt from the ledger's registry whenever the two disagree. The
// registry is authoritative; the index is a cache.
type OwnerIndex struct {
	mu      sync.RWMutex
	byOwner map[common.Address]map[uuid.UUID]struct{}
}

func NewOwnerIndex() *OwnerIndex {
	return &OwnerIndex{
		byOwner: make(map[common.Address]map[uuid.UUID]struct{}),
	}
}

// Append records a position for an owner.
func (x *OwnerIndex) Append(owner common.Address, positionID uuid.UUID) {
	x.mu.Lock()
	defer x.mu.Unlock()

	set, ok := x.byOwner[owner]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		x.byOwner[owner] = set
	}
	set[positionID] = struct{}{}
}

// Remove drops a position from an owner's set. Returns false when the
// pair was not indexed.
func (x *OwnerIndex) Remove(owner common.Address, positionID uuid.UUID) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	set, ok := x.byOwner[owner]
	if !ok {
		return false
	}
	if _, ok := set[positionID]; !ok {
		return false
	}
	delete(set, positionID)
	if len(set) == 0 {
		delete(x.byOwner, owner)
	}
	return true
}

// Contains reports whether the owner is indexed as holding the position.
func (x *OwnerIndex) Contains(owner common.Address, positionID uuid.UUID) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	set, ok := x.byOwner[owner]
	if !ok {
		return false
	}
	_, ok = set[positionID]
	return ok
}

// PositionsOf returns the indexed positions of an owner in stable order.
func (x *OwnerIndex) PositionsOf(owner common.Address) []uuid.UUID {
	x.mu.RLock()
	defer x.mu.RUnlock()

	set, ok := x.byOwner[owner]
	if !ok {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

// Rebuild replaces the entire index with the given position→owner map.
func (x *OwnerIndex) Rebuild(owners map[uuid.UUID]common.Address) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.byOwner = make(map[common.Address]map[uuid.UUID]struct{}, len(owners))
	for id, owner := range owners {
		set, ok := x.byOwner[owner]
		if !ok {
			set = make(map[uuid.UUID]struct{})
			x.byOwner[owner] = set
		}
		set[id] = struct{}{}
	}
}

// Len returns the number of indexed positions.
func (x *OwnerIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := 0
	for _, set := range x.byOwner {
		n += len(set)
	}
	return n
}
