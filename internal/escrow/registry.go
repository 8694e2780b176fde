package escrow

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// OwnershipRegistry is the authoritative record of which requester owns
// which remote position. The bridge worker keeps its own lookup index and
// resynchronizes from here whenever the two disagree.
type OwnershipRegistry struct {
	owners  map[uuid.UUID]common.Address
	byOwner map[common.Address]map[uuid.UUID]struct{}
}

func NewOwnershipRegistry() *OwnershipRegistry {
	return &OwnershipRegistry{
		owners:  make(map[uuid.UUID]common.Address),
		byOwner: make(map[common.Address]map[uuid.UUID]struct{}),
	}
}

// Register records owner as the holder of positionID, replacing any
// previous owner.
func (or *OwnershipRegistry) Register(positionID uuid.UUID, owner common.Address) {
	if prev, ok := or.owners[positionID]; ok {
		or.removeFromOwner(prev, positionID)
	}
	or.owners[positionID] = owner
	set, ok := or.byOwner[owner]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		or.byOwner[owner] = set
	}
	set[positionID] = struct{}{}
}

// Unregister drops a position from the registry. Returns false if the
// position was not registered.
func (or *OwnershipRegistry) Unregister(positionID uuid.UUID) bool {
	owner, ok := or.owners[positionID]
	if !ok {
		return false
	}
	delete(or.owners, positionID)
	or.removeFromOwner(owner, positionID)
	return true
}

func (or *OwnershipRegistry) removeFromOwner(owner common.Address, positionID uuid.UUID) {
	set, ok := or.byOwner[owner]
	if !ok {
		return
	}
	delete(set, positionID)
	if len(set) == 0 {
		delete(or.byOwner, owner)
	}
}

// OwnerOf returns the registered owner of a position.
func (or *OwnershipRegistry) OwnerOf(positionID uuid.UUID) (common.Address, bool) {
	owner, ok := or.owners[positionID]
	return owner, ok
}

// Owns reports whether owner holds positionID.
func (or *OwnershipRegistry) Owns(owner common.Address, positionID uuid.UUID) bool {
	registered, ok := or.owners[positionID]
	return ok && registered == owner
}

// PositionsOf returns the positions held by owner, sorted by id bytes so
// repeated calls observe a stable order.
func (or *OwnershipRegistry) PositionsOf(owner common.Address) []uuid.UUID {
	set, ok := or.byOwner[owner]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func (or *OwnershipRegistry) Len() int {
	return len(or.owners)
}

// Snapshot returns a copy of the position → owner mapping.
func (or *OwnershipRegistry) Snapshot() map[uuid.UUID]common.Address {
	out := make(map[uuid.UUID]common.Address, len(or.owners))
	for id, owner := range or.owners {
		out[id] = owner
	}
	return out
}

// Restore replaces the registry contents with the given mapping.
func (or *OwnershipRegistry) Restore(owners map[uuid.UUID]common.Address) {
	or.owners = make(map[uuid.UUID]common.Address, len(owners))
	or.byOwner = make(map[common.Address]map[uuid.UUID]struct{})
	for id, owner := range owners {
		or.Register(id, owner)
	}
}
