package bridge_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"tidebridge/internal/bridge"
)

func TestOwnerIndex_AppendRemoveContains(t *testing.T) {
	idx := bridge.NewOwnerIndex()
	p1, p2 := uuid.New(), uuid.New()

	idx.Append(testAlice, p1)
	idx.Append(testAlice, p2)
	idx.Append(testBob, uuid.New())

	if !idx.Contains(testAlice, p1) || !idx.Contains(testAlice, p2) {
		t.Error("appended positions missing")
	}
	if idx.Contains(testBob, p1) {
		t.Error("bob should not hold alice's position")
	}
	if got := idx.Len(); got != 3 {
		t.Errorf("len = %d, want 3", got)
	}

	if !idx.Remove(testAlice, p1) {
		t.Error("remove of a held position returned false")
	}
	if idx.Remove(testAlice, p1) {
		t.Error("second remove returned true")
	}
	if idx.Contains(testAlice, p1) {
		t.Error("removed position still present")
	}
	if got := idx.Len(); got != 2 {
		t.Errorf("len after remove = %d, want 2", got)
	}
}

func TestOwnerIndex_PositionsOfIsSortedCopy(t *testing.T) {
	idx := bridge.NewOwnerIndex()
	for i := 0; i < 8; i++ {
		idx.Append(testAlice, uuid.New())
	}

	got := idx.PositionsOf(testAlice)
	if len(got) != 8 {
		t.Fatalf("len = %d, want 8", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].String() >= got[i].String() {
			t.Fatalf("positions not sorted at %d: %s >= %s", i, got[i-1], got[i])
		}
	}

	// Mutating the returned slice must not affect the index.
	got[0] = uuid.Nil
	if idx.Contains(testAlice, uuid.Nil) {
		t.Error("returned slice aliases index state")
	}
}

func TestOwnerIndex_Rebuild(t *testing.T) {
	idx := bridge.NewOwnerIndex()
	stale := uuid.New()
	idx.Append(testAlice, stale)

	p1, p2 := uuid.New(), uuid.New()
	idx.Rebuild(map[uuid.UUID]common.Address{
		p1: testAlice,
		p2: testBob,
	})

	if idx.Contains(testAlice, stale) {
		t.Error("rebuild kept a stale entry")
	}
	if !idx.Contains(testAlice, p1) || !idx.Contains(testBob, p2) {
		t.Error("rebuild dropped registry entries")
	}
	if got := idx.Len(); got != 2 {
		t.Errorf("len = %d, want 2", got)
	}
}
