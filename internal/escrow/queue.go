package escrow

import "sort"

// PendingQueue holds the ids of PENDING requests in ascending order.
// Submission appends (ids are assigned monotonically), while cancellation
// and pickup remove from arbitrary positions.
type PendingQueue struct {
	ids []uint64
}

func NewPendingQueue() *PendingQueue {
	return &PendingQueue{ids: make([]uint64, 0, 64)}
}

// Push inserts an id, keeping the queue sorted. The common case is an
// append; the sorted insert only runs when restoring out-of-order state.
func (q *PendingQueue) Push(id uint64) {
	n := len(q.ids)
	if n == 0 || q.ids[n-1] < id {
		q.ids = append(q.ids, id)
		return
	}
	i := sort.Search(n, func(j int) bool { return q.ids[j] >= id })
	if i < n && q.ids[i] == id {
		return // Already queued
	}
	q.ids = append(q.ids, 0)
	copy(q.ids[i+1:], q.ids[i:])
	q.ids[i] = id
}

// Remove deletes an id from the queue. Returns false if it was not queued.
func (q *PendingQueue) Remove(id uint64) bool {
	n := len(q.ids)
	i := sort.Search(n, func(j int) bool { return q.ids[j] >= id })
	if i >= n || q.ids[i] != id {
		return false
	}
	q.ids = append(q.ids[:i], q.ids[i+1:]...)
	return true
}

// Peek returns up to limit ids from the front without removing them.
// The returned slice is a copy.
func (q *PendingQueue) Peek(limit int) []uint64 {
	if limit <= 0 || limit > len(q.ids) {
		limit = len(q.ids)
	}
	out := make([]uint64, limit)
	copy(out, q.ids[:limit])
	return out
}

// Contains reports whether an id is queued.
func (q *PendingQueue) Contains(id uint64) bool {
	n := len(q.ids)
	i := sort.Search(n, func(j int) bool { return q.ids[j] >= id })
	return i < n && q.ids[i] == id
}

func (q *PendingQueue) Len() int {
	return len(q.ids)
}
