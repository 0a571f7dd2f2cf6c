package matrix

// RotationQueue is the FIFO ordering of participants awaiting the next base
// reward for one level. It is a head-indexed slice rather than a linked
// structure so place-in-queue lookups stay cheap and deterministic; consumed
// head space is compacted once it dominates the backing array.
type RotationQueue struct {
	entries []uint64
	head    int
}

// NewRotationQueue returns an empty queue.
func NewRotationQueue() *RotationQueue {
	return &RotationQueue{}
}

// Len reports the number of users currently in rotation.
func (q *RotationQueue) Len() int {
	return len(q.entries) - q.head
}

// Push appends a user to the tail of the rotation.
func (q *RotationQueue) Push(userID uint64) {
	q.entries = append(q.entries, userID)
}

// Pop removes and returns the head of the rotation. The second return is
// false when the queue is empty.
func (q *RotationQueue) Pop() (uint64, bool) {
	if q.head >= len(q.entries) {
		return 0, false
	}
	id := q.entries[q.head]
	q.head++
	if q.head > 64 && q.head*2 >= len(q.entries) {
		q.entries = append([]uint64(nil), q.entries[q.head:]...)
		q.head = 0
	}
	return id, true
}

// Peek returns the head without removing it.
func (q *RotationQueue) Peek() (uint64, bool) {
	if q.head >= len(q.entries) {
		return 0, false
	}
	return q.entries[q.head], true
}

// Position returns the 1-based distance of the user from the head, or false
// when the user is not in rotation.
func (q *RotationQueue) Position(userID uint64) (int, bool) {
	for i := q.head; i < len(q.entries); i++ {
		if q.entries[i] == userID {
			return i - q.head + 1, true
		}
	}
	return 0, false
}

// Contains reports whether the user currently occupies a rotation slot.
func (q *RotationQueue) Contains(userID uint64) bool {
	_, ok := q.Position(userID)
	return ok
}

// Snapshot returns the in-rotation ids in FIFO order.
func (q *RotationQueue) Snapshot() []uint64 {
	out := make([]uint64, q.Len())
	copy(out, q.entries[q.head:])
	return out
}

// Restore replaces the rotation with the given FIFO order.
func (q *RotationQueue) Restore(ids []uint64) {
	q.entries = append([]uint64(nil), ids...)
	q.head = 0
}
