package matrix

import "github.com/ethereum/go-ethereum/common"

// Changeset is the undo journal for one mutating call. The node reverts the
// whole transaction through it when the external payout sink rejects the
// computed transfers, so a half-applied settlement is never observable. It
// also names every record a commit must persist.
type Changeset struct {
	prevStats  GlobalStats
	prevNextID uint64

	users   map[uint64]*User
	levels  map[uint64]*[LevelCount]LevelRecord
	queues  map[uint8][]uint64
	created map[uint64]common.Address
}

func (l *Ledger) newChangeset() *Changeset {
	return &Changeset{
		prevStats:  l.stats.Clone(),
		prevNextID: l.nextID,
		users:      make(map[uint64]*User),
		levels:     make(map[uint64]*[LevelCount]LevelRecord),
		queues:     make(map[uint8][]uint64),
		created:    make(map[uint64]common.Address),
	}
}

// recordUser snapshots a user and its level records before first mutation.
func (cs *Changeset) recordUser(l *Ledger, userID uint64) {
	if _, ok := cs.users[userID]; ok {
		return
	}
	user, ok := l.users[userID]
	if !ok {
		return
	}
	cs.users[userID] = user.Clone()
	records := l.levels[userID]
	clone := new([LevelCount]LevelRecord)
	for i := range records {
		clone[i] = *records[i].Clone()
	}
	cs.levels[userID] = clone
}

// recordQueue snapshots a level's rotation order before first mutation.
func (cs *Changeset) recordQueue(l *Ledger, level uint8) {
	if _, ok := cs.queues[level]; ok {
		return
	}
	cs.queues[level] = l.queues[level].Snapshot()
}

// markCreated notes a user allocated inside this transaction so a revert can
// remove it entirely.
func (cs *Changeset) markCreated(userID uint64, addr common.Address) {
	cs.created[userID] = addr
}

// TouchedUsers lists every user id whose record (or level records) this
// transaction wrote, including freshly created ones.
func (cs *Changeset) TouchedUsers() []uint64 {
	out := make([]uint64, 0, len(cs.users)+len(cs.created))
	for id := range cs.users {
		out = append(out, id)
	}
	for id := range cs.created {
		out = append(out, id)
	}
	return out
}

// TouchedQueues lists every level whose rotation order this transaction wrote.
func (cs *Changeset) TouchedQueues() []uint8 {
	out := make([]uint8, 0, len(cs.queues))
	for level := range cs.queues {
		out = append(out, level)
	}
	return out
}

// Revert restores the ledger to its state before the transaction.
func (l *Ledger) Revert(cs *Changeset) {
	if cs == nil {
		return
	}
	for id, addr := range cs.created {
		delete(l.users, id)
		delete(l.levels, id)
		delete(l.byAddress, addr)
	}
	for id, user := range cs.users {
		l.users[id] = user.Clone()
		records := cs.levels[id]
		clone := new([LevelCount]LevelRecord)
		for i := range records {
			clone[i] = *records[i].Clone()
		}
		l.levels[id] = clone
	}
	for level, order := range cs.queues {
		l.queues[level].Restore(order)
	}
	l.stats = cs.prevStats.Clone()
	l.nextID = cs.prevNextID
}
