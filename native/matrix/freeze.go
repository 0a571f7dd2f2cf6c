package matrix

// RotationState describes where a (user, level) pair sits in the freeze/cycle
// state machine.
type RotationState uint8

const (
	// RotationInactive means the level was never activated.
	RotationInactive RotationState = iota
	// RotationActive means the pair keeps re-entering the queue after each
	// selection: either the payout cap is not reached yet, or the next level
	// is active and the pair cycles indefinitely.
	RotationActive
	// RotationFrozen means the payout cap is reached and the next level is
	// not active. The level stays active but exits rotation until the next
	// level is purchased.
	RotationFrozen
)

// rotationState evaluates the state machine for one level record given
// whether the user's next level is currently active. Level 16 has no next
// level, so its cap is terminal for rotation.
func rotationState(rec *LevelRecord, nextLevelActive bool) RotationState {
	if rec == nil || !rec.Active {
		return RotationInactive
	}
	if rec.Payouts < rec.MaxPayouts || nextLevelActive {
		return RotationActive
	}
	return RotationFrozen
}

// nextLevelActive reports whether level+1 is active for the user. The last
// level never has an active successor.
func (l *Ledger) nextLevelActive(userID uint64, level uint8) bool {
	if level >= LevelCount {
		return false
	}
	records, ok := l.levels[userID]
	if !ok {
		return false
	}
	return records[level].Active
}

// levelFrozen reports whether the (user, level) pair is currently Frozen.
func (l *Ledger) levelFrozen(userID uint64, level uint8) bool {
	records, ok := l.levels[userID]
	if !ok || level < 1 || level > LevelCount {
		return false
	}
	return rotationState(&records[level-1], l.nextLevelActive(userID, level)) == RotationFrozen
}

// thawPreviousLevel re-admits level-1 into rotation when activating a level
// unfreezes it. A frozen pair holds no queue slot, so re-admission is a plain
// tail append.
func (l *Ledger) thawPreviousLevel(userID uint64, level uint8) {
	if level < 2 {
		return
	}
	prev := level - 1
	records := l.levels[userID]
	rec := &records[prev-1]
	if !rec.Active || rec.Payouts < rec.MaxPayouts {
		return
	}
	queue := l.queues[prev]
	if !queue.Contains(userID) {
		queue.Push(userID)
	}
}
