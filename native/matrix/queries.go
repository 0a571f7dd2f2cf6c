package matrix

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// UserSnapshot is the read-model projection of a registered user.
type UserSnapshot struct {
	ID                      uint64
	Address                 common.Address
	ReferrerID              uint64
	Referrer                common.Address
	RegisteredAt            uint64
	ReferralCount           uint64
	ReferralPayoutSum       *big.Int
	LevelsRewardSum         *big.Int
	MissedReferralPayoutSum *big.Int
}

// UserLevels carries the per-level state as parallel arrays indexed by
// level-1, the shape dashboards consume directly.
type UserLevels struct {
	Active            [LevelCount]bool
	Payouts           [LevelCount]uint32
	MaxPayouts        [LevelCount]uint32
	ActivationTimes   [LevelCount]uint64
	RewardSum         [LevelCount]*big.Int
	ReferralPayoutSum [LevelCount]*big.Int
}

// GetUser returns the snapshot for a registered address.
func (l *Ledger) GetUser(addr common.Address) (*UserSnapshot, error) {
	userID, ok := l.byAddress[addr]
	if !ok {
		return nil, ErrUnknownUser
	}
	user := l.users[userID]
	snapshot := &UserSnapshot{
		ID:                      user.ID,
		Address:                 user.Address,
		ReferrerID:              user.ReferrerID,
		RegisteredAt:            user.RegisteredAt,
		ReferralCount:           user.ReferralCount,
		ReferralPayoutSum:       copyBigInt(user.ReferralPayoutSum),
		LevelsRewardSum:         copyBigInt(user.LevelsRewardSum),
		MissedReferralPayoutSum: copyBigInt(user.MissedReferralPayoutSum),
	}
	if referrer, ok := l.users[user.ReferrerID]; ok {
		snapshot.Referrer = referrer.Address
	}
	return snapshot, nil
}

// GetUserLevels returns the per-level projection for a registered address.
func (l *Ledger) GetUserLevels(addr common.Address) (*UserLevels, error) {
	userID, ok := l.byAddress[addr]
	if !ok {
		return nil, ErrUnknownUser
	}
	records := l.levels[userID]
	out := &UserLevels{}
	for i := range records {
		rec := &records[i]
		out.Active[i] = rec.Active
		out.Payouts[i] = rec.Payouts
		out.MaxPayouts[i] = rec.MaxPayouts
		out.ActivationTimes[i] = rec.ActivationTime
		out.RewardSum[i] = copyBigInt(rec.RewardSum)
		out.ReferralPayoutSum[i] = copyBigInt(rec.ReferralPayoutSum)
	}
	return out, nil
}

// IsLevelFrozen reports whether the (address, level) pair sits in the Frozen
// state: payout cap reached and the next level inactive.
func (l *Ledger) IsLevelFrozen(addr common.Address, level uint8) (bool, error) {
	userID, ok := l.byAddress[addr]
	if !ok {
		return false, ErrUnknownUser
	}
	if level < 1 || level > LevelCount {
		return false, ErrInvalidLevel
	}
	return l.levelFrozen(userID, level), nil
}

// PlaceInQueue returns the 1-based rotation position of the address for a
// level along with the queue length. Position 0 means the address holds no
// rotation slot (never admitted, or frozen out).
func (l *Ledger) PlaceInQueue(addr common.Address, level uint8) (place int, total int, err error) {
	userID, ok := l.byAddress[addr]
	if !ok {
		return 0, 0, ErrUnknownUser
	}
	if level < 1 || level > LevelCount {
		return 0, 0, ErrInvalidLevel
	}
	queue := l.queues[level]
	place, _ = queue.Position(userID)
	return place, queue.Len(), nil
}

// Stats returns a copy of the global counters.
func (l *Ledger) Stats() GlobalStats {
	return l.stats.Clone()
}

// IsRegistered reports whether the address has a registry entry.
func (l *Ledger) IsRegistered(addr common.Address) bool {
	_, ok := l.byAddress[addr]
	return ok
}

// MemberCount returns the number of registered users, operator included.
func (l *Ledger) MemberCount() int { return len(l.users) }
