package matrix

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// UserState is the persisted form of one user and its level records.
type UserState struct {
	ID                      uint64             `json:"id"`
	Address                 common.Address     `json:"address"`
	ReferrerID              uint64             `json:"referrerId"`
	RegisteredAt            uint64             `json:"registeredAt"`
	ReferralCount           uint64             `json:"referralCount"`
	ReferralPayoutSum       *big.Int           `json:"referralPayoutSum"`
	LevelsRewardSum         *big.Int           `json:"levelsRewardSum"`
	MissedReferralPayoutSum *big.Int           `json:"missedReferralPayoutSum"`
	Levels                  []LevelRecordState `json:"levels"`
}

// LevelRecordState is the persisted form of one level record.
type LevelRecordState struct {
	Active            bool     `json:"active"`
	Payouts           uint32   `json:"payouts"`
	MaxPayouts        uint32   `json:"maxPayouts"`
	ActivationTime    uint64   `json:"activationTime"`
	RewardSum         *big.Int `json:"rewardSum"`
	ReferralPayoutSum *big.Int `json:"referralPayoutSum"`
}

// MetaState carries the singleton ledger fields.
type MetaState struct {
	NextID   uint64         `json:"nextId"`
	Operator common.Address `json:"operator"`
}

// StatsState is the persisted form of the global counters.
type StatsState struct {
	Members      uint64   `json:"members"`
	Transactions uint64   `json:"transactions"`
	TurnoverWei  *big.Int `json:"turnoverWei"`
}

// ExportUser serialises one user for persistence.
func (l *Ledger) ExportUser(userID uint64) (*UserState, error) {
	user, ok := l.users[userID]
	if !ok {
		return nil, ErrUnknownUser
	}
	records := l.levels[userID]
	state := &UserState{
		ID:                      user.ID,
		Address:                 user.Address,
		ReferrerID:              user.ReferrerID,
		RegisteredAt:            user.RegisteredAt,
		ReferralCount:           user.ReferralCount,
		ReferralPayoutSum:       copyBigInt(user.ReferralPayoutSum),
		LevelsRewardSum:         copyBigInt(user.LevelsRewardSum),
		MissedReferralPayoutSum: copyBigInt(user.MissedReferralPayoutSum),
		Levels:                  make([]LevelRecordState, LevelCount),
	}
	for i := range records {
		state.Levels[i] = LevelRecordState{
			Active:            records[i].Active,
			Payouts:           records[i].Payouts,
			MaxPayouts:        records[i].MaxPayouts,
			ActivationTime:    records[i].ActivationTime,
			RewardSum:         copyBigInt(records[i].RewardSum),
			ReferralPayoutSum: copyBigInt(records[i].ReferralPayoutSum),
		}
	}
	return state, nil
}

// ImportUser installs a persisted user. Load order does not matter; referrer
// links are plain ids.
func (l *Ledger) ImportUser(state *UserState) error {
	if state == nil {
		return ErrUnknownUser
	}
	if len(state.Levels) != LevelCount {
		return fmt.Errorf("matrix: user %d has %d level records, want %d", state.ID, len(state.Levels), LevelCount)
	}
	user := &User{
		ID:                      state.ID,
		Address:                 state.Address,
		ReferrerID:              state.ReferrerID,
		RegisteredAt:            state.RegisteredAt,
		ReferralCount:           state.ReferralCount,
		ReferralPayoutSum:       copyBigInt(state.ReferralPayoutSum),
		LevelsRewardSum:         copyBigInt(state.LevelsRewardSum),
		MissedReferralPayoutSum: copyBigInt(state.MissedReferralPayoutSum),
	}
	records := new([LevelCount]LevelRecord)
	for i, rec := range state.Levels {
		records[i] = LevelRecord{
			Active:            rec.Active,
			Payouts:           rec.Payouts,
			MaxPayouts:        rec.MaxPayouts,
			ActivationTime:    rec.ActivationTime,
			RewardSum:         copyBigInt(rec.RewardSum),
			ReferralPayoutSum: copyBigInt(rec.ReferralPayoutSum),
		}
	}
	l.users[user.ID] = user
	l.byAddress[user.Address] = user.ID
	l.levels[user.ID] = records
	return nil
}

// ExportQueue serialises one level's rotation order.
func (l *Ledger) ExportQueue(level uint8) ([]uint64, error) {
	if level < 1 || level > LevelCount {
		return nil, ErrInvalidLevel
	}
	return l.queues[level].Snapshot(), nil
}

// ImportQueue installs one level's rotation order.
func (l *Ledger) ImportQueue(level uint8, order []uint64) error {
	if level < 1 || level > LevelCount {
		return ErrInvalidLevel
	}
	l.queues[level].Restore(order)
	return nil
}

// ExportMeta serialises the singleton fields.
func (l *Ledger) ExportMeta() MetaState {
	return MetaState{NextID: l.nextID, Operator: l.operator}
}

// ImportMeta installs the singleton fields.
func (l *Ledger) ImportMeta(meta MetaState) {
	l.nextID = meta.NextID
	l.operator = meta.Operator
}

// ExportStats serialises the global counters.
func (l *Ledger) ExportStats() StatsState {
	return StatsState{
		Members:      l.stats.Members,
		Transactions: l.stats.Transactions,
		TurnoverWei:  copyBigInt(l.stats.TurnoverWei),
	}
}

// ImportStats installs the global counters.
func (l *Ledger) ImportStats(stats StatsState) {
	l.stats = GlobalStats{
		Members:      stats.Members,
		Transactions: stats.Transactions,
		TurnoverWei:  copyBigInt(stats.TurnoverWei),
	}
}
