package matrix

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OperatorID is the id issued to the deploying operator at genesis. The
// operator seeds every queue and absorbs missed referral tiers.
const OperatorID uint64 = 1

// User is an identity record. Ids form a dense sequence starting at 1 and are
// never reused; the referrer is set exactly once at registration and always
// names a user registered strictly earlier, which keeps the referral graph
// acyclic by construction.
type User struct {
	ID                      uint64
	Address                 common.Address
	ReferrerID              uint64
	RegisteredAt            uint64
	ReferralCount           uint64
	ReferralPayoutSum       *big.Int
	LevelsRewardSum         *big.Int
	MissedReferralPayoutSum *big.Int
}

// Clone deep-copies the user record.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	clone := *u
	clone.ReferralPayoutSum = copyBigInt(u.ReferralPayoutSum)
	clone.LevelsRewardSum = copyBigInt(u.LevelsRewardSum)
	clone.MissedReferralPayoutSum = copyBigInt(u.MissedReferralPayoutSum)
	return &clone
}

// LevelRecord tracks one (user, level) pair. Records are created on first
// activation and never deleted; Payouts only ever grows and only the
// settlement path increments it.
type LevelRecord struct {
	Active            bool
	Payouts           uint32
	MaxPayouts        uint32
	ActivationTime    uint64
	RewardSum         *big.Int
	ReferralPayoutSum *big.Int
}

// Clone deep-copies the level record.
func (r *LevelRecord) Clone() *LevelRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.RewardSum = copyBigInt(r.RewardSum)
	clone.ReferralPayoutSum = copyBigInt(r.ReferralPayoutSum)
	return &clone
}

// GlobalStats aggregates ledger-wide counters.
type GlobalStats struct {
	Members      uint64
	Transactions uint64
	TurnoverWei  *big.Int
}

// Clone deep-copies the counters.
func (s GlobalStats) Clone() GlobalStats {
	return GlobalStats{
		Members:      s.Members,
		Transactions: s.Transactions,
		TurnoverWei:  copyBigInt(s.TurnoverWei),
	}
}

// PayoutKind labels the destination of a settlement transfer.
type PayoutKind string

const (
	PayoutKindBase         PayoutKind = "base"
	PayoutKindReferral     PayoutKind = "referral"
	PayoutKindMissed       PayoutKind = "missed"
	PayoutKindRegistration PayoutKind = "registration"
)

// Transfer is one leg of a settlement. The sum of a settlement's transfers
// always equals the level price exactly.
type Transfer struct {
	To     common.Address
	UserID uint64
	Amount *big.Int
	Kind   PayoutKind
	Level  uint8
	Line   uint8
}
