package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"matrixchain/core/types"
)

const (
	// TypeMatrixUserRegistered is emitted when a new participant joins the
	// matrix and receives its sequential id.
	TypeMatrixUserRegistered = "matrix.user.registered"
	// TypeMatrixLevelPurchased is emitted when a participant activates (or
	// re-activates rotation for) a level.
	TypeMatrixLevelPurchased = "matrix.level.purchased"
	// TypeMatrixLevelPayout is emitted when the queue-selected recipient
	// receives the base share of an activation.
	TypeMatrixLevelPayout = "matrix.level.payout"
	// TypeMatrixReferralPayout is emitted for each referral tier paid to an
	// eligible upline.
	TypeMatrixReferralPayout = "matrix.referral.payout"
	// TypeMatrixMissedPayout is emitted when a referral tier is redirected to
	// the operator because the intended upline lacked the purchased level.
	TypeMatrixMissedPayout = "matrix.referral.missed"
)

// MatrixUserRegistered captures a completed registration.
type MatrixUserRegistered struct {
	UserID     uint64
	ReferrerID uint64
	Address    common.Address
}

// EventType implements the Event interface.
func (MatrixUserRegistered) EventType() string { return TypeMatrixUserRegistered }

// Event converts the registration into the generic event payload.
func (e MatrixUserRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeMatrixUserRegistered,
		Attributes: map[string]string{
			"userId":     strconv.FormatUint(e.UserID, 10),
			"referrerId": strconv.FormatUint(e.ReferrerID, 10),
			"address":    e.Address.Hex(),
		},
	}
}

// MatrixLevelPurchased captures a level activation and the value paid in.
type MatrixLevelPurchased struct {
	UserID uint64
	Level  uint8
	Value  *big.Int
}

// EventType implements the Event interface.
func (MatrixLevelPurchased) EventType() string { return TypeMatrixLevelPurchased }

// Event converts the purchase into the generic event payload.
func (e MatrixLevelPurchased) Event() *types.Event {
	return &types.Event{
		Type: TypeMatrixLevelPurchased,
		Attributes: map[string]string{
			"userId": strconv.FormatUint(e.UserID, 10),
			"level":  strconv.FormatUint(uint64(e.Level), 10),
			"value":  bigString(e.Value),
		},
	}
}

// MatrixLevelPayout captures the base reward routed to the queue head (or the
// operator fallback when the queue was empty).
type MatrixLevelPayout struct {
	UserID uint64
	Level  uint8
	Reward *big.Int
}

// EventType implements the Event interface.
func (MatrixLevelPayout) EventType() string { return TypeMatrixLevelPayout }

// Event converts the payout into the generic event payload.
func (e MatrixLevelPayout) Event() *types.Event {
	return &types.Event{
		Type: TypeMatrixLevelPayout,
		Attributes: map[string]string{
			"userId": strconv.FormatUint(e.UserID, 10),
			"level":  strconv.FormatUint(uint64(e.Level), 10),
			"reward": bigString(e.Reward),
		},
	}
}

// MatrixReferralPayout captures a referral tier paid to an eligible upline.
type MatrixReferralPayout struct {
	ReferrerID uint64
	ReferralID uint64
	Level      uint8
	Line       uint8
	Reward     *big.Int
}

// EventType implements the Event interface.
func (MatrixReferralPayout) EventType() string { return TypeMatrixReferralPayout }

// Event converts the referral payout into the generic event payload.
func (e MatrixReferralPayout) Event() *types.Event {
	return &types.Event{
		Type: TypeMatrixReferralPayout,
		Attributes: map[string]string{
			"referrerId": strconv.FormatUint(e.ReferrerID, 10),
			"referralId": strconv.FormatUint(e.ReferralID, 10),
			"level":      strconv.FormatUint(uint64(e.Level), 10),
			"line":       strconv.FormatUint(uint64(e.Line), 10),
			"reward":     bigString(e.Reward),
		},
	}
}

// MatrixMissedPayout captures a referral tier redirected to the operator.
type MatrixMissedPayout struct {
	SkippedID  uint64
	ReferralID uint64
	Level      uint8
	Line       uint8
	Reward     *big.Int
}

// EventType implements the Event interface.
func (MatrixMissedPayout) EventType() string { return TypeMatrixMissedPayout }

// Event converts the missed payout into the generic event payload.
func (e MatrixMissedPayout) Event() *types.Event {
	return &types.Event{
		Type: TypeMatrixMissedPayout,
		Attributes: map[string]string{
			"skippedId":  strconv.FormatUint(e.SkippedID, 10),
			"referralId": strconv.FormatUint(e.ReferralID, 10),
			"level":      strconv.FormatUint(uint64(e.Level), 10),
			"line":       strconv.FormatUint(uint64(e.Line), 10),
			"reward":     bigString(e.Reward),
		},
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
