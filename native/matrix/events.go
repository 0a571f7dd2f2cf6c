package matrix

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"matrixchain/core/events"
)

func newUserRegisteredEvent(userID, referrerID uint64, addr common.Address) events.MatrixUserRegistered {
	return events.MatrixUserRegistered{
		UserID:     userID,
		ReferrerID: referrerID,
		Address:    addr,
	}
}

func newLevelPurchasedEvent(userID uint64, level uint8, value *big.Int) events.MatrixLevelPurchased {
	return events.MatrixLevelPurchased{
		UserID: userID,
		Level:  level,
		Value:  copyBigInt(value),
	}
}

func newLevelPayoutEvent(userID uint64, level uint8, reward *big.Int) events.MatrixLevelPayout {
	return events.MatrixLevelPayout{
		UserID: userID,
		Level:  level,
		Reward: copyBigInt(reward),
	}
}

func newReferralPayoutEvent(referrerID, referralID uint64, level, line uint8, reward *big.Int) events.MatrixReferralPayout {
	return events.MatrixReferralPayout{
		ReferrerID: referrerID,
		ReferralID: referralID,
		Level:      level,
		Line:       line,
		Reward:     copyBigInt(reward),
	}
}

func newMissedPayoutEvent(skippedID, referralID uint64, level, line uint8, reward *big.Int) events.MatrixMissedPayout {
	return events.MatrixMissedPayout{
		SkippedID:  skippedID,
		ReferralID: referralID,
		Level:      level,
		Line:       line,
		Reward:     copyBigInt(reward),
	}
}
