package matrix

import (
	"errors"
	"fmt"
	"math/big"
)

const (
	// LevelCount is the number of purchasable levels.
	LevelCount = 16
	// ReferralDepth is how many ancestors share in every activation.
	ReferralDepth = 3
	// PercentDenominator scales the fixed payout percentages.
	PercentDenominator = 100
	// BaseRewardPercent is the share paid to the queue-selected recipient.
	// The rounding remainder of the referral tiers is folded into this share
	// so a settlement always distributes the exact level price.
	BaseRewardPercent = 74
	// DefaultMaxPayouts is the per-cycle payout cap applied to every level.
	DefaultMaxPayouts = 2
)

// ReferralLinePercents are the tier shares for lines 1..3 of the caller's
// referral chain.
var ReferralLinePercents = [ReferralDepth]uint64{13, 8, 5}

// Params fixes the economic configuration of the matrix. Prices are wei
// amounts; the defaults double per level starting at 0.05 ether.
type Params struct {
	RegistrationPriceWei *big.Int
	LevelPricesWei       []*big.Int
	MaxPayouts           uint32
}

// DefaultParams returns the production price table.
func DefaultParams() Params {
	prices := make([]*big.Int, LevelCount)
	price := big.NewInt(0).Mul(big.NewInt(5), big.NewInt(1e16)) // 0.05 ether
	for i := range prices {
		prices[i] = new(big.Int).Set(price)
		price = new(big.Int).Mul(price, big.NewInt(2))
	}
	return Params{
		RegistrationPriceWei: big.NewInt(0).Mul(big.NewInt(5), big.NewInt(1e16)),
		LevelPricesWei:       prices,
		MaxPayouts:           DefaultMaxPayouts,
	}
}

// Validate ensures the configuration can settle without violating value
// conservation.
func (p Params) Validate() error {
	if p.RegistrationPriceWei == nil || p.RegistrationPriceWei.Sign() <= 0 {
		return errors.New("matrix: registration price must be positive")
	}
	if len(p.LevelPricesWei) != LevelCount {
		return fmt.Errorf("matrix: expected %d level prices, got %d", LevelCount, len(p.LevelPricesWei))
	}
	for i, price := range p.LevelPricesWei {
		if price == nil || price.Sign() <= 0 {
			return fmt.Errorf("matrix: level %d price must be positive", i+1)
		}
	}
	if p.MaxPayouts == 0 {
		return errors.New("matrix: max payouts must be positive")
	}
	var total uint64 = BaseRewardPercent
	for _, pct := range ReferralLinePercents {
		total += pct
	}
	if total != PercentDenominator {
		return fmt.Errorf("matrix: payout percentages sum to %d, want %d", total, PercentDenominator)
	}
	return nil
}

// LevelPrice returns the activation price for a 1-based level, or an error
// when the level is out of range.
func (p Params) LevelPrice(level uint8) (*big.Int, error) {
	if level < 1 || level > LevelCount {
		return nil, ErrInvalidLevel
	}
	return new(big.Int).Set(p.LevelPricesWei[level-1]), nil
}

// Clone deep-copies the parameter set.
func (p Params) Clone() Params {
	out := Params{MaxPayouts: p.MaxPayouts}
	out.RegistrationPriceWei = copyBigInt(p.RegistrationPriceWei)
	out.LevelPricesWei = make([]*big.Int, len(p.LevelPricesWei))
	for i, price := range p.LevelPricesWei {
		out.LevelPricesWei[i] = copyBigInt(price)
	}
	return out
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
