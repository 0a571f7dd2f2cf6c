package genesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"matrixchain/native/matrix"
)

// Spec is the genesis document for a matrix network. Prices are decimal wei
// strings; omitted fields fall back to the built-in defaults.
type Spec struct {
	Operator             string   `json:"operator"`
	RegistrationPriceWei string   `json:"registrationPriceWei,omitempty"`
	LevelPricesWei       []string `json:"levelPricesWei,omitempty"`
	MaxPayouts           uint32   `json:"maxPayouts,omitempty"`
}

// Load reads and validates a genesis document.
func Load(path string) (*Spec, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	spec := &Spec{}
	if err := json.Unmarshal(payload, spec); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate checks the document without materialising parameters.
func (s *Spec) Validate() error {
	if s == nil {
		return errors.New("genesis: nil spec")
	}
	if _, err := s.OperatorAddress(); err != nil {
		return err
	}
	if _, err := s.Params(); err != nil {
		return err
	}
	return nil
}

// OperatorAddress decodes the operator hex address.
func (s *Spec) OperatorAddress() (common.Address, error) {
	trimmed := strings.TrimSpace(s.Operator)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("genesis: invalid operator address %q", s.Operator)
	}
	return common.HexToAddress(trimmed), nil
}

// Params materialises the economic configuration, applying defaults for any
// omitted field.
func (s *Spec) Params() (matrix.Params, error) {
	params := matrix.DefaultParams()
	if trimmed := strings.TrimSpace(s.RegistrationPriceWei); trimmed != "" {
		price, err := parseWei(trimmed)
		if err != nil {
			return matrix.Params{}, fmt.Errorf("genesis: registration price: %w", err)
		}
		params.RegistrationPriceWei = price
	}
	if len(s.LevelPricesWei) > 0 {
		if len(s.LevelPricesWei) != matrix.LevelCount {
			return matrix.Params{}, fmt.Errorf("genesis: expected %d level prices, got %d", matrix.LevelCount, len(s.LevelPricesWei))
		}
		prices := make([]*big.Int, matrix.LevelCount)
		for i, raw := range s.LevelPricesWei {
			price, err := parseWei(strings.TrimSpace(raw))
			if err != nil {
				return matrix.Params{}, fmt.Errorf("genesis: level %d price: %w", i+1, err)
			}
			prices[i] = price
		}
		params.LevelPricesWei = prices
	}
	if s.MaxPayouts > 0 {
		params.MaxPayouts = s.MaxPayouts
	}
	if err := params.Validate(); err != nil {
		return matrix.Params{}, err
	}
	return params, nil
}

func parseWei(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal wei amount: %q", raw)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive: %q", raw)
	}
	return value, nil
}
