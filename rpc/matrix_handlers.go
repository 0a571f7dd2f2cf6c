package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"matrixchain/native/matrix"
	"matrixchain/observability"
)

var errInvalidParams = errors.New("rpc: invalid params")

type handlerFunc func(w http.ResponseWriter, req *rpcRequest) error

func (s *Server) methods() map[string]handlerFunc {
	return map[string]handlerFunc{
		"matrix_register":             s.handleRegister,
		"matrix_registerWithReferrer": s.handleRegisterWithReferrer,
		"matrix_buyLevel":             s.handleBuyLevel,
		"matrix_getUser":              s.handleGetUser,
		"matrix_getUserLevels":        s.handleGetUserLevels,
		"matrix_isLevelFrozen":        s.handleIsLevelFrozen,
		"matrix_getPlaceInQueue":      s.handleGetPlaceInQueue,
		"matrix_getGlobalStats":       s.handleGetGlobalStats,
		"matrix_levelPrices":          s.handleLevelPrices,
		"matrix_registrationPrice":    s.handleRegistrationPrice,
	}
}

func decodeParams(req *rpcRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("%w: expected a single params object", errInvalidParams)
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", errInvalidParams, raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseWei(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid wei amount %q", errInvalidParams, raw)
	}
	return value, nil
}

func parseLevel(raw uint64) (uint8, error) {
	if raw < 1 || raw > matrix.LevelCount {
		return 0, matrix.ErrInvalidLevel
	}
	return uint8(raw), nil
}

type registerParams struct {
	Address    string `json:"address"`
	Referrer   string `json:"referrer,omitempty"`
	PaymentWei string `json:"paymentWei"`
}

type registerResult struct {
	UserID     uint64 `json:"userId"`
	ReferrerID uint64 `json:"referrerId"`
}

func (s *Server) handleRegister(w http.ResponseWriter, req *rpcRequest) error {
	var params registerParams
	if err := decodeParams(req, &params); err != nil {
		return err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return err
	}
	payment, err := parseWei(params.PaymentWei)
	if err != nil {
		return err
	}
	reg, err := s.node.Register(addr, payment)
	if err != nil {
		return err
	}
	s.refreshLedgerGauges()
	writeResult(w, req.ID, registerResult{UserID: reg.UserID, ReferrerID: reg.ReferrerID})
	return nil
}

func (s *Server) handleRegisterWithReferrer(w http.ResponseWriter, req *rpcRequest) error {
	var params registerParams
	if err := decodeParams(req, &params); err != nil {
		return err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return err
	}
	referrer, err := parseAddress(params.Referrer)
	if err != nil {
		return err
	}
	payment, err := parseWei(params.PaymentWei)
	if err != nil {
		return err
	}
	reg, err := s.node.RegisterWithReferrer(addr, referrer, payment)
	if err != nil {
		return err
	}
	s.refreshLedgerGauges()
	writeResult(w, req.ID, registerResult{UserID: reg.UserID, ReferrerID: reg.ReferrerID})
	return nil
}

type buyLevelParams struct {
	Address    string `json:"address"`
	Level      uint64 `json:"level"`
	PaymentWei string `json:"paymentWei"`
}

type transferResult struct {
	To     string `json:"to"`
	UserID uint64 `json:"userId"`
	Amount string `json:"amountWei"`
	Kind   string `json:"kind"`
	Line   uint8  `json:"line,omitempty"`
}

type buyLevelResult struct {
	UserID    uint64           `json:"userId"`
	Level     uint8            `json:"level"`
	PriceWei  string           `json:"priceWei"`
	Recipient uint64           `json:"recipient"`
	Transfers []transferResult `json:"transfers"`
}

func (s *Server) handleBuyLevel(w http.ResponseWriter, req *rpcRequest) error {
	var params buyLevelParams
	if err := decodeParams(req, &params); err != nil {
		return err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return err
	}
	level, err := parseLevel(params.Level)
	if err != nil {
		return err
	}
	payment, err := parseWei(params.PaymentWei)
	if err != nil {
		return err
	}
	st, err := s.node.BuyLevel(addr, level, payment)
	if err != nil {
		return err
	}
	metrics := observability.Metrics()
	transfers := make([]transferResult, len(st.Transfers))
	for i, transfer := range st.Transfers {
		transfers[i] = transferResult{
			To:     transfer.To.Hex(),
			UserID: transfer.UserID,
			Amount: transfer.Amount.String(),
			Kind:   string(transfer.Kind),
			Line:   transfer.Line,
		}
		metrics.Payouts.WithLabelValues(string(transfer.Kind)).Inc()
	}
	s.refreshLedgerGauges()
	writeResult(w, req.ID, buyLevelResult{
		UserID:    st.Buyer,
		Level:     st.Level,
		PriceWei:  st.Price.String(),
		Recipient: st.Recipient,
		Transfers: transfers,
	})
	return nil
}

type addressParams struct {
	Address string `json:"address"`
}

type userResult struct {
	ID                      uint64 `json:"id"`
	Address                 string `json:"address"`
	RegistrationTimestamp   uint64 `json:"registrationTimestamp"`
	ReferrerID              uint64 `json:"referrerId"`
	Referrer                string `json:"referrer"`
	Referrals               uint64 `json:"referrals"`
	ReferralPayoutSum       string `json:"referralPayoutSum"`
	LevelsRewardSum         string `json:"levelsRewardSum"`
	MissedReferralPayoutSum string `json:"missedReferralPayoutSum"`
}

func (s *Server) handleGetUser(w http.ResponseWriter, req *rpcRequest) error {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		return err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return err
	}
	user, err := s.node.GetUser(addr)
	if err != nil {
		return err
	}
	writeResult(w, req.ID, userResult{
		ID:                      user.ID,
		Address:                 user.Address.Hex(),
		RegistrationTimestamp:   user.RegisteredAt,
		ReferrerID:              user.ReferrerID,
		Referrer:                user.Referrer.Hex(),
		Referrals:               user.ReferralCount,
		ReferralPayoutSum:       user.ReferralPayoutSum.String(),
		LevelsRewardSum:         user.LevelsRewardSum.String(),
		MissedReferralPayoutSum: user.MissedReferralPayoutSum.String(),
	})
	return nil
}

type userLevelsResult struct {
	Active            []bool   `json:"active"`
	Payouts           []uint32 `json:"payouts"`
	MaxPayouts        []uint32 `json:"maxPayouts"`
	ActivationTimes   []uint64 `json:"activationTimes"`
	RewardSum         []string `json:"rewardSum"`
	ReferralPayoutSum []string `json:"referralPayoutSum"`
}

func (s *Server) handleGetUserLevels(w http.ResponseWriter, req *rpcRequest) error {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		return err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return err
	}
	levels, err := s.node.GetUserLevels(addr)
	if err != nil {
		return err
	}
	result := userLevelsResult{
		Active:            levels.Active[:],
		Payouts:           levels.Payouts[:],
		MaxPayouts:        levels.MaxPayouts[:],
		ActivationTimes:   levels.ActivationTimes[:],
		RewardSum:         make([]string, matrix.LevelCount),
		ReferralPayoutSum: make([]string, matrix.LevelCount),
	}
	for i := 0; i < matrix.LevelCount; i++ {
		result.RewardSum[i] = levels.RewardSum[i].String()
		result.ReferralPayoutSum[i] = levels.ReferralPayoutSum[i].String()
	}
	writeResult(w, req.ID, result)
	return nil
}

type levelParams struct {
	Address string `json:"address"`
	Level   uint64 `json:"level"`
}

func (s *Server) handleIsLevelFrozen(w http.ResponseWriter, req *rpcRequest) error {
	var params levelParams
	if err := decodeParams(req, &params); err != nil {
		return err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return err
	}
	level, err := parseLevel(params.Level)
	if err != nil {
		return err
	}
	frozen, err := s.node.IsLevelFrozen(addr, level)
	if err != nil {
		return err
	}
	writeResult(w, req.ID, map[string]bool{"frozen": frozen})
	return nil
}

type placeResult struct {
	Place int `json:"place"`
	Total int `json:"total"`
}

func (s *Server) handleGetPlaceInQueue(w http.ResponseWriter, req *rpcRequest) error {
	var params levelParams
	if err := decodeParams(req, &params); err != nil {
		return err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return err
	}
	level, err := parseLevel(params.Level)
	if err != nil {
		return err
	}
	place, total, err := s.node.PlaceInQueue(addr, level)
	if err != nil {
		return err
	}
	writeResult(w, req.ID, placeResult{Place: place, Total: total})
	return nil
}

type statsResult struct {
	Members      uint64 `json:"members"`
	Transactions uint64 `json:"transactions"`
	TurnoverWei  string `json:"turnoverWei"`
}

func (s *Server) handleGetGlobalStats(w http.ResponseWriter, req *rpcRequest) error {
	stats := s.node.GlobalStats()
	writeResult(w, req.ID, statsResult{
		Members:      stats.Members,
		Transactions: stats.Transactions,
		TurnoverWei:  stats.TurnoverWei.String(),
	})
	return nil
}

func (s *Server) handleLevelPrices(w http.ResponseWriter, req *rpcRequest) error {
	params := s.node.Params()
	prices := make([]string, len(params.LevelPricesWei))
	for i, price := range params.LevelPricesWei {
		prices[i] = price.String()
	}
	writeResult(w, req.ID, map[string][]string{"levelPricesWei": prices})
	return nil
}

func (s *Server) handleRegistrationPrice(w http.ResponseWriter, req *rpcRequest) error {
	writeResult(w, req.ID, map[string]string{
		"registrationPriceWei": s.node.Params().RegistrationPriceWei.String(),
	})
	return nil
}

func (s *Server) refreshLedgerGauges() {
	stats := s.node.GlobalStats()
	observability.Metrics().SetLedgerTotals(stats.Members, stats.Transactions, stats.TurnoverWei)
}
