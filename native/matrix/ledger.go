package matrix

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"matrixchain/core/events"
)

// Ledger is the matrix payout state machine. It owns all mutable state:
// the registry, the per-level rotation queues, every level record, and the
// global counters. Callers must serialize mutating calls; the ledger itself
// performs no locking.
type Ledger struct {
	params   Params
	operator common.Address

	nextID    uint64
	users     map[uint64]*User
	byAddress map[common.Address]uint64
	levels    map[uint64]*[LevelCount]LevelRecord
	queues    [LevelCount + 1]*RotationQueue // 1-based by level
	stats     GlobalStats
}

// NewLedger creates an empty ledger. Genesis must be applied before any
// registration so the operator exists as the fallback recipient.
func NewLedger(params Params) (*Ledger, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	l := &Ledger{
		params:    params.Clone(),
		nextID:    1,
		users:     make(map[uint64]*User),
		byAddress: make(map[common.Address]uint64),
		levels:    make(map[uint64]*[LevelCount]LevelRecord),
		stats:     GlobalStats{TurnoverWei: big.NewInt(0)},
	}
	for level := 1; level <= LevelCount; level++ {
		l.queues[level] = NewRotationQueue()
	}
	return l, nil
}

// Params returns a copy of the economic configuration.
func (l *Ledger) Params() Params { return l.params.Clone() }

// Operator returns the fallback recipient address configured at genesis.
func (l *Ledger) Operator() common.Address { return l.operator }

// Genesis registers the operator as user id 1 with every level active. The
// queues stay empty: the first activation of each level routes its base share
// to the operator directly.
func (l *Ledger) Genesis(operator common.Address, now uint64) (*Registration, error) {
	if len(l.users) != 0 {
		return nil, ErrAlreadyRegistered
	}
	l.operator = operator
	user := l.allocateUser(operator, 0, now)
	records := l.levels[user.ID]
	for i := range records {
		records[i].Active = true
		records[i].ActivationTime = now
	}
	l.stats.Members++
	return &Registration{
		UserID:     user.ID,
		ReferrerID: 0,
		Events:     []events.Event{newUserRegisteredEvent(user.ID, 0, operator)},
	}, nil
}

// Registration summarises a completed register call.
type Registration struct {
	UserID     uint64
	ReferrerID uint64
	Transfers  []Transfer
	Events     []events.Event
	Undo       *Changeset
}

// Register creates a user with no referral lineage. The payment must cover
// the registration price; the full amount, excess included, is forwarded to
// the operator. Registration only grows the member count — turnover and the
// transaction counter track level activations.
func (l *Ledger) Register(addr common.Address, payment *big.Int, now uint64) (*Registration, error) {
	return l.register(addr, common.Address{}, payment, now)
}

// RegisterWithReferrer behaves like Register but binds the referrer when the
// referred address is already registered. An unknown referrer falls back to
// the operator lineage instead of failing, so stale referral links never
// block onboarding.
func (l *Ledger) RegisterWithReferrer(addr, referrer common.Address, payment *big.Int, now uint64) (*Registration, error) {
	return l.register(addr, referrer, payment, now)
}

func (l *Ledger) register(addr, referrer common.Address, payment *big.Int, now uint64) (*Registration, error) {
	if _, ok := l.byAddress[addr]; ok {
		return nil, ErrAlreadyRegistered
	}
	if payment == nil || payment.Cmp(l.params.RegistrationPriceWei) < 0 {
		return nil, ErrWrongPayment
	}

	var referrerID uint64
	if refID, ok := l.byAddress[referrer]; ok && referrer != addr {
		referrerID = refID
	}

	undo := l.newChangeset()
	if referrerID != 0 {
		undo.recordUser(l, referrerID)
	}

	user := l.allocateUser(addr, referrerID, now)
	undo.markCreated(user.ID, addr)
	if referrerID != 0 {
		l.users[referrerID].ReferralCount++
	}
	l.stats.Members++

	return &Registration{
		UserID:     user.ID,
		ReferrerID: referrerID,
		Transfers: []Transfer{{
			To:     l.operator,
			UserID: OperatorID,
			Amount: new(big.Int).Set(payment),
			Kind:   PayoutKindRegistration,
		}},
		Events: []events.Event{newUserRegisteredEvent(user.ID, referrerID, addr)},
		Undo:   undo,
	}, nil
}

func (l *Ledger) allocateUser(addr common.Address, referrerID uint64, now uint64) *User {
	user := &User{
		ID:                      l.nextID,
		Address:                 addr,
		ReferrerID:              referrerID,
		RegisteredAt:            now,
		ReferralPayoutSum:       big.NewInt(0),
		LevelsRewardSum:         big.NewInt(0),
		MissedReferralPayoutSum: big.NewInt(0),
	}
	l.nextID++
	l.users[user.ID] = user
	l.byAddress[addr] = user.ID

	records := new([LevelCount]LevelRecord)
	for i := range records {
		records[i] = LevelRecord{
			MaxPayouts:        l.params.MaxPayouts,
			RewardSum:         big.NewInt(0),
			ReferralPayoutSum: big.NewInt(0),
		}
	}
	l.levels[user.ID] = records
	return user
}

// Settlement summarises one applied buyLevel call. The transfer amounts sum
// to the level price exactly.
type Settlement struct {
	Buyer     uint64
	Level     uint8
	Price     *big.Int
	Recipient uint64
	Transfers []Transfer
	Events    []events.Event
	Undo      *Changeset
}

func (st *Settlement) addTransfer(t Transfer) {
	st.Transfers = append(st.Transfers, t)
}

// BuyLevel validates and settles one level activation: select the queue head
// (or the operator when the queue is empty), rotate or freeze the recipient,
// admit the buyer to the tail, and split the price 74/13/8/5 across the base
// recipient and the referral chain.
func (l *Ledger) BuyLevel(addr common.Address, level uint8, payment *big.Int, now uint64) (*Settlement, error) {
	buyerID, ok := l.byAddress[addr]
	if !ok {
		return nil, ErrNotRegistered
	}
	if level < 1 || level > LevelCount {
		return nil, ErrInvalidLevel
	}
	buyer := l.users[buyerID]
	records := l.levels[buyerID]
	if level > 1 && !records[level-2].Active {
		return nil, ErrLevelOutOfOrder
	}
	price := l.params.LevelPricesWei[level-1]
	if payment == nil || payment.Cmp(price) != 0 {
		return nil, ErrWrongPayment
	}

	undo := l.newChangeset()
	undo.recordUser(l, buyerID)
	undo.recordQueue(l, level)
	if level > 1 {
		undo.recordQueue(l, level-1)
	}

	st := &Settlement{
		Buyer: buyerID,
		Level: level,
		Price: new(big.Int).Set(price),
	}

	rec := &records[level-1]
	if !rec.Active {
		rec.Active = true
		rec.ActivationTime = now
	}
	l.thawPreviousLevel(buyerID, level)

	base, tiers := splitPrice(price)

	queue := l.queues[level]
	recipientID, selected := queue.Pop()
	if selected {
		undo.recordUser(l, recipientID)
		recipient := l.users[recipientID]
		recRecords := l.levels[recipientID]
		recipientRec := &recRecords[level-1]
		recipientRec.Payouts++
		if rotationState(recipientRec, l.nextLevelActive(recipientID, level)) == RotationActive {
			queue.Push(recipientID)
		}
		recipientRec.RewardSum.Add(recipientRec.RewardSum, base)
		recipient.LevelsRewardSum.Add(recipient.LevelsRewardSum, base)
		st.Recipient = recipientID
		st.addTransfer(Transfer{
			To:     recipient.Address,
			UserID: recipientID,
			Amount: new(big.Int).Set(base),
			Kind:   PayoutKindBase,
			Level:  level,
		})
	} else {
		// First-ever activation of this level: the operator absorbs the base
		// share without consuming a payout.
		undo.recordUser(l, OperatorID)
		operator := l.users[OperatorID]
		opRecords := l.levels[OperatorID]
		opRecords[level-1].RewardSum.Add(opRecords[level-1].RewardSum, base)
		operator.LevelsRewardSum.Add(operator.LevelsRewardSum, base)
		st.Recipient = OperatorID
		st.addTransfer(Transfer{
			To:     l.operator,
			UserID: OperatorID,
			Amount: new(big.Int).Set(base),
			Kind:   PayoutKindBase,
			Level:  level,
		})
	}

	if !queue.Contains(buyerID) {
		queue.Push(buyerID)
	}

	undo.recordUser(l, OperatorID)
	l.distributeReferrals(buyer, level, tiers, st, undo)

	l.stats.Transactions++
	l.stats.TurnoverWei.Add(l.stats.TurnoverWei, price)

	purchase := newLevelPurchasedEvent(buyerID, level, price)
	payout := newLevelPayoutEvent(st.Recipient, level, base)
	st.Events = append([]events.Event{purchase, payout}, st.Events...)
	st.Undo = undo
	return st, nil
}
