package core

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"matrixchain/core/events"
	"matrixchain/core/state"
	"matrixchain/native/matrix"
	"matrixchain/storage"
)

// PayoutSink receives the outbound transfers of a committed transaction. It
// is invoked after all internal bookkeeping is final but before persistence;
// when it returns an error the node reverts the whole transaction, so a
// failed external payment never leaves a half-updated queue behind. The
// converse does not hold: if persistence fails after Pay returned, the ledger
// reverts while the sink has already accepted the transfers. Sinks that move
// funds immediately must therefore stage transfers and settle them once the
// call returns, or be able to compensate a transaction the node reports as
// failed.
type PayoutSink interface {
	Pay(transfers []matrix.Transfer) error
}

// NoopSink accepts every transfer. Used when payments settle out of band.
type NoopSink struct{}

// Pay implements the PayoutSink interface.
func (NoopSink) Pay([]matrix.Transfer) error { return nil }

// Node owns the ledger and serializes every mutating call: a transaction runs
// to full completion (validation, queue mutation, distribution, persistence,
// event emission) before the next one is admitted.
type Node struct {
	mu      sync.RWMutex
	ledger  *matrix.Ledger
	manager *state.Manager
	emitter events.Emitter
	sink    PayoutSink
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Node.
type Option func(*Node)

// WithEmitter routes ledger events to the given emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(n *Node) {
		if emitter != nil {
			n.emitter = emitter
		}
	}
}

// WithPayoutSink installs the external payment collaborator.
func WithPayoutSink(sink PayoutSink) Option {
	return func(n *Node) {
		if sink != nil {
			n.sink = sink
		}
	}
}

// WithClock overrides the transaction timestamp source.
func WithClock(now func() time.Time) Option {
	return func(n *Node) {
		if now != nil {
			n.now = now
		}
	}
}

// WithLogger overrides the node logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNode loads persisted state from the database or, on a fresh store, runs
// genesis: the operator is auto-registered as user id 1 with every level
// active and every queue empty.
func NewNode(db storage.Database, params matrix.Params, operator common.Address, opts ...Option) (*Node, error) {
	ledger, err := matrix.NewLedger(params)
	if err != nil {
		return nil, err
	}
	node := &Node{
		ledger:  ledger,
		manager: state.NewManager(db),
		emitter: events.NoopEmitter{},
		sink:    NoopSink{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(node)
	}

	found, err := node.manager.Load(ledger)
	if err != nil {
		return nil, fmt.Errorf("load ledger state: %w", err)
	}
	if !found {
		reg, err := ledger.Genesis(operator, uint64(node.now().Unix()))
		if err != nil {
			return nil, err
		}
		if err := node.manager.CommitAll(ledger); err != nil {
			return nil, fmt.Errorf("persist genesis: %w", err)
		}
		node.emitAll(reg.Events)
		node.logger.Info("matrix genesis applied", "operator", operator.Hex())
	} else if ledger.Operator() != operator {
		node.logger.Warn("configured operator differs from stored genesis",
			"configured", operator.Hex(), "stored", ledger.Operator().Hex())
	}
	return node, nil
}

func (n *Node) emitAll(evts []events.Event) {
	for _, evt := range evts {
		n.emitter.Emit(evt)
	}
}

// finalize runs the external sink and persistence for an applied transaction,
// reverting everything when either fails.
func (n *Node) finalize(undo *matrix.Changeset, transfers []matrix.Transfer, evts []events.Event) error {
	if err := n.sink.Pay(transfers); err != nil {
		n.ledger.Revert(undo)
		return fmt.Errorf("payout sink rejected transfers: %w", err)
	}
	if err := n.manager.Commit(n.ledger, undo); err != nil {
		n.ledger.Revert(undo)
		return fmt.Errorf("persist transaction: %w", err)
	}
	n.emitAll(evts)
	return nil
}

// Register admits a new participant with no referral lineage.
func (n *Node) Register(addr common.Address, payment *big.Int) (*matrix.Registration, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	reg, err := n.ledger.Register(addr, payment, uint64(n.now().Unix()))
	if err != nil {
		return nil, err
	}
	if err := n.finalize(reg.Undo, reg.Transfers, reg.Events); err != nil {
		return nil, err
	}
	n.logger.Info("user registered", "userId", reg.UserID, "referrerId", reg.ReferrerID)
	return reg, nil
}

// RegisterWithReferrer admits a new participant under the given referrer,
// falling back to the operator lineage when the referrer is unknown.
func (n *Node) RegisterWithReferrer(addr, referrer common.Address, payment *big.Int) (*matrix.Registration, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	reg, err := n.ledger.RegisterWithReferrer(addr, referrer, payment, uint64(n.now().Unix()))
	if err != nil {
		return nil, err
	}
	if err := n.finalize(reg.Undo, reg.Transfers, reg.Events); err != nil {
		return nil, err
	}
	n.logger.Info("user registered", "userId", reg.UserID, "referrerId", reg.ReferrerID)
	return reg, nil
}

// BuyLevel settles a level activation.
func (n *Node) BuyLevel(addr common.Address, level uint8, payment *big.Int) (*matrix.Settlement, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, err := n.ledger.BuyLevel(addr, level, payment, uint64(n.now().Unix()))
	if err != nil {
		return nil, err
	}
	if err := n.finalize(st.Undo, st.Transfers, st.Events); err != nil {
		return nil, err
	}
	n.logger.Info("level purchased",
		"userId", st.Buyer, "level", st.Level, "recipient", st.Recipient, "price", st.Price.String())
	return st, nil
}

// GetUser returns the registry snapshot for an address.
func (n *Node) GetUser(addr common.Address) (*matrix.UserSnapshot, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.GetUser(addr)
}

// GetUserLevels returns the per-level projection for an address.
func (n *Node) GetUserLevels(addr common.Address) (*matrix.UserLevels, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.GetUserLevels(addr)
}

// IsLevelFrozen reports the freeze state for (address, level).
func (n *Node) IsLevelFrozen(addr common.Address, level uint8) (bool, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.IsLevelFrozen(addr, level)
}

// PlaceInQueue returns the rotation position and queue length for a level.
func (n *Node) PlaceInQueue(addr common.Address, level uint8) (int, int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.PlaceInQueue(addr, level)
}

// GlobalStats returns members, transactions, and turnover.
func (n *Node) GlobalStats() matrix.GlobalStats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.Stats()
}

// Params returns the economic configuration.
func (n *Node) Params() matrix.Params {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.Params()
}

// Operator returns the genesis operator address.
func (n *Node) Operator() common.Address {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.Operator()
}
