package matrix

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func addr(index byte) common.Address {
	var out common.Address
	out[19] = index
	return out
}

var operatorAddr = addr(1)

func testParams() Params {
	prices := make([]*big.Int, LevelCount)
	price := big.NewInt(1000)
	for i := range prices {
		prices[i] = new(big.Int).Set(price)
		price = new(big.Int).Mul(price, big.NewInt(2))
	}
	return Params{
		RegistrationPriceWei: big.NewInt(100),
		LevelPricesWei:       prices,
		MaxPayouts:           DefaultMaxPayouts,
	}
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger, err := NewLedger(testParams())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if _, err := ledger.Genesis(operatorAddr, 1000); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	return ledger
}

func mustRegister(t *testing.T, l *Ledger, user common.Address, referrer *common.Address) *Registration {
	t.Helper()
	var (
		reg *Registration
		err error
	)
	if referrer != nil {
		reg, err = l.RegisterWithReferrer(user, *referrer, big.NewInt(100), 2000)
	} else {
		reg, err = l.Register(user, big.NewInt(100), 2000)
	}
	if err != nil {
		t.Fatalf("register %s: %v", user.Hex(), err)
	}
	return reg
}

func mustBuy(t *testing.T, l *Ledger, user common.Address, level uint8) *Settlement {
	t.Helper()
	price, err := l.Params().LevelPrice(level)
	if err != nil {
		t.Fatalf("price for level %d: %v", level, err)
	}
	st, err := l.BuyLevel(user, level, price, 3000)
	if err != nil {
		t.Fatalf("buy level %d for %s: %v", level, user.Hex(), err)
	}
	return st
}

func TestGenesisOperator(t *testing.T) {
	ledger := newTestLedger(t)
	snapshot, err := ledger.GetUser(operatorAddr)
	if err != nil {
		t.Fatalf("get operator: %v", err)
	}
	if snapshot.ID != OperatorID {
		t.Fatalf("expected operator id %d, got %d", OperatorID, snapshot.ID)
	}
	if snapshot.ReferrerID != 0 {
		t.Fatalf("expected operator without referrer, got %d", snapshot.ReferrerID)
	}
	levels, err := ledger.GetUserLevels(operatorAddr)
	if err != nil {
		t.Fatalf("operator levels: %v", err)
	}
	for i, active := range levels.Active {
		if !active {
			t.Fatalf("expected operator level %d active at genesis", i+1)
		}
	}
	for level := uint8(1); level <= LevelCount; level++ {
		if _, total, _ := ledger.PlaceInQueue(operatorAddr, level); total != 0 {
			t.Fatalf("expected empty genesis queue for level %d, got %d", level, total)
		}
	}
}

func TestRegistrationIdsAreDense(t *testing.T) {
	ledger := newTestLedger(t)
	for i := byte(2); i <= 10; i++ {
		reg := mustRegister(t, ledger, addr(i), nil)
		if reg.UserID != uint64(i) {
			t.Fatalf("expected id %d, got %d", i, reg.UserID)
		}
	}
	if got := ledger.Stats().Members; got != 10 {
		t.Fatalf("expected 10 members, got %d", got)
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	ledger := newTestLedger(t)
	mustRegister(t, ledger, addr(2), nil)
	if _, err := ledger.Register(addr(2), big.NewInt(100), 2000); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegisterUnderpaymentFails(t *testing.T) {
	ledger := newTestLedger(t)
	if _, err := ledger.Register(addr(2), big.NewInt(99), 2000); !errors.Is(err, ErrWrongPayment) {
		t.Fatalf("expected ErrWrongPayment, got %v", err)
	}
	if ledger.IsRegistered(addr(2)) {
		t.Fatalf("failed registration must not create a user")
	}
	// Excess payment is accepted and forwarded with the rest.
	reg, err := ledger.Register(addr(2), big.NewInt(150), 2000)
	if err != nil {
		t.Fatalf("register with excess: %v", err)
	}
	if len(reg.Transfers) != 1 || reg.Transfers[0].Amount.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("expected full payment forwarded, got %+v", reg.Transfers)
	}
}

func TestRegistrationOnlyCountsMembers(t *testing.T) {
	ledger := newTestLedger(t)
	reg := mustRegister(t, ledger, addr(2), nil)
	if len(reg.Transfers) != 1 || reg.Transfers[0].Kind != PayoutKindRegistration || reg.Transfers[0].UserID != OperatorID {
		t.Fatalf("unexpected registration transfers %+v", reg.Transfers)
	}
	stats := ledger.Stats()
	if stats.Members != 2 {
		t.Fatalf("expected 2 members, got %d", stats.Members)
	}
	if stats.Transactions != 0 || stats.TurnoverWei.Sign() != 0 {
		t.Fatalf("registration must not touch turnover or transactions: %+v", stats)
	}
	mustBuy(t, ledger, addr(2), 1)
	stats = ledger.Stats()
	if stats.Transactions != 1 || stats.TurnoverWei.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("activation must count as the first transaction: %+v", stats)
	}
}

func TestRegisterWithUnknownReferrerFallsBack(t *testing.T) {
	ledger := newTestLedger(t)
	unknown := addr(200)
	reg, err := ledger.RegisterWithReferrer(addr(2), unknown, big.NewInt(100), 2000)
	if err != nil {
		t.Fatalf("register with unknown referrer: %v", err)
	}
	if reg.ReferrerID != 0 {
		t.Fatalf("expected operator-lineage fallback, got referrer %d", reg.ReferrerID)
	}
}

func TestRegisterTracksReferralCount(t *testing.T) {
	ledger := newTestLedger(t)
	mustRegister(t, ledger, addr(2), &operatorAddr)
	mustRegister(t, ledger, addr(3), &operatorAddr)
	snapshot, err := ledger.GetUser(operatorAddr)
	if err != nil {
		t.Fatalf("get operator: %v", err)
	}
	if snapshot.ReferralCount != 2 {
		t.Fatalf("expected 2 referrals, got %d", snapshot.ReferralCount)
	}
	child, err := ledger.GetUser(addr(2))
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if child.ReferrerID != OperatorID || child.Referrer != operatorAddr {
		t.Fatalf("unexpected referrer binding: id=%d addr=%s", child.ReferrerID, child.Referrer.Hex())
	}
}

func TestBuyLevelValidation(t *testing.T) {
	ledger := newTestLedger(t)
	if _, err := ledger.BuyLevel(addr(2), 1, big.NewInt(1000), 3000); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	mustRegister(t, ledger, addr(2), nil)
	if _, err := ledger.BuyLevel(addr(2), 0, big.NewInt(1000), 3000); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel for level 0, got %v", err)
	}
	if _, err := ledger.BuyLevel(addr(2), LevelCount+1, big.NewInt(1000), 3000); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel for level 17, got %v", err)
	}
	for level := uint8(2); level <= LevelCount; level++ {
		price, _ := ledger.Params().LevelPrice(level)
		if _, err := ledger.BuyLevel(addr(2), level, price, 3000); !errors.Is(err, ErrLevelOutOfOrder) {
			t.Fatalf("expected ErrLevelOutOfOrder for level %d, got %v", level, err)
		}
	}
	if _, err := ledger.BuyLevel(addr(2), 1, big.NewInt(999), 3000); !errors.Is(err, ErrWrongPayment) {
		t.Fatalf("expected ErrWrongPayment on underpayment, got %v", err)
	}
	if _, err := ledger.BuyLevel(addr(2), 1, big.NewInt(1001), 3000); !errors.Is(err, ErrWrongPayment) {
		t.Fatalf("expected ErrWrongPayment on overpayment, got %v", err)
	}
	if stats := ledger.Stats(); stats.Transactions != 0 {
		t.Fatalf("rejected calls must not count as transactions, got %d", stats.Transactions)
	}
}

func settlementTotal(st *Settlement) *big.Int {
	total := big.NewInt(0)
	for _, transfer := range st.Transfers {
		total.Add(total, transfer.Amount)
	}
	return total
}

func TestBuyLevelConservesValue(t *testing.T) {
	ledger := newTestLedger(t)
	// Chain depths 0 through 3.
	mustRegister(t, ledger, addr(2), nil) // no ancestors
	ref2 := addr(2)
	mustRegister(t, ledger, addr(3), &ref2) // 1 ancestor
	ref3 := addr(3)
	mustRegister(t, ledger, addr(4), &ref3) // 2 ancestors
	ref4 := addr(4)
	mustRegister(t, ledger, addr(5), &ref4) // 3 ancestors
	for _, buyer := range []byte{2, 3, 4, 5} {
		st := mustBuy(t, ledger, addr(buyer), 1)
		if settlementTotal(st).Cmp(st.Price) != 0 {
			t.Fatalf("buyer %d: distributed %s, price %s", buyer, settlementTotal(st), st.Price)
		}
	}
}

func TestFirstActivationPaysOperator(t *testing.T) {
	ledger := newTestLedger(t)
	mustRegister(t, ledger, addr(2), nil)
	st := mustBuy(t, ledger, addr(2), 1)
	if st.Recipient != OperatorID {
		t.Fatalf("expected operator as genesis recipient, got %d", st.Recipient)
	}
	if st.Transfers[0].Kind != PayoutKindBase || st.Transfers[0].Amount.Cmp(big.NewInt(740)) != 0 {
		t.Fatalf("unexpected base transfer %v", st.Transfers[0])
	}
	place, total, err := ledger.PlaceInQueue(addr(2), 1)
	if err != nil {
		t.Fatalf("place in queue: %v", err)
	}
	if place != 1 || total != 1 {
		t.Fatalf("expected buyer alone at queue head, got place=%d total=%d", place, total)
	}
}

func TestQueueRotationIsFIFO(t *testing.T) {
	ledger := newTestLedger(t)
	for i := byte(2); i <= 5; i++ {
		mustRegister(t, ledger, addr(i), nil)
	}
	recipients := make([]uint64, 0, 4)
	for i := byte(2); i <= 5; i++ {
		st := mustBuy(t, ledger, addr(i), 1)
		recipients = append(recipients, st.Recipient)
	}
	// First buy pays the operator (empty queue); user 2 is then selected
	// twice and freezes at the cap, so user 3 takes the next rotation.
	want := []uint64{OperatorID, 2, 2, 3}
	for i, got := range recipients {
		if got != want[i] {
			t.Fatalf("buy %d: recipient %d, want %d", i, got, want[i])
		}
	}
	// Rotation after the fourth buy: user 2 is frozen out; 4, 3, 5 remain.
	place4, total, _ := ledger.PlaceInQueue(addr(4), 1)
	place3, _, _ := ledger.PlaceInQueue(addr(3), 1)
	place5, _, _ := ledger.PlaceInQueue(addr(5), 1)
	place2, _, _ := ledger.PlaceInQueue(addr(2), 1)
	if total != 3 || place4 != 1 || place3 != 2 || place5 != 3 || place2 != 0 {
		t.Fatalf("unexpected rotation order: total=%d places=[2:%d 3:%d 4:%d 5:%d]",
			total, place2, place3, place4, place5)
	}
}

func TestReferralChainPercentages(t *testing.T) {
	ledger := newTestLedger(t)
	// owner <- user1 <- user2, all with level 1 active.
	mustRegister(t, ledger, addr(2), &operatorAddr) // user1
	ref1 := addr(2)
	mustRegister(t, ledger, addr(3), &ref1) // user2
	mustBuy(t, ledger, addr(2), 1)
	mustBuy(t, ledger, addr(3), 1)

	ref2 := addr(3)
	mustRegister(t, ledger, addr(5), &ref2) // buyer under user2
	st := mustBuy(t, ledger, addr(5), 1)

	wantByLine := map[uint8]struct {
		userID uint64
		amount int64
	}{
		1: {3, 130}, // user2: 13% of 1000
		2: {2, 80},  // user1: 8%
		3: {1, 50},  // owner: 5%
	}
	seen := 0
	for _, transfer := range st.Transfers {
		if transfer.Kind != PayoutKindReferral {
			continue
		}
		want := wantByLine[transfer.Line]
		if transfer.UserID != want.userID || transfer.Amount.Cmp(big.NewInt(want.amount)) != 0 {
			t.Fatalf("line %d: got user %d amount %s, want user %d amount %d",
				transfer.Line, transfer.UserID, transfer.Amount, want.userID, want.amount)
		}
		seen++
	}
	if seen != 3 {
		t.Fatalf("expected 3 referral transfers, got %d", seen)
	}

	user2, _ := ledger.GetUser(addr(3))
	if user2.ReferralPayoutSum.Cmp(big.NewInt(130)) != 0 {
		t.Fatalf("expected user2 referral sum 130, got %s", user2.ReferralPayoutSum)
	}
}

func TestIneligibleReferrerRedirectsToOperator(t *testing.T) {
	ledger := newTestLedger(t)
	mustRegister(t, ledger, addr(2), nil) // rootless referrer without level 1
	ref := addr(2)
	mustRegister(t, ledger, addr(3), &ref)
	st := mustBuy(t, ledger, addr(3), 1)

	var missedLine1 *Transfer
	for i := range st.Transfers {
		transfer := &st.Transfers[i]
		if transfer.Kind == PayoutKindMissed && transfer.Line == 1 {
			missedLine1 = transfer
		}
	}
	if missedLine1 == nil {
		t.Fatalf("expected missed transfer for line 1")
	}
	if missedLine1.UserID != OperatorID || missedLine1.Amount.Cmp(big.NewInt(130)) != 0 {
		t.Fatalf("unexpected missed transfer %+v", missedLine1)
	}

	referrer, _ := ledger.GetUser(addr(2))
	if referrer.ReferralPayoutSum.Sign() != 0 {
		t.Fatalf("ineligible referrer must not earn, got %s", referrer.ReferralPayoutSum)
	}
	// No eligible ancestor exists above, so the skipped referrer keeps the
	// missed record.
	if referrer.MissedReferralPayoutSum.Cmp(big.NewInt(130)) != 0 {
		t.Fatalf("expected missed sum 130, got %s", referrer.MissedReferralPayoutSum)
	}
	if settlementTotal(st).Cmp(st.Price) != 0 {
		t.Fatalf("conservation violated: %s != %s", settlementTotal(st), st.Price)
	}
}

func TestMissedTierCreditsNearestEligibleAncestor(t *testing.T) {
	ledger := newTestLedger(t)
	// owner <- user1 (level 1 active) <- user2 (no level 1) <- buyer.
	mustRegister(t, ledger, addr(2), &operatorAddr) // user1
	mustBuy(t, ledger, addr(2), 1)
	ref1 := addr(2)
	mustRegister(t, ledger, addr(3), &ref1) // user2, never buys
	ref2 := addr(3)
	mustRegister(t, ledger, addr(4), &ref2)
	st := mustBuy(t, ledger, addr(4), 1)

	skipped, _ := ledger.GetUser(addr(3))
	if skipped.MissedReferralPayoutSum.Sign() != 0 {
		t.Fatalf("skipped ancestor must not keep the record, got %s", skipped.MissedReferralPayoutSum)
	}
	eligible, _ := ledger.GetUser(addr(2))
	if eligible.MissedReferralPayoutSum.Cmp(big.NewInt(130)) != 0 {
		t.Fatalf("expected missed 130 on nearest eligible ancestor, got %s", eligible.MissedReferralPayoutSum)
	}
	// Line 2 still pays user1 directly; the missed tier itself routes to the
	// operator.
	if eligible.ReferralPayoutSum.Cmp(big.NewInt(80)) != 0 {
		t.Fatalf("expected line 2 payout 80, got %s", eligible.ReferralPayoutSum)
	}
	for _, transfer := range st.Transfers {
		if transfer.Kind == PayoutKindMissed && transfer.UserID != OperatorID {
			t.Fatalf("missed tier must route to the operator, got user %d", transfer.UserID)
		}
	}
	if settlementTotal(st).Cmp(st.Price) != 0 {
		t.Fatalf("conservation violated: %s != %s", settlementTotal(st), st.Price)
	}
}

func TestExhaustedChainFallsBackToOperator(t *testing.T) {
	ledger := newTestLedger(t)
	mustRegister(t, ledger, addr(2), nil) // no lineage at all
	st := mustBuy(t, ledger, addr(2), 1)
	missed := 0
	for _, transfer := range st.Transfers {
		if transfer.Kind == PayoutKindMissed {
			if transfer.UserID != OperatorID {
				t.Fatalf("missed tier must route to operator, got %d", transfer.UserID)
			}
			missed++
		}
	}
	if missed != ReferralDepth {
		t.Fatalf("expected %d fallback tiers, got %d", ReferralDepth, missed)
	}
}

func TestPayoutsOnlyGrowThroughSettlement(t *testing.T) {
	ledger := newTestLedger(t)
	mustRegister(t, ledger, addr(2), nil)
	mustBuy(t, ledger, addr(2), 1)
	mustRegister(t, ledger, addr(3), nil)
	mustBuy(t, ledger, addr(3), 1)

	levels, _ := ledger.GetUserLevels(addr(2))
	if levels.Payouts[0] != 1 {
		t.Fatalf("expected one payout for first rotator, got %d", levels.Payouts[0])
	}
	levels3, _ := ledger.GetUserLevels(addr(3))
	if levels3.Payouts[0] != 0 {
		t.Fatalf("expected no payouts for tail entry, got %d", levels3.Payouts[0])
	}
}

func TestRevertRestoresState(t *testing.T) {
	ledger := newTestLedger(t)
	mustRegister(t, ledger, addr(2), &operatorAddr)
	mustBuy(t, ledger, addr(2), 1)
	before := ledger.Stats()
	beforeUser, _ := ledger.GetUser(addr(2))

	ref := addr(2)
	reg := mustRegister(t, ledger, addr(3), &ref)
	ledger.Revert(reg.Undo)
	if ledger.IsRegistered(addr(3)) {
		t.Fatalf("reverted registration must remove the user")
	}
	afterUser, _ := ledger.GetUser(addr(2))
	if afterUser.ReferralCount != beforeUser.ReferralCount {
		t.Fatalf("referral count not restored: %d != %d", afterUser.ReferralCount, beforeUser.ReferralCount)
	}
	if got := ledger.Stats(); got.Members != before.Members || got.TurnoverWei.Cmp(before.TurnoverWei) != 0 {
		t.Fatalf("stats not restored: %+v vs %+v", got, before)
	}

	mustRegister(t, ledger, addr(4), nil)
	st := mustBuy(t, ledger, addr(4), 1)
	ledger.Revert(st.Undo)
	place, total, _ := ledger.PlaceInQueue(addr(4), 1)
	if place != 0 {
		t.Fatalf("reverted buy must leave the queue untouched, got place %d", place)
	}
	if total != 1 {
		t.Fatalf("expected original queue length 1, got %d", total)
	}
	levels, _ := ledger.GetUserLevels(addr(4))
	if levels.Active[0] {
		t.Fatalf("reverted buy must deactivate the level")
	}
}

func TestStateExportImportRoundTrip(t *testing.T) {
	ledger := newTestLedger(t)
	mustRegister(t, ledger, addr(2), &operatorAddr)
	mustBuy(t, ledger, addr(2), 1)
	mustRegister(t, ledger, addr(3), nil)
	mustBuy(t, ledger, addr(3), 1)

	restored, err := NewLedger(testParams())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	restored.ImportMeta(ledger.ExportMeta())
	restored.ImportStats(ledger.ExportStats())
	for id := uint64(1); id <= 3; id++ {
		state, err := ledger.ExportUser(id)
		if err != nil {
			t.Fatalf("export user %d: %v", id, err)
		}
		if err := restored.ImportUser(state); err != nil {
			t.Fatalf("import user %d: %v", id, err)
		}
	}
	for level := uint8(1); level <= LevelCount; level++ {
		order, err := ledger.ExportQueue(level)
		if err != nil {
			t.Fatalf("export queue %d: %v", level, err)
		}
		if err := restored.ImportQueue(level, order); err != nil {
			t.Fatalf("import queue %d: %v", level, err)
		}
	}

	wantStats := ledger.Stats()
	gotStats := restored.Stats()
	if gotStats.Members != wantStats.Members || gotStats.TurnoverWei.Cmp(wantStats.TurnoverWei) != 0 {
		t.Fatalf("stats mismatch after round trip: %+v vs %+v", gotStats, wantStats)
	}
	place, total, err := restored.PlaceInQueue(addr(2), 1)
	if err != nil {
		t.Fatalf("place in queue after restore: %v", err)
	}
	wantPlace, wantTotal, _ := ledger.PlaceInQueue(addr(2), 1)
	if place != wantPlace || total != wantTotal {
		t.Fatalf("queue mismatch after round trip: %d/%d vs %d/%d", place, total, wantPlace, wantTotal)
	}
	user, err := restored.GetUser(addr(2))
	if err != nil {
		t.Fatalf("get user after restore: %v", err)
	}
	if user.ID != 2 || user.ReferrerID != OperatorID {
		t.Fatalf("unexpected restored user %+v", user)
	}
}
