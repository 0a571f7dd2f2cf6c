package matrix

import "math/big"

// splitPrice derives the referral tier amounts and the base reward for a
// level price. Each tier is floor(price * pct / 100); the base reward is the
// price minus the tiers, so it absorbs any rounding remainder and the four
// amounts always sum to the price exactly.
func splitPrice(price *big.Int) (base *big.Int, tiers [ReferralDepth]*big.Int) {
	remaining := new(big.Int).Set(price)
	for i, pct := range ReferralLinePercents {
		share := new(big.Int).Mul(price, new(big.Int).SetUint64(pct))
		share.Quo(share, big.NewInt(PercentDenominator))
		tiers[i] = share
		remaining.Sub(remaining, share)
	}
	return remaining, tiers
}

// distributeReferrals walks up to ReferralDepth ancestors of the buyer and
// routes each tier either to the eligible upline or to the operator fallback.
// A missed tier is recorded on the nearest ancestor farther up the chain with
// the level active; only when the chain holds no such ancestor does the
// skipped ancestor keep the record. Returned transfers and events are
// appended to the settlement in line order.
func (l *Ledger) distributeReferrals(buyer *User, level uint8, tiers [ReferralDepth]*big.Int, st *Settlement, undo *Changeset) {
	ancestorID := buyer.ReferrerID
	for line := 0; line < ReferralDepth; line++ {
		tier := tiers[line]
		if ancestorID == 0 {
			// Chain exhausted: the remaining tiers fall back to the operator
			// with nobody to debit for the miss.
			st.addTransfer(Transfer{
				To:     l.operator,
				UserID: OperatorID,
				Amount: new(big.Int).Set(tier),
				Kind:   PayoutKindMissed,
				Level:  level,
				Line:   uint8(line + 1),
			})
			continue
		}
		undo.recordUser(l, ancestorID)
		ancestor := l.users[ancestorID]
		records := l.levels[ancestorID]
		rec := &records[level-1]
		if rec.Active {
			ancestor.ReferralPayoutSum.Add(ancestor.ReferralPayoutSum, tier)
			rec.ReferralPayoutSum.Add(rec.ReferralPayoutSum, tier)
			st.addTransfer(Transfer{
				To:     ancestor.Address,
				UserID: ancestor.ID,
				Amount: new(big.Int).Set(tier),
				Kind:   PayoutKindReferral,
				Level:  level,
				Line:   uint8(line + 1),
			})
			st.Events = append(st.Events, newReferralPayoutEvent(ancestor.ID, buyer.ID, level, uint8(line+1), tier))
		} else {
			charged := l.nearestEligibleAbove(ancestorID, level, undo)
			if charged == nil {
				charged = ancestor
			}
			charged.MissedReferralPayoutSum.Add(charged.MissedReferralPayoutSum, tier)
			st.addTransfer(Transfer{
				To:     l.operator,
				UserID: OperatorID,
				Amount: new(big.Int).Set(tier),
				Kind:   PayoutKindMissed,
				Level:  level,
				Line:   uint8(line + 1),
			})
			st.Events = append(st.Events, newMissedPayoutEvent(ancestor.ID, buyer.ID, level, uint8(line+1), tier))
		}
		ancestorID = ancestor.ReferrerID
	}
}

// nearestEligibleAbove returns the closest ancestor above start with the level
// active, recording it in the undo journal, or nil when no such ancestor
// exists.
func (l *Ledger) nearestEligibleAbove(startID uint64, level uint8, undo *Changeset) *User {
	for id := l.users[startID].ReferrerID; id != 0; id = l.users[id].ReferrerID {
		records := l.levels[id]
		if records[level-1].Active {
			undo.recordUser(l, id)
			return l.users[id]
		}
	}
	return nil
}
