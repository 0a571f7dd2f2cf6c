package explorer

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"matrixchain/core"
	"matrixchain/core/events"
	"matrixchain/native/matrix"
	"matrixchain/storage"
)

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestIndexerPersistsTypedEvents(t *testing.T) {
	ix := newTestIndexer(t)

	ix.Emit(events.MatrixUserRegistered{
		UserID:     2,
		ReferrerID: 1,
		Address:    common.HexToAddress("0xaa"),
	})
	ix.Emit(events.MatrixLevelPurchased{UserID: 2, Level: 1, Value: big.NewInt(1000)})
	ix.Emit(events.MatrixLevelPayout{UserID: 1, Level: 1, Reward: big.NewInt(740)})
	ix.Emit(events.MatrixReferralPayout{ReferrerID: 1, ReferralID: 2, Level: 1, Line: 1, Reward: big.NewInt(130)})
	ix.Emit(events.MatrixMissedPayout{SkippedID: 3, ReferralID: 2, Level: 1, Line: 2, Reward: big.NewInt(80)})

	counts, err := ix.Counts()
	require.NoError(t, err)
	for table, want := range map[string]int64{
		"registrations":   1,
		"purchases":       1,
		"payouts":         1,
		"referralPayouts": 1,
		"missedPayouts":   1,
	} {
		require.Equal(t, want, counts[table], table)
	}

	referrals, err := ix.ReferralsOf(1)
	require.NoError(t, err)
	require.Len(t, referrals, 1)
	require.Equal(t, uint64(2), referrals[0].UserID)

	payouts, err := ix.UserPayouts(1, 10)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	require.Equal(t, "740", payouts[0].RewardWei)
}

func TestArchiveAppendsAndReplaysInOrder(t *testing.T) {
	archive, err := OpenArchive(filepath.Join(t.TempDir(), "archive.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })

	archive.Emit(events.MatrixUserRegistered{UserID: 2, ReferrerID: 1, Address: common.HexToAddress("0xaa")})
	archive.Emit(events.MatrixLevelPurchased{UserID: 2, Level: 1, Value: big.NewInt(1000)})

	count, err := archive.Len()
	require.NoError(t, err)
	require.Equal(t, 2, count)

	var seen []ArchiveEntry
	require.NoError(t, archive.Replay(func(entry ArchiveEntry) bool {
		seen = append(seen, entry)
		return true
	}))
	require.Len(t, seen, 2)
	require.Equal(t, uint64(1), seen[0].Sequence)
	require.Equal(t, events.TypeMatrixUserRegistered, seen[0].Type)
	require.Equal(t, "2", seen[0].Attributes["userId"])
	require.Equal(t, uint64(2), seen[1].Sequence)
	require.Equal(t, events.TypeMatrixLevelPurchased, seen[1].Type)
}

func TestIndexerAttachedToNode(t *testing.T) {
	ix := newTestIndexer(t)
	archive, err := OpenArchive(filepath.Join(t.TempDir(), "archive.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })

	params := matrix.DefaultParams()
	operator := common.HexToAddress("0x01")
	node, err := core.NewNode(storage.NewMemDB(), params, operator,
		core.WithEmitter(events.Multi{ix, archive}))
	require.NoError(t, err)

	user := common.HexToAddress("0xaa")
	_, err = node.RegisterWithReferrer(user, operator, params.RegistrationPriceWei)
	require.NoError(t, err)
	price, err := params.LevelPrice(1)
	require.NoError(t, err)
	_, err = node.BuyLevel(user, 1, price)
	require.NoError(t, err)

	counts, err := ix.Counts()
	require.NoError(t, err)
	// Genesis indexes the operator registration alongside the user's.
	require.Equal(t, int64(2), counts["registrations"])
	require.Equal(t, int64(1), counts["purchases"])
	// Empty rotation queue routes the base reward to the operator, and the
	// operator upline takes every referral tier.
	require.Equal(t, int64(1), counts["payouts"])
	require.Equal(t, int64(1), counts["referralPayouts"])

	archived, err := archive.Len()
	require.NoError(t, err)
	require.True(t, archived >= 4, "expected at least four archived events, got %d", archived)
}
