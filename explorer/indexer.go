package explorer

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"matrixchain/core/events"
)

// Registration is the indexed row for a completed registration.
type Registration struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	UserID     uint64 `gorm:"uniqueIndex"`
	ReferrerID uint64 `gorm:"index"`
	Address    string `gorm:"index"`
	CreatedAt  time.Time
}

// Purchase is the indexed row for a level activation.
type Purchase struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	UserID    uint64 `gorm:"index"`
	Level     uint8  `gorm:"index"`
	ValueWei  string
	CreatedAt time.Time
}

// Payout is the indexed row for a base reward routed off the rotation queue.
type Payout struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	UserID    uint64 `gorm:"index"`
	Level     uint8  `gorm:"index"`
	RewardWei string
	CreatedAt time.Time
}

// ReferralPayout is the indexed row for a referral tier paid to an upline.
type ReferralPayout struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	ReferrerID uint64 `gorm:"index"`
	ReferralID uint64 `gorm:"index"`
	Level      uint8
	Line       uint8
	RewardWei  string
	CreatedAt  time.Time
}

// MissedPayout is the indexed row for a referral tier redirected to the
// operator because the upline lacked the purchased level.
type MissedPayout struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	SkippedID  uint64 `gorm:"index"`
	ReferralID uint64 `gorm:"index"`
	Level      uint8
	Line       uint8
	RewardWei  string
	CreatedAt  time.Time
}

// Indexer persists ledger events as queryable rows. It satisfies the emitter
// interface so it can be attached directly to a node.
type Indexer struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open connects to the index database. DSNs starting with "postgres://" (or
// containing "host=") select the Postgres driver; anything else is treated as
// an embedded sqlite file path.
func Open(dsn string, log *slog.Logger) (*Indexer, error) {
	if log == nil {
		log = slog.Default()
	}
	dialector := dialectorFor(dsn)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("explorer: open index database: %w", err)
	}
	if err := db.AutoMigrate(&Registration{}, &Purchase{}, &Payout{}, &ReferralPayout{}, &MissedPayout{}); err != nil {
		return nil, fmt.Errorf("explorer: migrate index schema: %w", err)
	}
	return &Indexer{db: db, log: log}, nil
}

func dialectorFor(dsn string) gorm.Dialector {
	trimmed := strings.TrimSpace(dsn)
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") || strings.Contains(trimmed, "host=") {
		return postgres.Open(trimmed)
	}
	return sqlite.Open(trimmed)
}

// Emit indexes a single ledger event. Indexing is best effort: a failed insert
// is logged and dropped rather than blocking settlement.
func (ix *Indexer) Emit(evt events.Event) {
	var err error
	switch e := evt.(type) {
	case events.MatrixUserRegistered:
		err = ix.db.Create(&Registration{
			UserID:     e.UserID,
			ReferrerID: e.ReferrerID,
			Address:    e.Address.Hex(),
		}).Error
	case events.MatrixLevelPurchased:
		err = ix.db.Create(&Purchase{
			UserID:   e.UserID,
			Level:    e.Level,
			ValueWei: weiString(e.Value),
		}).Error
	case events.MatrixLevelPayout:
		err = ix.db.Create(&Payout{
			UserID:    e.UserID,
			Level:     e.Level,
			RewardWei: weiString(e.Reward),
		}).Error
	case events.MatrixReferralPayout:
		err = ix.db.Create(&ReferralPayout{
			ReferrerID: e.ReferrerID,
			ReferralID: e.ReferralID,
			Level:      e.Level,
			Line:       e.Line,
			RewardWei:  weiString(e.Reward),
		}).Error
	case events.MatrixMissedPayout:
		err = ix.db.Create(&MissedPayout{
			SkippedID:  e.SkippedID,
			ReferralID: e.ReferralID,
			Level:      e.Level,
			Line:       e.Line,
			RewardWei:  weiString(e.Reward),
		}).Error
	default:
		return
	}
	if err != nil {
		ix.log.Error("explorer index insert failed", "event", evt.EventType(), "error", err)
	}
}

// UserPayouts returns the indexed base payouts for a user, newest first.
func (ix *Indexer) UserPayouts(userID uint64, limit int) ([]Payout, error) {
	var rows []Payout
	query := ix.db.Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ReferralsOf returns the indexed registrations attributed to a referrer.
func (ix *Indexer) ReferralsOf(referrerID uint64) ([]Registration, error) {
	var rows []Registration
	if err := ix.db.Where("referrer_id = ?", referrerID).Order("user_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Counts returns the total rows per indexed table.
func (ix *Indexer) Counts() (map[string]int64, error) {
	counts := make(map[string]int64, 5)
	for name, model := range map[string]interface{}{
		"registrations":   &Registration{},
		"purchases":       &Purchase{},
		"payouts":         &Payout{},
		"referralPayouts": &ReferralPayout{},
		"missedPayouts":   &MissedPayout{},
	} {
		var n int64
		if err := ix.db.Model(model).Count(&n).Error; err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, nil
}

// Close releases the underlying connection pool.
func (ix *Indexer) Close() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
