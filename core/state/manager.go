package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"matrixchain/native/matrix"
	"matrixchain/storage"
)

// Key layout. User ids are dense starting at 1, so a full load walks
// 1..NextID-1 without needing store iteration.
const (
	metaKey  = "matrix/meta"
	statsKey = "matrix/stats"
)

func userKey(id uint64) []byte {
	return []byte(fmt.Sprintf("matrix/user/%d", id))
}

func queueKey(level uint8) []byte {
	return []byte(fmt.Sprintf("matrix/queue/%d", level))
}

// Manager persists ledger state to the key-value store as JSON payloads, one
// key per user, per queue, plus the stats and meta singletons.
type Manager struct {
	db storage.Database
}

// NewManager wraps the database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) putJSON(key []byte, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, payload)
}

func (m *Manager) getJSON(key []byte, out interface{}) error {
	payload, err := m.db.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, out)
}

// Load restores a previously persisted ledger. The boolean reports whether a
// stored state existed; false means the node must run genesis.
func (m *Manager) Load(ledger *matrix.Ledger) (bool, error) {
	var meta matrix.MetaState
	if err := m.getJSON([]byte(metaKey), &meta); err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load meta: %w", err)
	}
	ledger.ImportMeta(meta)

	var stats matrix.StatsState
	if err := m.getJSON([]byte(statsKey), &stats); err != nil {
		return false, fmt.Errorf("load stats: %w", err)
	}
	ledger.ImportStats(stats)

	for id := uint64(1); id < meta.NextID; id++ {
		var user matrix.UserState
		if err := m.getJSON(userKey(id), &user); err != nil {
			return false, fmt.Errorf("load user %d: %w", id, err)
		}
		if err := ledger.ImportUser(&user); err != nil {
			return false, err
		}
	}
	for level := uint8(1); level <= matrix.LevelCount; level++ {
		var order []uint64
		if err := m.getJSON(queueKey(level), &order); err != nil {
			if errors.Is(err, storage.ErrKeyNotFound) {
				continue
			}
			return false, fmt.Errorf("load queue %d: %w", level, err)
		}
		if err := ledger.ImportQueue(level, order); err != nil {
			return false, err
		}
	}
	return true, nil
}

// CommitAll persists the complete ledger. Used after genesis.
func (m *Manager) CommitAll(ledger *matrix.Ledger) error {
	meta := ledger.ExportMeta()
	for id := uint64(1); id < meta.NextID; id++ {
		user, err := ledger.ExportUser(id)
		if err != nil {
			return err
		}
		if err := m.putJSON(userKey(id), user); err != nil {
			return fmt.Errorf("persist user %d: %w", id, err)
		}
	}
	for level := uint8(1); level <= matrix.LevelCount; level++ {
		order, err := ledger.ExportQueue(level)
		if err != nil {
			return err
		}
		if err := m.putJSON(queueKey(level), order); err != nil {
			return fmt.Errorf("persist queue %d: %w", level, err)
		}
	}
	if err := m.putJSON([]byte(statsKey), ledger.ExportStats()); err != nil {
		return fmt.Errorf("persist stats: %w", err)
	}
	if err := m.putJSON([]byte(metaKey), meta); err != nil {
		return fmt.Errorf("persist meta: %w", err)
	}
	return nil
}

// Commit persists only the records a transaction touched.
func (m *Manager) Commit(ledger *matrix.Ledger, cs *matrix.Changeset) error {
	if cs == nil {
		return m.CommitAll(ledger)
	}
	for _, id := range cs.TouchedUsers() {
		user, err := ledger.ExportUser(id)
		if err != nil {
			return err
		}
		if err := m.putJSON(userKey(id), user); err != nil {
			return fmt.Errorf("persist user %d: %w", id, err)
		}
	}
	for _, level := range cs.TouchedQueues() {
		order, err := ledger.ExportQueue(level)
		if err != nil {
			return err
		}
		if err := m.putJSON(queueKey(level), order); err != nil {
			return fmt.Errorf("persist queue %d: %w", level, err)
		}
	}
	if err := m.putJSON([]byte(statsKey), ledger.ExportStats()); err != nil {
		return fmt.Errorf("persist stats: %w", err)
	}
	if err := m.putJSON([]byte(metaKey), ledger.ExportMeta()); err != nil {
		return fmt.Errorf("persist meta: %w", err)
	}
	return nil
}
