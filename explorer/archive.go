package explorer

import (
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"matrixchain/core/events"
	"matrixchain/core/types"
)

var bucketArchive = []byte("events")

// ArchiveEntry is the persisted form of one archived event.
type ArchiveEntry struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	ArchivedAt time.Time         `json:"archivedAt"`
}

// Archive appends every ledger event to an append-only BoltDB bucket keyed by
// sequence number, giving replay and audit a durable source independent of the
// queryable index.
type Archive struct {
	db  *bolt.DB
	log *slog.Logger
}

// OpenArchive initialises the BoltDB-backed event archive.
func OpenArchive(path string, log *slog.Logger) (*Archive, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketArchive)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Archive{db: db, log: log}, nil
}

type payloadEvent interface {
	Event() *types.Event
}

// Emit appends the generic payload of a ledger event. Events that carry no
// generic payload are skipped.
func (a *Archive) Emit(evt events.Event) {
	payload, ok := evt.(payloadEvent)
	if !ok {
		return
	}
	generic := payload.Event()
	if generic == nil {
		return
	}
	err := a.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketArchive)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		entry := ArchiveEntry{
			Sequence:   seq,
			Type:       generic.Type,
			Attributes: generic.Attributes,
			ArchivedAt: time.Now().UTC(),
		}
		encoded, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(seq), encoded)
	})
	if err != nil {
		a.log.Error("event archive append failed", "event", evt.EventType(), "error", err)
	}
}

// Replay streams archived entries in sequence order. The callback returning
// false stops the walk.
func (a *Archive) Replay(fn func(ArchiveEntry) bool) error {
	return a.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketArchive).Cursor()
		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			var entry ArchiveEntry
			if err := json.Unmarshal(value, &entry); err != nil {
				return err
			}
			if !fn(entry) {
				return nil
			}
		}
		return nil
	})
}

// Len reports the number of archived events.
func (a *Archive) Len() (int, error) {
	count := 0
	err := a.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketArchive).Stats().KeyN
		return nil
	})
	return count, err
}

// Close releases the underlying database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
