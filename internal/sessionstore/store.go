// Package sessionstore persists the single piece of state a relaycore demo
// process carries across restarts: the client id it was last promoted to
// Connected under, so InitProtocol can arm the leave-wait timer for a
// still-outstanding prior Leave immediately on startup.
package sessionstore

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"relaycore/internal/connstate"
	"relaycore/internal/infra/storage"
)

var bucketName = []byte("session")

const lastClientIDKey = "last_client_id"

const dbOpenTimeout = 2 * time.Second

// snapshotSuffix names the plaintext sidecar written next to the bbolt file
// on every SaveClientID ("<path>.last_client_id"). It duplicates the same
// value already held in the bucket, but in a form an operator can read
// without a bbolt viewer — handy for a quick "what client did we last see"
// check on a process that's down.
const snapshotSuffix = ".last_client_id"

// Store is a bbolt-backed holder for the last promoted client id.
type Store struct {
	db           *bbolt.DB
	snapshotPath string
}

// Open creates (if needed) and opens the bbolt file at path.
func Open(path string) (*Store, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, fmt.Errorf("sessionstore: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sessionstore: create bucket: %w", err)
	}

	return &Store{db: db, snapshotPath: path + snapshotSuffix}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// LastClientID returns the client id persisted by the most recent
// SaveClientID call, or "" if none has ever been saved.
func (s *Store) LastClientID() (connstate.ClientID, error) {
	var id connstate.ClientID
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(lastClientIDKey))
		id = connstate.ClientID(v)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sessionstore: read last client id: %w", err)
	}
	return id, nil
}

// SaveClientID persists id as the last promoted client. Call this from a
// connstate.Listener on every Connected transition.
//
// Besides the bbolt bucket, it atomically rewrites a plaintext sidecar file
// carrying the same id. The sidecar is not read back by this package — it
// exists purely so the value survives in a form readable without opening the
// database. The bbolt write always lands first, so a sidecar failure never
// leaves the bucket out of sync with what the caller thinks was saved.
func (s *Store) SaveClientID(id connstate.ClientID) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(lastClientIDKey), []byte(id))
	})
	if err != nil {
		return fmt.Errorf("sessionstore: save last client id: %w", err)
	}

	if s.snapshotPath != "" {
		if errSnap := storage.AtomicWriteFile(s.snapshotPath, []byte(id)); errSnap != nil {
			return fmt.Errorf("sessionstore: write client id snapshot: %w", errSnap)
		}
	}
	return nil
}

// SnapshotPath returns the sidecar file path SaveClientID writes to.
func (s *Store) SnapshotPath() string {
	return s.snapshotPath
}
