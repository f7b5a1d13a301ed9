// Package state persists what has already been imported and which
// source accounts map to which budget accounts. Everything lives in a
// single transactional key-value file so a crash can never leave the
// two halves disagreeing.
package state

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"github.com/lhyang/ynab-butler/pkg/api"
)

var (
	importsBucket  = []byte("imports")
	mappingsBucket = []byte("mappings")
)

// EmailIdentity builds the dedup key for one mail attachment. The UID
// component lets UID-level exclusion work with a prefix scan.
func EmailIdentity(mailbox string, uid uint32, attachment string) string {
	return fmt.Sprintf("email:%s:%d:%s", mailbox, uid, attachment)
}

func emailUIDPrefix(mailbox string, uid uint32) []byte {
	return []byte(fmt.Sprintf("email:%s:%d:", mailbox, uid))
}

// Store is the on-disk import ledger. Safe for use from a single
// process; bolt takes a file lock against concurrent runs.
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

// Open opens or creates the store at path, creating parent directories
// as needed. A file bolt cannot read is reported as corruption, which
// callers treat as fatal rather than silently re-importing everything.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %v: %w", path, err, api.ErrStateCorrupt)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{importsBucket, mappingsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing %s: %v: %w", path, err, api.ErrStateCorrupt)
	}

	return &Store{db: db, logger: logger.With("component", "state")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// IsProcessed reports whether the item identity was already imported
// and acknowledged in a previous run.
func (s *Store) IsProcessed(identity string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(importsBucket).Get([]byte(identity)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reading import ledger: %w", err)
	}
	return found, nil
}

// Record marks identities as imported. Callers invoke this only after
// the upload has been acknowledged; recording first would lose
// transactions on a crash between the two steps.
func (s *Store) Record(identities ...string) error {
	stamp := []byte(time.Now().UTC().Format(time.RFC3339))
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(importsBucket)
		for _, id := range identities {
			if err := b.Put([]byte(id), stamp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording imports: %w", err)
	}
	return nil
}

// HasUIDSuccess reports whether any attachment of the given message was
// imported before. The fetcher uses it to skip whole messages without
// downloading their bodies.
func (s *Store) HasUIDSuccess(mailbox string, uid uint32) (bool, error) {
	prefix := emailUIDPrefix(mailbox, uid)
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(importsBucket).Cursor()
		k, _ := c.Seek(prefix)
		found = k != nil && bytes.HasPrefix(k, prefix)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("scanning import ledger: %w", err)
	}
	return found, nil
}

// Mapping returns the stored budget account for a source account key.
func (s *Store) Mapping(key string) (string, bool, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(mappingsBucket).Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("reading mappings: %w", err)
	}
	return string(value), value != nil, nil
}

// SetMapping persists a source-account to budget-account decision.
func (s *Store) SetMapping(key, accountID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(mappingsBucket).Put([]byte(key), []byte(accountID))
	})
	if err != nil {
		return fmt.Errorf("storing mapping %s: %w", key, err)
	}
	return nil
}
