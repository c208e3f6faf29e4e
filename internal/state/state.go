package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.sheet-tree/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket = []byte("app")
	saveKey   = []byte("last_save")
)

func settingsBucket(docID string) []byte {
	return []byte("doc:" + docID + ":settings")
}

func metaBucket(docID string) []byte {
	return []byte("doc:" + docID + ":meta")
}

// SaveRecord describes the most recent settings write for a document.
type SaveRecord struct {
	Key     string    `json:"key"`
	Size    int       `json:"size"`
	SavedAt time.Time `json:"saved_at"`
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(appBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Settings returns the key/value settings store scoped to one document.
func (s *State) Settings(docID string) *Settings {
	return &Settings{db: s.db, docID: docID}
}

// Documents lists the ids of documents that have stored settings.
func (s *State) Documents() ([]string, error) {
	var docs []string

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			rest, ok := strings.CutPrefix(string(name), "doc:")
			if !ok {
				return nil
			}

			if id, ok := strings.CutSuffix(rest, ":settings"); ok {
				docs = append(docs, id)
			}

			return nil
		})
	})

	return docs, err
}

// Settings is a document-scoped key/value store. Values are opaque
// text blobs.
type Settings struct {
	db    *bolt.DB
	docID string
}

// Get returns the value stored under key. found is false when the key
// is absent.
func (st *Settings) Get(_ context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)

	err := st.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(settingsBucket(st.docID))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}

		value = string(v)
		found = true

		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("reading setting %q: %w", key, err)
	}

	return value, found, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (st *Settings) Delete(_ context.Context, key string) error {
	err := st.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(settingsBucket(st.docID))
		if b == nil {
			return nil
		}

		return b.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("deleting setting %q: %w", key, err)
	}

	return nil
}

// Add stores value under key and records the write in the document's
// metadata bucket.
func (st *Settings) Add(_ context.Context, key, value string) error {
	err := st.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(settingsBucket(st.docID))
		if err != nil {
			return err
		}

		if err := b.Put([]byte(key), []byte(value)); err != nil {
			return err
		}

		meta, err := tx.CreateBucketIfNotExists(metaBucket(st.docID))
		if err != nil {
			return err
		}

		rec, err := json.Marshal(SaveRecord{Key: key, Size: len(value), SavedAt: time.Now().UTC()})
		if err != nil {
			return err
		}

		return meta.Put(saveKey, rec)
	})
	if err != nil {
		return fmt.Errorf("adding setting %q: %w", key, err)
	}

	return nil
}

// LastSave returns the most recent write record, or nil if the document
// was never saved.
func (st *Settings) LastSave() (*SaveRecord, error) {
	var rec *SaveRecord

	err := st.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket(st.docID))
		if b == nil {
			return nil
		}

		v := b.Get(saveKey)
		if v == nil {
			return nil
		}

		rec = &SaveRecord{}

		return json.Unmarshal(v, rec)
	})

	return rec, err
}

// DefaultPath returns ~/.sheet-tree/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".sheet-tree", "state.db"), nil
}
