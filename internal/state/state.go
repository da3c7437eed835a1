package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/cloudsync/internal/filesync"
	"github.com/mitchellh/go-homedir"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.cloudsync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

// schemaVersion is bumped whenever Record changes incompatibly.
const schemaVersion = "1"

var (
	appBucket   = []byte("app")
	schemaKey   = []byte("schema")
	lastSyncKey = []byte("last_sync")
)

func storeMetaBucket(storeID string) []byte {
	return []byte("store:" + storeID + ":meta")
}

func storeRecordsBucket(storeID string) []byte {
	return []byte("store:" + storeID + ":records")
}

// Record is the last committed state of one local file. MTime is the
// on-disk modification time observed at commit and is what later scans
// compare against to detect local edits.
type Record struct {
	Filename      string             `json:"filename"`
	State         filesync.FileState `json:"state"`
	UpdatedAt     time.Time          `json:"updated_at"`
	MTime         int64              `json:"mtime"`
	Size          int64              `json:"size"`
	RemoteLocator string             `json:"remote_locator,omitempty"`
	Metadata      map[string]string  `json:"metadata,omitempty"`
}

// SyncInfo is the bookkeeping kept about the last completed pass.
type SyncInfo struct {
	At      time.Time            `json:"at"`
	Full    bool                 `json:"full"`
	Service filesync.ServiceType `json:"service"`
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// Load opens the state database at ~/.cloudsync/state.db, creating it
// if it does not exist.
func Load() (*State, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// DefaultPath returns ~/.cloudsync/state.db.
func DefaultPath() (string, error) {
	dir, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".cloudsync", "state.db"), nil
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
		b, err := tx.CreateBucketIfNotExists(appBucket)
		if err != nil {
			return err
		}

		if b.Get(schemaKey) != nil {
			return nil
		}

		return b.Put(schemaKey, []byte(schemaVersion))
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

// SchemaVersion returns the schema the database was created with.
func (s *State) SchemaVersion() string {
	var v string

	_ = s.db.View(func(tx *bolt.Tx) error {
		v = string(tx.Bucket(appBucket).Get(schemaKey))
		return nil
	})

	return v
}

// InitStore ensures the buckets for a local store exist. Call this once
// before reading or writing records for storeID.
func (s *State) InitStore(storeID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(storeMetaBucket(storeID)); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(storeRecordsBucket(storeID))

		return err
	})
}

// GetRecord returns the record for a filename, or nil if not found.
func (s *State) GetRecord(storeID, filename string) (*Record, error) {
	var r *Record

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(storeRecordsBucket(storeID))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(filename))
		if v == nil {
			return nil
		}

		r = &Record{}

		return json.Unmarshal(v, r)
	})

	return r, err
}

// PutRecords persists records in a single transaction.
func (s *State) PutRecords(storeID string, records ...Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(storeRecordsBucket(storeID))
		if b == nil {
			return fmt.Errorf("records bucket not initialized for store %s", storeID)
		}

		for _, r := range records {
			if err := putRecord(b, r); err != nil {
				return err
			}
		}

		return nil
	})
}

// ReplaceRecords drops every record of the store and writes records in
// their place, atomically.
func (s *State) ReplaceRecords(storeID string, records []Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		name := storeRecordsBucket(storeID)
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}

		b, err := tx.CreateBucket(name)
		if err != nil {
			return err
		}

		for _, r := range records {
			if err := putRecord(b, r); err != nil {
				return err
			}
		}

		return nil
	})
}

func putRecord(b *bolt.Bucket, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	return b.Put([]byte(r.Filename), data)
}

// DeleteRecord removes the record for a filename.
func (s *State) DeleteRecord(storeID, filename string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(storeRecordsBucket(storeID))
		if b == nil {
			return nil
		}

		return b.Delete([]byte(filename))
	})
}

// RenameRecord moves the record at from to to, replacing any record at
// to. A missing source is not an error.
func (s *State) RenameRecord(storeID, from, to string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(storeRecordsBucket(storeID))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(from))
		if v == nil {
			return nil
		}

		var r Record
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}

		r.Filename = to

		if err := b.Delete([]byte(from)); err != nil {
			return err
		}

		return putRecord(b, r)
	})
}

// AllRecords returns every record of a store keyed by filename.
func (s *State) AllRecords(storeID string) (map[string]Record, error) {
	result := make(map[string]Record)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(storeRecordsBucket(storeID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}

			result[string(k)] = r

			return nil
		})
	})

	return result, err
}

// RecordCount returns the number of records in a store.
func (s *State) RecordCount(storeID string) int {
	count := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(storeRecordsBucket(storeID))
		if b != nil {
			count = b.Stats().KeyN
		}

		return nil
	})

	return count
}

// LastSync returns information about the last completed pass, or nil.
func (s *State) LastSync(storeID string) (*SyncInfo, error) {
	var info *SyncInfo

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(storeMetaBucket(storeID))
		if b == nil {
			return nil
		}

		v := b.Get(lastSyncKey)
		if v == nil {
			return nil
		}

		info = &SyncInfo{}

		return json.Unmarshal(v, info)
	})

	return info, err
}

// SetLastSync records a completed pass.
func (s *State) SetLastSync(storeID string, info SyncInfo) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(storeMetaBucket(storeID))
		if err != nil {
			return err
		}

		data, err := json.Marshal(info)
		if err != nil {
			return err
		}

		return b.Put(lastSyncKey, data)
	})
}
