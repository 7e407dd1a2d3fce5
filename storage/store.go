package storage

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/taraxa-go/taraxa-node/shared/errs"
)

var log = logrus.WithField("prefix", "storage")

const databaseFileName = "taraxa.db"

// Store is the column-partitioned persistent store of spec §4.C, backed
// by a single bbolt file with one bucket per column.
type Store struct {
	db   *bolt.DB
	path string

	mu               sync.Mutex
	forwardMigration bool
}

// Open opens (creating if absent) the store at dirPath, creates every
// column bucket, and validates the schema version.
func Open(dirPath string) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, err
	}
	datafile := filepath.Join(dirPath, databaseFileName)
	db, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if err == bolt.ErrTimeout {
			return nil, errs.New(errs.DbCorruption, "storage: database is locked, likely in use by another process")
		}
		return nil, err
	}
	s := &Store{db: db, path: dirPath}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, col := range allColumns {
			if _, err := tx.CreateBucketIfNotExists([]byte(col)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.checkOrInitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) checkOrInitSchema() error {
	major, ok, err := s.getUint32(ColStatus, statusKeyDbMajor)
	if err != nil {
		return err
	}
	if !ok {
		return s.WriteBatch([]Op{
			PutUint32(ColStatus, statusKeyDbMajor, DbMajor),
			PutUint32(ColStatus, statusKeyDbMinor, DbMinor),
		})
	}
	if major != DbMajor {
		return errs.New(errs.VersionMismatch, "storage: db_major %d incompatible with node's %d", major, DbMajor)
	}
	minor, _, err := s.getUint32(ColStatus, statusKeyDbMinor)
	if err != nil {
		return err
	}
	if minor != DbMinor {
		log.Warnf("db_minor %d differs from node's %d, forward migrations permitted", minor, DbMinor)
		s.forwardMigration = true
	}
	return nil
}

// ForwardMigrationNeeded reports whether the opened store's db_minor
// differs from this binary's, permitting forward migrations.
func (s *Store) ForwardMigrationNeeded() bool {
	return s.forwardMigration
}

// Close closes the underlying bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the directory this store writes its file under.
func (s *Store) Path() string {
	return s.path
}

// Get reads a single key from col.
func (s *Store) Get(col Column, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(col)).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Put writes a single key to col.
func (s *Store) Put(col Column, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(col)).Put(key, value)
	})
}

// Delete removes a single key from col.
func (s *Store) Delete(col Column, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(col)).Delete(key)
	})
}

// MultiGet reads several keys from col in one read transaction. A
// missing key yields a nil entry at its index.
func (s *Store) MultiGet(col Column, keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(col))
		for i, k := range keys {
			if v := b.Get(k); v != nil {
				out[i] = append([]byte(nil), v...)
			}
		}
		return nil
	})
	return out, err
}

// Iterate calls fn for every (key, value) pair in col in bucket order,
// stopping early if fn returns false.
func (s *Store) Iterate(col Column, fn func(key, value []byte) bool) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(col)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !fn(k, v) {
				break
			}
		}
		return nil
	})
}

// OpKind distinguishes a put from a delete within a WriteBatch.
type OpKind uint8

const (
	OpPut OpKind = iota
	OpDelete
)

// Op is a single put or delete targeting one column and key, the unit of
// composition for an atomically-committed WriteBatch.
type Op struct {
	Kind  OpKind
	Col   Column
	Key   []byte
	Value []byte
}

// Put builds a put operation.
func Put(col Column, key, value []byte) Op {
	return Op{Kind: OpPut, Col: col, Key: key, Value: value}
}

// Del builds a delete operation.
func Del(col Column, key []byte) Op {
	return Op{Kind: OpDelete, Col: col, Key: key}
}

// PutUint32 builds a put operation encoding v as big-endian.
func PutUint32(col Column, key string, v uint32) Op {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return Put(col, []byte(key), b)
}

// PutUint64 builds a put operation encoding v as big-endian.
func PutUint64(col Column, key []byte, v uint64) Op {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return Put(col, key, b)
}

// WriteBatch commits every op in a single atomic bbolt transaction; no
// reader ever observes a partial commit (spec §4.C store invariant).
func (s *Store) WriteBatch(ops []Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, op := range ops {
			b := tx.Bucket([]byte(op.Col))
			if b == nil {
				return errs.New(errs.DbCorruption, "storage: unknown column %q", op.Col)
			}
			switch op.Kind {
			case OpPut:
				if err := b.Put(op.Key, op.Value); err != nil {
					return err
				}
			case OpDelete:
				if err := b.Delete(op.Key); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) getUint32(col Column, key string) (uint32, bool, error) {
	v, err := s.Get(col, []byte(key))
	if err != nil || v == nil {
		return 0, false, err
	}
	if len(v) != 4 {
		return 0, false, errs.New(errs.DbCorruption, "storage: %s/%s has bad width %d", col, key, len(v))
	}
	return binary.BigEndian.Uint32(v), true, nil
}

func (s *Store) getUint64(col Column, key []byte) (uint64, bool, error) {
	v, err := s.Get(col, key)
	if err != nil || v == nil {
		return 0, false, err
	}
	if len(v) != 8 {
		return 0, false, errs.New(errs.DbCorruption, "storage: %s/%s has bad width %d", col, key, len(v))
	}
	return binary.BigEndian.Uint64(v), true, nil
}

// PbftChainSize returns the number of finalized periods.
func (s *Store) PbftChainSize() (uint64, error) {
	v, _, err := s.getUint64(ColStatus, []byte(statusKeyPbftChainSize))
	return v, err
}

// ExecutedBlkCount returns the number of periods the executor has
// applied, used for crash-recovery replay (spec §4.H).
func (s *Store) ExecutedBlkCount() (uint64, error) {
	v, _, err := s.getUint64(ColStatus, []byte(statusKeyExecutedBlkCount))
	return v, err
}

// DagBlocksCount returns the number of DAG blocks ever admitted.
func (s *Store) DagBlocksCount() (uint64, error) {
	v, _, err := s.getUint64(ColStatus, []byte(statusKeyDagBlocksCount))
	return v, err
}
