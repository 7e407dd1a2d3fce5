package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/taraxa-go/taraxa-node/shared/errs"
)

const snapshotDirPrefix = "snapshot-"

// SnapshotManager takes consistent on-disk copies of the store every
// snapshot_interval periods and retains at most max_snapshots of them
// (spec §4.C).
type SnapshotManager struct {
	store    *Store
	dir      string
	interval uint64
	max      int
}

// NewSnapshotManager creates a manager writing snapshots under
// <store dir>/snapshots.
func NewSnapshotManager(store *Store, interval uint64, max int) *SnapshotManager {
	return &SnapshotManager{
		store:    store,
		dir:      filepath.Join(store.Path(), "snapshots"),
		interval: interval,
		max:      max,
	}
}

func (m *SnapshotManager) snapshotPath(period uint64) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s%020d", snapshotDirPrefix, period))
}

// MaybeSnapshot takes a snapshot at period if it falls on the configured
// interval, then prunes snapshots beyond max.
func (m *SnapshotManager) MaybeSnapshot(period uint64) error {
	if m.interval == 0 || period%m.interval != 0 {
		return nil
	}
	if err := m.snapshot(period); err != nil {
		return err
	}
	return m.prune()
}

func (m *SnapshotManager) snapshot(period uint64) error {
	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return err
	}
	dst := m.snapshotPath(period)
	if err := os.MkdirAll(dst, 0700); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dst, databaseFileName))
	if err != nil {
		return err
	}
	defer f.Close()
	return m.store.db.View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(f)
		return err
	})
}

// periods lists the periods with an existing snapshot, ascending.
func (m *SnapshotManager) periods() ([]uint64, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var periods []uint64
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), snapshotDirPrefix) {
			continue
		}
		p, err := strconv.ParseUint(strings.TrimPrefix(e.Name(), snapshotDirPrefix), 10, 64)
		if err != nil {
			continue
		}
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })
	return periods, nil
}

func (m *SnapshotManager) prune() error {
	periods, err := m.periods()
	if err != nil {
		return err
	}
	for len(periods) > m.max {
		if err := os.RemoveAll(m.snapshotPath(periods[0])); err != nil {
			return err
		}
		periods = periods[1:]
	}
	return nil
}

// Revert replaces the live store with snapshot P's contents and discards
// every snapshot > P. The caller must close its Store handle before
// calling Revert and reopen with Open after it returns.
func Revert(storeDir string, period uint64) error {
	dir := filepath.Join(storeDir, "snapshots")
	src := filepath.Join(dir, fmt.Sprintf("%s%020d", snapshotDirPrefix, period))
	if _, err := os.Stat(src); err != nil {
		return errs.New(errs.DbCorruption, "storage: no snapshot for period %d", period)
	}
	live := filepath.Join(storeDir, databaseFileName)
	if err := copyFile(filepath.Join(src, databaseFileName), live); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), snapshotDirPrefix) {
			continue
		}
		p, err := strconv.ParseUint(strings.TrimPrefix(e.Name(), snapshotDirPrefix), 10, 64)
		if err != nil {
			continue
		}
		if p > period {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
