package storage

import (
	"testing"
)

func TestSnapshotAndRevert(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Put(ColTransactions, []byte("k"), []byte("before")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mgr := NewSnapshotManager(s, 1, 3)
	if err := mgr.MaybeSnapshot(10); err != nil {
		t.Fatalf("MaybeSnapshot: %v", err)
	}
	if err := s.Put(ColTransactions, []byte("k"), []byte("after")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := Revert(dir, 10); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen after revert: %v", err)
	}
	defer s2.Close()
	got, err := s2.Get(ColTransactions, []byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "before" {
		t.Fatalf("expected reverted value %q, got %q", "before", got)
	}
}

func TestSnapshotPruneRetainsMax(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	mgr := NewSnapshotManager(s, 1, 2)
	for _, p := range []uint64{1, 2, 3} {
		if err := mgr.MaybeSnapshot(p); err != nil {
			t.Fatalf("MaybeSnapshot(%d): %v", p, err)
		}
	}
	periods, err := mgr.periods()
	if err != nil {
		t.Fatalf("periods: %v", err)
	}
	if len(periods) != 2 {
		t.Fatalf("expected 2 retained snapshots, got %v", periods)
	}
	if periods[0] != 2 || periods[1] != 3 {
		t.Fatalf("expected the oldest snapshot to be pruned, got %v", periods)
	}
}

func TestMaybeSnapshotSkipsOffInterval(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	mgr := NewSnapshotManager(s, 5, 3)
	if err := mgr.MaybeSnapshot(3); err != nil {
		t.Fatalf("MaybeSnapshot: %v", err)
	}
	periods, err := mgr.periods()
	if err != nil {
		t.Fatalf("periods: %v", err)
	}
	if len(periods) != 0 {
		t.Fatalf("expected no snapshot off interval, got %v", periods)
	}
}
