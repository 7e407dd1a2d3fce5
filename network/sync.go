package network

import (
	"sync"
	"time"

	"github.com/taraxa-go/taraxa-node/shared/roughtime"
)

// syncState tracks this node's deep/light sync status (spec §4.I): while
// behind the best peer by more than deepThreshold periods it is in deep
// sync; within that it is in light sync, pulling the remaining periods plus
// any dag blocks above its current max level.
type syncState struct {
	deepThreshold uint64

	mu            sync.Mutex
	isPbftSyncing bool
	isDagSyncing  bool
	syncingPeer   string
	lastPacketAt  time.Time
}

func newSyncState(deepThreshold uint64) *syncState {
	return &syncState{deepThreshold: deepThreshold, lastPacketAt: roughtime.Now()}
}

// considerPeer updates sync state after hearing a peer's Status: if the
// peer is far enough ahead, it becomes (or remains) the sync target.
func (s *syncState) considerPeer(peer *Peer, localDagLevel, localPeriod uint64) {
	status := peer.Status()
	if status == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	behind := uint64(0)
	if status.PbftSize > localPeriod {
		behind = status.PbftSize - localPeriod
	}
	if behind == 0 {
		if status.DagLevel <= localDagLevel {
			return
		}
		s.isDagSyncing = true
		s.syncingPeer = peer.ID
		return
	}

	s.isPbftSyncing = true
	s.isDagSyncing = behind <= s.deepThreshold
	s.syncingPeer = peer.ID
}

// recordPacket marks that a packet just arrived, for stall detection.
func (s *syncState) recordPacket(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncingPeer == peerID {
		s.lastPacketAt = roughtime.Now()
	}
}

func (s *syncState) markDagProgress(level uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPacketAt = roughtime.Now()
}

func (s *syncState) markPbftCaughtUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isPbftSyncing = false
	s.lastPacketAt = roughtime.Now()
}

// Stalled reports whether the current sync peer has gone silent for
// longer than timeout, meaning a new peer should be chosen (spec §4.I).
func (s *syncState) Stalled(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncingPeer == "" {
		return false
	}
	return roughtime.Since(s.lastPacketAt) > timeout
}

// Snapshot is the exported view of sync state for monitoring (spec §4.I
// "Sync state exposes: is_pbft_syncing, is_dag_syncing, syncing_peer,
// last_packet_time").
type Snapshot struct {
	IsPbftSyncing  bool
	IsDagSyncing   bool
	SyncingPeer    string
	LastPacketTime time.Time
}

// Snapshot returns the dispatcher's current sync status.
func (d *Dispatcher) Snapshot() Snapshot {
	d.sync.mu.Lock()
	defer d.sync.mu.Unlock()
	return Snapshot{
		IsPbftSyncing: d.sync.isPbftSyncing, IsDagSyncing: d.sync.isDagSyncing,
		SyncingPeer: d.sync.syncingPeer, LastPacketTime: d.sync.lastPacketAt,
	}
}

// Reselect picks a new sync peer if the current one has stalled, per
// spec §4.I's stall-triggers-reselection rule, and kicks off the request
// for the next batch of work (a GetPbftSync if behind, else a
// DagSyncRequest for levels above localDagLevel).
func (d *Dispatcher) Reselect(localDagLevel, localPeriod uint64) error {
	if !d.sync.Stalled(d.cfg.StallTimeout) {
		return nil
	}
	best, ok := d.peers.Best()
	if !ok {
		return nil
	}
	d.sync.mu.Lock()
	d.sync.syncingPeer = best.ID
	d.sync.lastPacketAt = roughtime.Now()
	d.sync.mu.Unlock()
	return d.requestSync(best, localDagLevel, localPeriod)
}

func (d *Dispatcher) requestSync(peer *Peer, localDagLevel, localPeriod uint64) error {
	status := peer.Status()
	if status == nil {
		return nil
	}
	if status.PbftSize > localPeriod {
		enc, err := (&GetPbftSyncPacket{Period: localPeriod + 1}).encode()
		if err != nil {
			return err
		}
		return d.io.Send(peer.ID, PacketGetPbftSync, enc)
	}
	if status.DagLevel > localDagLevel {
		enc, err := (&DagSyncRequestPacket{LevelStart: localDagLevel + 1, LevelEnd: status.DagLevel}).encode()
		if err != nil {
			return err
		}
		return d.io.Send(peer.ID, PacketDagSyncRequest, enc)
	}
	return nil
}
