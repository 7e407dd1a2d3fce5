package network

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/shared/roughtime"
)

const (
	knownBlocksCacheSize = 1024
	knownTxsCacheSize    = 32768
	knownVotesCacheSize  = 4096
)

// Peer tracks everything the network subsystem knows about one connected
// peer: its handshake status, what it has already seen (so gossip never
// loops), its sync role, and its admission-control budget (spec §4.I).
type Peer struct {
	ID string

	mu           sync.Mutex
	status       *StatusPacket // nil until this peer's Status packet has been seen
	lastPacketAt time.Time

	knownBlocks *lru.Cache
	knownTxs    *lru.Cache
	knownVotes  *lru.Cache

	// admission control: a rolling window of recent processing time and a
	// bound on work queued for this peer (spec §4.I "rolling window of
	// processing time and a queue bound").
	windowStart    time.Time
	windowBudget   time.Duration
	queued         int
	offenses       int
	blacklistUntil time.Time
}

// newPeer creates peer state for a freshly connected peer id.
func newPeer(id string) *Peer {
	blocks, _ := lru.New(knownBlocksCacheSize)
	txs, _ := lru.New(knownTxsCacheSize)
	votes, _ := lru.New(knownVotesCacheSize)
	return &Peer{
		ID:           id,
		knownBlocks:  blocks,
		knownTxs:     txs,
		knownVotes:   votes,
		lastPacketAt: roughtime.Now(),
		windowStart:  roughtime.Now(),
	}
}

// MarkStatus records peer's handshake Status; no other packet is
// processed from it until this has happened.
func (p *Peer) MarkStatus(s *StatusPacket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

// Status returns the peer's last Status packet, or nil if it has not yet
// completed the handshake.
func (p *Peer) Status() *StatusPacket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Touch records that a packet was just received from this peer, for
// stall detection during sync.
func (p *Peer) Touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPacketAt = roughtime.Now()
}

// LastPacketTime reports when a packet was last received from this peer.
func (p *Peer) LastPacketTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPacketAt
}

// KnowsBlock reports and records this peer's knowledge of a dag block
// hash, so the broadcaster never re-sends what a peer already has.
func (p *Peer) KnowsBlock(h common.Hash) bool {
	ok, _ := p.knownBlocks.ContainsOrAdd(h, struct{}{})
	return ok
}

// KnowsTx reports and records this peer's knowledge of a transaction hash.
func (p *Peer) KnowsTx(h common.Hash) bool {
	ok, _ := p.knownTxs.ContainsOrAdd(h, struct{}{})
	return ok
}

// KnowsVote reports and records this peer's knowledge of a vote hash.
func (p *Peer) KnowsVote(h common.Hash) bool {
	ok, _ := p.knownVotes.ContainsOrAdd(h, struct{}{})
	return ok
}

// Blacklisted reports whether peer is currently serving out a
// peer_blacklist_timeout penalty.
func (p *Peer) Blacklisted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return roughtime.Now().Before(p.blacklistUntil)
}

// admit applies spec §4.I's admission control: a packet is dropped if it
// would exceed cfg.ProcessingBudget within the current window or the peer
// has already had cfg.QueueBound packets admitted in it. The budget and
// the admitted count reset every cfg.AdmissionWindow. Every drop is an
// offense; on reaching cfg.MaxOffenses the peer is blacklisted for
// cfg.BlacklistTimeout and its offense count restarts at zero. Offenses
// are not reset with the window.
func (p *Peer) admit(cost time.Duration, cfg Config) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := roughtime.Now()
	if now.Before(p.blacklistUntil) {
		return false
	}
	if now.Sub(p.windowStart) >= cfg.AdmissionWindow {
		p.windowStart = now
		p.windowBudget = 0
		p.queued = 0
	}
	if p.queued >= cfg.QueueBound || p.windowBudget+cost > cfg.ProcessingBudget {
		p.offenses++
		if p.offenses >= cfg.MaxOffenses {
			p.blacklistUntil = now.Add(cfg.BlacklistTimeout)
			p.offenses = 0
		}
		return false
	}
	p.windowBudget += cost
	p.queued++
	return true
}

// PeerSet owns every connected peer's state, keyed by id.
type PeerSet struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewPeerSet creates an empty peer set.
func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make(map[string]*Peer)}
}

// Add registers a newly connected peer, replacing any stale entry for the
// same id.
func (s *PeerSet) Add(id string) *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := newPeer(id)
	s.peers[id] = p
	return p
}

// Remove drops a disconnected peer's state.
func (s *PeerSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, id)
}

// Get returns the peer state for id, if connected.
func (s *PeerSet) Get(id string) (*Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[id]
	return p, ok
}

// All returns every connected peer.
func (s *PeerSet) All() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// Best returns the connected peer with the greatest reported pbft_size,
// used to choose a sync target; ok is false with no handshaked peers.
func (s *PeerSet) Best() (p *Peer, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *Peer
	for _, candidate := range s.peers {
		st := candidate.Status()
		if st == nil || candidate.Blacklisted() {
			continue
		}
		if best == nil || st.PbftSize > best.Status().PbftSize {
			best = candidate
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}
