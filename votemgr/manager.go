// Package votemgr implements the node's vote manager (spec §4.G): vote
// admission, dedup-by-voter, quorum detection, and double-vote evidence.
package votemgr

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/crypto/vrf"
	"github.com/taraxa-go/taraxa-node/shared/errs"
	"github.com/taraxa-go/taraxa-node/storage"
	"github.com/taraxa-go/taraxa-node/types"
)

var log = logrus.WithField("prefix", "votemgr")

// Config holds the manager's window parameters (spec §4.G).
type Config struct {
	RetainBack        uint64
	AcceptAheadRounds uint64
}

// Evidence is a confirmed double-vote: two distinct votes from the same
// voter for the same (round, type), retained for proof construction.
type Evidence struct {
	Voter  common.Address
	First  *types.Vote
	Second *types.Vote
}

type roundTypeKey struct {
	round uint64
	typ   types.VoteType
}

// Manager is the in-memory vote index described by spec §4.G. Verified
// votes are also written to the store's verified_votes column; New starts
// with an empty index and does not reload them.
type Manager struct {
	cfg   Config
	store *storage.Store

	mu           sync.Mutex
	currentRound uint64

	unverified map[uint64]map[common.Hash]*types.Vote
	verified   map[uint64]map[common.Hash]*types.Vote

	// byRoundTypeValue[round][type][valueHash] -> set of voter addresses.
	byRoundTypeValue map[roundTypeKey]map[common.Hash]map[common.Address]bool
	// voterSeen[round][type] -> voter -> the first vote seen, for double-vote detection.
	voterSeen map[roundTypeKey]map[common.Address]*types.Vote

	evidence []Evidence
}

// New creates an empty vote manager over store, starting at round 1.
func New(cfg Config, store *storage.Store) *Manager {
	return &Manager{
		cfg:              cfg,
		store:            store,
		currentRound:     1,
		unverified:       make(map[uint64]map[common.Hash]*types.Vote),
		verified:         make(map[uint64]map[common.Hash]*types.Vote),
		byRoundTypeValue: make(map[roundTypeKey]map[common.Hash]map[common.Address]bool),
		voterSeen:        make(map[roundTypeKey]map[common.Address]*types.Vote),
	}
}

// SetCurrentRound updates the manager's acceptance window and prunes
// anything now out of range (spec §4.G pruning).
func (m *Manager) SetCurrentRound(round uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentRound = round
	m.pruneLocked()
}

// ResetForNewPeriod wipes every round-indexed record. Round numbers reset
// to 1 at the start of each new period (spec §4.F), so a round index
// carried across a period boundary would otherwise let a stale vote from
// the finished period's round 1 count toward the new period's round 1
// quorum. The PBFT machine calls this once a period commits, before its
// own round counter resets.
func (m *Manager) ResetForNewPeriod() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentRound = 1
	m.unverified = make(map[uint64]map[common.Hash]*types.Vote)
	m.verified = make(map[uint64]map[common.Hash]*types.Vote)
	m.byRoundTypeValue = make(map[roundTypeKey]map[common.Hash]map[common.Address]bool)
	m.voterSeen = make(map[roundTypeKey]map[common.Address]*types.Vote)
}

func (m *Manager) pruneLocked() {
	if m.currentRound <= m.cfg.RetainBack {
		return
	}
	floor := m.currentRound - m.cfg.RetainBack
	for round := range m.unverified {
		if round < floor {
			delete(m.unverified, round)
		}
	}
	var toDelete []common.Hash
	for round := range m.verified {
		if round < floor {
			for hash := range m.verified[round] {
				toDelete = append(toDelete, hash)
			}
			delete(m.verified, round)
		}
	}
	for key := range m.byRoundTypeValue {
		if key.round < floor {
			delete(m.byRoundTypeValue, key)
		}
	}
	for key := range m.voterSeen {
		if key.round < floor {
			delete(m.voterSeen, key)
		}
	}
	if len(toDelete) > 0 {
		ops := make([]storage.Op, 0, len(toDelete))
		for _, h := range toDelete {
			ops = append(ops, storage.Del(storage.ColVerifiedVotes, h[:]))
		}
		if err := m.store.WriteBatch(ops); err != nil {
			log.WithError(err).Error("votemgr: failed to prune verified_votes")
		}
	}
}

// AddVote runs spec §4.G's admission checks against v: round window,
// duplicate/double-vote detection by (round, type, voter), then
// signature and VRF-eligibility verification. threshold/voters are the
// period's sortition parameters against which eligibility is judged.
func (m *Manager) AddVote(v *types.Vote, threshold, voters uint64) error {
	if v.Round < m.floorRound() {
		return errs.New(errs.Timeout, "votemgr: vote round %d below retain window", v.Round)
	}
	if v.Round > m.currentRoundSnapshot()+m.cfg.AcceptAheadRounds {
		return errs.New(errs.Timeout, "votemgr: vote round %d too far ahead", v.Round)
	}

	hash, err := v.Hash()
	if err != nil {
		return err
	}
	voter, err := v.Voter()
	if err != nil {
		return errs.Wrap(errs.InvalidSignature, err)
	}

	m.mu.Lock()
	key := roundTypeKey{round: v.Round, typ: v.Type}
	seen := m.voterSeen[key]
	if seen == nil {
		seen = make(map[common.Address]*types.Vote)
		m.voterSeen[key] = seen
	}
	if prior, ok := seen[voter]; ok {
		priorHash, _ := prior.Hash()
		if priorHash == hash {
			m.mu.Unlock()
			return nil // exact duplicate, not a double-vote
		}
		m.evidence = append(m.evidence, Evidence{Voter: voter, First: prior, Second: v})
		m.mu.Unlock()
		log.Warnf("votemgr: double vote detected for voter %s at round %d type %s", voter, v.Round, v.Type)
		return errs.New(errs.InvalidSignature, "votemgr: double vote by %s at (round %d, type %s)", voter, v.Round, v.Type)
	}
	seen[voter] = v
	if m.unverified[v.Round] == nil {
		m.unverified[v.Round] = make(map[common.Hash]*types.Vote)
	}
	m.unverified[v.Round][hash] = v
	m.mu.Unlock()

	if enc, err := v.EncodeRLP(); err == nil {
		key := voteKey(v.Round, hash)
		if err := m.store.WriteBatch([]storage.Op{storage.Put(storage.ColUnverifiedVotes, key, enc)}); err != nil {
			log.WithError(err).Error("votemgr: failed to persist unverified vote")
		}
	}

	return m.verify(v, hash, voter, threshold, voters)
}

func voteKey(round uint64, hash common.Hash) []byte {
	key := make([]byte, 8+common.HashLength)
	putUint64(key[:8], round)
	copy(key[8:], hash[:])
	return key
}

func (m *Manager) verify(v *types.Vote, hash common.Hash, voter common.Address, threshold, voters uint64) error {
	if err := v.VerifySignature(); err != nil {
		return err
	}
	vrfPub, err := vrf.PublicKeyFromBytes(v.VrfPublicKey)
	if err != nil {
		return err
	}
	output, err := vrf.Verify(vrfPub, v.VrfProof, v.VrfMessage())
	if err != nil {
		return err
	}
	if !vrf.Eligible(output, threshold, voters) {
		return errs.New(errs.InvalidProof, "votemgr: voter %s not eligible for (round %d, step %d)", voter, v.Round, v.Step)
	}

	enc, err := v.EncodeRLP()
	if err != nil {
		return err
	}
	key := voteKey(v.Round, hash)

	ops := []storage.Op{
		storage.Put(storage.ColVerifiedVotes, key, enc),
		storage.Del(storage.ColUnverifiedVotes, key),
	}
	switch v.Type {
	case types.VoteTypeSoft:
		ops = append(ops, storage.Put(storage.ColSoftVotesByRound, key, enc))
	case types.VoteTypeNext:
		ops = append(ops, storage.Put(storage.ColNextVotesByRound, key, enc))
	}
	if err := m.store.WriteBatch(ops); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.unverified[v.Round], hash)
	if m.verified[v.Round] == nil {
		m.verified[v.Round] = make(map[common.Hash]*types.Vote)
	}
	m.verified[v.Round][hash] = v
	rtk := roundTypeKey{round: v.Round, typ: v.Type}
	byValue := m.byRoundTypeValue[rtk]
	if byValue == nil {
		byValue = make(map[common.Hash]map[common.Address]bool)
		m.byRoundTypeValue[rtk] = byValue
	}
	if byValue[v.BlockHash] == nil {
		byValue[v.BlockHash] = make(map[common.Address]bool)
	}
	byValue[v.BlockHash][voter] = true
	m.mu.Unlock()
	return nil
}

// Count returns the number of distinct voters who have cast a verified
// vote for (round, type, value).
func (m *Manager) Count(round uint64, typ types.VoteType, value common.Hash) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	byValue := m.byRoundTypeValue[roundTypeKey{round: round, typ: typ}]
	if byValue == nil {
		return 0
	}
	return len(byValue[value])
}

// Quorum reports whether (round, type, value) has reached 2f+1 given
// voters sortition players, f = floor((voters-1)/3).
func (m *Manager) Quorum(round uint64, typ types.VoteType, value common.Hash, voters uint64) bool {
	f := (voters - 1) / 3
	return uint64(m.Count(round, typ, value)) >= 2*f+1
}

// QuorumValue returns the value (if any) that has reached 2f+1 for
// (round, type), used by the PBFT state machine's value-selection rule.
func (m *Manager) QuorumValue(round uint64, typ types.VoteType, voters uint64) (common.Hash, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byValue := m.byRoundTypeValue[roundTypeKey{round: round, typ: typ}]
	f := (voters - 1) / 3
	for value, voterSet := range byValue {
		if uint64(len(voterSet)) >= 2*f+1 {
			return value, true
		}
	}
	return common.Hash{}, false
}

// VotesForValue returns every verified vote cast for (round, type, value),
// used to assemble a period bundle's cert_votes[] once a cert quorum
// resolves (spec §4.H, §3 period bundle).
func (m *Manager) VotesForValue(round uint64, typ types.VoteType, value common.Hash) []*types.Vote {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Vote
	for _, v := range m.verified[round] {
		if v.Type == typ && v.BlockHash == value {
			out = append(out, v)
		}
	}
	return out
}

// VotesForRound returns every verified vote of type typ cast in round,
// regardless of which value each voter cast it for — used to answer a
// GetNextVotes request (spec §4.I), since next votes need not agree on a
// single value the way a quorum answer does.
func (m *Manager) VotesForRound(round uint64, typ types.VoteType) []*types.Vote {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Vote
	for _, v := range m.verified[round] {
		if v.Type == typ {
			out = append(out, v)
		}
	}
	return out
}

// Evidence returns every double-vote detected so far.
func (m *Manager) Evidence() []Evidence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Evidence(nil), m.evidence...)
}

func (m *Manager) floorRound() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentRound <= m.cfg.RetainBack {
		return 0
	}
	return m.currentRound - m.cfg.RetainBack
}

func (m *Manager) currentRoundSnapshot() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentRound
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
