// Package pbft implements the node's PBFT state machine (spec §4.F): one
// instance per node, driven externally by a ticker, advancing through
// propose/soft/cert/next steps each round and committing a period once a
// quorum of cert votes resolves locally.
package pbft

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/crypto"
	"github.com/taraxa-go/taraxa-node/crypto/vrf"
	"github.com/taraxa-go/taraxa-node/dag"
	"github.com/taraxa-go/taraxa-node/shared/errs"
	"github.com/taraxa-go/taraxa-node/storage"
	"github.com/taraxa-go/taraxa-node/types"
	"github.com/taraxa-go/taraxa-node/votemgr"
)

var log = logrus.WithField("prefix", "pbft")

var roundGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "taraxa_pbft_round",
	Help: "Current PBFT round within the in-progress period.",
})

var periodsCommitted = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "taraxa_pbft_periods_committed_total",
	Help: "Number of PBFT periods committed.",
})

func init() {
	prometheus.MustRegister(roundGauge, periodsCommitted)
}

// Config carries the lambda bounds and sortition parameters spec §4.F and
// §3 describe as period-level constants.
type Config struct {
	LambdaMsMin uint32
	LambdaMsMax uint32
	Threshold   uint64 // expected sortition winners per (round, step)
	Voters      uint64 // total eligible sortition players for the period
}

// ExecuteFn runs a committed period bundle's transactions and returns the
// ops needed to persist the execution result; the executor package is the
// production implementation (spec §4.H).
type ExecuteFn func(bundle *types.PeriodBundle) ([]storage.Op, error)

// BroadcastFn gossips a vote or proposed block to the network (spec §4.I);
// nil is a valid no-op for tests that only exercise local state.
type BroadcastFn func(v *types.Vote)

// Machine is one node's PBFT instance.
type Machine struct {
	cfg    Config
	store  *storage.Store
	votes  *votemgr.Manager
	dagMgr *dag.Manager

	priv    *crypto.PrivateKey
	vrfPriv *vrf.PrivateKey

	onCommit    ExecuteFn
	onBroadcast BroadcastFn

	mu              sync.Mutex
	period          uint64
	prevAnchor      common.Hash
	roundStart      time.Time
	state           *roundState
	malicious       map[common.Address]bool
	evidenceChecked int

	// proposals indexes pbft_block candidates by their own hash: a cert
	// quorum's voted value is a pbft_block hash (spec §4.F "the hash of a
	// newly constructed pbft_block"), so committing the period needs the
	// actual block to read its anchor back out. Blocks this node itself
	// proposed are always present; a block proposed by a remote peer
	// would need to arrive over the network (§4.I) and be recorded here
	// too before this node can commit on it.
	proposals map[common.Hash]*types.PbftBlock
}

// New creates a PBFT machine starting at period 1, round 1. genesisAnchor
// is the DAG genesis block's hash: with nothing finalized yet, it stands
// in for "the previously finalized anchor" the value-selection rule
// compares the pivot-chain tip against.
func New(cfg Config, store *storage.Store, votes *votemgr.Manager, dagMgr *dag.Manager, priv *crypto.PrivateKey, vrfPriv *vrf.PrivateKey, genesisAnchor common.Hash, onCommit ExecuteFn, onBroadcast BroadcastFn) *Machine {
	return &Machine{
		cfg: cfg, store: store, votes: votes, dagMgr: dagMgr,
		priv: priv, vrfPriv: vrfPriv,
		onCommit: onCommit, onBroadcast: onBroadcast,
		period:     1,
		prevAnchor: genesisAnchor,
		roundStart: time.Now(),
		state:      newRoundState(cfg.LambdaMsMin),
		malicious:  make(map[common.Address]bool),
		proposals:  make(map[common.Hash]*types.PbftBlock),
	}
}

// Period returns the period currently in progress.
func (m *Machine) Period() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.period
}

// Round returns the round currently in progress within the period.
func (m *Machine) Round() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.round
}

// SortitionParams returns the period's (threshold, voters) sortition
// parameters, for the network layer to verify incoming votes' VRF
// eligibility the same way the machine itself does.
func (m *Machine) SortitionParams() (threshold, voters uint64) {
	return m.cfg.Threshold, m.cfg.Voters
}

// stepForElapsed maps elapsed round time to a step per spec §4.F's
// [0,2λ)/[2λ,4λ)/[4λ,6λ)/[6λ,∞) boundaries.
func stepForElapsed(elapsed time.Duration, lambdaMs uint32) step {
	lambda := time.Duration(lambdaMs) * time.Millisecond
	if lambda <= 0 {
		return stepNext
	}
	switch {
	case elapsed < 2*lambda:
		return stepPropose
	case elapsed < 4*lambda:
		return stepSoft
	case elapsed < 6*lambda:
		return stepCert
	default:
		return stepNext
	}
}

// eligible reports whether this node may speak at (round, step) under its
// VRF sortition against the period's threshold.
func (m *Machine) eligible(round uint64, st step) (vrf.Proof, bool) {
	msg := sortitionMessage(m.period, round, uint64(st))
	proof, output := vrf.Prove(m.vrfPriv, msg)
	return proof, vrf.Eligible(output, m.cfg.Threshold, m.cfg.Voters)
}

func sortitionMessage(period, round, step uint64) []byte {
	b := make([]byte, 24)
	putUint64(b[0:8], period)
	putUint64(b[8:16], round)
	putUint64(b[16:24], step)
	return b
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// f returns the fault tolerance bound for the period's voter count.
func (m *Machine) f() uint64 {
	if m.cfg.Voters == 0 {
		return 0
	}
	return (m.cfg.Voters - 1) / 3
}

// Tick drives the machine forward: it computes which step `now` falls
// into relative to the round's start and performs that step's actions if
// they have not already been performed this round. Callers invoke Tick
// from a periodic goroutine (spec §5); Tick itself is not blocking.
func (m *Machine) Tick(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := now.Sub(m.roundStart)
	target := stepForElapsed(elapsed, m.state.lambdaMs)
	roundGauge.Set(float64(m.state.round))

	if target < stepNext && target > m.state.step {
		m.state.step = target
	} else if target >= stepNext {
		m.state.step = stepNext
	}

	m.drainEvidenceLocked()

	switch m.state.step {
	case stepPropose:
		return m.doProposeLocked()
	case stepSoft:
		return m.doSoftLocked()
	case stepCert:
		return m.doCertLocked()
	default:
		return m.doNextLocked()
	}
}

// doProposeLocked implements step 1 (spec §4.F). m.mu is held.
func (m *Machine) doProposeLocked() error {
	if m.state.ownStartingValue != nil {
		return nil // already proposed this round
	}
	proof, ok := m.eligible(m.state.round, stepPropose)
	if !ok {
		return nil
	}
	value, err := m.selectStartingValueLocked()
	if err != nil {
		return err
	}
	m.state.ownStartingValue = &value
	return m.emitLocked(types.VoteTypePropose, value, proof)
}

// selectStartingValueLocked implements spec §4.F's value selection rule.
func (m *Machine) selectStartingValueLocked() (common.Hash, error) {
	if m.state.lastCertVotedValue != nil {
		return *m.state.lastCertVotedValue, nil
	}
	chain := m.dagMgr.PivotChain(m.prevAnchor)
	tip := chain[len(chain)-1]
	if tip == m.prevAnchor {
		return common.Hash{}, nil // NULL: no new DAG progress since last anchor
	}
	block := &types.PbftBlock{PrevHash: m.lastPbftHashLocked(), Anchor: tip, Period: m.period, Timestamp: uint64(time.Now().Unix())}
	if _, err := block.Sign(m.priv); err != nil {
		return common.Hash{}, err
	}
	hash, err := block.Hash()
	if err != nil {
		return common.Hash{}, err
	}
	m.proposals[hash] = block
	return hash, nil
}

// RecordProposal registers a pbft_block proposed by a remote peer, so a
// cert quorum reached on its hash can be committed locally (spec §4.F,
// §4.I: the network layer carries the block body alongside a peer's
// propose-step vote and must record it here before forwarding the vote).
// A block whose hash is already known (e.g. this node's own proposal) is
// left untouched.
func (m *Machine) RecordProposal(block *types.PbftBlock) error {
	hash, err := block.Hash()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proposals[hash]; ok {
		return nil
	}
	m.proposals[hash] = block
	return nil
}

func (m *Machine) lastPbftHashLocked() common.Hash {
	raw, err := m.store.Get(storage.ColPbftHead, []byte("head"))
	if err != nil || raw == nil {
		return common.Hash{}
	}
	return common.BytesToHash(raw)
}

// doSoftLocked implements step 2 (spec §4.F). m.mu is held.
func (m *Machine) doSoftLocked() error {
	if m.state.softVotedInRound() {
		return nil
	}
	proof, ok := m.eligible(m.state.round, stepSoft)
	if !ok {
		return nil
	}
	value, found := m.votes.QuorumValue(m.state.round, types.VoteTypePropose, m.cfg.Voters)
	if !found {
		return nil
	}
	if m.state.lastCertVotedValue != nil && *m.state.lastCertVotedValue != value {
		return nil
	}
	m.state.softVotedValue = &value
	m.state.setSoftVotedInRound()
	return m.emitLocked(types.VoteTypeSoft, value, proof)
}

// doCertLocked implements step 3 (spec §4.F). m.mu is held.
func (m *Machine) doCertLocked() error {
	if m.state.certVotedValue == nil {
		proof, ok := m.eligible(m.state.round, stepCert)
		if ok {
			if value, found := m.votes.QuorumValue(m.state.round, types.VoteTypeSoft, m.cfg.Voters); found {
				m.state.certVotedValue = &value
				m.state.lastCertVotedValue = &value
				if err := m.emitLocked(types.VoteTypeCert, value, proof); err != nil {
					return err
				}
			}
		}
	}
	if m.state.executedInRound() {
		return nil
	}
	value, found := m.votes.QuorumValue(m.state.round, types.VoteTypeCert, m.cfg.Voters)
	if !found || value.IsZero() {
		return nil
	}
	return m.tryCommitLocked(value)
}

// tryCommitLocked attempts to assemble and execute the period bundle for
// a cert-quorum value (a pbft_block hash) whose block is known locally
// and whose anchor's past cone is fully available (spec §4.F "Period
// commit").
func (m *Machine) tryCommitLocked(blockHash common.Hash) error {
	pbftBlock, ok := m.proposals[blockHash]
	if !ok {
		log.Debugf("pbft: cert quorum on %s but the proposed block is not known locally", blockHash)
		return nil
	}
	anchorHash := pbftBlock.Anchor
	if _, ok := m.dagMgr.Block(anchorHash); !ok {
		log.Debugf("pbft: cert quorum on %s but anchor %s not yet resolved locally", blockHash, anchorHash)
		return nil
	}
	order, err := m.dagMgr.AnchorOrder(anchorHash, m.prevAnchor)
	if err != nil {
		return err
	}
	dagBlocks := make([]*types.DAGBlock, 0, len(order))
	for _, h := range order {
		b, ok := m.dagMgr.Block(h)
		if !ok {
			log.Debugf("pbft: anchor order references %s not yet resolved locally", h)
			return nil
		}
		dagBlocks = append(dagBlocks, b)
	}

	certVotes := m.votes.VotesForValue(m.state.round, types.VoteTypeCert, blockHash)
	bundle := &types.PeriodBundle{PbftBlock: pbftBlock, CertVotes: certVotes, DAGBlocks: dagBlocks}

	ops, err := m.onCommit(bundle)
	if err != nil {
		return err
	}
	if err := m.store.WriteBatch(ops); err != nil {
		return err
	}

	m.state.setExecutedInRound()
	m.prevAnchor = anchorHash
	m.period++
	periodsCommitted.Inc()
	m.state.resetForNewPeriod(m.cfg.LambdaMsMin)
	m.roundStart = time.Now()
	m.votes.ResetForNewPeriod()
	m.proposals = make(map[common.Hash]*types.PbftBlock)
	return nil
}

// doNextLocked implements step ≥4 (spec §4.F). m.mu is held.
func (m *Machine) doNextLocked() error {
	if m.state.certVotedValue != nil && !m.state.nextVotedSoft() {
		proof, ok := m.eligible(m.state.round, stepNext)
		if ok {
			m.state.setNextVotedSoft()
			if err := m.emitLocked(types.VoteTypeNext, *m.state.certVotedValue, proof); err != nil {
				return err
			}
		}
	} else if m.state.certVotedValue == nil && !m.state.nextVotedNull() {
		proof, ok := m.eligible(m.state.round, stepNext)
		if ok {
			m.state.setNextVotedNull()
			if err := m.emitLocked(types.VoteTypeNext, common.Hash{}, proof); err != nil {
				return err
			}
		}
	}

	value, found := m.votes.QuorumValue(m.state.round, types.VoteTypeNext, m.cfg.Voters)
	if !found {
		return nil
	}
	var carry *common.Hash
	if !value.IsZero() {
		v := value
		carry = &v
	} else {
		carry = m.state.lastCertVotedValue
	}
	nextLambda := m.state.lambdaMs * 2
	if nextLambda > m.cfg.LambdaMsMax {
		nextLambda = m.cfg.LambdaMsMax
	}
	m.state.advance(carry, nextLambda)
	m.roundStart = time.Now()
	m.votes.SetCurrentRound(m.state.round)
	return nil
}

func (m *Machine) emitLocked(typ types.VoteType, value common.Hash, proof vrf.Proof) error {
	v := &types.Vote{
		VoterPK:      m.priv.Public().Bytes(),
		VrfPublicKey: m.vrfPriv.Public().Bytes(),
		BlockHash:    value,
		Type:         typ,
		Round:        m.state.round,
		Step:         uint64(m.state.step),
	}
	// The vote carries a proof over its own (block_hash, type, round, step)
	// message, the one votemgr verifies, and is not emitted unless that
	// proof's output is also eligible.
	proof, output := vrf.Prove(m.vrfPriv, v.VrfMessage())
	if !vrf.Eligible(output, m.cfg.Threshold, m.cfg.Voters) {
		return nil
	}
	v.VrfProof = proof
	if err := v.Sign(m.priv); err != nil {
		return err
	}
	if err := m.votes.AddVote(v, m.cfg.Threshold, m.cfg.Voters); err != nil && !errs.Is(err, errs.InvalidProof) {
		return err
	}
	if m.onBroadcast != nil {
		m.onBroadcast(v)
	}
	return nil
}

// drainEvidenceLocked flags every voter named in a double-vote evidence
// record the vote manager has accumulated since the last drain (spec
// §4.F "flags that voter as malicious for the period"). m.mu is held.
func (m *Machine) drainEvidenceLocked() {
	all := m.votes.Evidence()
	for _, ev := range all[m.evidenceChecked:] {
		if !m.malicious[ev.Voter] {
			m.malicious[ev.Voter] = true
			log.Warnf("pbft: flagged %s as malicious for period %d", ev.Voter, m.period)
		}
	}
	m.evidenceChecked = len(all)
}

// FlagMalicious records that voter double-voted; it is wired to
// votemgr.Manager.Evidence() by the caller driving the machine.
func (m *Machine) FlagMalicious(voter common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.malicious[voter] {
		m.malicious[voter] = true
		log.Warnf("pbft: flagged %s as malicious for period %d", voter, m.period)
	}
}

// IsMalicious reports whether voter has been flagged this period.
func (m *Machine) IsMalicious(voter common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.malicious[voter]
}
