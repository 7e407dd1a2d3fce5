// Package dag implements the node's DAG manager (spec §4.E): block
// admission, the pivot tree, GHOST-style pivot-chain selection, and
// deterministic anchor ordering.
package dag

import (
	"encoding/binary"
	"math/big"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/crypto/vdf"
	"github.com/taraxa-go/taraxa-node/crypto/vrf"
	"github.com/taraxa-go/taraxa-node/shared/errs"
	"github.com/taraxa-go/taraxa-node/storage"
	"github.com/taraxa-go/taraxa-node/types"
)

var log = logrus.WithField("prefix", "dag")

var admittedBlocks = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "taraxa_dag_blocks_admitted_total",
	Help: "Number of DAG blocks successfully admitted.",
})

var invalidBlocks = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "taraxa_dag_blocks_invalid_total",
	Help: "Number of DAG blocks rejected during admission.",
})

func init() {
	prometheus.MustRegister(admittedBlocks, invalidBlocks)
}

// Config carries the VDF parameters needed to validate a block's sealed
// difficulty proof.
type Config struct {
	Vdf vdf.Config
}

// RequestFn is called when admission discovers a parent the manager
// does not have locally; it should ask peer for hash.
type RequestFn func(peer string, hash common.Hash)

// InvalidFn is called when a block fails admission, so the caller can
// penalize the peer that forwarded it.
type InvalidFn func(peer string, hash common.Hash, err error)

// Manager owns the full DAG G = (V, E_pivot ∪ E_tips) and the pivot
// tree T = (V, E_pivot), reconstructible from the store on restart.
type Manager struct {
	store *storage.Store
	cfg   Config

	OnMissingParent RequestFn
	OnInvalid       InvalidFn

	mu       sync.RWMutex
	blocks   map[common.Hash]*types.DAGBlock
	state    map[common.Hash]blockState
	children map[common.Hash][]common.Hash // pivot-tree edges: pivot -> children
	maxLevel uint64

	pendingByMissing map[common.Hash][]pendingAdmission
}

type pendingAdmission struct {
	block *types.DAGBlock
	peer  string
}

// New creates an empty manager over store. Callers must Admit the
// genesis block before anything else.
func New(cfg Config, store *storage.Store) *Manager {
	return &Manager{
		store:            store,
		cfg:              cfg,
		blocks:           make(map[common.Hash]*types.DAGBlock),
		state:            make(map[common.Hash]blockState),
		children:         make(map[common.Hash][]common.Hash),
		pendingByMissing: make(map[common.Hash][]pendingAdmission),
	}
}

// Has reports whether hash is a known DAG block.
func (m *Manager) Has(hash common.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[hash]
	return ok
}

// Block returns a known DAG block.
func (m *Manager) Block(hash common.Hash) (*types.DAGBlock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[hash]
	return b, ok
}

// MaxLevel returns the highest level admitted so far, for advertising this
// node's DAG progress in a Status packet (spec §4.I).
func (m *Manager) MaxLevel() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxLevel
}

// Admit runs the admission pipeline of spec §4.E on b, received from
// peer (empty for locally-produced blocks).
func (m *Manager) Admit(b *types.DAGBlock, peer string) error {
	hash, err := b.Hash()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, known := m.blocks[hash]; known {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if b.IsGenesis() {
		return m.admitValidated(b, hash)
	}

	parents := append([]common.Hash{b.Pivot}, b.Tips...)
	var missing []common.Hash
	m.mu.RLock()
	for _, p := range parents {
		if _, ok := m.blocks[p]; !ok {
			missing = append(missing, p)
		}
	}
	m.mu.RUnlock()

	if len(missing) > 0 {
		m.mu.Lock()
		for _, p := range missing {
			m.pendingByMissing[p] = append(m.pendingByMissing[p], pendingAdmission{block: b, peer: peer})
		}
		m.mu.Unlock()
		for _, p := range missing {
			if m.OnMissingParent != nil {
				m.OnMissingParent(peer, p)
			}
		}
		return nil
	}

	if err := m.validate(b); err != nil {
		m.mu.Lock()
		m.state[hash] = stateInvalid
		m.mu.Unlock()
		invalidBlocks.Inc()
		if m.OnInvalid != nil {
			m.OnInvalid(peer, hash, err)
		}
		return err
	}

	if err := m.admitValidated(b, hash); err != nil {
		return err
	}
	m.redrive(hash)
	return nil
}

func (m *Manager) validate(b *types.DAGBlock) error {
	pivotBlock, ok := m.Block(b.Pivot)
	if !ok && !b.Pivot.IsZero() {
		return errs.New(errs.UnknownParent, "dag: pivot %s not found", b.Pivot)
	}
	var pivotLevel uint64
	if ok {
		pivotLevel = pivotBlock.Level
	}
	tipLevels := make([]uint64, 0, len(b.Tips))
	for _, t := range b.Tips {
		tb, ok := m.Block(t)
		if !ok {
			return errs.New(errs.UnknownParent, "dag: tip %s not found", t)
		}
		tipLevels = append(tipLevels, tb.Level)
	}
	if err := b.ValidateLevel(pivotLevel, tipLevels); err != nil {
		return err
	}
	if _, err := b.Sender(); err != nil {
		return errs.Wrap(errs.InvalidSignature, err)
	}
	return m.verifyVdf(b)
}

// sealMessage binds the VRF/VDF proofs to the pivot hash, so a solution
// computed against one fork cannot be replayed onto another (spec §4.B).
func sealMessage(pivot common.Hash) []byte {
	return pivot.Bytes()
}

func (m *Manager) verifyVdf(b *types.DAGBlock) error {
	vrfPub, err := vrf.PublicKeyFromBytes(b.Vdf.VrfPublicKey)
	if err != nil {
		return errs.Wrap(errs.InvalidProof, err)
	}
	msg := sealMessage(b.Pivot)
	var proof vrf.Proof
	copy(proof[:], b.Vdf.VrfProof[:])
	output, err := vrf.Verify(vrfPub, proof, msg)
	if err != nil {
		return err
	}
	wantDifficulty := m.cfg.Vdf.SelectDifficulty(output[0])
	if wantDifficulty != b.Vdf.Difficulty {
		return errs.New(errs.InvalidProof, "dag: block claims difficulty %d, sortition selects %d", b.Vdf.Difficulty, wantDifficulty)
	}
	out := vdf.Output{
		Y:     new(big.Int).SetBytes(b.Vdf.VdfY),
		Proof: new(big.Int).SetBytes(b.Vdf.VdfProof),
	}
	return vdf.Verify(msg, b.Vdf.Difficulty, m.cfg.Vdf.LambdaBound, out)
}

func (m *Manager) admitValidated(b *types.DAGBlock, hash common.Hash) error {
	enc, err := b.EncodeRLP()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	count, err := m.store.DagBlocksCount()
	if err != nil {
		return err
	}
	if err := m.store.WriteBatch([]storage.Op{
		storage.Put(storage.ColDAGBlocks, hash[:], enc),
		storage.Put(storage.ColDAGBlocksByLevel, levelKey(b.Level, hash), hash[:]),
		storage.Put(storage.ColDAGBlockState, hash[:], []byte{byte(statePending)}),
		storage.PutUint64(storage.ColStatus, []byte("dag_blocks_count"), count+1),
	}); err != nil {
		return err
	}

	m.blocks[hash] = b
	m.state[hash] = statePending
	if !b.IsGenesis() {
		m.children[b.Pivot] = append(m.children[b.Pivot], hash)
	}
	if b.Level > m.maxLevel {
		m.maxLevel = b.Level
	}

	admittedBlocks.Inc()
	log.Debugf("admitted dag block %s at level %d", hash, b.Level)
	return nil
}

// redrive re-attempts admission of every block that was waiting on
// hash, now that it is available.
func (m *Manager) redrive(hash common.Hash) {
	m.mu.Lock()
	waiting := m.pendingByMissing[hash]
	delete(m.pendingByMissing, hash)
	m.mu.Unlock()

	for _, p := range waiting {
		if err := m.Admit(p.block, p.peer); err != nil {
			log.WithError(err).Debug("dag: re-admission after parent arrival failed")
		}
	}
}

// subtreeSize returns 1 + the number of descendants of hash in the
// pivot tree.
func (m *Manager) subtreeSize(hash common.Hash) int {
	size := 1
	for _, c := range m.children[hash] {
		size += m.subtreeSize(c)
	}
	return size
}

// PivotChain walks the pivot tree from genesis, at each node choosing
// the child with the heaviest subtree (ties broken by the
// lexicographically smallest hash), returning the full chain from
// genesis to its tip (the proposed anchor candidate).
func (m *Manager) PivotChain(genesis common.Hash) []common.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := []common.Hash{genesis}
	cur := genesis
	for {
		children := m.children[cur]
		if len(children) == 0 {
			break
		}
		best := children[0]
		bestSize := m.subtreeSize(best)
		for _, c := range children[1:] {
			size := m.subtreeSize(c)
			if size > bestSize || (size == bestSize && c.Less(best)) {
				best, bestSize = c, size
			}
		}
		chain = append(chain, best)
		cur = best
	}
	return chain
}

// ancestors returns every ancestor of hash (including hash itself)
// reachable via pivot and tip edges, stopping at genesis.
func (m *Manager) ancestors(hash common.Hash) map[common.Hash]bool {
	seen := map[common.Hash]bool{}
	queue := []common.Hash{hash}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if seen[h] {
			continue
		}
		seen[h] = true
		b, ok := m.blocks[h]
		if !ok || b.IsGenesis() {
			continue
		}
		queue = append(queue, b.Pivot)
		queue = append(queue, b.Tips...)
	}
	return seen
}

// AnchorOrder computes the ordered past cone of anchor relative to
// prevAnchor: past(anchor) \ past(prevAnchor) \ finalized, sorted by
// ascending level then ascending hash, with anchor appended last
// (spec §4.E anchor ordering).
func (m *Manager) AnchorOrder(anchor, prevAnchor common.Hash) ([]common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.blocks[anchor]; !ok {
		return nil, errs.New(errs.UnknownParent, "dag: anchor %s not found", anchor)
	}

	excluded := m.ancestors(prevAnchor)
	cone := m.ancestors(anchor)

	type entry struct {
		hash  common.Hash
		level uint64
	}
	var entries []entry
	for h := range cone {
		if excluded[h] {
			continue
		}
		if m.state[h] == stateFinalized {
			continue
		}
		if h == anchor {
			continue
		}
		b, ok := m.blocks[h]
		if !ok {
			continue
		}
		entries = append(entries, entry{hash: h, level: b.Level})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].level != entries[j].level {
			return entries[i].level < entries[j].level
		}
		return entries[i].hash.Less(entries[j].hash)
	})

	out := make([]common.Hash, 0, len(entries)+1)
	for _, e := range entries {
		out = append(out, e.hash)
	}
	out = append(out, anchor)
	return out, nil
}

// MarkFinalized records that every hash in order is now part of a
// finalized period, persisting dag_block_period[h] = (period, pos) and
// the dag_block_state transition; it does not itself write period_data
// or transaction_status, which are the executor's responsibility as
// part of its single atomic commit (spec §4.C store invariant).
func (m *Manager) MarkFinalized(period uint64, order []common.Hash) []storage.Op {
	ops := make([]storage.Op, 0, len(order)*2)
	for pos, h := range order {
		ops = append(ops,
			storage.Put(storage.ColDAGBlockPeriod, h[:], encodeDagBlockPeriod(period, uint32(pos))),
			storage.Put(storage.ColDAGBlockState, h[:], []byte{byte(stateFinalized)}),
		)
	}
	m.mu.Lock()
	for _, h := range order {
		m.state[h] = stateFinalized
	}
	m.mu.Unlock()
	return ops
}

// BlocksByLevelRange returns every dag block with level in [start, end],
// in ascending (level, hash) order, for serving a peer's DagSync request
// (spec §4.I).
func (m *Manager) BlocksByLevelRange(start, end uint64) ([]*types.DAGBlock, error) {
	var out []*types.DAGBlock
	err := m.store.Iterate(storage.ColDAGBlocksByLevel, func(key, value []byte) bool {
		if len(key) < 8 {
			return true
		}
		level := binary.BigEndian.Uint64(key[:8])
		if level < start {
			return true
		}
		if level > end {
			return false
		}
		var hash common.Hash
		copy(hash[:], value)
		m.mu.RLock()
		b, ok := m.blocks[hash]
		m.mu.RUnlock()
		if !ok {
			return true
		}
		out = append(out, b)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func encodeDagBlockPeriod(period uint64, pos uint32) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint64(b[:8], period)
	binary.BigEndian.PutUint32(b[8:], pos)
	return b
}

// ProposalPeriodLevelsOp builds the write for a finalized period's
// (level_start, level_end) range, so VDF difficulty lookups by level
// stay O(log periods) instead of scanning every period (spec §4.E).
func ProposalPeriodLevelsOp(period uint64, levels types.ProposalPeriodLevels) storage.Op {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, period)
	val := make([]byte, 16)
	binary.BigEndian.PutUint64(val[:8], levels.LevelStart)
	binary.BigEndian.PutUint64(val[8:], levels.LevelEnd)
	return storage.Put(storage.ColProposalPeriodLevels, key, val)
}

// LevelsForPeriod reads back a period's recorded level range.
func LevelsForPeriod(store *storage.Store, period uint64) (types.ProposalPeriodLevels, bool, error) {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, period)
	v, err := store.Get(storage.ColProposalPeriodLevels, key)
	if err != nil || v == nil {
		return types.ProposalPeriodLevels{}, false, err
	}
	if len(v) != 16 {
		return types.ProposalPeriodLevels{}, false, errs.New(errs.DbCorruption, "dag: proposal_period_levels entry has bad width %d", len(v))
	}
	return types.ProposalPeriodLevels{
		LevelStart: binary.BigEndian.Uint64(v[:8]),
		LevelEnd:   binary.BigEndian.Uint64(v[8:]),
	}, true, nil
}

// PeriodForLevel does a binary search over periods [0, maxPeriod] to
// find which finalized period's range contains level, grounded on the
// original implementation's proposal_period_levels_map lookup.
func PeriodForLevel(store *storage.Store, maxPeriod uint64, level uint64) (uint64, bool, error) {
	lo, hi := uint64(0), maxPeriod
	for lo <= hi {
		mid := lo + (hi-lo)/2
		rng, ok, err := LevelsForPeriod(store, mid)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			if mid == 0 {
				break
			}
			hi = mid - 1
			continue
		}
		if rng.Contains(level) {
			return mid, true, nil
		}
		if level < rng.LevelStart {
			if mid == 0 {
				break
			}
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	return 0, false, nil
}
