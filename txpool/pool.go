// Package txpool implements the node's transaction pool (spec §4.D):
// unverified/verified queues, nonce-ordered packing, and backpressure.
package txpool

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/shared/errs"
	"github.com/taraxa-go/taraxa-node/storage"
	"github.com/taraxa-go/taraxa-node/types"
)

var log = logrus.WithField("prefix", "txpool")

// Config holds the pool's backpressure thresholds and worker count.
type Config struct {
	ChainID       uint64
	WarnThreshold int
	DropThreshold int
	Workers       int
}

// Pool is the node's transaction pool. All exported methods are safe for
// concurrent use.
type Pool struct {
	cfg   Config
	store *storage.Store

	mu               sync.Mutex
	unverified       map[common.Hash]*types.Transaction
	verified         map[common.Hash]*types.Transaction
	verifiedBySender map[common.Address][]common.Hash

	work     chan common.Hash
	accepted chan common.Hash

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a pool backed by store.
func New(cfg Config, store *storage.Store) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DropThreshold <= 0 {
		cfg.DropThreshold = 1
	}
	return &Pool{
		cfg:              cfg,
		store:            store,
		unverified:       make(map[common.Hash]*types.Transaction),
		verified:         make(map[common.Hash]*types.Transaction),
		verifiedBySender: make(map[common.Address][]common.Hash),
		work:             make(chan common.Hash, cfg.DropThreshold),
		accepted:         make(chan common.Hash, 1024),
		stopCh:           make(chan struct{}),
	}
}

// Accepted returns a channel of transaction hashes newly admitted to the
// pool, consumed by the gossip layer. Only transactions that have passed
// verification are emitted on it (the pool never gossips an unverified
// transaction).
func (p *Pool) Accepted() <-chan common.Hash {
	return p.accepted
}

// Size returns the current number of pooled transactions, unverified and
// verified combined.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.unverified) + len(p.verified)
}

func (p *Pool) sizeLocked() int {
	return len(p.unverified) + len(p.verified)
}

// statusLocked returns hash's entry in the persisted transaction_status
// column and whether one exists.
func (p *Pool) statusLocked(hash common.Hash) (encodedStatus, bool, error) {
	b, err := p.store.Get(storage.ColTransactionStatus, hash[:])
	if err != nil || b == nil {
		return encodedStatus{}, false, err
	}
	s, err := decodeStatus(b)
	return s, true, err
}

// IsFinalized reports whether hash's persisted transaction_status is
// already finalized, for callers outside this package (the executor)
// that must reject a hash finalizing a second time (spec §4.H step 1,
// invariant 1: no transaction finalized twice).
func (p *Pool) IsFinalized(hash common.Hash) (bool, error) {
	b, err := p.store.Get(storage.ColTransactionStatus, hash[:])
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, nil
	}
	s, err := decodeStatus(b)
	if err != nil {
		return false, err
	}
	return s.Status == StatusFinalized, nil
}

// Insert admits tx to the pool. If verified is true the transaction
// skips the unverified queue (e.g. already checked by the caller).
// Duplicates, by transaction_status, are rejected silently (false, nil).
func (p *Pool) Insert(tx *types.Transaction, verified bool) (bool, error) {
	hash, err := tx.Hash()
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, known, err := p.statusLocked(hash); err != nil {
		return false, err
	} else if known {
		return false, nil
	}

	if p.sizeLocked() >= p.cfg.DropThreshold {
		return false, errs.New(errs.QueueFull, "txpool: pool at drop threshold %d", p.cfg.DropThreshold)
	}
	if p.sizeLocked() >= p.cfg.WarnThreshold {
		log.Warnf("pool size %d at or above warn threshold %d", p.sizeLocked(), p.cfg.WarnThreshold)
	}

	enc, err := tx.EncodeRLP()
	if err != nil {
		return false, err
	}
	status := StatusUnverified
	if verified {
		status = StatusVerified
	}
	if err := p.store.WriteBatch([]storage.Op{
		storage.Put(storage.ColTransactions, hash[:], enc),
		storage.Put(storage.ColTransactionStatus, hash[:], encodeStatus(encodedStatus{Status: status})),
	}); err != nil {
		return false, err
	}

	if verified {
		p.admitVerifiedLocked(hash, tx)
		p.emitAccepted(hash)
	} else {
		p.unverified[hash] = tx
		p.enqueueWork(hash)
	}
	return true, nil
}

// enqueueWork hands hash to the verification workers, dropping it with a
// warning if the work channel is saturated (the drop-threshold check in
// Insert/InsertBroadcast already bounds how large this can get).
func (p *Pool) enqueueWork(hash common.Hash) {
	select {
	case p.work <- hash:
	default:
		log.Warn("verification work channel full, dropping enqueue notification")
	}
}

func (p *Pool) admitVerifiedLocked(hash common.Hash, tx *types.Transaction) {
	p.verified[hash] = tx
	sender, err := tx.Sender()
	if err != nil {
		return
	}
	list := p.verifiedBySender[sender]
	idx := sort.Search(len(list), func(i int) bool {
		other := p.verified[list[i]]
		return other == nil || other.Nonce >= tx.Nonce
	})
	list = append(list, common.Hash{})
	copy(list[idx+1:], list[idx:])
	list[idx] = hash
	p.verifiedBySender[sender] = list
}

func (p *Pool) emitAccepted(hash common.Hash) {
	select {
	case p.accepted <- hash:
	default:
		log.Warn("accepted-event channel full, dropping gossip notification")
	}
}

// InsertBroadcast admits a batch of unverified transactions in a single
// atomic write, skipping any already known by transaction_status, and
// returns the number newly admitted.
func (p *Pool) InsertBroadcast(batch []*types.Transaction) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ops []storage.Op
	admitted := 0
	type pending struct {
		hash common.Hash
		tx   *types.Transaction
	}
	var newlyUnverified []pending

	for _, tx := range batch {
		hash, err := tx.Hash()
		if err != nil {
			return admitted, err
		}
		if _, known, err := p.statusLocked(hash); err != nil {
			return admitted, err
		} else if known {
			continue
		}
		if p.sizeLocked()+admitted >= p.cfg.DropThreshold {
			break
		}
		enc, err := tx.EncodeRLP()
		if err != nil {
			return admitted, err
		}
		ops = append(ops,
			storage.Put(storage.ColTransactions, hash[:], enc),
			storage.Put(storage.ColTransactionStatus, hash[:], encodeStatus(encodedStatus{Status: StatusUnverified})),
		)
		newlyUnverified = append(newlyUnverified, pending{hash, tx})
		admitted++
	}
	if len(ops) == 0 {
		return 0, nil
	}
	if err := p.store.WriteBatch(ops); err != nil {
		return 0, err
	}
	for _, pend := range newlyUnverified {
		p.unverified[pend.hash] = pend.tx
		p.enqueueWork(pend.hash)
	}
	return admitted, nil
}

// Pack drains up to max verified transactions grouped by sender and
// sorted by ascending nonce, atomically transitioning their status to
// in-block.
func (p *Pool) Pack(max int) ([]*types.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	senders := make([]common.Address, 0, len(p.verifiedBySender))
	for s := range p.verifiedBySender {
		senders = append(senders, s)
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i].Cmp(senders[j]) < 0 })

	var out []*types.Transaction
	var ops []storage.Op
	for _, sender := range senders {
		if len(out) >= max {
			break
		}
		for _, hash := range p.verifiedBySender[sender] {
			if len(out) >= max {
				break
			}
			tx, ok := p.verified[hash]
			if !ok {
				continue
			}
			out = append(out, tx)
			ops = append(ops, storage.Put(storage.ColTransactionStatus, hash[:], encodeStatus(encodedStatus{Status: StatusInBlock})))
		}
	}
	if len(ops) == 0 {
		return out, nil
	}
	if err := p.store.WriteBatch(ops); err != nil {
		return nil, err
	}
	for _, tx := range out {
		hash, _ := tx.Hash()
		delete(p.verified, hash)
		sender, err := tx.Sender()
		if err != nil {
			continue
		}
		list := p.verifiedBySender[sender]
		for i, h := range list {
			if h == hash {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(p.verifiedBySender, sender)
		} else {
			p.verifiedBySender[sender] = list
		}
	}
	return out, nil
}

// FinalizeOps builds the transaction_status writes for a committed
// period's transaction list, without performing any I/O itself, so the
// executor can fold them into the single atomic write_batch spec §4.C's
// store invariant requires alongside period_data, dag_block_period, and
// pbft_head.
func FinalizeOps(period uint64, hashes []common.Hash) []storage.Op {
	ops := make([]storage.Op, 0, len(hashes))
	for i, h := range hashes {
		ops = append(ops, storage.Put(storage.ColTransactionStatus, h[:],
			encodeStatus(encodedStatus{Status: StatusFinalized, Period: period, Position: uint32(i)})))
	}
	return ops
}

// RemoveFinalized transitions every transaction in the batch from
// in-block to finalized(period, position) in its own write_batch. Kept
// for callers outside the executor's single-commit path; the executor
// itself uses FinalizeOps directly so the transition lands in the same
// atomic batch as the rest of the period commit.
func (p *Pool) RemoveFinalized(period uint64, hashes []common.Hash) error {
	ops := FinalizeOps(period, hashes)
	if len(ops) == 0 {
		return nil
	}
	return p.store.WriteBatch(ops)
}

// Stop signals all verification workers to exit and waits for them.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}
