// Package executor implements the node's period executor (spec §4.H):
// applying a committed PBFT period bundle's transactions to the external
// state transition function and persisting the result in one atomic
// write_batch, plus crash-recovery replay on startup.
package executor

import (
	"encoding/binary"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/dag"
	"github.com/taraxa-go/taraxa-node/shared/errs"
	"github.com/taraxa-go/taraxa-node/storage"
	"github.com/taraxa-go/taraxa-node/txpool"
	"github.com/taraxa-go/taraxa-node/types"
)

var log = logrus.WithField("prefix", "executor")

var periodsExecuted = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "taraxa_executor_periods_total",
	Help: "Number of periods applied by the executor.",
})

func init() {
	prometheus.MustRegister(periodsExecuted)
}

// StateTransitionFn is the external state transition this node does not
// itself interpret (spec §1 scope): given an ordered transaction list for
// a period, it returns the new state root, one receipt per transaction,
// and total gas used.
type StateTransitionFn func(period uint64, txs []*types.Transaction) (stateRoot common.Hash, receipts [][]byte, gasUsed uint64, err error)

const headKey = "head"

// Executor applies committed period bundles to the store. Its Commit
// method has the shape of pbft.ExecuteFn, so a Machine can call it
// directly as its commit callback.
type Executor struct {
	store      *storage.Store
	pool       *txpool.Pool
	dagMgr     *dag.Manager
	transition StateTransitionFn

	finalized chan *types.PeriodRecord
}

// New creates an executor over store, pulling finalized transactions'
// bodies back out of pool/store and marking dag blocks finalized through
// dagMgr.
func New(store *storage.Store, pool *txpool.Pool, dagMgr *dag.Manager, transition StateTransitionFn) *Executor {
	return &Executor{
		store: store, pool: pool, dagMgr: dagMgr, transition: transition,
		finalized: make(chan *types.PeriodRecord, 16),
	}
}

// Finalized returns a channel of newly committed period records, for
// downstream observers (spec §4.H step 4: "notify downstream observers of
// new finalized block, period, and transaction set").
func (e *Executor) Finalized() <-chan *types.PeriodRecord {
	return e.finalized
}

func periodKey(period uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, period)
	return b
}

// Commit assembles and applies the period for bundle: it gathers the
// transactions referenced by the bundle's dag blocks, runs the external
// state transition, and returns the full set of ops a single write_batch
// must apply (spec §4.C store invariant) to finalize the period. The
// caller (pbft.Machine) is responsible for committing the returned ops
// atomically.
func (e *Executor) Commit(bundle *types.PeriodBundle) ([]storage.Op, error) {
	period := bundle.PbftBlock.Period

	txs, err := e.gatherTransactions(bundle.DAGBlocks)
	if err != nil {
		return nil, err
	}

	stateRoot, receipts, gasUsed, err := e.transition(period, txs)
	if err != nil {
		return nil, err
	}

	record := &types.PeriodRecord{
		Bundle: &types.PeriodBundle{
			PbftBlock: bundle.PbftBlock, CertVotes: bundle.CertVotes,
			DAGBlocks: bundle.DAGBlocks, Transactions: txs,
		},
		StateRoot: stateRoot, Receipts: receipts, GasUsed: gasUsed,
	}
	recordEnc, err := record.EncodeRLP()
	if err != nil {
		return nil, err
	}
	blockHash, err := bundle.PbftBlock.Hash()
	if err != nil {
		return nil, err
	}

	order := make([]common.Hash, len(bundle.DAGBlocks))
	levelStart, levelEnd := ^uint64(0), uint64(0)
	for i, b := range bundle.DAGBlocks {
		h, err := b.Hash()
		if err != nil {
			return nil, err
		}
		order[i] = h
		if b.Level < levelStart {
			levelStart = b.Level
		}
		if b.Level > levelEnd {
			levelEnd = b.Level
		}
	}

	txHashes := make([]common.Hash, len(txs))
	for i, tx := range txs {
		h, err := tx.Hash()
		if err != nil {
			return nil, err
		}
		txHashes[i] = h
	}

	ops := []storage.Op{storage.Put(storage.ColPeriodData, periodKey(period), recordEnc)}
	ops = append(ops, e.dagMgr.MarkFinalized(period, order)...)
	ops = append(ops, dag.ProposalPeriodLevelsOp(period, types.ProposalPeriodLevels{LevelStart: levelStart, LevelEnd: levelEnd}))
	ops = append(ops, txpool.FinalizeOps(period, txHashes)...)
	for _, h := range order {
		ops = append(ops, storage.Del(storage.ColDAGBlocks, h[:]))
	}
	ops = append(ops, storage.Put(storage.ColPbftHead, []byte(headKey), blockHash[:]))
	ops = append(ops, storage.PutUint64(storage.ColStatus, []byte("pbft_chain_size"), period))
	ops = append(ops, storage.PutUint64(storage.ColStatus, []byte("executed_blk_count"), period))

	periodsExecuted.Inc()
	e.emit(record)
	return ops, nil
}

// CommitAndApply runs Commit and atomically writes the resulting ops in
// one call, for callers (the network sync path) that do not otherwise
// need to inspect the ops before committing them.
func (e *Executor) CommitAndApply(bundle *types.PeriodBundle) error {
	ops, err := e.Commit(bundle)
	if err != nil {
		return err
	}
	return e.store.WriteBatch(ops)
}

// LatestPeriod returns the highest period committed so far.
func (e *Executor) LatestPeriod() (uint64, error) {
	return e.store.PbftChainSize()
}

// ReadPeriod returns the period record stored for period, or nil if none
// has been committed yet, for serving a peer's GetPbftSync request.
func (e *Executor) ReadPeriod(period uint64) (*types.PeriodRecord, error) {
	raw, err := e.store.Get(storage.ColPeriodData, periodKey(period))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return types.DecodePeriodRecord(raw)
}

// gatherTransactions resolves the transaction bodies referenced by every
// dag block in order, deduplicating hashes that appear in more than one
// block, and rejects any transaction already recorded as finalized (spec
// §4.H step 1).
func (e *Executor) gatherTransactions(blocks []*types.DAGBlock) ([]*types.Transaction, error) {
	seen := make(map[common.Hash]bool)
	var out []*types.Transaction
	for _, b := range blocks {
		for _, h := range b.TrxHashes {
			if seen[h] {
				continue
			}
			seen[h] = true
			finalized, err := e.pool.IsFinalized(h)
			if err != nil {
				return nil, err
			}
			if finalized {
				return nil, errs.New(errs.StateMismatch, "executor: transaction %s already finalized", h)
			}
			raw, err := e.store.Get(storage.ColTransactions, h[:])
			if err != nil {
				return nil, err
			}
			if raw == nil {
				return nil, errs.New(errs.StateMismatch, "executor: transaction %s referenced by a dag block is not in the store", h)
			}
			tx, err := types.DecodeTransaction(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, tx)
		}
	}
	return out, nil
}

func (e *Executor) emit(record *types.PeriodRecord) {
	select {
	case e.finalized <- record:
	default:
		log.Warn("executor: finalized-period channel full, dropping notification")
	}
}

// Replay implements spec §4.H's crash recovery: if ExecutedBlkCount lags
// PbftChainSize, every already-committed period in between is re-read
// from period_data and re-notified to downstream observers, without
// re-running the state transition (its result was already persisted
// atomically alongside the period).
func (e *Executor) Replay() error {
	executed, err := e.store.ExecutedBlkCount()
	if err != nil {
		return err
	}
	size, err := e.store.PbftChainSize()
	if err != nil {
		return err
	}
	for p := executed + 1; p <= size; p++ {
		raw, err := e.store.Get(storage.ColPeriodData, periodKey(p))
		if err != nil {
			return err
		}
		if raw == nil {
			return errs.New(errs.DbCorruption, "executor: period_data missing for period %d during replay", p)
		}
		record, err := types.DecodePeriodRecord(raw)
		if err != nil {
			return err
		}
		e.emit(record)
		if err := e.store.WriteBatch([]storage.Op{
			storage.PutUint64(storage.ColStatus, []byte("executed_blk_count"), p),
		}); err != nil {
			return err
		}
		log.Infof("executor: replayed period %d during crash recovery", p)
	}
	return nil
}
