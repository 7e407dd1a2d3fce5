// Package node wires every component package into one running full node:
// storage, DAG, transaction pool, vote manager, PBFT, executor, and the
// network dispatcher, started and stopped as a shared.ServiceRegistry.
package node

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/dag"
	"github.com/taraxa-go/taraxa-node/executor"
	"github.com/taraxa-go/taraxa-node/network"
	"github.com/taraxa-go/taraxa-node/pbft"
	"github.com/taraxa-go/taraxa-node/shared"
	"github.com/taraxa-go/taraxa-node/shared/metrics"
	"github.com/taraxa-go/taraxa-node/storage"
	"github.com/taraxa-go/taraxa-node/txpool"
	"github.com/taraxa-go/taraxa-node/types"
	"github.com/taraxa-go/taraxa-node/votemgr"
)

var log = logrus.WithField("prefix", "node")

// Node owns one full node's lifecycle: construction, service startup,
// signal-driven shutdown.
type Node struct {
	cfg      Config
	services *shared.ServiceRegistry
	store    *storage.Store

	lock sync.RWMutex
	stop chan struct{}
}

// New validates cfg, opens storage, constructs and registers every
// component service, and runs the executor's crash-recovery replay. It does
// not start any of the services; call Start for that.
func New(cfg Config, keys *Keys, genesis *Genesis) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:      cfg,
		services: shared.NewServiceRegistry(),
		store:    store,
		stop:     make(chan struct{}),
	}

	dagMgr := dag.New(dag.Config{Vdf: genesis.Vdf}, store)
	genesisHash, err := bootstrapGenesis(dagMgr)
	if err != nil {
		return nil, err
	}

	pool := txpool.New(txpool.Config{
		ChainID:       cfg.Chain.ChainID,
		WarnThreshold: cfg.TransactionsPoolSize,
		DropThreshold: cfg.TransactionsPoolSize * 2,
		Workers:       cfg.Network.PacketsProcessingThreads,
	}, store)

	votes := votemgr.New(votemgr.Config{
		RetainBack:        cfg.Chain.DelegationDelay,
		AcceptAheadRounds: cfg.Chain.VoteAcceptingPeriods,
	}, store)

	exec := executor.New(store, pool, dagMgr, stateTransition)

	// machine's broadcast callback must reach the dispatcher, but the
	// dispatcher's constructor needs the machine: close the cycle with an
	// indirection cell set once disp exists below.
	var disp *network.Dispatcher
	broadcast := func(v *types.Vote) {
		if disp != nil {
			disp.BroadcastVote(v, nil)
		}
	}

	machine := pbft.New(pbft.Config{
		LambdaMsMin: 2000,
		LambdaMsMax: 20000,
		Threshold:   genesis.Dpos.SortitionThreshold,
		Voters:      genesis.Dpos.EligibleVoters,
	}, store, votes, dagMgr, keys.NodeKey, keys.VrfKey, genesisHash, exec.Commit, broadcast)

	netCfg := network.Config{
		NetID:             cfg.Network.NetworkID,
		GenesisHash:       genesisHash,
		ProtoVersion:      1,
		AdmissionWindow:   time.Minute,
		ProcessingBudget:  50 * time.Millisecond,
		QueueBound:        256,
		MaxOffenses:       5,
		BlacklistTimeout:  10 * time.Minute,
		DeepSyncThreshold: 10,
		StallTimeout:      30 * time.Second,
	}
	io := newLoopbackIO()
	disp = network.New(netCfg, io, pool, dagMgr, votes, machine, exec)

	if err := n.services.RegisterService(&poolService{pool: pool}); err != nil {
		return nil, err
	}
	if err := n.services.RegisterService(newPbftService(machine, cfg.Chain)); err != nil {
		return nil, err
	}
	if err := n.services.RegisterService(newNetworkService(disp, dagMgr, store)); err != nil {
		return nil, err
	}
	if cfg.Network.MonitoringAddr != "" {
		if err := n.services.RegisterService(metrics.New(cfg.Network.MonitoringAddr, n.services)); err != nil {
			return nil, err
		}
	}

	if err := exec.Replay(); err != nil {
		return nil, err
	}

	return n, nil
}

// bootstrapGenesis admits the single well-known genesis DAG block (pivot
// the zero hash, level 0) if it is not already present from a prior run,
// and returns its hash.
func bootstrapGenesis(dagMgr *dag.Manager) (common.Hash, error) {
	g := &types.DAGBlock{Pivot: common.ZeroHash, Level: 0}
	hash, err := g.Hash()
	if err != nil {
		return common.Hash{}, err
	}
	if dagMgr.Has(hash) {
		return hash, nil
	}
	if err := dagMgr.Admit(g, ""); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// stateTransition is the placeholder EVM-less state transition: the
// specified system moves value between accounts via plain transfers, with
// no smart-contract semantics, so there is no bytecode to execute here.
func stateTransition(period uint64, txs []*types.Transaction) (common.Hash, [][]byte, uint64, error) {
	return common.ZeroHash, nil, 0, nil
}

// Start starts every registered service and blocks until a termination
// signal arrives. Crash recovery (the executor's Replay) already ran in New.
func (n *Node) Start() error {
	n.lock.Lock()
	log.Info("starting node")
	n.services.StartAll()
	stop := n.stop
	n.lock.Unlock()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	go func() {
		<-sigc
		log.Info("received interrupt, shutting down")
		n.Close()
	}()

	<-stop
	return nil
}

// Close stops every registered service and closes storage.
func (n *Node) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	select {
	case <-n.stop:
		return // already closed
	default:
	}

	n.services.StopAll()
	if err := n.store.Close(); err != nil {
		log.WithError(err).Error("failed to close store")
	}
	log.Info("node stopped")
	close(n.stop)
}
