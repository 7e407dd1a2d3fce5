package node

import (
	"time"

	"github.com/taraxa-go/taraxa-node/dag"
	"github.com/taraxa-go/taraxa-node/network"
	"github.com/taraxa-go/taraxa-node/pbft"
	"github.com/taraxa-go/taraxa-node/storage"
	"github.com/taraxa-go/taraxa-node/txpool"
)

// pbftTickInterval is how often the round timer advances; fine enough to
// resolve a lambda_min of a couple seconds without busy-looping.
const pbftTickInterval = 100 * time.Millisecond

// poolService adapts txpool.Pool's lifecycle to shared.Service, starting
// its fixed-size verification worker pool and stopping it cleanly.
type poolService struct {
	pool *txpool.Pool
}

func (s *poolService) Start()      { s.pool.StartWorkers() }
func (s *poolService) Stop() error { s.pool.Stop(); return nil }
func (s *poolService) Status() error {
	return nil
}

// pbftService drives pbft.Machine's round timer on a fixed tick, since the
// machine itself is purely reactive (spec §4.F: "driven externally by a
// ticker").
type pbftService struct {
	machine *pbft.Machine

	stopCh  chan struct{}
	doneCh  chan struct{}
	lastErr error
}

func newPbftService(machine *pbft.Machine, chain ChainConfig) *pbftService {
	return &pbftService{
		machine: machine,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (s *pbftService) Start() {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(pbftTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case now := <-ticker.C:
				if err := s.machine.Tick(now); err != nil {
					log.WithError(err).Warn("pbft tick failed")
					s.lastErr = err
				}
			}
		}
	}()
}

func (s *pbftService) Stop() error {
	close(s.stopCh)
	<-s.doneCh
	return nil
}

func (s *pbftService) Status() error { return s.lastErr }

// networkService drives network.Dispatcher's stall-detection reselection
// loop; HandlePacket itself is invoked directly by the transport (out of
// scope here, see PeerIO) rather than by this service.
type networkService struct {
	disp   *network.Dispatcher
	dagMgr *dag.Manager
	store  *storage.Store

	stopCh  chan struct{}
	doneCh  chan struct{}
	lastErr error
}

func newNetworkService(disp *network.Dispatcher, dagMgr *dag.Manager, store *storage.Store) *networkService {
	return &networkService{
		disp:   disp,
		dagMgr: dagMgr,
		store:  store,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (s *networkService) Start() {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				localPeriod, err := s.store.PbftChainSize()
				if err != nil {
					s.lastErr = err
					continue
				}
				if err := s.disp.Reselect(s.dagMgr.MaxLevel(), localPeriod); err != nil {
					log.WithError(err).Debug("sync reselection found no candidate")
				}
			}
		}
	}()
}

func (s *networkService) Stop() error {
	close(s.stopCh)
	<-s.doneCh
	return nil
}

func (s *networkService) Status() error { return s.lastErr }

// loopbackIO is the PeerIO used when no real transport is wired in: it
// records that delivery was attempted and drops the payload. A production
// deployment supplies its own PeerIO backed by an actual network stack;
// wiring one is explicitly out of scope here (spec §11).
type loopbackIO struct{}

func newLoopbackIO() *loopbackIO { return &loopbackIO{} }

func (l *loopbackIO) Send(peerID string, typ network.PacketType, payload []byte) error {
	log.WithFields(map[string]interface{}{
		"peer": peerID,
		"type": typ,
		"size": len(payload),
	}).Trace("no transport wired, dropping outbound packet")
	return nil
}
