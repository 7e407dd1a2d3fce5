// Package network implements the node's packet dispatch, peer state, and
// sync orchestration (spec §4.I). It owns the peer set and the typed
// packet vocabulary but not the transport: callers supply a PeerIO to
// actually move bytes, since peer discovery and connection management sit
// outside this node's scope.
package network

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/dag"
	"github.com/taraxa-go/taraxa-node/executor"
	"github.com/taraxa-go/taraxa-node/pbft"
	"github.com/taraxa-go/taraxa-node/shared/errs"
	"github.com/taraxa-go/taraxa-node/txpool"
	"github.com/taraxa-go/taraxa-node/types"
	"github.com/taraxa-go/taraxa-node/votemgr"
)

var log = logrus.WithField("prefix", "network")

var (
	packetsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taraxa_network_packets_processed_total",
		Help: "Number of network packets processed, by type.",
	}, []string{"type"})
	packetsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taraxa_network_packets_dropped_total",
		Help: "Number of network packets dropped by admission control.",
	})
	peersBlacklisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taraxa_network_peers_blacklisted_total",
		Help: "Number of peers blacklisted for repeated misbehavior.",
	})
)

func init() {
	prometheus.MustRegister(packetsProcessed, packetsDropped, peersBlacklisted)
}

// Config carries the network subsystem's tunables (spec §4.I, §6
// `network` config section).
type Config struct {
	NetID        uint64
	GenesisHash  common.Hash
	ProtoVersion uint32

	AdmissionWindow  time.Duration
	ProcessingBudget time.Duration
	QueueBound       int
	MaxOffenses      int
	BlacklistTimeout time.Duration

	DeepSyncThreshold uint64        // periods behind before deep sync (spec §4.I)
	StallTimeout      time.Duration // no packet for this long while syncing triggers reselection
}

// PeerIO is the narrow transport surface the dispatcher needs: send one
// packet to one peer. Connection lifecycle, discovery, and framing below
// this point belong to the deployment's transport, not this package.
type PeerIO interface {
	Send(peerID string, typ PacketType, payload []byte) error
}

// Dispatcher wires the typed packet vocabulary to the node's collaborators
// (spec §4.I "Handlers hold references to collaborators rather than owning
// them"). It holds no transport of its own; HandlePacket is driven by
// whatever reads bytes off the wire and Broadcast/request helpers write
// back out through io.
type Dispatcher struct {
	cfg Config
	io  PeerIO

	peers    *PeerSet
	pool     *txpool.Pool
	dagMgr   *dag.Manager
	votes    *votemgr.Manager
	machine  *pbft.Machine
	executor *executor.Executor

	sync *syncState
}

// New creates a dispatcher over the node's collaborators. io is the
// transport adapter used to send outbound packets and requests.
func New(cfg Config, io PeerIO, pool *txpool.Pool, dagMgr *dag.Manager, votes *votemgr.Manager, machine *pbft.Machine, exec *executor.Executor) *Dispatcher {
	d := &Dispatcher{
		cfg: cfg, io: io,
		peers: NewPeerSet(), pool: pool, dagMgr: dagMgr, votes: votes, machine: machine, executor: exec,
	}
	d.sync = newSyncState(cfg.DeepSyncThreshold)
	dagMgr.OnMissingParent = d.requestBlock
	return d
}

// Connected registers a newly connected peer and sends it this node's
// Status.
func (d *Dispatcher) Connected(peerID string) error {
	d.peers.Add(peerID)
	return d.sendStatus(peerID)
}

// Disconnected drops a peer's state.
func (d *Dispatcher) Disconnected(peerID string) {
	d.peers.Remove(peerID)
}

func (d *Dispatcher) sendStatus(peerID string) error {
	status := &StatusPacket{
		NetID: d.cfg.NetID, GenesisHash: d.cfg.GenesisHash, ProtoVersion: d.cfg.ProtoVersion,
		DagLevel: d.dagMgr.MaxLevel(), PbftSize: d.machine.Period(), Round: d.machine.Round(),
	}
	enc, err := status.encode()
	if err != nil {
		return err
	}
	return d.io.Send(peerID, PacketStatus, enc)
}

func (d *Dispatcher) requestBlock(peerID string, hash common.Hash) {
	enc, err := (&GetNewBlockPacket{Hash: hash}).encode()
	if err != nil {
		log.WithError(err).Error("network: failed to encode GetNewBlock")
		return
	}
	if err := d.io.Send(peerID, PacketGetNewBlock, enc); err != nil {
		log.WithError(err).Warnf("network: failed to request block %s from %s", hash, peerID)
	}
}

// HandlePacket runs spec §4.I's admission control and Status-gating, then
// routes typ's payload to the matching handler. cost is the estimate of
// work this packet will take, charged against the peer's rolling
// processing-time window.
func (d *Dispatcher) HandlePacket(peerID string, typ PacketType, payload []byte, cost time.Duration) error {
	peer, ok := d.peers.Get(peerID)
	if !ok {
		peer = d.peers.Add(peerID)
	}
	if !peer.admit(cost, d.cfg) {
		packetsDropped.Inc()
		if peer.Blacklisted() {
			peersBlacklisted.Inc()
			log.Warnf("network: peer %s blacklisted for repeated misbehavior", peerID)
		}
		return errs.New(errs.QueueFull, "network: packet from %s dropped by admission control", peerID)
	}
	peer.Touch()
	d.sync.recordPacket(peerID)

	if typ != PacketStatus && peer.Status() == nil {
		return errs.New(errs.PeerMisbehavior, "network: peer %s sent %s before Status", peerID, typ)
	}

	packetsProcessed.WithLabelValues(typ.String()).Inc()

	switch typ {
	case PacketStatus:
		return d.handleStatus(peer, payload)
	case PacketNewBlock:
		return d.handleNewBlock(peer, payload)
	case PacketNewBlockHash:
		return d.handleNewBlockHash(peer, payload)
	case PacketGetNewBlock:
		return d.handleGetNewBlock(peer, payload)
	case PacketDagSyncRequest:
		return d.handleDagSyncRequest(peer, payload)
	case PacketDagSyncResponse:
		return d.handleDagSyncResponse(peer, payload)
	case PacketTransaction:
		return d.handleTransaction(peer, payload)
	case PacketVote:
		return d.handleVote(peer, payload)
	case PacketGetPbftSync:
		return d.handleGetPbftSync(peer, payload)
	case PacketPbftSync:
		return d.handlePbftSync(peer, payload)
	case PacketGetNextVotes:
		return d.handleGetNextVotes(peer, payload)
	case PacketNextVotes:
		return d.handleNextVotes(peer, payload)
	default:
		return errs.New(errs.MalformedEncoding, "network: unknown packet type %d from %s", typ, peerID)
	}
}

func (d *Dispatcher) handleStatus(peer *Peer, payload []byte) error {
	status, err := decodeStatusPacket(payload)
	if err != nil {
		return err
	}
	if status.NetID != d.cfg.NetID || status.GenesisHash != d.cfg.GenesisHash || status.ProtoVersion != d.cfg.ProtoVersion {
		return errs.New(errs.VersionMismatch, "network: peer %s status mismatch (net_id/genesis/version)", peer.ID)
	}
	peer.MarkStatus(status)
	d.sync.considerPeer(peer, d.dagMgr.MaxLevel(), d.machine.Period())
	return nil
}

func (d *Dispatcher) handleNewBlock(peer *Peer, payload []byte) error {
	p, err := decodeNewBlockPacket(payload)
	if err != nil {
		return err
	}
	if len(p.Transactions) > 0 {
		if _, err := d.pool.InsertBroadcast(p.Transactions); err != nil {
			return err
		}
	}
	hash, err := p.Block.Hash()
	if err != nil {
		return err
	}
	peer.KnowsBlock(hash)
	if err := d.dagMgr.Admit(p.Block, peer.ID); err != nil {
		return err
	}
	d.broadcastBlockHash(hash, peer.ID)
	return nil
}

func (d *Dispatcher) handleNewBlockHash(peer *Peer, payload []byte) error {
	p, err := decodeNewBlockHashPacket(payload)
	if err != nil {
		return err
	}
	peer.KnowsBlock(p.Hash)
	if d.dagMgr.Has(p.Hash) {
		return nil
	}
	d.requestBlock(peer.ID, p.Hash)
	return nil
}

func (d *Dispatcher) handleGetNewBlock(peer *Peer, payload []byte) error {
	p, err := decodeGetNewBlockPacket(payload)
	if err != nil {
		return err
	}
	block, ok := d.dagMgr.Block(p.Hash)
	if !ok {
		return nil // nothing to serve; not an error
	}
	enc, err := (&NewBlockPacket{Block: block}).encode()
	if err != nil {
		return err
	}
	return d.io.Send(peer.ID, PacketNewBlock, enc)
}

func (d *Dispatcher) handleDagSyncRequest(peer *Peer, payload []byte) error {
	p, err := decodeDagSyncRequestPacket(payload)
	if err != nil {
		return err
	}
	blocks, err := d.dagMgr.BlocksByLevelRange(p.LevelStart, p.LevelEnd)
	if err != nil {
		return err
	}
	enc, err := (&DagSyncResponsePacket{Blocks: blocks}).encode()
	if err != nil {
		return err
	}
	return d.io.Send(peer.ID, PacketDagSyncResponse, enc)
}

func (d *Dispatcher) handleDagSyncResponse(peer *Peer, payload []byte) error {
	p, err := decodeDagSyncResponsePacket(payload)
	if err != nil {
		return err
	}
	for _, b := range p.Blocks {
		if err := d.dagMgr.Admit(b, peer.ID); err != nil {
			log.WithError(err).Warnf("network: dag sync block from %s rejected", peer.ID)
		}
	}
	d.sync.markDagProgress(d.dagMgr.MaxLevel())
	return nil
}

func (d *Dispatcher) handleTransaction(peer *Peer, payload []byte) error {
	p, err := decodeTransactionPacket(payload)
	if err != nil {
		return err
	}
	for _, tx := range p.Transactions {
		if hash, err := tx.Hash(); err == nil {
			peer.KnowsTx(hash)
		}
	}
	_, err = d.pool.InsertBroadcast(p.Transactions)
	return err
}

func (d *Dispatcher) handleVote(peer *Peer, payload []byte) error {
	p, err := decodeVotePacket(payload)
	if err != nil {
		return err
	}
	if p.Vote.Type == types.VoteTypePropose && p.Block != nil {
		if err := d.machine.RecordProposal(p.Block); err != nil {
			return err
		}
	}
	threshold, voters := d.machine.SortitionParams()
	if err := d.votes.AddVote(p.Vote, threshold, voters); err != nil {
		if errs.Is(err, errs.Timeout) {
			return nil // outside the acceptance window, not misbehavior
		}
		return err
	}
	if hash, err := p.Vote.Hash(); err == nil {
		peer.KnowsVote(hash)
	}
	return nil
}

func (d *Dispatcher) handleGetPbftSync(peer *Peer, payload []byte) error {
	p, err := decodeGetPbftSyncPacket(payload)
	if err != nil {
		return err
	}
	size, err := d.executor.LatestPeriod()
	if err != nil {
		return err
	}
	for period := p.Period; period <= size; period++ {
		record, err := d.executor.ReadPeriod(period)
		if err != nil {
			return err
		}
		if record == nil {
			break
		}
		enc, err := (&PbftSyncPacket{Bundles: []*types.PeriodBundle{record.Bundle}, IsFinal: period == size}).encode()
		if err != nil {
			return err
		}
		if err := d.io.Send(peer.ID, PacketPbftSync, enc); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) handlePbftSync(peer *Peer, payload []byte) error {
	p, err := decodePbftSyncPacket(payload)
	if err != nil {
		return err
	}
	for _, bundle := range p.Bundles {
		if err := d.machine.RecordProposal(bundle.PbftBlock); err != nil {
			return err
		}
		if err := d.executor.CommitAndApply(bundle); err != nil {
			return err
		}
	}
	if p.IsFinal {
		d.sync.markPbftCaughtUp()
	}
	return nil
}

func (d *Dispatcher) handleGetNextVotes(peer *Peer, payload []byte) error {
	p, err := decodeGetNextVotesPacket(payload)
	if err != nil {
		return err
	}
	votes := d.votes.VotesForRound(p.Round, types.VoteTypeNext)
	if len(votes) == 0 {
		return nil
	}
	enc, err := (&NextVotesPacket{Votes: votes}).encode()
	if err != nil {
		return err
	}
	return d.io.Send(peer.ID, PacketNextVotes, enc)
}

func (d *Dispatcher) handleNextVotes(peer *Peer, payload []byte) error {
	p, err := decodeNextVotesPacket(payload)
	if err != nil {
		return err
	}
	threshold, voters := d.machine.SortitionParams()
	for _, v := range p.Votes {
		if err := d.votes.AddVote(v, threshold, voters); err != nil && !errs.Is(err, errs.Timeout) {
			log.WithError(err).Debugf("network: next vote from %s rejected", peer.ID)
		}
	}
	return nil
}

// broadcastBlockHash announces hash to every connected peer that has not
// already seen it, except the one it arrived from.
func (d *Dispatcher) broadcastBlockHash(hash common.Hash, from string) {
	enc, err := (&NewBlockHashPacket{Hash: hash}).encode()
	if err != nil {
		log.WithError(err).Error("network: failed to encode NewBlockHash")
		return
	}
	for _, peer := range d.peers.All() {
		if peer.ID == from || peer.KnowsBlock(hash) {
			continue
		}
		if err := d.io.Send(peer.ID, PacketNewBlockHash, enc); err != nil {
			log.WithError(err).Debugf("network: failed to announce block to %s", peer.ID)
		}
	}
}

// BroadcastVote gossips v (and, for propose-step votes, the pbft_block it
// names) to every connected peer that has not already seen it.
func (d *Dispatcher) BroadcastVote(v *types.Vote, block *types.PbftBlock) {
	hash, err := v.Hash()
	if err != nil {
		log.WithError(err).Error("network: failed to hash vote for broadcast")
		return
	}
	enc, err := (&VotePacket{Vote: v, Block: block}).encode()
	if err != nil {
		log.WithError(err).Error("network: failed to encode vote for broadcast")
		return
	}
	for _, peer := range d.peers.All() {
		if peer.KnowsVote(hash) {
			continue
		}
		if err := d.io.Send(peer.ID, PacketVote, enc); err != nil {
			log.WithError(err).Debugf("network: failed to gossip vote to %s", peer.ID)
		}
	}
}

