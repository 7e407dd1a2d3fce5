package network

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/crypto"
	"github.com/taraxa-go/taraxa-node/crypto/vrf"
	"github.com/taraxa-go/taraxa-node/dag"
	"github.com/taraxa-go/taraxa-node/executor"
	"github.com/taraxa-go/taraxa-node/pbft"
	"github.com/taraxa-go/taraxa-node/shared/errs"
	"github.com/taraxa-go/taraxa-node/storage"
	"github.com/taraxa-go/taraxa-node/txpool"
	"github.com/taraxa-go/taraxa-node/types"
	"github.com/taraxa-go/taraxa-node/votemgr"
)

// fakeIO records every packet a test dispatcher sends, instead of moving
// any bytes, standing in for the real transport (spec §11: transport is
// out of scope, only the PeerIO seam is exercised here).
type fakeIO struct {
	mu   sync.Mutex
	sent []sentPacket
}

type sentPacket struct {
	peerID string
	typ    PacketType
	raw    []byte
}

func (f *fakeIO) Send(peerID string, typ PacketType, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPacket{peerID: peerID, typ: typ, raw: payload})
	return nil
}

func (f *fakeIO) last() (sentPacket, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentPacket{}, false
	}
	return f.sent[len(f.sent)-1], true
}

func (f *fakeIO) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func noopTransition(period uint64, txs []*types.Transaction) (common.Hash, [][]byte, uint64, error) {
	return common.Hash{}, nil, 0, nil
}

type harness struct {
	io     *fakeIO
	disp   *Dispatcher
	dagMgr *dag.Manager
	cfg    Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	dagMgr := dag.New(dag.Config{}, s)
	genesis := &types.DAGBlock{Pivot: common.ZeroHash, Level: 0}
	if err := dagMgr.Admit(genesis, ""); err != nil {
		t.Fatalf("admit genesis: %v", err)
	}

	pool := txpool.New(txpool.Config{ChainID: 1, WarnThreshold: 1000, DropThreshold: 2000}, s)
	t.Cleanup(pool.Stop)

	votes := votemgr.New(votemgr.Config{RetainBack: 5, AcceptAheadRounds: 5}, s)

	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("crypto.GenerateKey: %v", err)
	}
	vrfPriv, _, err := vrf.GenerateKey()
	if err != nil {
		t.Fatalf("vrf.GenerateKey: %v", err)
	}

	var machine *pbft.Machine
	exec := executor.New(s, pool, dagMgr, noopTransition)
	machine = pbft.New(pbft.Config{LambdaMsMin: 1, LambdaMsMax: 2, Threshold: 1, Voters: 1}, s, votes, dagMgr, priv, vrfPriv, common.ZeroHash, exec.Commit, nil)

	cfg := Config{
		NetID: 7, GenesisHash: common.Hash{0xAB}, ProtoVersion: 1,
		AdmissionWindow: time.Minute, ProcessingBudget: time.Second, QueueBound: 64,
		MaxOffenses: 3, BlacklistTimeout: time.Hour,
		DeepSyncThreshold: 10, StallTimeout: time.Minute,
	}
	io := &fakeIO{}
	disp := New(cfg, io, pool, dagMgr, votes, machine, exec)
	return &harness{io: io, disp: disp, dagMgr: dagMgr, cfg: cfg}
}

func statusPacketFor(h *harness) []byte {
	enc, _ := (&StatusPacket{NetID: h.cfg.NetID, GenesisHash: h.cfg.GenesisHash, ProtoVersion: h.cfg.ProtoVersion}).encode()
	return enc
}

func TestHandlePacketRejectsNonStatusBeforeHandshake(t *testing.T) {
	h := newHarness(t)
	enc, _ := (&NewBlockHashPacket{Hash: common.Hash{0x01}}).encode()
	err := h.disp.HandlePacket("peer1", PacketNewBlockHash, enc, time.Microsecond)
	if !errs.Is(err, errs.PeerMisbehavior) {
		t.Fatalf("expected PeerMisbehavior, got %v", err)
	}
}

func TestHandlePacketStatusHandshakeSucceeds(t *testing.T) {
	h := newHarness(t)
	if err := h.disp.HandlePacket("peer1", PacketStatus, statusPacketFor(h), time.Microsecond); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	peer, ok := h.disp.peers.Get("peer1")
	if !ok || peer.Status() == nil {
		t.Fatalf("expected peer1 to have recorded Status")
	}
}

func TestHandlePacketStatusVersionMismatch(t *testing.T) {
	h := newHarness(t)
	enc, _ := (&StatusPacket{NetID: h.cfg.NetID + 1, GenesisHash: h.cfg.GenesisHash, ProtoVersion: h.cfg.ProtoVersion}).encode()
	err := h.disp.HandlePacket("peer1", PacketStatus, enc, time.Microsecond)
	if !errs.Is(err, errs.VersionMismatch) {
		t.Fatalf("expected VersionMismatch, got %v", err)
	}
}

func TestHandlePacketAdmissionControlDropsAndBlacklists(t *testing.T) {
	h := newHarness(t)
	// The Status handshake takes one of the two queue slots.
	h.cfg.QueueBound = 2
	h.cfg.MaxOffenses = 1
	h.disp.cfg = h.cfg

	if err := h.disp.HandlePacket("peer1", PacketStatus, statusPacketFor(h), time.Microsecond); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	enc, _ := (&NewBlockHashPacket{Hash: common.Hash{0x01}}).encode()
	if err := h.disp.HandlePacket("peer1", PacketNewBlockHash, enc, time.Microsecond); err != nil {
		t.Fatalf("first packet under bound: %v", err)
	}
	err := h.disp.HandlePacket("peer1", PacketNewBlockHash, enc, time.Microsecond)
	if !errs.Is(err, errs.QueueFull) {
		t.Fatalf("expected QueueFull, got %v", err)
	}
	peer, _ := h.disp.peers.Get("peer1")
	if !peer.Blacklisted() {
		t.Fatalf("expected peer1 to be blacklisted after exceeding max offenses")
	}
}

func TestHandleNewBlockHashRequestsUnknownBlock(t *testing.T) {
	h := newHarness(t)
	if err := h.disp.HandlePacket("peer1", PacketStatus, statusPacketFor(h), time.Microsecond); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	unknown := common.Hash{0x42}
	enc, _ := (&NewBlockHashPacket{Hash: unknown}).encode()
	if err := h.disp.HandlePacket("peer1", PacketNewBlockHash, enc, time.Microsecond); err != nil {
		t.Fatalf("handleNewBlockHash: %v", err)
	}
	last, ok := h.io.last()
	if !ok || last.typ != PacketGetNewBlock {
		t.Fatalf("expected a GetNewBlock request to be sent, got %+v ok=%v", last, ok)
	}
}

func TestHandleNewBlockHashSkipsKnownBlock(t *testing.T) {
	h := newHarness(t)
	if err := h.disp.HandlePacket("peer1", PacketStatus, statusPacketFor(h), time.Microsecond); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	genesis := &types.DAGBlock{Pivot: common.ZeroHash, Level: 0}
	hash, _ := genesis.Hash()
	enc, _ := (&NewBlockHashPacket{Hash: hash}).encode()
	before := h.io.count()
	if err := h.disp.HandlePacket("peer1", PacketNewBlockHash, enc, time.Microsecond); err != nil {
		t.Fatalf("handleNewBlockHash: %v", err)
	}
	if h.io.count() != before {
		t.Fatalf("expected no request for an already-known block")
	}
}

func TestHandleGetNewBlockServesKnownBlock(t *testing.T) {
	h := newHarness(t)
	if err := h.disp.HandlePacket("peer1", PacketStatus, statusPacketFor(h), time.Microsecond); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	genesis := &types.DAGBlock{Pivot: common.ZeroHash, Level: 0}
	hash, _ := genesis.Hash()
	enc, _ := (&GetNewBlockPacket{Hash: hash}).encode()
	if err := h.disp.HandlePacket("peer1", PacketGetNewBlock, enc, time.Microsecond); err != nil {
		t.Fatalf("handleGetNewBlock: %v", err)
	}
	last, ok := h.io.last()
	if !ok || last.typ != PacketNewBlock {
		t.Fatalf("expected a NewBlock response, got %+v ok=%v", last, ok)
	}
}

func TestHandleGetNewBlockIgnoresUnknownHash(t *testing.T) {
	h := newHarness(t)
	if err := h.disp.HandlePacket("peer1", PacketStatus, statusPacketFor(h), time.Microsecond); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	enc, _ := (&GetNewBlockPacket{Hash: common.Hash{0x99}}).encode()
	before := h.io.count()
	if err := h.disp.HandlePacket("peer1", PacketGetNewBlock, enc, time.Microsecond); err != nil {
		t.Fatalf("handleGetNewBlock: %v", err)
	}
	if h.io.count() != before {
		t.Fatalf("expected no response for an unknown block hash")
	}
}

func TestHandleDagSyncRequestServesRange(t *testing.T) {
	h := newHarness(t)
	if err := h.disp.HandlePacket("peer1", PacketStatus, statusPacketFor(h), time.Microsecond); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	enc, _ := (&DagSyncRequestPacket{LevelStart: 0, LevelEnd: 0}).encode()
	if err := h.disp.HandlePacket("peer1", PacketDagSyncRequest, enc, time.Microsecond); err != nil {
		t.Fatalf("handleDagSyncRequest: %v", err)
	}
	last, ok := h.io.last()
	if !ok || last.typ != PacketDagSyncResponse {
		t.Fatalf("expected a DagSyncResponse, got %+v ok=%v", last, ok)
	}
	resp, err := decodeDagSyncResponsePacket(last.raw)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Blocks) != 1 {
		t.Fatalf("expected genesis to be served, got %d blocks", len(resp.Blocks))
	}
}

func TestHandleTransactionInsertsIntoPool(t *testing.T) {
	h := newHarness(t)
	if err := h.disp.HandlePacket("peer1", PacketStatus, statusPacketFor(h), time.Microsecond); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("crypto.GenerateKey: %v", err)
	}
	tx := &types.Transaction{ChainID: 1, Nonce: 0, GasPrice: big.NewInt(1), GasLimit: 21000, Value: big.NewInt(0)}
	if _, err := tx.Sign(priv); err != nil {
		t.Fatalf("tx.Sign: %v", err)
	}
	enc, _ := (&TransactionPacket{Transactions: []*types.Transaction{tx}}).encode()
	if err := h.disp.HandlePacket("peer1", PacketTransaction, enc, time.Microsecond); err != nil {
		t.Fatalf("handleTransaction: %v", err)
	}
}

func TestBroadcastVoteSkipsPeersThatAlreadyKnow(t *testing.T) {
	h := newHarness(t)
	if err := h.disp.HandlePacket("peer1", PacketStatus, statusPacketFor(h), time.Microsecond); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	vrfPriv, vrfPub, err := vrf.GenerateKey()
	if err != nil {
		t.Fatalf("vrf.GenerateKey: %v", err)
	}
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("crypto.GenerateKey: %v", err)
	}
	v := &types.Vote{
		VoterPK: priv.Public().Bytes(), VrfPublicKey: vrfPub.Bytes(),
		BlockHash: common.Hash{0x01}, Type: types.VoteTypeCert, Round: 1, Step: 3,
	}
	proof, _ := vrf.Prove(vrfPriv, v.VrfMessage())
	v.VrfProof = proof
	if err := v.Sign(priv); err != nil {
		t.Fatalf("v.Sign: %v", err)
	}

	before := h.io.count()
	h.disp.BroadcastVote(v, nil)
	if h.io.count() != before+1 {
		t.Fatalf("expected exactly one peer to receive the vote")
	}
	h.disp.BroadcastVote(v, nil)
	if h.io.count() != before+1 {
		t.Fatalf("expected no re-send to a peer that already knows the vote")
	}
}

func TestHandleGetNextVotesEmptyRoundSendsNothing(t *testing.T) {
	h := newHarness(t)
	if err := h.disp.HandlePacket("peer1", PacketStatus, statusPacketFor(h), time.Microsecond); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	enc, _ := (&GetNextVotesPacket{Round: 99}).encode()
	before := h.io.count()
	if err := h.disp.HandlePacket("peer1", PacketGetNextVotes, enc, time.Microsecond); err != nil {
		t.Fatalf("handleGetNextVotes: %v", err)
	}
	if h.io.count() != before {
		t.Fatalf("expected no NextVotes response for an empty round")
	}
}

func TestUnknownPacketTypeIsMalformed(t *testing.T) {
	h := newHarness(t)
	if err := h.disp.HandlePacket("peer1", PacketStatus, statusPacketFor(h), time.Microsecond); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	err := h.disp.HandlePacket("peer1", PacketType(200), nil, time.Microsecond)
	if !errs.Is(err, errs.MalformedEncoding) {
		t.Fatalf("expected MalformedEncoding, got %v", err)
	}
}
