package pbft

import (
	"testing"
	"time"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/crypto"
	"github.com/taraxa-go/taraxa-node/crypto/vdf"
	"github.com/taraxa-go/taraxa-node/crypto/vrf"
	"github.com/taraxa-go/taraxa-node/dag"
	"github.com/taraxa-go/taraxa-node/storage"
	"github.com/taraxa-go/taraxa-node/types"
	"github.com/taraxa-go/taraxa-node/votemgr"
)

const maxThreshold = ^uint64(0)

type testHarness struct {
	m         *Machine
	dagMgr    *dag.Manager
	dagCfg    dag.Config
	genesis   common.Hash
	committed []*types.PeriodBundle
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	return newTestHarnessWithVoters(t, 1)
}

func newTestHarnessWithVoters(t *testing.T, voters uint64) *testHarness {
	t.Helper()
	s, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	dagCfg := dag.Config{Vdf: vdf.Config{
		DifficultySelection: 255, DifficultyMin: 1, DifficultyMax: 2, DifficultyStale: 1, LambdaBound: 16,
	}}
	dagMgr := dag.New(dagCfg, s)
	genesis := &types.DAGBlock{Pivot: common.ZeroHash, Level: 0}
	if err := dagMgr.Admit(genesis, ""); err != nil {
		t.Fatalf("Admit genesis: %v", err)
	}
	genesisHash, err := genesis.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	votes := votemgr.New(votemgr.Config{RetainBack: 1000, AcceptAheadRounds: 1000}, s)

	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("crypto.GenerateKey: %v", err)
	}
	vrfPriv, _, err := vrf.GenerateKey()
	if err != nil {
		t.Fatalf("vrf.GenerateKey: %v", err)
	}

	cfg := Config{LambdaMsMin: 10, LambdaMsMax: 1000, Threshold: maxThreshold, Voters: voters}

	h := &testHarness{dagMgr: dagMgr, dagCfg: dagCfg, genesis: genesisHash}
	onCommit := func(bundle *types.PeriodBundle) ([]storage.Op, error) {
		h.committed = append(h.committed, bundle)
		headHash, err := bundle.PbftBlock.Hash()
		if err != nil {
			return nil, err
		}
		ops := h.dagMgr.MarkFinalized(bundle.PbftBlock.Period, hashesOf(bundle.DAGBlocks))
		ops = append(ops, storage.Put(storage.ColPbftHead, []byte("head"), headHash[:]))
		return ops, nil
	}

	h.m = New(cfg, s, votes, dagMgr, priv, vrfPriv, genesisHash, onCommit, nil)
	return h
}

// sealedChild builds and admits a valid VDF/VRF-sealed child of pivot at
// the given level, returning its hash.
func sealedChild(t *testing.T, dagMgr *dag.Manager, cfg dag.Config, pivot common.Hash, level uint64) common.Hash {
	t.Helper()
	vrfPriv, _, err := vrf.GenerateKey()
	if err != nil {
		t.Fatalf("vrf.GenerateKey: %v", err)
	}
	msg := pivot.Bytes()
	proof, output := vrf.Prove(vrfPriv, msg)
	difficulty := cfg.Vdf.SelectDifficulty(output[0])
	out := vdf.Prove(msg, difficulty, cfg.Vdf.LambdaBound)

	b := &types.DAGBlock{
		Pivot: pivot, Level: level,
		Vdf: types.VdfProof{
			VrfPublicKey: vrfPriv.Public().Bytes(),
			VrfProof:     proof,
			VdfY:         out.Y.Bytes(),
			VdfProof:     out.Proof.Bytes(),
			Difficulty:   difficulty,
		},
	}
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("crypto.GenerateKey: %v", err)
	}
	if _, err := b.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := dagMgr.Admit(b, ""); err != nil {
		t.Fatalf("Admit child: %v", err)
	}
	hash, err := b.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	return hash
}

func hashesOf(blocks []*types.DAGBlock) []common.Hash {
	out := make([]common.Hash, 0, len(blocks))
	for _, b := range blocks {
		h, _ := b.Hash()
		out = append(out, h)
	}
	return out
}

func TestSelectStartingValueUsesLastCertVotedValue(t *testing.T) {
	h := newTestHarness(t)
	want := common.Hash{0x42}
	h.m.state.lastCertVotedValue = &want
	got, err := h.m.selectStartingValueLocked()
	if err != nil {
		t.Fatalf("selectStartingValueLocked: %v", err)
	}
	if got != want {
		t.Fatalf("expected last_cert_voted_value to win, got %s want %s", got, want)
	}
}

func TestSelectStartingValueIsNullWhenPivotTipUnchanged(t *testing.T) {
	h := newTestHarness(t)
	h.m.prevAnchor = h.genesis // pivot tip (no children) equals prevAnchor
	value, err := h.m.selectStartingValueLocked()
	if err != nil {
		t.Fatalf("selectStartingValueLocked: %v", err)
	}
	if !value.IsZero() {
		t.Fatalf("expected NULL when the pivot tip hasn't moved, got %s", value)
	}
}

func TestSelectStartingValuePicksPivotTip(t *testing.T) {
	h := newTestHarness(t)
	// prevAnchor starts at genesis, so the pivot tip only counts as new
	// progress once a child of genesis is admitted.
	child := sealedChild(t, h.dagMgr, h.dagCfg, h.genesis, 1)

	value, err := h.m.selectStartingValueLocked()
	if err != nil {
		t.Fatalf("selectStartingValueLocked: %v", err)
	}
	if value.IsZero() {
		t.Fatalf("expected a non-null proposed value")
	}
	proposed, ok := h.m.proposals[value]
	if !ok {
		t.Fatalf("expected the proposed pbft_block to be recorded by its hash")
	}
	if proposed.Anchor != child {
		t.Fatalf("expected the proposed block's anchor to be the new pivot tip %s, got %s", child, proposed.Anchor)
	}
}

func TestFullRoundCommitsPeriod(t *testing.T) {
	h := newTestHarness(t)
	child := sealedChild(t, h.dagMgr, h.dagCfg, h.genesis, 1)
	lambda := time.Duration(h.m.cfg.LambdaMsMin) * time.Millisecond
	start := h.m.roundStart

	if err := h.m.Tick(start); err != nil { // step 1: propose
		t.Fatalf("Tick propose: %v", err)
	}
	if h.m.state.ownStartingValue == nil {
		t.Fatalf("expected a proposed value after the propose step")
	}
	proposed := *h.m.state.ownStartingValue

	if err := h.m.Tick(start.Add(2 * lambda)); err != nil { // step 2: soft
		t.Fatalf("Tick soft: %v", err)
	}
	if !h.m.state.softVotedInRound() {
		t.Fatalf("expected a soft vote once the propose quorum resolved")
	}
	if h.m.state.softVotedValue == nil || *h.m.state.softVotedValue != proposed {
		t.Fatalf("expected the soft vote to match the proposed value")
	}

	if err := h.m.Tick(start.Add(4 * lambda)); err != nil { // step 3: cert + commit
		t.Fatalf("Tick cert: %v", err)
	}
	if len(h.committed) != 1 {
		t.Fatalf("expected exactly one committed period, got %d", len(h.committed))
	}
	if h.committed[0].PbftBlock.Anchor != child {
		t.Fatalf("expected the committed bundle's anchor to be the new pivot tip")
	}
	if h.m.Period() != 2 {
		t.Fatalf("expected the period counter to advance to 2, got %d", h.m.Period())
	}
	if h.m.Round() != 1 {
		t.Fatalf("expected round to reset to 1 for the new period, got %d", h.m.Round())
	}
}

func TestDoubleVoteIsFlaggedMalicious(t *testing.T) {
	h := newTestHarness(t)
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("crypto.GenerateKey: %v", err)
	}
	vrfPriv, vrfPub, err := vrf.GenerateKey()
	if err != nil {
		t.Fatalf("vrf.GenerateKey: %v", err)
	}
	mk := func(blockHash common.Hash) *types.Vote {
		v := &types.Vote{
			VoterPK: priv.Public().Bytes(), VrfPublicKey: vrfPub.Bytes(),
			BlockHash: blockHash, Type: types.VoteTypeCert, Round: 1, Step: 3,
		}
		proof, _ := vrf.Prove(vrfPriv, v.VrfMessage())
		v.VrfProof = proof
		if err := v.Sign(priv); err != nil {
			t.Fatalf("Sign: %v", err)
		}
		return v
	}
	v1 := mk(common.Hash{0x01})
	v2 := mk(common.Hash{0x02})
	if err := h.m.votes.AddVote(v1, maxThreshold, h.m.cfg.Voters); err != nil {
		t.Fatalf("AddVote v1: %v", err)
	}
	if err := h.m.votes.AddVote(v2, maxThreshold, h.m.cfg.Voters); err == nil {
		t.Fatalf("expected the second vote to be rejected as a double-vote")
	}

	if err := h.m.Tick(h.m.roundStart); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	addr := priv.Public().Address()
	if !h.m.IsMalicious(addr) {
		t.Fatalf("expected the double-voting voter to be flagged malicious")
	}
}

// TestRoundAdvancesOnNextQuorumWhenCertQuorumFails exercises spec §8
// scenario 3: with a 4-voter committee (f=1, 2f+1=3), a cert quorum that
// never resolves must still let the round advance to 2 with lambda_ms
// doubled once 2f+1 next(NULL) votes land, even though this node's own
// cert_voted_value is unset.
func TestRoundAdvancesOnNextQuorumWhenCertQuorumFails(t *testing.T) {
	h := newTestHarnessWithVoters(t, 4)
	lambda := time.Duration(h.m.cfg.LambdaMsMin) * time.Millisecond
	start := h.m.roundStart

	if err := h.m.Tick(start); err != nil { // step 1: propose
		t.Fatalf("Tick propose: %v", err)
	}
	if err := h.m.Tick(start.Add(2 * lambda)); err != nil { // step 2: soft (no quorum, 1 of 3 voters)
		t.Fatalf("Tick soft: %v", err)
	}
	if err := h.m.Tick(start.Add(4 * lambda)); err != nil { // step 3: cert (no quorum, 1 of 3 voters)
		t.Fatalf("Tick cert: %v", err)
	}
	if h.m.state.certVotedValue != nil {
		t.Fatalf("expected no cert quorum to have resolved with only this node's own vote")
	}

	// step >= 4: this node must cast its own next(NULL) vote unconditionally,
	// not gated behind an already-existing next quorum.
	if err := h.m.Tick(start.Add(6 * lambda)); err != nil {
		t.Fatalf("Tick next: %v", err)
	}
	if !h.m.state.nextVotedNull() {
		t.Fatalf("expected this node to have cast its own next(NULL) vote")
	}
	if h.m.Round() != 1 {
		t.Fatalf("expected round to still be 1 with only 1 of 3 required next votes, got %d", h.m.Round())
	}

	// Two more next(NULL) votes from distinct voters complete the 2f+1
	// quorum (this node's own vote plus these two).
	for i := 0; i < 2; i++ {
		priv, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("crypto.GenerateKey: %v", err)
		}
		vrfPriv, vrfPub, err := vrf.GenerateKey()
		if err != nil {
			t.Fatalf("vrf.GenerateKey: %v", err)
		}
		v := &types.Vote{
			VoterPK: priv.Public().Bytes(), VrfPublicKey: vrfPub.Bytes(),
			BlockHash: common.Hash{}, Type: types.VoteTypeNext, Round: 1, Step: uint64(stepNext),
		}
		proof, _ := vrf.Prove(vrfPriv, v.VrfMessage())
		v.VrfProof = proof
		if err := v.Sign(priv); err != nil {
			t.Fatalf("Sign: %v", err)
		}
		if err := h.m.votes.AddVote(v, maxThreshold, h.m.cfg.Voters); err != nil {
			t.Fatalf("AddVote next(NULL) %d: %v", i, err)
		}
	}

	if err := h.m.Tick(start.Add(6 * lambda)); err != nil {
		t.Fatalf("Tick next (quorum): %v", err)
	}
	if h.m.Round() != 2 {
		t.Fatalf("expected round to advance to 2 once the next quorum resolved, got %d", h.m.Round())
	}
	if h.m.state.lambdaMs != h.m.cfg.LambdaMsMin*2 {
		t.Fatalf("expected lambda_ms to double to %d, got %d", h.m.cfg.LambdaMsMin*2, h.m.state.lambdaMs)
	}
}
