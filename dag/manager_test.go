package dag

import (
	"testing"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/crypto"
	"github.com/taraxa-go/taraxa-node/crypto/vdf"
	"github.com/taraxa-go/taraxa-node/crypto/vrf"
	"github.com/taraxa-go/taraxa-node/storage"
	"github.com/taraxa-go/taraxa-node/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	s, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	cfg := Config{Vdf: vdf.Config{
		DifficultySelection: 255, DifficultyMin: 10, DifficultyMax: 15, DifficultyStale: 12,
		LambdaBound: 64,
	}}
	return New(cfg, s)
}

func mustAdmitGenesis(t *testing.T, m *Manager) common.Hash {
	t.Helper()
	g := &types.DAGBlock{Pivot: common.ZeroHash, Level: 0}
	hash, err := g.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := m.Admit(g, ""); err != nil {
		t.Fatalf("Admit genesis: %v", err)
	}
	return hash
}

// sealedBlock builds and signs a valid child of pivot at the expected
// level, with a VDF/VRF proof that verifies against the manager's
// difficulty config.
func sealedBlock(t *testing.T, m *Manager, pivot common.Hash, level uint64, tips []common.Hash) *types.DAGBlock {
	t.Helper()
	vrfPriv, _, err := vrf.GenerateKey()
	if err != nil {
		t.Fatalf("vrf.GenerateKey: %v", err)
	}
	msg := sealMessage(pivot)
	proof, output := vrf.Prove(vrfPriv, msg)
	difficulty := m.cfg.Vdf.SelectDifficulty(output[0])
	out := vdf.Prove(msg, difficulty, m.cfg.Vdf.LambdaBound)

	b := &types.DAGBlock{
		Pivot: pivot, Level: level, Tips: tips,
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
	return b
}

func TestAdmitGenesis(t *testing.T) {
	m := newTestManager(t)
	hash := mustAdmitGenesis(t, m)
	if !m.Has(hash) {
		t.Fatalf("expected genesis to be admitted")
	}
}

func TestAdmitValidChild(t *testing.T) {
	m := newTestManager(t)
	genesis := mustAdmitGenesis(t, m)
	child := sealedBlock(t, m, genesis, 1, nil)
	if err := m.Admit(child, ""); err != nil {
		t.Fatalf("Admit child: %v", err)
	}
	hash, _ := child.Hash()
	if !m.Has(hash) {
		t.Fatalf("expected child to be admitted")
	}
}

func TestAdmitRejectsWrongLevel(t *testing.T) {
	m := newTestManager(t)
	genesis := mustAdmitGenesis(t, m)
	child := sealedBlock(t, m, genesis, 5, nil)
	if err := m.Admit(child, ""); err == nil {
		t.Fatalf("expected level mismatch to be rejected")
	}
}

func TestAdmitBuffersOnUnknownParent(t *testing.T) {
	m := newTestManager(t)
	genesis := mustAdmitGenesis(t, m)
	unknownParent := common.Hash{0xAB}
	child := sealedBlock(t, m, unknownParent, 1, nil)

	requested := false
	m.OnMissingParent = func(peer string, hash common.Hash) {
		requested = true
		if hash != unknownParent {
			t.Fatalf("requested wrong hash: %s", hash)
		}
	}
	if err := m.Admit(child, "peerA"); err != nil {
		t.Fatalf("Admit should buffer, not error: %v", err)
	}
	hash, _ := child.Hash()
	if m.Has(hash) {
		t.Fatalf("block should not be admitted while parent is missing")
	}
	if !requested {
		t.Fatalf("expected OnMissingParent to fire")
	}
	_ = genesis
}

func TestPivotChainPicksHeaviestSubtree(t *testing.T) {
	m := newTestManager(t)
	genesis := mustAdmitGenesis(t, m)

	heavy := sealedBlock(t, m, genesis, 1, nil)
	if err := m.Admit(heavy, ""); err != nil {
		t.Fatalf("Admit heavy: %v", err)
	}
	heavyHash, _ := heavy.Hash()
	heavyChild := sealedBlock(t, m, heavyHash, 2, nil)
	if err := m.Admit(heavyChild, ""); err != nil {
		t.Fatalf("Admit heavyChild: %v", err)
	}

	light := sealedBlock(t, m, genesis, 1, nil)
	if err := m.Admit(light, ""); err != nil {
		t.Fatalf("Admit light: %v", err)
	}

	chain := m.PivotChain(genesis)
	if len(chain) != 3 {
		t.Fatalf("expected a 3-block pivot chain (genesis, heavy, heavyChild), got %d: %v", len(chain), chain)
	}
	if chain[1] != heavyHash {
		t.Fatalf("expected the heavier subtree's child to be chosen as pivot")
	}
}

func TestAnchorOrderExcludesPrevAnchorPast(t *testing.T) {
	m := newTestManager(t)
	genesis := mustAdmitGenesis(t, m)

	b1 := sealedBlock(t, m, genesis, 1, nil)
	if err := m.Admit(b1, ""); err != nil {
		t.Fatalf("Admit b1: %v", err)
	}
	b1Hash, _ := b1.Hash()

	b2 := sealedBlock(t, m, b1Hash, 2, nil)
	if err := m.Admit(b2, ""); err != nil {
		t.Fatalf("Admit b2: %v", err)
	}
	b2Hash, _ := b2.Hash()

	order, err := m.AnchorOrder(b2Hash, b1Hash)
	if err != nil {
		t.Fatalf("AnchorOrder: %v", err)
	}
	if len(order) != 1 || order[0] != b2Hash {
		t.Fatalf("expected only the new anchor itself in the order, got %v", order)
	}
}

func TestAnchorOrderSortsByLevel(t *testing.T) {
	m := newTestManager(t)
	genesis := mustAdmitGenesis(t, m)

	a := sealedBlock(t, m, genesis, 1, nil)
	if err := m.Admit(a, ""); err != nil {
		t.Fatalf("Admit a: %v", err)
	}
	aHash, _ := a.Hash()

	b := sealedBlock(t, m, aHash, 2, nil)
	if err := m.Admit(b, ""); err != nil {
		t.Fatalf("Admit b: %v", err)
	}
	bHash, _ := b.Hash()

	order, err := m.AnchorOrder(bHash, common.ZeroHash)
	if err != nil {
		t.Fatalf("AnchorOrder: %v", err)
	}
	if len(order) != 3 {
		t.Fatalf("expected genesis, a, b in order, got %v", order)
	}
	if order[0] != genesis || order[1] != aHash || order[2] != bHash {
		t.Fatalf("expected ascending-level order, got %v", order)
	}
}

func TestProposalPeriodLevelsRoundTrip(t *testing.T) {
	s, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer s.Close()

	if err := s.WriteBatch([]storage.Op{
		ProposalPeriodLevelsOp(0, types.ProposalPeriodLevels{LevelStart: 0, LevelEnd: 5}),
		ProposalPeriodLevelsOp(1, types.ProposalPeriodLevels{LevelStart: 6, LevelEnd: 10}),
	}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	period, ok, err := PeriodForLevel(s, 1, 8)
	if err != nil {
		t.Fatalf("PeriodForLevel: %v", err)
	}
	if !ok || period != 1 {
		t.Fatalf("expected level 8 to resolve to period 1, got %d (ok=%v)", period, ok)
	}
}
