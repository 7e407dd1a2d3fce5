package types

import (
	"testing"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/crypto"
	"github.com/taraxa-go/taraxa-node/crypto/vrf"
)

func newTestDAGBlock(t *testing.T) (*DAGBlock, *crypto.PrivateKey) {
	t.Helper()
	vrfPriv, _, err := vrf.GenerateKey()
	if err != nil {
		t.Fatalf("vrf.GenerateKey: %v", err)
	}
	proof, _ := vrf.Prove(vrfPriv, []byte("msg"))
	b := &DAGBlock{
		Pivot: common.Hash{0x01}, Level: 5,
		Tips:      []common.Hash{{0x02}, {0x03}},
		TrxHashes: []common.Hash{{0x04}},
		Vdf: VdfProof{
			VrfPublicKey: vrfPriv.Public().Bytes(),
			VrfProof:     proof,
			VdfY:         []byte{0x01, 0x02},
			VdfProof:     []byte{0x03, 0x04},
			Difficulty:   17,
		},
	}
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("crypto.GenerateKey: %v", err)
	}
	return b, priv
}

func TestDAGBlockEncodeDecodeRoundTrip(t *testing.T) {
	b, priv := newTestDAGBlock(t)
	if _, err := b.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	enc, err := b.EncodeRLP()
	if err != nil {
		t.Fatalf("EncodeRLP: %v", err)
	}
	got, err := DecodeDAGBlock(enc)
	if err != nil {
		t.Fatalf("DecodeDAGBlock: %v", err)
	}
	if got.Pivot != b.Pivot || got.Level != b.Level || len(got.Tips) != len(b.Tips) {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, b)
	}
	if got.Vdf.Difficulty != b.Vdf.Difficulty {
		t.Fatalf("vdf difficulty mismatch")
	}
}

func TestDAGBlockSignSenderRoundTrip(t *testing.T) {
	b, priv := newTestDAGBlock(t)
	sender, err := b.Sign(priv)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	got, err := b.Sender()
	if err != nil {
		t.Fatalf("Sender: %v", err)
	}
	if got != sender {
		t.Fatalf("sender mismatch: got %s want %s", got, sender)
	}
}

func TestDAGBlockIsGenesis(t *testing.T) {
	g := &DAGBlock{Pivot: common.ZeroHash, Level: 0}
	if !g.IsGenesis() {
		t.Fatalf("expected genesis block to report IsGenesis")
	}
	b, _ := newTestDAGBlock(t)
	if b.IsGenesis() {
		t.Fatalf("non-genesis block reported IsGenesis")
	}
}

func TestDAGBlockValidateLevel(t *testing.T) {
	b, _ := newTestDAGBlock(t)
	if err := b.ValidateLevel(3, []uint64{4, 2}); err != nil {
		t.Fatalf("ValidateLevel: %v", err)
	}
	if err := b.ValidateLevel(10, []uint64{1}); err == nil {
		t.Fatalf("expected level mismatch error")
	}
}

func TestDAGBlockValidateLevelGenesis(t *testing.T) {
	g := &DAGBlock{Pivot: common.ZeroHash, Level: 0}
	if err := g.ValidateLevel(0, nil); err != nil {
		t.Fatalf("ValidateLevel genesis: %v", err)
	}
	bad := &DAGBlock{Pivot: common.ZeroHash, Level: 1}
	if err := bad.ValidateLevel(0, nil); err == nil {
		t.Fatalf("expected genesis level mismatch error")
	}
}

func TestDAGBlockHashMemoized(t *testing.T) {
	b, priv := newTestDAGBlock(t)
	if _, err := b.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	h1, err := b.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := b.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected memoized stable hash")
	}
}
