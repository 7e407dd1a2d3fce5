package types

import (
	"testing"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/crypto"
)

func newTestVote(t *testing.T) (*Vote, *crypto.PrivateKey) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	v := &Vote{
		VoterPK:   priv.Public().Bytes(),
		BlockHash: common.Hash{0x09},
		Type:      VoteTypeCert,
		Round:     4,
		Step:      3,
	}
	return v, priv
}

func TestVoteEncodeDecodeRoundTrip(t *testing.T) {
	v, priv := newTestVote(t)
	if err := v.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	enc, err := v.EncodeRLP()
	if err != nil {
		t.Fatalf("EncodeRLP: %v", err)
	}
	got, err := DecodeVote(enc)
	if err != nil {
		t.Fatalf("DecodeVote: %v", err)
	}
	if got.BlockHash != v.BlockHash || got.Type != v.Type || got.Round != v.Round || got.Step != v.Step {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, v)
	}
}

func TestVoteVerifySignatureAccepts(t *testing.T) {
	v, priv := newTestVote(t)
	if err := v.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := v.VerifySignature(); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestVoteVerifySignatureRejectsMismatchedVoterPK(t *testing.T) {
	v, priv := newTestVote(t)
	if err := v.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	other, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	v.VoterPK = other.Public().Bytes()
	if err := v.VerifySignature(); err == nil {
		t.Fatalf("expected VerifySignature to reject a mismatched VoterPK")
	}
}

func TestVoteVrfMessageBindsFields(t *testing.T) {
	v, _ := newTestVote(t)
	msg := v.VrfMessage()
	other := &Vote{BlockHash: v.BlockHash, Type: v.Type, Round: v.Round, Step: v.Step + 1}
	if string(msg) == string(other.VrfMessage()) {
		t.Fatalf("expected VrfMessage to change when step changes")
	}
}

func TestVoteTypeString(t *testing.T) {
	if VoteTypePropose.String() != "propose" || VoteTypeNext.String() != "next" {
		t.Fatalf("unexpected VoteType.String rendering")
	}
}
