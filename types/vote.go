package types

import (
	"fmt"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/crypto"
	"github.com/taraxa-go/taraxa-node/crypto/vrf"
	"github.com/taraxa-go/taraxa-node/shared/errs"
	"github.com/taraxa-go/taraxa-node/wire"
)

// VoteType is one of the four PBFT vote kinds of spec §3.
type VoteType uint8

// The four vote types of the PBFT step progression (spec §4.F).
const (
	VoteTypePropose VoteType = 1
	VoteTypeSoft    VoteType = 2
	VoteTypeCert    VoteType = 3
	VoteTypeNext    VoteType = 4
)

// String renders the vote type for logging.
func (t VoteType) String() string {
	switch t {
	case VoteTypePropose:
		return "propose"
	case VoteTypeSoft:
		return "soft"
	case VoteTypeCert:
		return "cert"
	case VoteTypeNext:
		return "next"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Vote is the tuple (voter_pk, vrf_proof, vrf_output, block_hash, type,
// round, step, signature) from spec §3.
type Vote struct {
	VoterPK      []byte // secp256k1 uncompressed public key, 64 bytes
	VrfPublicKey []byte // vrf.PublicKey bytes, the voter's sortition key
	VrfProof     vrf.Proof
	BlockHash    common.Hash
	Type         VoteType
	Round        uint64
	Step         uint64
	Signature    crypto.Signature

	hash *common.Hash
}

type voteRLP struct {
	VoterPK      []byte
	VrfPublicKey []byte
	VrfProof     []byte
	BlockHash    common.Hash
	Type         uint8
	Round        uint64
	Step         uint64
	Sig          []byte
}

func (v *Vote) toRLP() voteRLP {
	return voteRLP{
		VoterPK: v.VoterPK, VrfPublicKey: v.VrfPublicKey, VrfProof: v.VrfProof[:], BlockHash: v.BlockHash,
		Type: uint8(v.Type), Round: v.Round, Step: v.Step, Sig: v.Signature[:],
	}
}

func (v *Vote) signingRLP() voteRLP {
	r := v.toRLP()
	r.Sig = nil
	return r
}

// EncodeRLP returns the vote's canonical encoding.
func (v *Vote) EncodeRLP() ([]byte, error) {
	return wire.EncodeToBytes(v.toRLP())
}

// DecodeVote parses a canonical vote encoding.
func DecodeVote(raw []byte) (*Vote, error) {
	var r voteRLP
	if err := wire.DecodeBytes(raw, &r); err != nil {
		return nil, err
	}
	if len(r.VrfProof) != vrf.ProofSize || len(r.Sig) != 65 {
		return nil, errs.New(errs.MalformedEncoding, "types: vote proof/signature size mismatch")
	}
	v := &Vote{
		VoterPK: r.VoterPK, VrfPublicKey: r.VrfPublicKey, BlockHash: r.BlockHash, Type: VoteType(r.Type),
		Round: r.Round, Step: r.Step,
	}
	copy(v.VrfProof[:], r.VrfProof)
	copy(v.Signature[:], r.Sig)
	return v, nil
}

// Hash returns the vote's identifying hash.
func (v *Vote) Hash() (common.Hash, error) {
	if v.hash != nil {
		return *v.hash, nil
	}
	enc, err := v.EncodeRLP()
	if err != nil {
		return common.Hash{}, err
	}
	h := crypto.Keccak256Hash(enc)
	v.hash = &h
	return h, nil
}

func (v *Vote) signingHash() (common.Hash, error) {
	enc, err := wire.EncodeToBytes(v.signingRLP())
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// VrfMessage returns the message the VRF proof is bound to: (block_hash,
// type, round, step), per spec §3.
func (v *Vote) VrfMessage() []byte {
	msg := make([]byte, 0, common.HashLength+1+16)
	msg = append(msg, v.BlockHash.Bytes()...)
	msg = append(msg, byte(v.Type))
	msg = appendUint64(msg, v.Round)
	msg = appendUint64(msg, v.Step)
	return msg
}

func appendUint64(b []byte, v uint64) []byte {
	for i := 7; i >= 0; i-- {
		b = append(b, byte(v>>(8*uint(i))))
	}
	return b
}

// Sign signs the vote with priv (the node's secp256k1 signing key,
// distinct from its VRF key) and populates Signature.
func (v *Vote) Sign(priv *crypto.PrivateKey) error {
	digest, err := v.signingHash()
	if err != nil {
		return err
	}
	sig, err := priv.Sign(digest)
	if err != nil {
		return err
	}
	v.Signature = sig
	return nil
}

// Voter recovers the vote's signer address from its signature.
func (v *Vote) Voter() (common.Address, error) {
	digest, err := v.signingHash()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.RecoverAddress(digest, v.Signature)
}

// VerifySignature checks that the vote's signature recovers to the address
// carried by VoterPK.
func (v *Vote) VerifySignature() error {
	pub, err := crypto.PublicKeyFromBytes(v.VoterPK)
	if err != nil {
		return err
	}
	digest, err := v.signingHash()
	if err != nil {
		return err
	}
	return crypto.VerifySignature(digest, v.Signature, pub.Address())
}
