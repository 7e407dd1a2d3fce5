package types

import (
	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/crypto"
	"github.com/taraxa-go/taraxa-node/crypto/vdf"
	"github.com/taraxa-go/taraxa-node/crypto/vrf"
	"github.com/taraxa-go/taraxa-node/shared/errs"
	"github.com/taraxa-go/taraxa-node/wire"
)

// VdfProof is the (pk, vrf_proof, (y, pi), difficulty) tuple a DAG block
// carries to prove it paid the sequential-time cost of spec §4.B, bound to
// the pivot's period so a solution cannot be replayed across forks.
type VdfProof struct {
	VrfPublicKey []byte // vrf.PublicKey bytes
	VrfProof     vrf.Proof
	VdfY         []byte // big-endian y
	VdfProof     []byte // big-endian proof
	Difficulty   uint16
}

// DAGBlock is the tuple (pivot_hash, level, tips[], trx_hashes[], vdf_proof,
// signature) from spec §3.
type DAGBlock struct {
	Pivot     common.Hash
	Level     uint64
	Tips      []common.Hash
	TrxHashes []common.Hash
	Vdf       VdfProof
	Signature crypto.Signature

	hash *common.Hash
}

type dagBlockRLP struct {
	Pivot      common.Hash
	Level      uint64
	Tips       []common.Hash
	TrxHashes  []common.Hash
	VrfPubKey  []byte
	VrfProof   []byte
	VdfY       []byte
	VdfProof   []byte
	Difficulty uint16
	Sig        []byte
}

func (b *DAGBlock) toRLP() dagBlockRLP {
	return dagBlockRLP{
		Pivot: b.Pivot, Level: b.Level, Tips: b.Tips, TrxHashes: b.TrxHashes,
		VrfPubKey: b.Vdf.VrfPublicKey, VrfProof: b.Vdf.VrfProof[:],
		VdfY: b.Vdf.VdfY, VdfProof: b.Vdf.VdfProof, Difficulty: b.Vdf.Difficulty,
		Sig: b.Signature[:],
	}
}

// signingRLP is the pre-image covered by the proposer's signature: every
// field except the signature itself.
func (b *DAGBlock) signingRLP() dagBlockRLP {
	r := b.toRLP()
	r.Sig = nil
	return r
}

// EncodeRLP returns the block's full canonical encoding, signature
// included.
func (b *DAGBlock) EncodeRLP() ([]byte, error) {
	return wire.EncodeToBytes(b.toRLP())
}

// DecodeDAGBlock parses a canonical DAG block encoding.
func DecodeDAGBlock(raw []byte) (*DAGBlock, error) {
	var r dagBlockRLP
	if err := wire.DecodeBytes(raw, &r); err != nil {
		return nil, err
	}
	b := &DAGBlock{Pivot: r.Pivot, Level: r.Level, Tips: r.Tips, TrxHashes: r.TrxHashes}
	if len(r.VrfProof) != vrf.ProofSize || len(r.Sig) != 65 {
		return nil, errs.New(errs.MalformedEncoding, "types: dag block proof/signature size mismatch")
	}
	copy(b.Vdf.VrfProof[:], r.VrfProof)
	b.Vdf.VrfPublicKey = r.VrfPubKey
	b.Vdf.VdfY = r.VdfY
	b.Vdf.VdfProof = r.VdfProof
	b.Vdf.Difficulty = r.Difficulty
	copy(b.Signature[:], r.Sig)
	return b, nil
}

// Hash returns the block's identifying hash, memoized after first
// computation.
func (b *DAGBlock) Hash() (common.Hash, error) {
	if b.hash != nil {
		return *b.hash, nil
	}
	enc, err := b.EncodeRLP()
	if err != nil {
		return common.Hash{}, err
	}
	h := crypto.Keccak256Hash(enc)
	b.hash = &h
	return h, nil
}

// signingHash returns the digest the proposer's signature covers.
func (b *DAGBlock) signingHash() (common.Hash, error) {
	enc, err := wire.EncodeToBytes(b.signingRLP())
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// Sign signs the block with priv, setting Signature, and returns the
// proposer's address.
func (b *DAGBlock) Sign(priv *crypto.PrivateKey) (common.Address, error) {
	digest, err := b.signingHash()
	if err != nil {
		return common.Address{}, err
	}
	sig, err := priv.Sign(digest)
	if err != nil {
		return common.Address{}, err
	}
	b.Signature = sig
	return priv.Public().Address(), nil
}

// Sender recovers the block's proposer from its signature.
func (b *DAGBlock) Sender() (common.Address, error) {
	digest, err := b.signingHash()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.RecoverAddress(digest, b.Signature)
}

// IsGenesis reports whether b is the unique genesis block: pivot is the
// zero hash and level is 0 (spec §3, §8 boundary behavior).
func (b *DAGBlock) IsGenesis() bool {
	return b.Pivot.IsZero() && b.Level == 0
}

// ValidateLevel checks invariant 4 of spec §8:
// level(b) = 1 + max(level(pivot), max_{t in tips} level(t)).
func (b *DAGBlock) ValidateLevel(pivotLevel uint64, tipLevels []uint64) error {
	if b.Pivot.IsZero() {
		if b.Level != 0 {
			return errs.New(errs.InvalidLevel, "types: genesis must have level 0, got %d", b.Level)
		}
		return nil
	}
	want := pivotLevel
	for _, l := range tipLevels {
		if l > want {
			want = l
		}
	}
	want++
	if b.Level != want {
		return errs.New(errs.InvalidLevel, "types: dag block level %d, want %d", b.Level, want)
	}
	return nil
}
