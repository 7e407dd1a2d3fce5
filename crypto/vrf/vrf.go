// Package vrf implements the node's verifiable random function (spec
// §4.B). The construction is Ed25519-based: VRF proofs are deterministic
// Ed25519 signatures (the same (sk, msg) pair always yields the same
// signature, since the per-signature nonce is itself derived from sk and
// msg), and the 64-byte VRF output is the SHA-512 digest of that
// signature. This is a simplified stand-in for a
// full ECVRF (RFC 9381) construction: it gives the three properties the
// rest of the node actually depends on — determinism, unforgeability
// without sk, and public verifiability — without implementing point
// hash-to-curve.
package vrf

import (
	"crypto/ed25519"
	"crypto/sha512"

	"github.com/taraxa-go/taraxa-node/shared/errs"
)

// ProofSize is the byte length of a VRF proof (an Ed25519 signature).
const ProofSize = ed25519.SignatureSize

// OutputSize is the byte length of a VRF output: a uniform 512-bit value.
const OutputSize = 64

// PrivateKey is a VRF secret key, distinct from the node's signing key.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// PublicKey is a VRF public key.
type PublicKey struct {
	key ed25519.PublicKey
}

// GenerateKey creates a fresh VRF key pair.
func GenerateKey() (*PrivateKey, *PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, err
	}
	return &PrivateKey{key: priv}, &PublicKey{key: pub}, nil
}

// PrivateKeyFromBytes parses a 64-byte Ed25519 expanded secret key.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, errs.New(errs.MalformedEncoding, "vrf: secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(key, b)
	return &PrivateKey{key: key}, nil
}

// Bytes returns the raw secret key bytes.
func (p *PrivateKey) Bytes() []byte { return []byte(p.key) }

// Public returns the VRF key pair's public half.
func (p *PrivateKey) Public() *PublicKey {
	pub := p.key.Public().(ed25519.PublicKey)
	return &PublicKey{key: pub}
}

// PublicKeyFromBytes parses a 32-byte Ed25519 public key.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, errs.New(errs.MalformedEncoding, "vrf: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	key := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(key, b)
	return &PublicKey{key: key}, nil
}

// Bytes returns the raw public key bytes.
func (p *PublicKey) Bytes() []byte { return []byte(p.key) }

// Proof is a VRF proof: a deterministic Ed25519 signature over the message.
type Proof [ProofSize]byte

// Output is the 64-byte uniform random value derived from a verified proof.
type Output [OutputSize]byte

// Prove computes a VRF proof over msg and its corresponding output.
func Prove(sk *PrivateKey, msg []byte) (Proof, Output) {
	sig := ed25519.Sign(sk.key, msg)
	var proof Proof
	copy(proof[:], sig)
	return proof, outputFromProof(proof)
}

// Verify checks that proof is a valid VRF proof by pk over msg, returning
// the corresponding output on success. Returns InvalidProof on failure.
func Verify(pk *PublicKey, proof Proof, msg []byte) (Output, error) {
	if !ed25519.Verify(pk.key, msg, proof[:]) {
		return Output{}, errs.New(errs.InvalidProof, "vrf: proof does not verify against message")
	}
	return outputFromProof(proof), nil
}

func outputFromProof(proof Proof) Output {
	digest := sha512.Sum512(proof[:])
	var out Output
	copy(out[:], digest[:])
	return out
}
