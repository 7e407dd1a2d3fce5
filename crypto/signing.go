package crypto

import (
	"crypto/ecdsa"
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/shared/errs"
)

// PrivateKey is a secp256k1 signing key. Every transaction, DAG block, and
// vote is signed with one.
type PrivateKey struct {
	key *ecdsa.PrivateKey
}

// PublicKey is the counterpart to a PrivateKey.
type PublicKey struct {
	key *ecdsa.PublicKey
}

// GenerateKey creates a fresh signing key pair.
func GenerateKey() (*PrivateKey, error) {
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes parses a 32-byte secp256k1 secret scalar.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := gethcrypto.ToECDSA(b)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, err)
	}
	return &PrivateKey{key: key}, nil
}

// Bytes returns the raw 32-byte secret scalar.
func (p *PrivateKey) Bytes() []byte { return gethcrypto.FromECDSA(p.key) }

// Public returns the signing key's public counterpart.
func (p *PrivateKey) Public() *PublicKey { return &PublicKey{key: &p.key.PublicKey} }

// Address derives the 20-byte account address from the public key.
func (p *PublicKey) Address() common.Address {
	return common.BytesToAddress(gethcrypto.PubkeyToAddress(*p.key).Bytes())
}

// Bytes returns the 64-byte uncompressed public key (no 0x04 prefix).
func (p *PublicKey) Bytes() []byte {
	return gethcrypto.FromECDSAPub(p.key)[1:]
}

// PublicKeyFromBytes parses a 64-byte uncompressed public key.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	if len(b) != 64 {
		return nil, errs.New(errs.MalformedEncoding, "crypto: public key must be 64 bytes, got %d", len(b))
	}
	full := make([]byte, 65)
	full[0] = 4
	copy(full[1:], b)
	key, err := gethcrypto.UnmarshalPubkey(full)
	if err != nil {
		return nil, errs.Wrap(errs.MalformedEncoding, err)
	}
	return &PublicKey{key: key}, nil
}

// Signature is a 65-byte recoverable ECDSA signature: (r, s, v) with v in
// {0, 1}.
type Signature [65]byte

// Sign produces a recoverable signature over a 32-byte digest.
func (p *PrivateKey) Sign(digest common.Hash) (Signature, error) {
	sig, err := gethcrypto.Sign(digest[:], p.key)
	if err != nil {
		return Signature{}, err
	}
	var out Signature
	copy(out[:], sig)
	return out, nil
}

// V returns the recovery id.
func (s Signature) V() byte { return s[64] }

// RecoverPublicKey recovers the signer's public key from a signature over
// digest. Returns InvalidSignature on a malformed or non-recoverable
// signature.
func RecoverPublicKey(digest common.Hash, sig Signature) (*PublicKey, error) {
	if sig.V() > 1 {
		return nil, errs.New(errs.InvalidSignature, "crypto: recovery id must be 0 or 1, got %d", sig.V())
	}
	pub, err := gethcrypto.SigToPub(digest[:], sig[:])
	if err != nil {
		return nil, errs.Wrap(errs.InvalidSignature, err)
	}
	return &PublicKey{key: pub}, nil
}

// RecoverAddress recovers the signer's address from a signature over digest.
func RecoverAddress(digest common.Hash, sig Signature) (common.Address, error) {
	pub, err := RecoverPublicKey(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	addr := pub.Address()
	if addr == (common.Address{}) {
		return common.Address{}, errs.New(errs.InvalidSignature, "crypto: recovered zero address")
	}
	return addr, nil
}

// VerifySignature reports whether sig is a valid signature over digest by
// addr, recovering the signer and comparing addresses.
func VerifySignature(digest common.Hash, sig Signature, addr common.Address) error {
	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		return err
	}
	if recovered != addr {
		return errs.New(errs.InvalidSignature, "crypto: signature recovers to %s, expected %s", recovered, addr)
	}
	return nil
}

// String implements fmt.Stringer for debug logging.
func (s Signature) String() string {
	return fmt.Sprintf("0x%x", s[:])
}
