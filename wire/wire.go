// Package wire defines the canonical on-disk and on-the-wire encoding used
// by every domain object in the node: a length-prefixed recursive list
// encoding (RLP), as specified by the go-ethereum rlp package this node
// reuses rather than hand-rolling its own. Decoding failures are normalized
// into the node's own MalformedEncoding error kind so callers never need to
// inspect a third-party error type directly.
package wire

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/taraxa-go/taraxa-node/shared/errs"
)

// EncodeToBytes returns the canonical RLP encoding of v. Every domain object
// passed here must resolve to a struct of fixed-width integers, byte
// slices/arrays, strings, or nested lists of the same.
func EncodeToBytes(v interface{}) ([]byte, error) {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, errs.Wrap(errs.MalformedEncoding, err)
	}
	return b, nil
}

// DecodeBytes decodes the canonical RLP encoding in b into v, in strict
// mode: integers with leading zero bytes, or lists whose arity does not
// match v's schema, are rejected.
func DecodeBytes(b []byte, v interface{}) error {
	if err := rlp.DecodeBytes(b, v); err != nil {
		return errs.Wrap(errs.MalformedEncoding, err)
	}
	return nil
}

// HashOf returns the identifying hash pre-image for v: its canonical RLP
// encoding. Callers pass this to the Keccak-256 hasher to obtain the
// object's hash.
func HashOf(v interface{}) ([]byte, error) {
	b, err := EncodeToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("wire: hash preimage: %w", err)
	}
	return b, nil
}
