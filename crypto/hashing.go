// Package crypto provides the node's signing, hashing, VRF, and VDF
// primitives (spec §4.B). Signing and hashing reuse go-ethereum's
// battle-tested secp256k1/Keccak implementations; VRF and VDF are
// implemented locally since the spec's sortition scheme is taraxa-specific.
package crypto

import (
	"golang.org/x/crypto/sha3"

	"github.com/taraxa-go/taraxa-node/common"
)

// Keccak256Hash returns the Keccak-256 digest of the concatenation of data
// as a fixed-width Hash, the identifying hash of every domain object.
func Keccak256Hash(data ...[]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// Keccak256 returns the Keccak-256 digest of the concatenation of data as a
// byte slice.
func Keccak256(data ...[]byte) []byte {
	h := Keccak256Hash(data...)
	return h.Bytes()
}
