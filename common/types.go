// Package common defines the fixed-width identifiers shared by every
// component of the node: block, transaction and vote hashes, and account
// addresses.
package common

import (
	"encoding/hex"
	"fmt"
)

// HashLength is the byte length of a Keccak-256 digest.
const HashLength = 32

// AddressLength is the byte length of an account address (the low 160 bits
// of the Keccak-256 of an uncompressed secp256k1 public key).
const AddressLength = 20

// Hash is a 256-bit identifier for blocks, transactions, and votes.
type Hash [HashLength]byte

// Address is a 160-bit account identifier.
type Address [AddressLength]byte

// ZeroHash is the all-zero hash used as the pivot of genesis.
var ZeroHash = Hash{}

// BytesToHash right-aligns b into a Hash, truncating from the left if b is
// longer than HashLength.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// BytesToAddress right-aligns b into an Address.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// Bytes returns a copy of the address as a byte slice.
func (a Address) Bytes() []byte { return a[:] }

// IsZero reports whether h is the all-zero hash (the pivot of genesis).
func (h Hash) IsZero() bool { return h == ZeroHash }

// Hex renders the hash as a 0x-prefixed lowercase hex string.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// Hex renders the address as a 0x-prefixed lowercase hex string.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// Cmp returns -1, 0, or 1 as h is bytewise less than, equal to, or greater
// than other. Used for the lexicographic tie-break in the pivot-chain GHOST
// rule and the anchor ordering's secondary sort key.
func (h Hash) Cmp(other Hash) int {
	for i := 0; i < HashLength; i++ {
		if h[i] != other[i] {
			if h[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Less reports whether h sorts strictly before other.
func (h Hash) Less(other Hash) bool { return h.Cmp(other) < 0 }

// HashFromHex parses a 0x-prefixed or bare hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	b, err := decodeHex(s)
	if err != nil {
		return Hash{}, err
	}
	if len(b) != HashLength {
		return Hash{}, fmt.Errorf("common: hash must be %d bytes, got %d", HashLength, len(b))
	}
	return BytesToHash(b), nil
}

// AddressFromHex parses a 0x-prefixed or bare hex string into an Address.
func AddressFromHex(s string) (Address, error) {
	b, err := decodeHex(s)
	if err != nil {
		return Address{}, err
	}
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("common: address must be %d bytes, got %d", AddressLength, len(b))
	}
	return BytesToAddress(b), nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
