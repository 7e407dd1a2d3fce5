package crypto

import "testing"

func TestKeccak256HashStableAndDistinct(t *testing.T) {
	a := Keccak256Hash([]byte("taraxa"))
	b := Keccak256Hash([]byte("taraxa"))
	if a != b {
		t.Fatalf("expected stable hash across calls")
	}
	c := Keccak256Hash([]byte("taraxa!"))
	if a == c {
		t.Fatalf("expected distinct inputs to hash differently")
	}
}

func TestKeccak256ConcatenatesInputs(t *testing.T) {
	whole := Keccak256Hash([]byte("ab"))
	parts := Keccak256Hash([]byte("a"), []byte("b"))
	if whole != parts {
		t.Fatalf("expected Keccak256Hash to hash the concatenation of its args")
	}
}
