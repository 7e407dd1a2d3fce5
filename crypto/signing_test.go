package crypto

import (
	"testing"

	"github.com/taraxa-go/taraxa-node/shared/errs"
)

func TestSignRecoverRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	digest := Keccak256Hash([]byte("hello taraxa"))
	sig, err := priv.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	addr := priv.Public().Address()
	if err := VerifySignature(digest, sig, addr); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestVerifySignatureRejectsWrongSigner(t *testing.T) {
	priv, _ := GenerateKey()
	other, _ := GenerateKey()
	digest := Keccak256Hash([]byte("data"))
	sig, _ := priv.Sign(digest)
	err := VerifySignature(digest, sig, other.Public().Address())
	if !errs.Is(err, errs.InvalidSignature) {
		t.Fatalf("expected InvalidSignature, got %v", err)
	}
}

func TestPublicKeyBytesRoundTrip(t *testing.T) {
	priv, _ := GenerateKey()
	pub := priv.Public()
	parsed, err := PublicKeyFromBytes(pub.Bytes())
	if err != nil {
		t.Fatalf("PublicKeyFromBytes: %v", err)
	}
	if parsed.Address() != pub.Address() {
		t.Fatalf("address mismatch after round trip")
	}
}

func TestRecoverRejectsBadRecoveryID(t *testing.T) {
	priv, _ := GenerateKey()
	digest := Keccak256Hash([]byte("x"))
	sig, _ := priv.Sign(digest)
	sig[64] = 4
	_, err := RecoverPublicKey(digest, sig)
	if !errs.Is(err, errs.InvalidSignature) {
		t.Fatalf("expected InvalidSignature for bad recovery id, got %v", err)
	}
}
