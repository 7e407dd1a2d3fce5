package wire

import (
	"testing"

	"github.com/taraxa-go/taraxa-node/shared/errs"
)

type sample struct {
	A uint64
	B []byte
	C []uint64
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := sample{A: 42, B: []byte{1, 2, 3}, C: []uint64{7, 8, 9}}
	enc, err := EncodeToBytes(in)
	if err != nil {
		t.Fatalf("EncodeToBytes: %v", err)
	}
	var out sample
	if err := DecodeBytes(enc, &out); err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if out.A != in.A || string(out.B) != string(in.B) || len(out.C) != len(in.C) {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestDecodeMalformedIsWrappedKind(t *testing.T) {
	var out sample
	err := DecodeBytes([]byte{0xff, 0xff, 0xff}, &out)
	if err == nil {
		t.Fatalf("expected malformed encoding to fail")
	}
	if !errs.Is(err, errs.MalformedEncoding) {
		t.Fatalf("expected MalformedEncoding kind, got %v", err)
	}
}

func TestHashOfStable(t *testing.T) {
	in := sample{A: 1, B: []byte("x")}
	a, err := HashOf(in)
	if err != nil {
		t.Fatalf("HashOf: %v", err)
	}
	b, err := HashOf(in)
	if err != nil {
		t.Fatalf("HashOf: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected stable pre-image across calls")
	}
}
