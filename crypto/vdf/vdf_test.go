package vdf

import "testing"

func TestProveVerifyRoundTrip(t *testing.T) {
	msg := []byte("pivot-period-7")
	out := Prove(msg, 50, 128)
	if err := Verify(msg, 50, 128, out); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsWrongMessage(t *testing.T) {
	out := Prove([]byte("pivot-period-7"), 40, 128)
	if err := Verify([]byte("pivot-period-8"), 40, 128, out); err == nil {
		t.Fatalf("expected verification to fail for a different message")
	}
}

func TestVerifyRejectsWrongDifficulty(t *testing.T) {
	msg := []byte("pivot-period-7")
	out := Prove(msg, 40, 128)
	if err := Verify(msg, 41, 128, out); err == nil {
		t.Fatalf("expected verification to fail for a different claimed difficulty")
	}
}

func TestProveIsDeterministic(t *testing.T) {
	msg := []byte("x")
	a := Prove(msg, 30, 128)
	b := Prove(msg, 30, 128)
	if a.Y.Cmp(b.Y) != 0 || a.Proof.Cmp(b.Proof) != 0 {
		t.Fatalf("expected identical (msg, difficulty) to reproduce the same output")
	}
}
