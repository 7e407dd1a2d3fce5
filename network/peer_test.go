package network

import (
	"testing"
	"time"

	"github.com/taraxa-go/taraxa-node/common"
)

func testAdmissionConfig() Config {
	return Config{
		AdmissionWindow:  time.Minute,
		ProcessingBudget: 10 * time.Millisecond,
		QueueBound:       2,
		MaxOffenses:      2,
		BlacklistTimeout: time.Hour,
	}
}

func TestPeerAdmitWithinBudget(t *testing.T) {
	p := newPeer("a")
	cfg := testAdmissionConfig()
	if !p.admit(time.Millisecond, cfg) {
		t.Fatalf("expected first packet to be admitted")
	}
}

func TestPeerAdmitDropsOverBudget(t *testing.T) {
	p := newPeer("a")
	cfg := testAdmissionConfig()
	if !p.admit(9*time.Millisecond, cfg) {
		t.Fatalf("expected first packet within budget to be admitted")
	}
	if p.admit(5*time.Millisecond, cfg) {
		t.Fatalf("expected second packet to overflow the processing budget and be dropped")
	}
}

func TestPeerAdmitDropsOverQueueBound(t *testing.T) {
	p := newPeer("a")
	cfg := testAdmissionConfig()
	for i := 0; i < cfg.QueueBound; i++ {
		if !p.admit(time.Microsecond, cfg) {
			t.Fatalf("expected packet %d to be admitted under the queue bound", i)
		}
	}
	if p.admit(time.Microsecond, cfg) {
		t.Fatalf("expected packet past the queue bound to be dropped")
	}
}

func TestPeerBlacklistedAfterRepeatedOffenses(t *testing.T) {
	p := newPeer("a")
	cfg := testAdmissionConfig()
	for i := 0; i < cfg.QueueBound; i++ {
		p.admit(time.Microsecond, cfg)
	}
	// Each of these overflows the queue bound, counting as an offense.
	for i := 0; i < cfg.MaxOffenses; i++ {
		p.admit(time.Microsecond, cfg)
	}
	if !p.Blacklisted() {
		t.Fatalf("expected peer to be blacklisted after %d offenses", cfg.MaxOffenses)
	}
	if p.admit(time.Microsecond, cfg) {
		t.Fatalf("expected blacklisted peer to be rejected outright")
	}
}

func TestPeerAdmitWindowResets(t *testing.T) {
	p := newPeer("a")
	cfg := testAdmissionConfig()
	cfg.AdmissionWindow = time.Millisecond
	if !p.admit(9*time.Millisecond, cfg) {
		t.Fatalf("expected first packet to be admitted")
	}
	time.Sleep(2 * time.Millisecond)
	if !p.admit(9*time.Millisecond, cfg) {
		t.Fatalf("expected packet after window reset to be admitted again")
	}
}

func TestPeerKnowsBlockDedup(t *testing.T) {
	p := newPeer("a")
	h := common.Hash{0x01}
	if p.KnowsBlock(h) {
		t.Fatalf("expected first sighting to report unknown")
	}
	if !p.KnowsBlock(h) {
		t.Fatalf("expected second sighting to report known")
	}
}

func TestPeerSetBestPicksHighestPbftSize(t *testing.T) {
	s := NewPeerSet()
	a := s.Add("a")
	b := s.Add("b")
	a.MarkStatus(&StatusPacket{PbftSize: 5})
	b.MarkStatus(&StatusPacket{PbftSize: 10})

	best, ok := s.Best()
	if !ok || best.ID != "b" {
		t.Fatalf("expected peer b to be best, got %+v ok=%v", best, ok)
	}
}

func TestPeerSetBestSkipsBlacklisted(t *testing.T) {
	s := NewPeerSet()
	a := s.Add("a")
	b := s.Add("b")
	a.MarkStatus(&StatusPacket{PbftSize: 5})
	b.MarkStatus(&StatusPacket{PbftSize: 10})
	b.blacklistUntil = time.Now().Add(time.Hour)

	best, ok := s.Best()
	if !ok || best.ID != "a" {
		t.Fatalf("expected blacklisted peer b to be skipped, got %+v ok=%v", best, ok)
	}
}

func TestPeerSetBestNoHandshakedPeers(t *testing.T) {
	s := NewPeerSet()
	s.Add("a")
	if _, ok := s.Best(); ok {
		t.Fatalf("expected no best peer before any handshake")
	}
}
