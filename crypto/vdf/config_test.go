package vdf

import "testing"

func TestSelectDifficultyBoundary(t *testing.T) {
	cfg := Config{
		DifficultySelection: 100,
		DifficultyMin:       10,
		DifficultyMax:       20,
		DifficultyStale:     99,
	}
	if got := cfg.SelectDifficulty(100); got < cfg.DifficultyMin || got >= cfg.DifficultyMax {
		t.Fatalf("at the selection boundary expected a variable-range difficulty, got %d", got)
	}
	if got := cfg.SelectDifficulty(101); got != cfg.DifficultyStale {
		t.Fatalf("just past the selection boundary expected difficulty_stale, got %d", got)
	}
}

func TestSelectDifficultyDeterministic(t *testing.T) {
	cfg := Config{DifficultySelection: 200, DifficultyMin: 5, DifficultyMax: 15, DifficultyStale: 1}
	a := cfg.SelectDifficulty(42)
	b := cfg.SelectDifficulty(42)
	if a != b {
		t.Fatalf("expected deterministic difficulty for the same y0")
	}
}
