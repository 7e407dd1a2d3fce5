package vdf

// Config carries the per-chain VDF parameters read from genesis (spec §4.B,
// §6). LambdaBound upper-bounds the internal Fiat-Shamir challenge size and
// must be identical for every node on the chain.
type Config struct {
	DifficultySelection uint16
	DifficultyMin       uint16
	DifficultyMax       uint16
	DifficultyStale     uint16
	LambdaBound         uint16
}

// DefaultLambdaBound is used when a genesis file omits lambda_bound,
// carried over from the original node's hardcoded value.
const DefaultLambdaBound = 1500

// SelectDifficulty derives a block's VDF difficulty from the first byte of
// its proposer's VRF output, per spec §4.B:
//
//	if y0 <= difficulty_selection: difficulty_min + (y0 mod (difficulty_max - difficulty_min))
//	else:                          difficulty_stale
func (c Config) SelectDifficulty(y0 byte) uint16 {
	if uint16(y0) <= c.DifficultySelection {
		span := c.DifficultyMax - c.DifficultyMin
		if span == 0 {
			return c.DifficultyMin
		}
		return c.DifficultyMin + uint16(y0)%span
	}
	return c.DifficultyStale
}
