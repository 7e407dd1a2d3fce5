package vrf

import "math/big"

// two512 is 2^512, the modulus against which a VRF output is compared when
// deciding sortition eligibility.
var two512 = new(big.Int).Lsh(big.NewInt(1), 512)

// Eligible reports whether output entitles its holder to speak (propose or
// vote) under the sortition rule of spec §3: interpreting output as a
// 512-bit big-endian integer y, the holder is eligible iff
// y * voters < threshold * 2^512.
//
// threshold and voters are both taken from the period's sortition
// parameters: threshold is a count of "expected sortition winners" and
// voters is the total eligible player count for the period.
func Eligible(output Output, threshold, voters uint64) bool {
	if voters == 0 {
		return false
	}
	y := new(big.Int).SetBytes(output[:])
	lhs := new(big.Int).Mul(y, new(big.Int).SetUint64(voters))
	rhs := new(big.Int).Mul(new(big.Int).SetUint64(threshold), two512)
	return lhs.Cmp(rhs) < 0
}
