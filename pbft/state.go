package pbft

import (
	"github.com/prysmaticlabs/go-bitfield"

	"github.com/taraxa-go/taraxa-node/common"
)

// step indexes the four named phases of a PBFT round (spec §4.F). Any
// value >= stepNext is still "next" (the round keeps emitting next votes
// until it sees a carry-over quorum).
type step uint64

const (
	stepPropose step = 1
	stepSoft    step = 2
	stepCert    step = 3
	stepNext    step = 4
)

// Round-local boolean flags, packed into a bitlist the way the teacher
// packs per-slot attestation participation (validator/db/kv's slot
// bitlists), generalized here to four named round flags instead of one
// bit per validator index.
const (
	flagSoftVotedInRound = iota
	flagExecutedInRound
	flagNextVotedSoft
	flagNextVotedNull
	numFlags
)

// roundState is the per-round state vector of spec §4.F.
type roundState struct {
	round uint64
	step  step

	ownStartingValue   *common.Hash
	softVotedValue     *common.Hash
	certVotedValue     *common.Hash
	lastCertVotedValue *common.Hash

	flags bitfield.Bitlist

	lambdaMs uint32
}

func newRoundState(lambdaMs uint32) *roundState {
	return &roundState{
		round:    1,
		step:     stepPropose,
		flags:    bitfield.NewBitlist(numFlags),
		lambdaMs: lambdaMs,
	}
}

func (s *roundState) softVotedInRound() bool { return s.flags.BitAt(flagSoftVotedInRound) }
func (s *roundState) executedInRound() bool  { return s.flags.BitAt(flagExecutedInRound) }
func (s *roundState) nextVotedSoft() bool    { return s.flags.BitAt(flagNextVotedSoft) }
func (s *roundState) nextVotedNull() bool    { return s.flags.BitAt(flagNextVotedNull) }

func (s *roundState) setSoftVotedInRound() { s.flags.SetBitAt(flagSoftVotedInRound, true) }
func (s *roundState) setExecutedInRound()  { s.flags.SetBitAt(flagExecutedInRound, true) }
func (s *roundState) setNextVotedSoft()    { s.flags.SetBitAt(flagNextVotedSoft, true) }
func (s *roundState) setNextVotedNull()    { s.flags.SetBitAt(flagNextVotedNull, true) }

// advance moves the state to round+1, carrying lastCertVotedValue forward
// (or the value next-voted on by quorum, per spec §4.F's carry-over rule)
// and resetting everything else. lambdaMs is doubled by the caller on a
// failed round and reset to the floor on a committed one.
func (s *roundState) advance(carry *common.Hash, lambdaMs uint32) {
	s.round++
	s.step = stepPropose
	s.ownStartingValue = nil
	s.softVotedValue = nil
	s.certVotedValue = nil
	s.lastCertVotedValue = carry
	s.flags = bitfield.NewBitlist(numFlags)
	s.lambdaMs = lambdaMs
}

// resetForNewPeriod resets the machine back to round 1 after a period
// commits, per spec §4.F "round resets to 1 for the next period".
func (s *roundState) resetForNewPeriod(lambdaMsFloor uint32) {
	*s = *newRoundState(lambdaMsFloor)
}
