// Package fuzz exposes libFuzzer-style entry points over the node's wire
// codecs. Each FuzzXxx function feeds arbitrary bytes to a DecodeXxx
// function and asserts the only possible outcomes are success or a
// MalformedEncoding error: a panic here is the bug the fuzzer exists to
// surface.
package fuzz

import (
	"github.com/taraxa-go/taraxa-node/shared/errs"
	"github.com/taraxa-go/taraxa-node/types"
)

// interesting/skip follow the go-fuzz convention: 1 tells the fuzzer a
// corpus input produced a useful (successfully decoded) value, 0 means the
// input was rejected cleanly, -1 means the input should not be added to
// the corpus at all.
const (
	interesting = 1
	skip        = 0
	drop        = -1
)

func classify(err error) int {
	if err == nil {
		return interesting
	}
	if errs.Is(err, errs.MalformedEncoding) {
		return skip
	}
	// Any error outside the documented MalformedEncoding kind means a
	// decoder is leaking an unclassified failure mode; surface it loudly
	// rather than silently dropping the input.
	panic(err)
}

// FuzzTransaction decodes arbitrary bytes as a Transaction.
func FuzzTransaction(b []byte) int {
	_, err := types.DecodeTransaction(b)
	return classify(err)
}

// FuzzDAGBlock decodes arbitrary bytes as a DAGBlock.
func FuzzDAGBlock(b []byte) int {
	_, err := types.DecodeDAGBlock(b)
	return classify(err)
}

// FuzzVote decodes arbitrary bytes as a Vote.
func FuzzVote(b []byte) int {
	_, err := types.DecodeVote(b)
	return classify(err)
}

// FuzzPbftBlock decodes arbitrary bytes as a PbftBlock.
func FuzzPbftBlock(b []byte) int {
	_, err := types.DecodePbftBlock(b)
	return classify(err)
}

// FuzzPeriodBundle decodes arbitrary bytes as a PeriodBundle, the unit a
// proposer gossips and a peer verifies before voting on it.
func FuzzPeriodBundle(b []byte) int {
	_, err := types.DecodePeriodBundle(b)
	return classify(err)
}

// FuzzPeriodRecord decodes arbitrary bytes as a PeriodRecord, the unit
// persisted to the chain once a period finalizes.
func FuzzPeriodRecord(b []byte) int {
	_, err := types.DecodePeriodRecord(b)
	return classify(err)
}
