package dag

import "encoding/binary"

// blockState is the persisted admission state of a DAG block
// (dag_block_state column), spec §3 DAG block lifecycle.
type blockState uint8

const (
	statePending blockState = iota
	stateFinalized
	stateInvalid
)

// levelKey orders dag_blocks_by_level entries first by level, then by
// hash, matching the anchor-ordering secondary sort key.
func levelKey(level uint64, hash [32]byte) []byte {
	k := make([]byte, 8+32)
	binary.BigEndian.PutUint64(k[:8], level)
	copy(k[8:], hash[:])
	return k
}
