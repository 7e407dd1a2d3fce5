// Package storage implements the node's column-partitioned persistent
// store (spec §4.C): bbolt buckets standing in for columns, atomic batch
// writes, and period-indexed snapshots.
package storage

// Column names the store's logical columns. Each is backed by its own
// bbolt bucket, created up front so every column exists from the first
// open.
type Column string

// The required columns of spec §4.C, plus the final-state columns this
// node's executor owns (state_root, receipts, gas_used are persisted
// alongside period_data rather than split into their own buckets, since
// they are always read and written together with the period bundle).
const (
	ColPeriodData           Column = "period_data"
	ColDAGBlocks            Column = "dag_blocks"
	ColDAGBlocksByLevel     Column = "dag_blocks_by_level"
	ColDAGBlockState        Column = "dag_block_state"
	ColDAGBlockPeriod       Column = "dag_block_period"
	ColTransactions         Column = "transactions"
	ColTransactionStatus    Column = "transaction_status"
	ColPbftHead             Column = "pbft_head"
	ColPbftBlockPeriod      Column = "pbft_block_period"
	ColPbftRoundState       Column = "pbft_round_state"
	ColPbftVotedValues      Column = "pbft_voted_values"
	ColPbftCertVotedBlock   Column = "pbft_cert_voted_block"
	ColUnverifiedVotes      Column = "unverified_votes"
	ColVerifiedVotes        Column = "verified_votes"
	ColSoftVotesByRound     Column = "soft_votes_by_round"
	ColNextVotesByRound     Column = "next_votes_by_round"
	ColProposalPeriodLevels Column = "proposal_period_levels"
	ColStatus               Column = "status"
)

// allColumns lists every column the store creates on open.
var allColumns = []Column{
	ColPeriodData, ColDAGBlocks, ColDAGBlocksByLevel, ColDAGBlockState,
	ColDAGBlockPeriod, ColTransactions, ColTransactionStatus, ColPbftHead,
	ColPbftBlockPeriod, ColPbftRoundState, ColPbftVotedValues,
	ColPbftCertVotedBlock, ColUnverifiedVotes, ColVerifiedVotes,
	ColSoftVotesByRound, ColNextVotesByRound, ColProposalPeriodLevels,
	ColStatus,
}

// Schema version this binary understands. A store whose persisted
// db_major differs refuses to open (errs.VersionMismatch, fatal). A
// differing db_minor is tolerated and flags ForwardMigration so callers
// can run migrations before serving traffic.
const (
	DbMajor uint32 = 1
	DbMinor uint32 = 0
)

// Status keys, stored in ColStatus.
const (
	statusKeyDbMajor          = "db_major"
	statusKeyDbMinor          = "db_minor"
	statusKeyPbftChainSize    = "pbft_chain_size"
	statusKeyDagBlocksCount   = "dag_blocks_count"
	statusKeyExecutedBlkCount = "executed_blk_count"
)
