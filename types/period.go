package types

import (
	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/crypto"
	"github.com/taraxa-go/taraxa-node/wire"
)

// PbftBlock is the tuple (prev_pbft_hash, anchor_dag_block_hash, period,
// timestamp, beneficiary, signature) from spec §3.
type PbftBlock struct {
	PrevHash    common.Hash
	Anchor      common.Hash
	Period      uint64
	Timestamp   uint64
	Beneficiary common.Address
	Signature   crypto.Signature

	hash *common.Hash
}

type pbftBlockRLP struct {
	PrevHash    common.Hash
	Anchor      common.Hash
	Period      uint64
	Timestamp   uint64
	Beneficiary common.Address
	Sig         []byte
}

func (b *PbftBlock) toRLP() pbftBlockRLP {
	return pbftBlockRLP{
		PrevHash: b.PrevHash, Anchor: b.Anchor, Period: b.Period,
		Timestamp: b.Timestamp, Beneficiary: b.Beneficiary, Sig: b.Signature[:],
	}
}

func (b *PbftBlock) signingRLP() pbftBlockRLP {
	r := b.toRLP()
	r.Sig = nil
	return r
}

// EncodeRLP returns the pbft block's canonical encoding.
func (b *PbftBlock) EncodeRLP() ([]byte, error) {
	return wire.EncodeToBytes(b.toRLP())
}

// DecodePbftBlock parses a canonical pbft block encoding.
func DecodePbftBlock(raw []byte) (*PbftBlock, error) {
	var r pbftBlockRLP
	if err := wire.DecodeBytes(raw, &r); err != nil {
		return nil, err
	}
	b := &PbftBlock{
		PrevHash: r.PrevHash, Anchor: r.Anchor, Period: r.Period,
		Timestamp: r.Timestamp, Beneficiary: r.Beneficiary,
	}
	copy(b.Signature[:], r.Sig)
	return b, nil
}

// Hash returns the pbft block's identifying hash.
func (b *PbftBlock) Hash() (common.Hash, error) {
	if b.hash != nil {
		return *b.hash, nil
	}
	enc, err := b.EncodeRLP()
	if err != nil {
		return common.Hash{}, err
	}
	h := crypto.Keccak256Hash(enc)
	b.hash = &h
	return h, nil
}

func (b *PbftBlock) signingHash() (common.Hash, error) {
	enc, err := wire.EncodeToBytes(b.signingRLP())
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// Sign signs the block with priv and returns the proposer's address.
func (b *PbftBlock) Sign(priv *crypto.PrivateKey) (common.Address, error) {
	digest, err := b.signingHash()
	if err != nil {
		return common.Address{}, err
	}
	sig, err := priv.Sign(digest)
	if err != nil {
		return common.Address{}, err
	}
	b.Signature = sig
	return priv.Public().Address(), nil
}

// Proposer recovers the block's proposer from its signature.
func (b *PbftBlock) Proposer() (common.Address, error) {
	digest, err := b.signingHash()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.RecoverAddress(digest, b.Signature)
}

// PeriodBundle is the tuple (pbft_block, cert_votes[], dag_blocks[],
// transactions[]) from spec §3, atomically persisted under its period key.
type PeriodBundle struct {
	PbftBlock    *PbftBlock
	CertVotes    []*Vote
	DAGBlocks    []*DAGBlock
	Transactions []*Transaction
}

type periodBundleRLP struct {
	PbftBlock    []byte
	CertVotes    [][]byte
	DAGBlocks    [][]byte
	Transactions [][]byte
}

// EncodeRLP returns the period bundle's canonical encoding, the payload
// carried by a PbftSync packet (spec §4.I): a syncing peer applies the
// bundle through the same executor path a locally committed period does,
// so no computed state is carried alongside it.
func (b *PeriodBundle) EncodeRLP() ([]byte, error) {
	blockEnc, err := b.PbftBlock.EncodeRLP()
	if err != nil {
		return nil, err
	}
	votes := make([][]byte, len(b.CertVotes))
	for i, v := range b.CertVotes {
		enc, err := v.EncodeRLP()
		if err != nil {
			return nil, err
		}
		votes[i] = enc
	}
	blocks := make([][]byte, len(b.DAGBlocks))
	for i, db := range b.DAGBlocks {
		enc, err := db.EncodeRLP()
		if err != nil {
			return nil, err
		}
		blocks[i] = enc
	}
	txs := make([][]byte, len(b.Transactions))
	for i, tx := range b.Transactions {
		enc, err := tx.EncodeRLP()
		if err != nil {
			return nil, err
		}
		txs[i] = enc
	}
	return wire.EncodeToBytes(periodBundleRLP{
		PbftBlock: blockEnc, CertVotes: votes, DAGBlocks: blocks, Transactions: txs,
	})
}

// DecodePeriodBundle parses a canonical period bundle encoding.
func DecodePeriodBundle(raw []byte) (*PeriodBundle, error) {
	var r periodBundleRLP
	if err := wire.DecodeBytes(raw, &r); err != nil {
		return nil, err
	}
	block, err := DecodePbftBlock(r.PbftBlock)
	if err != nil {
		return nil, err
	}
	votes := make([]*Vote, len(r.CertVotes))
	for i, enc := range r.CertVotes {
		v, err := DecodeVote(enc)
		if err != nil {
			return nil, err
		}
		votes[i] = v
	}
	blocks := make([]*DAGBlock, len(r.DAGBlocks))
	for i, enc := range r.DAGBlocks {
		db, err := DecodeDAGBlock(enc)
		if err != nil {
			return nil, err
		}
		blocks[i] = db
	}
	txs := make([]*Transaction, len(r.Transactions))
	for i, enc := range r.Transactions {
		tx, err := DecodeTransaction(enc)
		if err != nil {
			return nil, err
		}
		txs[i] = tx
	}
	return &PeriodBundle{PbftBlock: block, CertVotes: votes, DAGBlocks: blocks, Transactions: txs}, nil
}

// PeriodRecord is what the executor stores under period_data[P] (spec
// §4.H step 3): the committed bundle plus the external state
// transition's result.
type PeriodRecord struct {
	Bundle    *PeriodBundle
	StateRoot common.Hash
	Receipts  [][]byte
	GasUsed   uint64
}

type periodRecordRLP struct {
	PbftBlock    []byte
	CertVotes    [][]byte
	DAGBlocks    [][]byte
	Transactions [][]byte
	StateRoot    common.Hash
	Receipts     [][]byte
	GasUsed      uint64
}

// EncodeRLP returns the period record's canonical encoding.
func (r *PeriodRecord) EncodeRLP() ([]byte, error) {
	blockEnc, err := r.Bundle.PbftBlock.EncodeRLP()
	if err != nil {
		return nil, err
	}
	votes := make([][]byte, len(r.Bundle.CertVotes))
	for i, v := range r.Bundle.CertVotes {
		enc, err := v.EncodeRLP()
		if err != nil {
			return nil, err
		}
		votes[i] = enc
	}
	blocks := make([][]byte, len(r.Bundle.DAGBlocks))
	for i, b := range r.Bundle.DAGBlocks {
		enc, err := b.EncodeRLP()
		if err != nil {
			return nil, err
		}
		blocks[i] = enc
	}
	txs := make([][]byte, len(r.Bundle.Transactions))
	for i, tx := range r.Bundle.Transactions {
		enc, err := tx.EncodeRLP()
		if err != nil {
			return nil, err
		}
		txs[i] = enc
	}
	return wire.EncodeToBytes(periodRecordRLP{
		PbftBlock: blockEnc, CertVotes: votes, DAGBlocks: blocks, Transactions: txs,
		StateRoot: r.StateRoot, Receipts: r.Receipts, GasUsed: r.GasUsed,
	})
}

// DecodePeriodRecord parses a canonical period record encoding.
func DecodePeriodRecord(raw []byte) (*PeriodRecord, error) {
	var r periodRecordRLP
	if err := wire.DecodeBytes(raw, &r); err != nil {
		return nil, err
	}
	block, err := DecodePbftBlock(r.PbftBlock)
	if err != nil {
		return nil, err
	}
	votes := make([]*Vote, len(r.CertVotes))
	for i, enc := range r.CertVotes {
		v, err := DecodeVote(enc)
		if err != nil {
			return nil, err
		}
		votes[i] = v
	}
	blocks := make([]*DAGBlock, len(r.DAGBlocks))
	for i, enc := range r.DAGBlocks {
		b, err := DecodeDAGBlock(enc)
		if err != nil {
			return nil, err
		}
		blocks[i] = b
	}
	txs := make([]*Transaction, len(r.Transactions))
	for i, enc := range r.Transactions {
		tx, err := DecodeTransaction(enc)
		if err != nil {
			return nil, err
		}
		txs[i] = tx
	}
	return &PeriodRecord{
		Bundle: &PeriodBundle{
			PbftBlock: block, CertVotes: votes, DAGBlocks: blocks, Transactions: txs,
		},
		StateRoot: r.StateRoot, Receipts: r.Receipts, GasUsed: r.GasUsed,
	}, nil
}

// ProposalPeriodLevels records, for a finalized period, the inclusive
// [LevelStart, LevelEnd] range of DAG block levels its bundle covers (spec
// §4.E "Proposal-period levels map"), so VDF difficulty lookups by level
// are O(log periods).
type ProposalPeriodLevels struct {
	LevelStart uint64
	LevelEnd   uint64
}

// Contains reports whether level falls within this period's range.
func (p ProposalPeriodLevels) Contains(level uint64) bool {
	return level >= p.LevelStart && level <= p.LevelEnd
}
