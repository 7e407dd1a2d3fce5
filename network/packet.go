package network

import (
	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/types"
	"github.com/taraxa-go/taraxa-node/wire"
)

// PacketType is the one-byte subprotocol packet type prefixing every
// canonical-RLP packet on the wire (spec §6 wire compatibility).
type PacketType byte

const (
	PacketStatus PacketType = iota
	PacketNewBlock
	PacketNewBlockHash
	PacketGetNewBlock
	PacketDagSyncRequest
	PacketDagSyncResponse
	PacketTransaction
	PacketVote
	PacketGetPbftSync
	PacketPbftSync
	PacketGetNextVotes
	PacketNextVotes
)

func (t PacketType) String() string {
	switch t {
	case PacketStatus:
		return "Status"
	case PacketNewBlock:
		return "NewBlock"
	case PacketNewBlockHash:
		return "NewBlockHash"
	case PacketGetNewBlock:
		return "GetNewBlock"
	case PacketDagSyncRequest:
		return "DagSyncRequest"
	case PacketDagSyncResponse:
		return "DagSyncResponse"
	case PacketTransaction:
		return "Transaction"
	case PacketVote:
		return "Vote"
	case PacketGetPbftSync:
		return "GetPbftSync"
	case PacketPbftSync:
		return "PbftSync"
	case PacketGetNextVotes:
		return "GetNextVotes"
	case PacketNextVotes:
		return "NextVotes"
	default:
		return "Unknown"
	}
}

// StatusPacket is exchanged on first contact with a peer (both
// directions); no other packet type is processed from a peer until a
// matching Status has been seen (spec §4.I).
type StatusPacket struct {
	NetID        uint64
	GenesisHash  common.Hash
	ProtoVersion uint32
	DagLevel     uint64
	PbftSize     uint64
	Round        uint64
}

// NewBlockPacket pushes a freshly admitted dag block together with any
// transactions it references that the sender believes the peer has not
// seen yet.
type NewBlockPacket struct {
	Block        *types.DAGBlock
	Transactions []*types.Transaction
}

type newBlockPacketRLP struct {
	Block []byte
	Txs   [][]byte
}

func (p *NewBlockPacket) encode() ([]byte, error) {
	blockEnc, err := p.Block.EncodeRLP()
	if err != nil {
		return nil, err
	}
	txs := make([][]byte, len(p.Transactions))
	for i, tx := range p.Transactions {
		enc, err := tx.EncodeRLP()
		if err != nil {
			return nil, err
		}
		txs[i] = enc
	}
	return wire.EncodeToBytes(newBlockPacketRLP{Block: blockEnc, Txs: txs})
}

func decodeNewBlockPacket(raw []byte) (*NewBlockPacket, error) {
	var r newBlockPacketRLP
	if err := wire.DecodeBytes(raw, &r); err != nil {
		return nil, err
	}
	block, err := types.DecodeDAGBlock(r.Block)
	if err != nil {
		return nil, err
	}
	txs := make([]*types.Transaction, len(r.Txs))
	for i, enc := range r.Txs {
		tx, err := types.DecodeTransaction(enc)
		if err != nil {
			return nil, err
		}
		txs[i] = tx
	}
	return &NewBlockPacket{Block: block, Transactions: txs}, nil
}

// NewBlockHashPacket announces a dag block's hash without its body, so a
// peer that already has it need not re-fetch it.
type NewBlockHashPacket struct {
	Hash common.Hash
}

// GetNewBlockPacket requests the body of a dag block by hash.
type GetNewBlockPacket struct {
	Hash common.Hash
}

// DagSyncRequestPacket asks for every dag block with level in
// [LevelStart, LevelEnd].
type DagSyncRequestPacket struct {
	LevelStart uint64
	LevelEnd   uint64
}

// DagSyncResponsePacket answers a DagSyncRequestPacket.
type DagSyncResponsePacket struct {
	Blocks []*types.DAGBlock
}

type dagSyncResponseRLP struct {
	Blocks [][]byte
}

func (p *DagSyncResponsePacket) encode() ([]byte, error) {
	blocks := make([][]byte, len(p.Blocks))
	for i, b := range p.Blocks {
		enc, err := b.EncodeRLP()
		if err != nil {
			return nil, err
		}
		blocks[i] = enc
	}
	return wire.EncodeToBytes(dagSyncResponseRLP{Blocks: blocks})
}

func decodeDagSyncResponsePacket(raw []byte) (*DagSyncResponsePacket, error) {
	var r dagSyncResponseRLP
	if err := wire.DecodeBytes(raw, &r); err != nil {
		return nil, err
	}
	blocks := make([]*types.DAGBlock, len(r.Blocks))
	for i, enc := range r.Blocks {
		b, err := types.DecodeDAGBlock(enc)
		if err != nil {
			return nil, err
		}
		blocks[i] = b
	}
	return &DagSyncResponsePacket{Blocks: blocks}, nil
}

// TransactionPacket gossips a batch of raw transactions.
type TransactionPacket struct {
	Transactions []*types.Transaction
}

type transactionPacketRLP struct {
	Txs [][]byte
}

func (p *TransactionPacket) encode() ([]byte, error) {
	txs := make([][]byte, len(p.Transactions))
	for i, tx := range p.Transactions {
		enc, err := tx.EncodeRLP()
		if err != nil {
			return nil, err
		}
		txs[i] = enc
	}
	return wire.EncodeToBytes(transactionPacketRLP{Txs: txs})
}

func decodeTransactionPacket(raw []byte) (*TransactionPacket, error) {
	var r transactionPacketRLP
	if err := wire.DecodeBytes(raw, &r); err != nil {
		return nil, err
	}
	txs := make([]*types.Transaction, len(r.Txs))
	for i, enc := range r.Txs {
		tx, err := types.DecodeTransaction(enc)
		if err != nil {
			return nil, err
		}
		txs[i] = tx
	}
	return &TransactionPacket{Transactions: txs}, nil
}

// VotePacket gossips one vote. When the vote is a propose-step vote, the
// proposed pbft_block body rides along: the spec's vote tuple (spec §3)
// carries only the block's hash, so a peer that has not itself built that
// block needs its body to ever commit on the resulting cert quorum
// (pbft.Machine.RecordProposal is the intended receiver).
type VotePacket struct {
	Vote  *types.Vote
	Block *types.PbftBlock // nil unless Vote.Type == types.VoteTypePropose
}

type votePacketRLP struct {
	Vote  []byte
	Block []byte
}

func (p *VotePacket) encode() ([]byte, error) {
	voteEnc, err := p.Vote.EncodeRLP()
	if err != nil {
		return nil, err
	}
	var blockEnc []byte
	if p.Block != nil {
		blockEnc, err = p.Block.EncodeRLP()
		if err != nil {
			return nil, err
		}
	}
	return wire.EncodeToBytes(votePacketRLP{Vote: voteEnc, Block: blockEnc})
}

func decodeVotePacket(raw []byte) (*VotePacket, error) {
	var r votePacketRLP
	if err := wire.DecodeBytes(raw, &r); err != nil {
		return nil, err
	}
	vote, err := types.DecodeVote(r.Vote)
	if err != nil {
		return nil, err
	}
	var block *types.PbftBlock
	if len(r.Block) > 0 {
		block, err = types.DecodePbftBlock(r.Block)
		if err != nil {
			return nil, err
		}
	}
	return &VotePacket{Vote: vote, Block: block}, nil
}

// GetPbftSyncPacket requests every committed period starting at Period.
type GetPbftSyncPacket struct {
	Period uint64
}

// PbftSyncPacket answers a GetPbftSyncPacket with one or more committed
// period bundles; IsFinal marks the last packet of the response.
type PbftSyncPacket struct {
	Bundles []*types.PeriodBundle
	IsFinal bool
}

type pbftSyncPacketRLP struct {
	Bundles [][]byte
	IsFinal bool
}

func (p *PbftSyncPacket) encode() ([]byte, error) {
	bundles := make([][]byte, len(p.Bundles))
	for i, b := range p.Bundles {
		enc, err := b.EncodeRLP()
		if err != nil {
			return nil, err
		}
		bundles[i] = enc
	}
	return wire.EncodeToBytes(pbftSyncPacketRLP{Bundles: bundles, IsFinal: p.IsFinal})
}

func decodePbftSyncPacket(raw []byte) (*PbftSyncPacket, error) {
	var r pbftSyncPacketRLP
	if err := wire.DecodeBytes(raw, &r); err != nil {
		return nil, err
	}
	bundles := make([]*types.PeriodBundle, len(r.Bundles))
	for i, enc := range r.Bundles {
		b, err := types.DecodePeriodBundle(enc)
		if err != nil {
			return nil, err
		}
		bundles[i] = b
	}
	return &PbftSyncPacket{Bundles: bundles, IsFinal: r.IsFinal}, nil
}

// GetNextVotesPacket requests every next-step vote cast in round Round.
type GetNextVotesPacket struct {
	Round uint64
}

// NextVotesPacket answers a GetNextVotesPacket.
type NextVotesPacket struct {
	Votes []*types.Vote
}

type nextVotesPacketRLP struct {
	Votes [][]byte
}

func (p *NextVotesPacket) encode() ([]byte, error) {
	votes := make([][]byte, len(p.Votes))
	for i, v := range p.Votes {
		enc, err := v.EncodeRLP()
		if err != nil {
			return nil, err
		}
		votes[i] = enc
	}
	return wire.EncodeToBytes(nextVotesPacketRLP{Votes: votes})
}

func decodeNextVotesPacket(raw []byte) (*NextVotesPacket, error) {
	var r nextVotesPacketRLP
	if err := wire.DecodeBytes(raw, &r); err != nil {
		return nil, err
	}
	votes := make([]*types.Vote, len(r.Votes))
	for i, enc := range r.Votes {
		v, err := types.DecodeVote(enc)
		if err != nil {
			return nil, err
		}
		votes[i] = v
	}
	return &NextVotesPacket{Votes: votes}, nil
}
