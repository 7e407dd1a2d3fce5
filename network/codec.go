package network

import (
	"github.com/taraxa-go/taraxa-node/wire"
)

func (p *StatusPacket) encode() ([]byte, error)         { return wire.EncodeToBytes(*p) }
func (p *NewBlockHashPacket) encode() ([]byte, error)    { return wire.EncodeToBytes(*p) }
func (p *GetNewBlockPacket) encode() ([]byte, error)     { return wire.EncodeToBytes(*p) }
func (p *DagSyncRequestPacket) encode() ([]byte, error)  { return wire.EncodeToBytes(*p) }
func (p *GetPbftSyncPacket) encode() ([]byte, error)     { return wire.EncodeToBytes(*p) }
func (p *GetNextVotesPacket) encode() ([]byte, error)    { return wire.EncodeToBytes(*p) }

func decodeStatusPacket(raw []byte) (*StatusPacket, error) {
	var p StatusPacket
	if err := wire.DecodeBytes(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeNewBlockHashPacket(raw []byte) (*NewBlockHashPacket, error) {
	var p NewBlockHashPacket
	if err := wire.DecodeBytes(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeGetNewBlockPacket(raw []byte) (*GetNewBlockPacket, error) {
	var p GetNewBlockPacket
	if err := wire.DecodeBytes(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeDagSyncRequestPacket(raw []byte) (*DagSyncRequestPacket, error) {
	var p DagSyncRequestPacket
	if err := wire.DecodeBytes(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeGetPbftSyncPacket(raw []byte) (*GetPbftSyncPacket, error) {
	var p GetPbftSyncPacket
	if err := wire.DecodeBytes(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeGetNextVotesPacket(raw []byte) (*GetNextVotesPacket, error) {
	var p GetNextVotesPacket
	if err := wire.DecodeBytes(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
