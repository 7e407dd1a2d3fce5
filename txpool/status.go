package txpool

import (
	"encoding/binary"

	"github.com/taraxa-go/taraxa-node/shared/errs"
)

// Status is a transaction's lifecycle stage, spec §3 transaction
// lifecycle: unverified -> verified -> in-block -> finalized(period, pos),
// with a separate invalid terminal state for failed verification.
type Status uint8

const (
	StatusUnverified Status = iota
	StatusVerified
	StatusInBlock
	StatusFinalized
	StatusInvalid
)

// String renders the status for logging.
func (s Status) String() string {
	switch s {
	case StatusUnverified:
		return "in_queue_unverified"
	case StatusVerified:
		return "in_queue_verified"
	case StatusInBlock:
		return "in_block"
	case StatusFinalized:
		return "finalized"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// encodedStatus is the on-disk form of transaction_status: one status
// byte, plus (period, position) when finalized.
type encodedStatus struct {
	Status   Status
	Period   uint64
	Position uint32
}

func encodeStatus(s encodedStatus) []byte {
	b := make([]byte, 13)
	b[0] = byte(s.Status)
	binary.BigEndian.PutUint64(b[1:9], s.Period)
	binary.BigEndian.PutUint32(b[9:13], s.Position)
	return b
}

func decodeStatus(b []byte) (encodedStatus, error) {
	if len(b) != 13 {
		return encodedStatus{}, errs.New(errs.MalformedEncoding, "txpool: transaction_status entry has bad width %d", len(b))
	}
	return encodedStatus{
		Status:   Status(b[0]),
		Period:   binary.BigEndian.Uint64(b[1:9]),
		Position: binary.BigEndian.Uint32(b[9:13]),
	}, nil
}
