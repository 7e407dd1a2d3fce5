// Package types defines the node's domain model: transactions, DAG blocks,
// votes, and period bundles (spec §3), each with its canonical RLP encoding
// and identifying hash.
package types

import (
	"math/big"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/crypto"
	"github.com/taraxa-go/taraxa-node/shared/errs"
	"github.com/taraxa-go/taraxa-node/wire"
)

// Transaction is the tuple (nonce, gas_price, gas_limit, to?, value, data,
// chain_id, v, r, s) from spec §3. `To` is the zero address for contract
// creation; this node does not interpret `Data` itself (§1 scope), it only
// orders and persists it for the external state transition function.
type Transaction struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       common.Address
	ToSet    bool
	Value    *big.Int
	Data     []byte
	ChainID  uint64
	V        uint64
	R        *big.Int
	S        *big.Int
}

// transactionRLP is the wire representation; big.Int fields round-trip
// through wire's canonical integer encoding directly, but To/ToSet are
// split so a missing `to` (contract creation) encodes as an empty byte
// string rather than a fixed-width zero address, matching RLP's standard
// Ethereum-style convention.
type transactionRLP struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       []byte
	Value    *big.Int
	Data     []byte
	ChainID  uint64
	V        uint64
	R        *big.Int
	S        *big.Int
}

func (tx *Transaction) toRLP() transactionRLP {
	to := []byte{}
	if tx.ToSet {
		to = tx.To.Bytes()
	}
	return transactionRLP{
		Nonce: tx.Nonce, GasPrice: orZero(tx.GasPrice), GasLimit: tx.GasLimit,
		To: to, Value: orZero(tx.Value), Data: tx.Data, ChainID: tx.ChainID,
		V: tx.V, R: orZero(tx.R), S: orZero(tx.S),
	}
}

func (tx *Transaction) fromRLP(r transactionRLP) error {
	tx.Nonce, tx.GasPrice, tx.GasLimit = r.Nonce, r.GasPrice, r.GasLimit
	tx.Value, tx.Data, tx.ChainID = r.Value, r.Data, r.ChainID
	tx.V, tx.R, tx.S = r.V, r.R, r.S
	if len(r.To) > 0 {
		tx.To = common.BytesToAddress(r.To)
		tx.ToSet = true
	}
	return nil
}

func orZero(b *big.Int) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return b
}

// EncodeRLP returns the transaction's canonical encoding, excluding R and S
// when signingDigest is requested via SigningHash instead.
func (tx *Transaction) EncodeRLP() ([]byte, error) {
	return wire.EncodeToBytes(tx.toRLP())
}

// DecodeTransaction parses a canonical transaction encoding.
func DecodeTransaction(b []byte) (*Transaction, error) {
	var r transactionRLP
	if err := wire.DecodeBytes(b, &r); err != nil {
		return nil, err
	}
	tx := &Transaction{}
	if err := tx.fromRLP(r); err != nil {
		return nil, err
	}
	return tx, nil
}

// signingPayload is the EIP-155-style pre-image signed by the sender:
// (nonce, gas_price, gas, to, value, data, chain_id, 0, 0).
type signingPayload struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       []byte
	Value    *big.Int
	Data     []byte
	ChainID  uint64
	Zero1    uint64
	Zero2    uint64
}

// SigningHash returns the digest the sender's signature covers.
func (tx *Transaction) SigningHash() (common.Hash, error) {
	to := []byte{}
	if tx.ToSet {
		to = tx.To.Bytes()
	}
	payload := signingPayload{
		Nonce: tx.Nonce, GasPrice: orZero(tx.GasPrice), GasLimit: tx.GasLimit,
		To: to, Value: orZero(tx.Value), Data: tx.Data, ChainID: tx.ChainID,
	}
	enc, err := wire.EncodeToBytes(payload)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// Signature reconstructs the recoverable 65-byte signature from (v, r, s).
func (tx *Transaction) Signature() (crypto.Signature, error) {
	if tx.V > 1 {
		return crypto.Signature{}, errs.New(errs.InvalidSignature, "types: transaction recovery id must be 0 or 1, got %d", tx.V)
	}
	var sig crypto.Signature
	rBytes := tx.R.Bytes()
	sBytes := tx.S.Bytes()
	if len(rBytes) > 32 || len(sBytes) > 32 {
		return crypto.Signature{}, errs.New(errs.InvalidSignature, "types: transaction r/s overflow 32 bytes")
	}
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	sig[64] = byte(tx.V)
	return sig, nil
}

// Sender recovers and validates the transaction's sender, per the
// invariants of spec §3: the signature must recover to a non-zero address.
func (tx *Transaction) Sender() (common.Address, error) {
	digest, err := tx.SigningHash()
	if err != nil {
		return common.Address{}, err
	}
	sig, err := tx.Signature()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.RecoverAddress(digest, sig)
}

// Sign populates V, R, S by signing the transaction with priv, and returns
// the resulting sender address.
func (tx *Transaction) Sign(priv *crypto.PrivateKey) (common.Address, error) {
	digest, err := tx.SigningHash()
	if err != nil {
		return common.Address{}, err
	}
	sig, err := priv.Sign(digest)
	if err != nil {
		return common.Address{}, err
	}
	tx.R = new(big.Int).SetBytes(sig[0:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = uint64(sig[64])
	return priv.Public().Address(), nil
}

// Hash returns the transaction's identifying hash: the Keccak-256 of its
// full canonical encoding, signature included.
func (tx *Transaction) Hash() (common.Hash, error) {
	enc, err := tx.EncodeRLP()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// Validate checks the invariants of spec §3 that don't require pool/chain
// context: the signature recovers to a non-zero sender, and chainID
// matches the node's configured chain.
func (tx *Transaction) Validate(wantChainID uint64) (common.Address, error) {
	if tx.ChainID != wantChainID {
		return common.Address{}, errs.New(errs.InvalidChainId, "types: transaction chain id %d, want %d", tx.ChainID, wantChainID)
	}
	sender, err := tx.Sender()
	if err != nil {
		return common.Address{}, err
	}
	if sender == (common.Address{}) {
		return common.Address{}, errs.New(errs.InvalidSignature, "types: transaction recovers to the zero address")
	}
	return sender, nil
}
