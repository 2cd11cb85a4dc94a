// Package codec implements the deterministic, length-prefixed recursive
// RLP-style encoding and the 256-bit hash domain every entity (Tx,
// PendingBlock, Vote) is addressed by.
//
// Builds on the same canonical-encoding idiom as the peer-to-peer
// message layer: canonical CBOR (github.com/fxamacker/cbor/v2) gives
// byte-identical output across nodes for the same logical value — map
// and struct keys are emitted in a fixed order and integers use the
// shortest valid form, which is exactly the round-trip determinism this
// protocol demands. Hashing uses golang.org/x/crypto/sha3, promoted
// from an indirect dependency (pulled in transitively via libp2p) to a
// direct one.
package codec

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/nodeforge/posnode/internal/types"
	"github.com/nodeforge/posnode/pkg/util"
)

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic("codec: invalid canonical encoding options: " + err.Error())
	}
	return m
}()

// Encode serializes v using the canonical, deterministic encoding.
func Encode(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// Decode deserializes data produced by Encode into v.
func Decode(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// txWire and txWireUnsigned mirror types.Tx's wire shape. The unsigned
// variant omits V, R, S — used both to produce the signing payload and
// to recover the sender address.
type txWire struct {
	Nonce uint64        `cbor:"1,keyasint"`
	To    types.Address `cbor:"2,keyasint"`
	Value types.Decimal `cbor:"3,keyasint"`
	Fee   types.Decimal `cbor:"4,keyasint"`
	Data  []byte        `cbor:"5,keyasint"`
	V     uint8         `cbor:"6,keyasint"`
	R     [32]byte      `cbor:"7,keyasint"`
	S     [32]byte      `cbor:"8,keyasint"`
}

type txWireUnsigned struct {
	Nonce uint64        `cbor:"1,keyasint"`
	To    types.Address `cbor:"2,keyasint"`
	Value types.Decimal `cbor:"3,keyasint"`
	Fee   types.Decimal `cbor:"4,keyasint"`
	Data  []byte        `cbor:"5,keyasint"`
}

func toTxWire(t *types.Tx) txWire {
	return txWire{Nonce: t.Nonce, To: t.To, Value: t.Value, Fee: t.Fee, Data: t.Data, V: t.V, R: t.R, S: t.S}
}

func toTxWireUnsigned(t *types.Tx) txWireUnsigned {
	return txWireUnsigned{Nonce: t.Nonce, To: t.To, Value: t.Value, Fee: t.Fee, Data: t.Data}
}

// EncodeTx encodes a transaction in default mode (including V, R, S).
func EncodeTx(t *types.Tx) ([]byte, error) {
	return Encode(toTxWire(t))
}

// DecodeTx decodes a default-mode-encoded transaction.
func DecodeTx(data []byte) (*types.Tx, error) {
	var w txWire
	if err := Decode(data, &w); err != nil {
		return nil, err
	}
	return &types.Tx{Nonce: w.Nonce, To: w.To, Value: w.Value, Fee: w.Fee, Data: w.Data, V: w.V, R: w.R, S: w.S}, nil
}

// EncodeTxUnsigned encodes a transaction in unsigned mode (omitting
// V, R, S) — the payload that gets signed and the payload recovery
// verifies against.
func EncodeTxUnsigned(t *types.Tx) ([]byte, error) {
	return Encode(toTxWireUnsigned(t))
}

// HashTx computes H(rlp(tx including signature)), caching the result
// on t.
func HashTx(t *types.Tx) ([32]byte, error) {
	if h, ok := t.CachedHash(); ok {
		return h, nil
	}
	enc, err := EncodeTx(t)
	if err != nil {
		return [32]byte{}, err
	}
	h := util.Hash256(enc)
	t.SetCachedHash(h)
	return h, nil
}

// voteWire and voteWireUnsigned mirror types.Vote's wire shape.
type voteWire struct {
	MinerAddress types.Address `cbor:"1,keyasint"`
	BlockNumber  uint64        `cbor:"2,keyasint"`
	BlockHash    [32]byte      `cbor:"3,keyasint"`
	VotingRound  uint32        `cbor:"4,keyasint"`
	V            uint8         `cbor:"5,keyasint"`
	R            [32]byte      `cbor:"6,keyasint"`
	S            [32]byte      `cbor:"7,keyasint"`
}

type voteWireUnsigned struct {
	MinerAddress types.Address `cbor:"1,keyasint"`
	BlockNumber  uint64        `cbor:"2,keyasint"`
	BlockHash    [32]byte      `cbor:"3,keyasint"`
	VotingRound  uint32        `cbor:"4,keyasint"`
}

func toVoteWire(v *types.Vote) voteWire {
	return voteWire{MinerAddress: v.MinerAddress, BlockNumber: v.BlockNumber, BlockHash: v.BlockHash, VotingRound: v.VotingRound, V: v.V, R: v.R, S: v.S}
}

func toVoteWireUnsigned(v *types.Vote) voteWireUnsigned {
	return voteWireUnsigned{MinerAddress: v.MinerAddress, BlockNumber: v.BlockNumber, BlockHash: v.BlockHash, VotingRound: v.VotingRound}
}

// EncodeVote encodes a vote in default mode (including V, R, S).
func EncodeVote(v *types.Vote) ([]byte, error) {
	return Encode(toVoteWire(v))
}

// DecodeVote decodes a default-mode-encoded vote.
func DecodeVote(data []byte) (*types.Vote, error) {
	var w voteWire
	if err := Decode(data, &w); err != nil {
		return nil, err
	}
	return &types.Vote{MinerAddress: w.MinerAddress, BlockNumber: w.BlockNumber, BlockHash: w.BlockHash, VotingRound: w.VotingRound, V: w.V, R: w.R, S: w.S}, nil
}

// EncodeVoteUnsigned encodes a vote in unsigned mode.
func EncodeVoteUnsigned(v *types.Vote) ([]byte, error) {
	return Encode(toVoteWireUnsigned(v))
}

// HashVote computes H(rlp(vote including signature)), caching the
// result on v.
func HashVote(v *types.Vote) ([32]byte, error) {
	if h, ok := v.CachedHash(); ok {
		return h, nil
	}
	enc, err := EncodeVote(v)
	if err != nil {
		return [32]byte{}, err
	}
	h := util.Hash256(enc)
	v.SetCachedHash(h)
	return h, nil
}

// headerWire mirrors the 5-tuple a PendingBlock hashes:
// [prev_hash, number, state_root, receipt_root, tx_root]. The header
// hash never covers the body — bodies are addressed separately via the
// trie store (internal/store).
type headerWire struct {
	PrevHash    [32]byte `cbor:"1,keyasint"`
	Number      uint64   `cbor:"2,keyasint"`
	StateRoot   [32]byte `cbor:"3,keyasint"`
	ReceiptRoot [32]byte `cbor:"4,keyasint"`
	TxRoot      [32]byte `cbor:"5,keyasint"`
}

// EncodeHeader encodes a PendingBlockHeader.
func EncodeHeader(h *types.PendingBlockHeader) ([]byte, error) {
	return Encode(headerWire{PrevHash: h.PrevHash, Number: h.Number, StateRoot: h.StateRoot, ReceiptRoot: h.ReceiptRoot, TxRoot: h.TxRoot})
}

// DecodeHeader decodes a PendingBlockHeader.
func DecodeHeader(data []byte) (*types.PendingBlockHeader, error) {
	var w headerWire
	if err := Decode(data, &w); err != nil {
		return nil, err
	}
	return &types.PendingBlockHeader{PrevHash: w.PrevHash, Number: w.Number, StateRoot: w.StateRoot, ReceiptRoot: w.ReceiptRoot, TxRoot: w.TxRoot}, nil
}

// HashHeader computes hash = H(rlp([prev_hash, number, state_root,
// receipt_root, tx_root])), the PendingBlock hash invariant.
func HashHeader(h *types.PendingBlockHeader) ([32]byte, error) {
	if cached, ok := h.CachedHash(); ok {
		return cached, nil
	}
	enc, err := EncodeHeader(h)
	if err != nil {
		return [32]byte{}, err
	}
	hash := util.Hash256(enc)
	h.SetCachedHash(hash)
	return hash, nil
}

// EncodeBody encodes an ordered transaction list, the PendingBlock
// body known as rlp(txs).
func EncodeBody(txs []types.Tx) ([]byte, error) {
	wires := make([]txWire, len(txs))
	for i := range txs {
		wires[i] = toTxWire(&txs[i])
	}
	return Encode(wires)
}

// DecodeBody decodes an ordered transaction list.
func DecodeBody(data []byte) ([]types.Tx, error) {
	var wires []txWire
	if err := Decode(data, &wires); err != nil {
		return nil, err
	}
	txs := make([]types.Tx, len(wires))
	for i, w := range wires {
		txs[i] = types.Tx{Nonce: w.Nonce, To: w.To, Value: w.Value, Fee: w.Fee, Data: w.Data, V: w.V, R: w.R, S: w.S}
	}
	return txs, nil
}
