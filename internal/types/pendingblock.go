package types

import "time"

// PendingBlockHeader is the persisted, body-less row for a proposed
// block. The body (the ordered transaction list) lives in the trie
// store addressed by Hash — see internal/store.
type PendingBlockHeader struct {
	PrevHash    [32]byte `cbor:"1,keyasint"`
	Number      uint64   `cbor:"2,keyasint"`
	StateRoot   [32]byte `cbor:"3,keyasint"`
	ReceiptRoot [32]byte `cbor:"4,keyasint"`
	TxRoot      [32]byte `cbor:"5,keyasint"`

	hash *[32]byte
}

// CachedHash returns the previously computed header hash, if any.
func (h *PendingBlockHeader) CachedHash() ([32]byte, bool) {
	if h.hash == nil {
		return [32]byte{}, false
	}
	return *h.hash, true
}

// SetCachedHash stores the memoized header hash.
func (h *PendingBlockHeader) SetCachedHash(hash [32]byte) {
	h.hash = &hash
}

// PendingBlock is a proposed, uncommitted block: a header plus its body
// (the ordered Tx list) attached in memory. Persisting a PendingBlock
// moves Body into the on-disk trie store and clears it from the header
// row.
type PendingBlock struct {
	PendingBlockHeader
	Body []Tx
}

// Block is a confirmed PendingBlock. Same hash domain as PendingBlock;
// once written, immutable.
type Block struct {
	PendingBlockHeader
	Txs        []Tx
	CommittedAt time.Time
}
