package types

// Vote is a miner's signed ballot for a candidate block at a given
// height and round. Identity for deduplication is Hash; the
// equivocation key is (MinerAddress, BlockNumber, VotingRound).
type Vote struct {
	MinerAddress Address  `cbor:"1,keyasint"`
	BlockNumber  uint64   `cbor:"2,keyasint"`
	BlockHash    [32]byte `cbor:"3,keyasint"`
	VotingRound  uint32   `cbor:"4,keyasint"`

	V uint8    `cbor:"5,keyasint"`
	R [32]byte `cbor:"6,keyasint"`
	S [32]byte `cbor:"7,keyasint"`

	hash *[32]byte
}

// CachedHash returns the previously computed vote hash, if any.
func (v *Vote) CachedHash() ([32]byte, bool) {
	if v.hash == nil {
		return [32]byte{}, false
	}
	return *v.hash, true
}

// SetCachedHash stores the memoized vote hash.
func (v *Vote) SetCachedHash(h [32]byte) {
	v.hash = &h
}

// EquivocationKey identifies the round slot a miner may cast at most one
// honest vote for.
type EquivocationKey struct {
	Miner       Address
	BlockNumber uint64
	VotingRound uint32
}

// Key returns v's equivocation key.
func (v *Vote) Key() EquivocationKey {
	return EquivocationKey{Miner: v.MinerAddress, BlockNumber: v.BlockNumber, VotingRound: v.VotingRound}
}
