package types

// Address is a 20-byte account identifier, recovered from a signature,
// never stored alongside the transaction that carries it.
type Address [20]byte

// String renders the address as uppercase hex, the canonical external
// wire form; comparisons between addresses are case-insensitive
// because they always go through this canonical form or through the
// raw [20]byte value directly.
func (a Address) String() string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, len(a)*2)
	for i, b := range a {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	var zero Address
	return a == zero
}

// TxType tags the opaque JSON payload carried in Tx.Data. Smart-contract
// execution is out of scope; only a closed set of recognized tags
// drives core behavior.
type TxType string

const (
	TxTypeTransfer TxType = "transfer"
	TxTypeCoinbase TxType = "coinbase"
	TxTypeSlash    TxType = "slash"
)

// TxPayload is the minimal recognized shape of Tx.Data: the tag only;
// auxiliary fields a tag defines are not decoded here. Unknown tags are
// legal (opaque to the core).
type TxPayload struct {
	TxType TxType `json:"tx_type"`
}

// Tx is a signed, nonce-ordered account transaction.
type Tx struct {
	Nonce uint64  `cbor:"1,keyasint"`
	To    Address `cbor:"2,keyasint"`
	Value Decimal `cbor:"3,keyasint"`
	Fee   Decimal `cbor:"4,keyasint"`
	Data  []byte  `cbor:"5,keyasint"`

	V uint8    `cbor:"6,keyasint"`
	R [32]byte `cbor:"7,keyasint"`
	S [32]byte `cbor:"8,keyasint"`

	// hash is lazily computed and cached; it is never part of the wire
	// encoding — it is derived FROM the encoding.
	hash *[32]byte
}

// IsSigned reports whether the transaction carries a non-zero signature.
func (t *Tx) IsSigned() bool {
	var zero [32]byte
	return t.R != zero || t.S != zero || t.V != 0
}

// CachedHash returns the previously computed hash, if any.
func (t *Tx) CachedHash() ([32]byte, bool) {
	if t.hash == nil {
		return [32]byte{}, false
	}
	return *t.hash, true
}

// SetCachedHash stores h as the memoized hash of t.
func (t *Tx) SetCachedHash(h [32]byte) {
	t.hash = &h
}
