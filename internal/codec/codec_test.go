package codec

import (
	"testing"

	"github.com/nodeforge/posnode/internal/types"
)

func mustDecimal(s string) types.Decimal {
	d, err := types.DecimalFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func sampleTx() *types.Tx {
	return &types.Tx{
		Nonce: 7,
		To:    types.Address{0x01, 0x02},
		Value: mustDecimal("1.5"),
		Fee:   mustDecimal("0.1"),
		Data:  []byte(`{"tx_type":"transfer"}`),
		V:     27,
		R:     [32]byte{0xAA},
		S:     [32]byte{0xBB},
	}
}

func TestTxRoundTrip(t *testing.T) {
	tx := sampleTx()
	enc, err := EncodeTx(tx)
	if err != nil {
		t.Fatalf("EncodeTx: %v", err)
	}
	got, err := DecodeTx(enc)
	if err != nil {
		t.Fatalf("DecodeTx: %v", err)
	}
	if got.Nonce != tx.Nonce || got.To != tx.To || got.Value.Cmp(tx.Value) != 0 ||
		got.Fee.Cmp(tx.Fee) != 0 || string(got.Data) != string(tx.Data) ||
		got.V != tx.V || got.R != tx.R || got.S != tx.S {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, tx)
	}
}

func TestHashTxDeterministic(t *testing.T) {
	tx1 := sampleTx()
	tx2 := sampleTx()
	h1, err := HashTx(tx1)
	if err != nil {
		t.Fatalf("HashTx: %v", err)
	}
	h2, err := HashTx(tx2)
	if err != nil {
		t.Fatalf("HashTx: %v", err)
	}
	if h1 != h2 {
		t.Errorf("identical transactions hashed differently: %x vs %x", h1, h2)
	}
}

func TestHashTxCached(t *testing.T) {
	tx := sampleTx()
	h1, _ := HashTx(tx)
	tx.Nonce = 999 // mutate after caching — cached value must win
	h2, _ := HashTx(tx)
	if h1 != h2 {
		t.Error("HashTx did not use the cached hash")
	}
}

func TestUnsignedExcludesSignature(t *testing.T) {
	tx1 := sampleTx()
	tx2 := sampleTx()
	tx2.V = 28
	tx2.R = [32]byte{0xFF}
	unsigned1, err := EncodeTxUnsigned(tx1)
	if err != nil {
		t.Fatalf("EncodeTxUnsigned: %v", err)
	}
	unsigned2, err := EncodeTxUnsigned(tx2)
	if err != nil {
		t.Fatalf("EncodeTxUnsigned: %v", err)
	}
	if string(unsigned1) != string(unsigned2) {
		t.Error("unsigned encoding should not depend on V, R, S")
	}
}

func TestVoteRoundTrip(t *testing.T) {
	v := &types.Vote{
		MinerAddress: types.Address{0x09},
		BlockNumber:  42,
		BlockHash:    [32]byte{0x01, 0x02, 0x03},
		VotingRound:  2,
		V:            27,
		R:            [32]byte{0x11},
		S:            [32]byte{0x22},
	}
	enc, err := EncodeVote(v)
	if err != nil {
		t.Fatalf("EncodeVote: %v", err)
	}
	got, err := DecodeVote(enc)
	if err != nil {
		t.Fatalf("DecodeVote: %v", err)
	}
	if *got != *v {
		t.Errorf("vote round trip mismatch: got %+v, want %+v", got, v)
	}
}

func TestHeaderRoundTripAndHash(t *testing.T) {
	h := &types.PendingBlockHeader{
		PrevHash:    [32]byte{0x01},
		Number:      5,
		StateRoot:   [32]byte{0x02},
		ReceiptRoot: [32]byte{0x03},
		TxRoot:      [32]byte{0x04},
	}
	enc, err := EncodeHeader(h)
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	got, err := DecodeHeader(enc)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got.PrevHash != h.PrevHash || got.Number != h.Number || got.TxRoot != h.TxRoot {
		t.Errorf("header round trip mismatch: got %+v, want %+v", got, h)
	}

	h1 := *h
	h2 := *h
	hash1, err := HashHeader(&h1)
	if err != nil {
		t.Fatalf("HashHeader: %v", err)
	}
	hash2, err := HashHeader(&h2)
	if err != nil {
		t.Fatalf("HashHeader: %v", err)
	}
	if hash1 != hash2 {
		t.Error("identical headers hashed differently")
	}
}

func TestBodyRoundTrip(t *testing.T) {
	txs := []types.Tx{*sampleTx(), *sampleTx()}
	txs[1].Nonce = 8
	enc, err := EncodeBody(txs)
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}
	got, err := DecodeBody(enc)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if len(got) != 2 || got[0].Nonce != 7 || got[1].Nonce != 8 {
		t.Errorf("body round trip mismatch: %+v", got)
	}
}
