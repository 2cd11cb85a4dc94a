package accounts

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/posnode/internal/codec"
	"github.com/nodeforge/posnode/internal/cryptoutil"
	"github.com/nodeforge/posnode/internal/store"
	"github.com/nodeforge/posnode/internal/types"
	"github.com/nodeforge/posnode/pkg/util"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func signedTx(t *testing.T, priv *cryptoutil.PrivateKey, nonce uint64, to types.Address, value, fee string) *types.Tx {
	t.Helper()
	v, _ := types.DecimalFromString(value)
	f, _ := types.DecimalFromString(fee)
	tx := &types.Tx{Nonce: nonce, To: to, Value: v, Fee: f}
	enc, err := codec.EncodeTxUnsigned(tx)
	if err != nil {
		t.Fatalf("EncodeTxUnsigned: %v", err)
	}
	hash := util.Hash256(enc)
	sig := cryptoutil.Sign(priv, hash)
	tx.V, tx.R, tx.S = sig.V, sig.R, sig.S
	return tx
}

func putBlock(t *testing.T, s *store.Store, prev [32]byte, number uint64, txs []types.Tx) [32]byte {
	t.Helper()
	b := &types.Block{
		PendingBlockHeader: types.PendingBlockHeader{PrevHash: prev, Number: number},
		Txs:                txs,
		CommittedAt:        time.Now(),
	}
	if err := s.PutBlock(b); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}
	h, err := codec.HashHeader(&b.PendingBlockHeader)
	if err != nil {
		t.Fatalf("HashHeader: %v", err)
	}
	return h
}

func TestComputeTracksNonceAndBalance(t *testing.T) {
	s := openTestStore(t)
	priv, _ := cryptoutil.GeneratePrivateKey()
	sender := cryptoutil.Address(priv.PubKey())
	receiver := types.Address{0x09}

	tx1 := signedTx(t, priv, 1, receiver, "10", "1")
	h1 := putBlock(t, s, [32]byte{}, 1, []types.Tx{*tx1})

	tx2 := signedTx(t, priv, 2, receiver, "5", "1")
	putBlock(t, s, h1, 2, []types.Tx{*tx2})

	senderState, err := Compute(s, sender, [32]byte{})
	if err != nil {
		t.Fatalf("Compute(sender): %v", err)
	}
	if senderState.Nonce != 2 {
		t.Errorf("sender nonce = %d, want 2", senderState.Nonce)
	}
	if senderState.Balance.Sign() >= 0 {
		t.Errorf("sender balance should be negative after sending, got %s", senderState.Balance.String())
	}

	receiverState, err := Compute(s, receiver, [32]byte{})
	if err != nil {
		t.Fatalf("Compute(receiver): %v", err)
	}
	if receiverState.Balance.String() != "15" {
		t.Errorf("receiver balance = %s, want 15", receiverState.Balance.String())
	}
}

func TestComputeEmptyChainIsZero(t *testing.T) {
	s := openTestStore(t)
	state, err := Compute(s, types.Address{0x01}, [32]byte{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if state.Nonce != 0 || !state.Balance.IsZero() {
		t.Errorf("expected zero state on empty chain, got %+v", state)
	}
}
