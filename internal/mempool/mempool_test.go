package mempool

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/nodeforge/posnode/internal/codec"
	"github.com/nodeforge/posnode/internal/cryptoutil"
	"github.com/nodeforge/posnode/internal/store"
	"github.com/nodeforge/posnode/internal/types"
	"github.com/nodeforge/posnode/pkg/util"
)

func newTestMempool(t *testing.T) (*Mempool, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	mp, err := New(s, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mp, s
}

func signedTx(t *testing.T, priv *cryptoutil.PrivateKey, nonce uint64, fee string) *types.Tx {
	t.Helper()
	val, _ := types.DecimalFromString("1")
	f, _ := types.DecimalFromString(fee)
	return signedTxTo(t, priv, nonce, types.Address{0x02}, val, f)
}

// signedTxTo builds a signed transaction to an explicit recipient,
// for funding fixtures where the recipient must be a specific address
// the signature itself has to cover.
func signedTxTo(t *testing.T, priv *cryptoutil.PrivateKey, nonce uint64, to types.Address, value, fee types.Decimal) *types.Tx {
	t.Helper()
	tx := &types.Tx{Nonce: nonce, To: to, Value: value, Fee: fee}
	enc, err := codec.EncodeTxUnsigned(tx)
	if err != nil {
		t.Fatalf("EncodeTxUnsigned: %v", err)
	}
	sig := cryptoutil.Sign(priv, util.Hash256(enc))
	tx.V, tx.R, tx.S = sig.V, sig.R, sig.S
	return tx
}

func TestAdmitRejectsUnsigned(t *testing.T) {
	mp, _ := newTestMempool(t)
	tx := &types.Tx{Nonce: 1, To: types.Address{0x01}}
	err := mp.Admit(tx)
	if err == nil {
		t.Fatal("expected rejection of an unsigned transaction")
	}
}

func TestAdmitRejectsDuplicate(t *testing.T) {
	mp, _ := newTestMempool(t)
	priv, _ := cryptoutil.GeneratePrivateKey()
	tx := signedTx(t, priv, 1, "0.1")

	if err := mp.Admit(tx); err != nil {
		t.Fatalf("first Admit: %v", err)
	}
	if err := mp.Admit(tx); err == nil {
		t.Error("expected duplicate rejection on second Admit")
	}
}

func TestGetBatchSkipsTxsFailingValidity(t *testing.T) {
	mp, _ := newTestMempool(t)

	priv1, _ := cryptoutil.GeneratePrivateKey()
	tx := signedTx(t, priv1, 1, "1")
	if err := mp.Admit(tx); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	// Sender's confirmed balance is zero (no committed chain), so
	// ValidTx must reject every candidate and GetBatch must return
	// nothing rather than an error — skipped transactions stay in the
	// mempool.
	batch, err := mp.GetBatch(2)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("got %d batched txs, want 0 (insufficient confirmed balance)", len(batch))
	}

	all, err := mp.store.ListPendingTxs(0)
	if err != nil {
		t.Fatalf("ListPendingTxs: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("skipped tx should remain in mempool, got %d entries", len(all))
	}
}

func TestGetBatchOrdersByFeeDescending(t *testing.T) {
	mp, s := newTestMempool(t)

	// Two distinct senders, each funded from its own faucet transfer, so
	// both can present a valid nonce-1 transaction simultaneously —
	// ValidTx checks each sender's confirmed nonce independently, and a
	// single sender can never have two valid candidates in one batch.
	privLow, _ := cryptoutil.GeneratePrivateKey()
	privHigh, _ := cryptoutil.GeneratePrivateKey()
	senderLow := cryptoutil.Address(privLow.PubKey())
	senderHigh := cryptoutil.Address(privHigh.PubKey())

	hundred, _ := types.DecimalFromString("100")
	faucet, _ := cryptoutil.GeneratePrivateKey()
	fundLow := signedTxTo(t, faucet, 1, senderLow, hundred, types.ZeroDecimal())
	fundHigh := signedTxTo(t, faucet, 2, senderHigh, hundred, types.ZeroDecimal())
	if err := s.PutBlock(&types.Block{
		PendingBlockHeader: types.PendingBlockHeader{Number: 0},
		Txs:                []types.Tx{*fundLow, *fundHigh},
	}); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}

	low := signedTx(t, privLow, 1, "2")
	high := signedTx(t, privHigh, 1, "5")
	// Admit the low-fee tx first so batch order can only come from the
	// fee comparison, never insertion order.
	if err := mp.Admit(low); err != nil {
		t.Fatalf("Admit low: %v", err)
	}
	if err := mp.Admit(high); err != nil {
		t.Fatalf("Admit high: %v", err)
	}

	batch, err := mp.GetBatch(2)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("got %d batched txs, want 2", len(batch))
	}
	if batch[0].Fee.String() != "5" || batch[1].Fee.String() != "2" {
		t.Errorf("batch order = [%s, %s], want [5, 2] (fee descending)", batch[0].Fee.String(), batch[1].Fee.String())
	}
}

func TestUnminedTrueWhenChainEmpty(t *testing.T) {
	mp, _ := newTestMempool(t)
	unmined, err := mp.Unmined([32]byte{0xAB})
	if err != nil {
		t.Fatalf("Unmined: %v", err)
	}
	if !unmined {
		t.Error("every tx should be unmined against an empty chain")
	}
}
