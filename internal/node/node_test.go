package node

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/posnode/internal/assembler"
	"github.com/nodeforge/posnode/internal/config"
	"github.com/nodeforge/posnode/internal/cryptoutil"
	"github.com/nodeforge/posnode/internal/types"
	"github.com/nodeforge/posnode/testutil"
)

func newTestNode(t *testing.T) (*Node, *cryptoutil.PrivateKey) {
	t.Helper()
	cfg := config.Testnet()
	cfg.DataDir = t.TempDir()
	cfg.MiningInterval = time.Hour // never fires on its own during these tests
	cfg.GCInterval = time.Hour

	signer, err := cryptoutil.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}

	n, err := New(cfg, zap.NewNop(), signer, NopNetwork{}, assembler.NewMockStateRoot())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n, signer
}

func TestIngestTxAdmitsValidTransaction(t *testing.T) {
	n, signer := newTestNode(t)

	tx := testutil.SampleSignedTx(signer, 1, "1.5")
	if err := n.IngestTx(tx); err != nil {
		t.Fatalf("IngestTx: %v", err)
	}

	select {
	case ev := <-n.Events():
		admitted, ok := ev.(TxAdmittedEvent)
		if !ok {
			t.Fatalf("expected TxAdmittedEvent, got %T", ev)
		}
		if admitted.Outcome != "admitted" {
			t.Errorf("outcome = %q, want %q", admitted.Outcome, "admitted")
		}
	default:
		t.Fatal("expected a TxAdmittedEvent on the bus")
	}
}

func TestIngestTxRejectsBadSignature(t *testing.T) {
	n, signer := newTestNode(t)

	tx := testutil.SampleSignedTx(signer, 1, "1.5")
	tx.R[0] ^= 0xFF // corrupt the signature after signing

	if err := n.IngestTx(tx); err == nil {
		t.Fatal("expected rejection of a transaction with a corrupted signature")
	}
}

func TestIngestTxBatchAggregatesErrors(t *testing.T) {
	n, signer := newTestNode(t)

	good := testutil.SampleSignedTx(signer, 1, "1.0")
	bad := testutil.SampleSignedTx(signer, 2, "1.0")
	bad.R[0] ^= 0xFF

	err := n.IngestTxBatch([]*types.Tx{good, bad})
	if err == nil {
		t.Fatal("expected the batch to report the bad transaction's error")
	}
}

func TestIngestVoteRejectsUnknownMiner(t *testing.T) {
	n, signer := newTestNode(t)

	minerAddr := cryptoutil.Address(signer.PubKey())
	v := testutil.SampleVote(signer, minerAddr, 1, 0, [32]byte{1})

	if err := n.IngestVote(v); err == nil {
		t.Fatal("expected rejection of a vote from an unregistered miner")
	}
}

func TestIngestVoteDetectsEquivocation(t *testing.T) {
	n, signer := newTestNode(t)
	minerAddr := cryptoutil.Address(signer.PubKey())

	if err := n.store.PutMiner(testutil.SampleMiner(minerAddr, "100")); err != nil {
		t.Fatalf("PutMiner: %v", err)
	}

	first := testutil.SampleVote(signer, minerAddr, 10, 0, [32]byte{1})
	if err := n.IngestVote(first); err != nil {
		t.Fatalf("IngestVote(first): %v", err)
	}

	second := testutil.SampleVote(signer, minerAddr, 10, 0, [32]byte{2})
	if err := n.IngestVote(second); err != nil {
		t.Fatalf("IngestVote(second): %v", err)
	}

	drained := false
	for i := 0; i < 8; i++ {
		select {
		case ev := <-n.Events():
			if _, ok := ev.(SlashEmittedEvent); ok {
				drained = true
			}
		default:
		}
	}
	if !drained {
		t.Error("expected a SlashEmittedEvent after an equivocating second vote")
	}
}

func TestRunMiningRoundCommitsAHeight(t *testing.T) {
	n, signer := newTestNode(t)
	// The node's own signer must be a registered miner, or its own cast
	// vote never validates and no round can ever reach supermajority.
	proposerAddr := cryptoutil.Address(signer.PubKey())
	if err := n.store.PutMiner(testutil.SampleMiner(proposerAddr, "100")); err != nil {
		t.Fatalf("PutMiner: %v", err)
	}

	// Fund the proposer from a separate faucet key, committed directly
	// as a genesis block, so ValidTx's confirmed-balance check passes
	// without bumping the proposer's own nonce.
	faucet, _ := cryptoutil.GeneratePrivateKey()
	fundedValue, _ := types.DecimalFromString("100")
	funding := &types.Tx{Nonce: 1, To: proposerAddr, Value: fundedValue, Fee: types.ZeroDecimal()}
	testutil.SignTx(faucet, funding)
	if err := n.store.PutBlock(&types.Block{
		PendingBlockHeader: types.PendingBlockHeader{Number: 0},
		Txs:                []types.Tx{*funding},
	}); err != nil {
		t.Fatalf("PutBlock(funding): %v", err)
	}

	tx := testutil.SampleSignedTx(signer, 1, "1.0")
	if err := n.IngestTx(tx); err != nil {
		t.Fatalf("IngestTx: %v", err)
	}

	n.runMiningRound(t.Context())

	head, ok, err := n.store.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if !ok {
		t.Fatal("expected a committed head after one mining round with QUORUM_SIZE=1")
	}
	if head.Number != 1 {
		t.Errorf("committed height = %d, want 1 (genesis funding block is height 0)", head.Number)
	}
}

func TestRunGCPrunesAtOrBelowHead(t *testing.T) {
	n, _ := newTestNode(t)

	if err := n.store.PutBlock(&types.Block{
		PendingBlockHeader: types.PendingBlockHeader{Number: 5},
		CommittedAt:        time.Now(),
	}); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}

	below := &types.PendingBlockHeader{Number: 3}
	above := &types.PendingBlockHeader{Number: 8}
	if err := n.store.PutPendingBlock(below); err != nil {
		t.Fatalf("PutPendingBlock(below): %v", err)
	}
	if err := n.store.PutPendingBlock(above); err != nil {
		t.Fatalf("PutPendingBlock(above): %v", err)
	}

	if err := n.runGC(); err != nil {
		t.Fatalf("runGC: %v", err)
	}

	headers, err := n.store.ListPendingBlocks(0)
	if err != nil {
		t.Fatalf("ListPendingBlocks: %v", err)
	}
	for _, h := range headers {
		if h.Number <= 5 {
			t.Errorf("pending block at height %d should have been collected", h.Number)
		}
	}
	if len(headers) != 1 || headers[0].Number != 8 {
		t.Errorf("headers after GC = %v, want only height 8", headers)
	}
}

func TestDataDirIsIsolatedPerNode(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Testnet()
	cfg.DataDir = filepath.Join(dir, "node-a")

	signer, _ := cryptoutil.GeneratePrivateKey()
	n, err := New(cfg, zap.NewNop(), signer, NopNetwork{}, assembler.NewMockStateRoot())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	if n.SessionID().String() == "" {
		t.Error("expected a non-empty session id")
	}
}
