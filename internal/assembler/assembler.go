// assembler.go implements the block assembler: given a non-empty batch
// of transactions, produce a candidate PendingBlock with its body
// attached, ready for the vote manager to propose.
//
// Builds on the same BuildJobFromTemplate / ComputeMerkleBranches shape
// used elsewhere for mining job templates: that work already computes
// a Merkle root over an ordered transaction-hash list to embed in a
// block header. This swaps that binary Merkle tree for the Patricia
// trie of internal/store/trie, and swaps "ask bitcoind for the block
// template" for the StateRootProvider collaborator.
package assembler

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/nodeforge/posnode/internal/codec"
	"github.com/nodeforge/posnode/internal/coinbase"
	"github.com/nodeforge/posnode/internal/cryptoutil"
	"github.com/nodeforge/posnode/internal/store"
	"github.com/nodeforge/posnode/internal/store/trie"
	"github.com/nodeforge/posnode/internal/types"
)

// Assembler turns mempool batches into candidate pending blocks.
type Assembler struct {
	store      *store.Store
	stateRoot  StateRootProvider
	proposer   *cryptoutil.PrivateKey
	proposerID types.Address
}

// New builds an Assembler. proposer signs the coinbase transaction
// appended to every block this node assembles.
func New(s *store.Store, sr StateRootProvider, proposer *cryptoutil.PrivateKey) *Assembler {
	return &Assembler{
		store:      s,
		stateRoot:  sr,
		proposer:   proposer,
		proposerID: cryptoutil.Address(proposer.PubKey()),
	}
}

// Assemble finds the chain head, appends a coinbase, computes tx_root
// over the final ordering, calls the external state_root collaborator,
// and returns a PendingBlock with its body attached (not yet persisted
// to the trie — Persist does that).
func (a *Assembler) Assemble(ctx context.Context, batch []types.Tx) (*types.PendingBlock, map[[32]byte][]byte, error) {
	if len(batch) == 0 {
		return nil, nil, fmt.Errorf("assemble: batch must be non-empty")
	}

	var number uint64
	var prevHash [32]byte
	head, ok, err := a.store.Head()
	if err != nil {
		return nil, nil, fmt.Errorf("read head: %w", err)
	}
	if ok {
		h, err := codec.HashHeader(&head.PendingBlockHeader)
		if err != nil {
			return nil, nil, fmt.Errorf("hash head: %w", err)
		}
		number = head.Number + 1
		prevHash = h
	}

	cb, err := coinbase.Build(a.proposer, a.proposerID, batch)
	if err != nil {
		return nil, nil, fmt.Errorf("build coinbase: %w", err)
	}
	body := append(append([]types.Tx{}, batch...), *cb)

	txRoot, nodes, err := trie.Build(body)
	if err != nil {
		return nil, nil, fmt.Errorf("build tx trie: %w", err)
	}

	stateRoot, err := a.stateRoot.StateRoot(ctx, body)
	if err != nil {
		return nil, nil, fmt.Errorf("compute state root: %w", err)
	}

	header := types.PendingBlockHeader{
		PrevHash:  prevHash,
		Number:    number,
		StateRoot: stateRoot,
		TxRoot:    txRoot,
		// ReceiptRoot is left zero: no receipt-generating execution
		// engine is in scope here.
	}

	return &types.PendingBlock{PendingBlockHeader: header, Body: body}, nodes, nil
}

// Persist writes the header row, moves the body into the on-disk trie
// keyed by the header's own hash, and clears it from memory (the
// caller simply drops its reference to pb.Body after this returns).
func (a *Assembler) Persist(db *bbolt.DB, pb *types.PendingBlock, nodes map[[32]byte][]byte) ([32]byte, error) {
	hash, err := codec.HashHeader(&pb.PendingBlockHeader)
	if err != nil {
		return [32]byte{}, fmt.Errorf("hash header: %w", err)
	}
	if err := a.store.PutPendingBlock(&pb.PendingBlockHeader); err != nil {
		return [32]byte{}, fmt.Errorf("put pending block header: %w", err)
	}

	tr, err := trie.Open(db, hash)
	if err != nil {
		return [32]byte{}, fmt.Errorf("open trie: %w", err)
	}
	defer tr.Close()
	if err := tr.Commit(nodes); err != nil {
		return [32]byte{}, fmt.Errorf("commit trie: %w", err)
	}
	return hash, nil
}
