// Package trie implements the pending-block body trie: one MPT per
// pending block under `pending_blocks/<block_hash>/`.
//
// No buildable Merkle-Patricia trie implementation survived retrieval —
// only *_test.go files for ethereum-go-ethereum's trie/ethtrie packages
// were kept, no trie.go itself — so this is built fresh: a minimal
// hex-prefix Patricia trie over index-keyed transaction leaves, each
// node content-addressed by its own Codec hash, the same "nodes keyed
// by their own hash" idiom the sharechain boltstore applies to shares.
// Persistence is one dedicated bbolt bucket per pending block, opened,
// committed and closed explicitly so handles are released on every
// exit path.
package trie

import (
	"bytes"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/nodeforge/posnode/internal/codec"
	"github.com/nodeforge/posnode/internal/types"
	"github.com/nodeforge/posnode/pkg/util"
)

// node is a trie node. leaves hold an encoded transaction; branches
// hold up to 16 hex-digit children plus an optional value at the
// current path (unused here since keys are fixed-length nibble paths
// over tx indices, but kept for hex-prefix-trie fidelity).
type node struct {
	Kind     nodeKind            `cbor:"1,keyasint"`
	KeyEnd   []byte              `cbor:"2,keyasint"` // leaf/extension: remaining nibbles
	Value    []byte              `cbor:"3,keyasint"` // leaf: encoded tx
	Children [16][32]byte        `cbor:"4,keyasint"` // branch: child hashes, zero = absent
	Next     [32]byte            `cbor:"5,keyasint"` // extension: child hash
}

type nodeKind uint8

const (
	kindLeaf nodeKind = iota
	kindExtension
	kindBranch
)

var bucketNodes = []byte("nodes")

// Trie is an open, in-progress or committed pending-block body trie.
// One Trie wraps one bbolt bucket, named for the pending block's hash.
type Trie struct {
	db     *bbolt.DB
	bucket []byte
	root   [32]byte
	closed bool
}

// Build constructs the trie over an ordered transaction list in
// memory, computing the root without touching disk. Callers use this
// to get tx_root for a candidate PendingBlock before a vote commits it.
func Build(txs []types.Tx) ([32]byte, map[[32]byte][]byte, error) {
	nodes := map[[32]byte][]byte{}
	if len(txs) == 0 {
		return [32]byte{}, nodes, nil
	}

	leaves := make([]leafEntry, len(txs))
	for i := range txs {
		enc, err := codec.EncodeTx(&txs[i])
		if err != nil {
			return [32]byte{}, nil, fmt.Errorf("encode tx %d: %w", i, err)
		}
		leaves[i] = leafEntry{nibbles: indexNibbles(i), value: enc}
	}

	root, err := buildBranch(leaves, 0, nodes)
	if err != nil {
		return [32]byte{}, nil, err
	}
	return root, nodes, nil
}

type leafEntry = struct {
	nibbles []byte
	value   []byte
}

func buildBranch(leaves []leafEntry, depth int, nodes map[[32]byte][]byte) ([32]byte, error) {
	if len(leaves) == 1 {
		return storeLeaf(leaves[0].nibbles[depth:], leaves[0].value, nodes)
	}

	buckets := make(map[byte][]leafEntry)
	for _, l := range leaves {
		var digit byte
		if depth < len(l.nibbles) {
			digit = l.nibbles[depth]
		}
		buckets[digit] = append(buckets[digit], l)
	}

	digits := make([]byte, 0, len(buckets))
	for d := range buckets {
		digits = append(digits, d)
	}
	sort.Slice(digits, func(i, j int) bool { return digits[i] < digits[j] })

	var n node
	n.Kind = kindBranch
	for _, d := range digits {
		childHash, err := buildBranch(buckets[d], depth+1, nodes)
		if err != nil {
			return [32]byte{}, err
		}
		n.Children[d] = childHash
	}
	return storeNode(n, nodes)
}

func storeLeaf(remaining []byte, value []byte, nodes map[[32]byte][]byte) ([32]byte, error) {
	n := node{Kind: kindLeaf, KeyEnd: remaining, Value: value}
	return storeNode(n, nodes)
}

func storeNode(n node, nodes map[[32]byte][]byte) ([32]byte, error) {
	enc, err := codec.Encode(n)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encode trie node: %w", err)
	}
	hash := util.Hash256(enc)
	nodes[hash] = enc
	return hash, nil
}

// indexNibbles turns a tx index into a fixed 8-nibble big-endian path,
// enough to address up to 16^8 leaves without collision.
func indexNibbles(i int) []byte {
	out := make([]byte, 8)
	for pos := 7; pos >= 0; pos-- {
		out[pos] = byte(i & 0xF)
		i >>= 4
	}
	return out
}

// Open opens (creating if needed) the on-disk namespace for a pending
// block's trie, named blockHash, inside the shared trie database file.
func Open(db *bbolt.DB, blockHash [32]byte) (*Trie, error) {
	bucketName := []byte(fmt.Sprintf("pending_blocks/%x", blockHash))
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open trie namespace: %w", err)
	}
	return &Trie{db: db, bucket: bucketName, root: blockHash}, nil
}

// Commit persists the in-memory node set (as produced by Build) under
// this trie's namespace, keyed by each node's own hash.
func (t *Trie) Commit(nodes map[[32]byte][]byte) error {
	if t.closed {
		return fmt.Errorf("trie: commit after close")
	}
	return t.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(t.bucket)
		for hash, enc := range nodes {
			if err := b.Put(hash[:], enc); err != nil {
				return fmt.Errorf("put node %x: %w", hash, err)
			}
		}
		return nil
	})
}

// GetLeaf fetches the encoded transaction at the given index by
// walking the trie from root to the index's nibble path.
func (t *Trie) GetLeaf(root [32]byte, index int) ([]byte, error) {
	if t.closed {
		return nil, fmt.Errorf("trie: access after close")
	}
	nibbles := indexNibbles(index)
	var value []byte
	err := t.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(t.bucket)
		if b == nil {
			return types.NewStorageError(types.KindTrieMissing, fmt.Sprintf("trie namespace %s pruned", t.bucket))
		}
		cur := root
		depth := 0
		for {
			raw := b.Get(cur[:])
			if raw == nil {
				return types.NewStorageError(types.KindTrieMissing, fmt.Sprintf("node %x missing", cur))
			}
			var n node
			if err := codec.Decode(raw, &n); err != nil {
				return fmt.Errorf("decode trie node: %w", err)
			}
			switch n.Kind {
			case kindLeaf:
				if !bytes.Equal(n.KeyEnd, nibbles[depth:]) {
					return types.NewStorageError(types.KindTrieMissing, fmt.Sprintf("no leaf at index %d", index))
				}
				value = n.Value
				return nil
			case kindBranch:
				if depth >= len(nibbles) {
					return types.NewStorageError(types.KindTrieMissing, "index exhausted before reaching leaf")
				}
				cur = n.Children[nibbles[depth]]
				depth++
			default:
				return fmt.Errorf("unsupported trie node kind %d", n.Kind)
			}
		}
	})
	return value, err
}

// LoadBody reconstructs an ordered transaction list by walking GetLeaf
// for index 0, 1, 2, ... until a KindTrieMissing error signals the end
// of the list (one past the last populated leaf). Used by the node
// orchestrator to recover a committed block's body for a candidate
// this node did not itself assemble — fetching a body can fail if the
// trie was pruned.
func (t *Trie) LoadBody(root [32]byte) ([]types.Tx, error) {
	var txs []types.Tx
	for i := 0; ; i++ {
		raw, err := t.GetLeaf(root, i)
		if err != nil {
			var storageErr *types.StorageError
			if ok := errorsAsStorageError(err, &storageErr); ok && storageErr.Kind == types.KindTrieMissing {
				break
			}
			return nil, err
		}
		tx, err := codec.DecodeTx(raw)
		if err != nil {
			return nil, fmt.Errorf("decode leaf %d: %w", i, err)
		}
		txs = append(txs, *tx)
	}
	return txs, nil
}

func errorsAsStorageError(err error, target **types.StorageError) bool {
	se, ok := err.(*types.StorageError)
	if !ok {
		return false
	}
	*target = se
	return true
}

// Close releases this trie's handle. The namespace itself is pruned
// separately by the GC task once its pending block commits or is
// discarded.
func (t *Trie) Close() error {
	t.closed = true
	return nil
}

// Drop deletes a pending block's entire trie namespace — used by the
// GC task once a block commits (the body moves into the committed
// blocks table) or is discarded by a losing vote round.
func Drop(db *bbolt.DB, blockHash [32]byte) error {
	bucketName := []byte(fmt.Sprintf("pending_blocks/%x", blockHash))
	return db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket(bucketName)
		if err == bbolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}
