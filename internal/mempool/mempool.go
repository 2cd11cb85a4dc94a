// Package mempool implements admission, validity re-checking against
// confirmed chain state, and fee-ordered batch selection for the Block
// Assembler.
//
// Builds on two idioms: a mutex-guarded current-state, bounded
// recent-item map with an evict-oldest-when-full loop (the same
// concurrency/bounding shape a ticker-driven job generator uses), and
// the checkTx indirection a dusk-blockchain-style mempool uses — a
// single injected verification function this package calls ValidTx,
// exactly how that mempool calls out to an external verifyTx.
package mempool

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/nodeforge/posnode/internal/accounts"
	"github.com/nodeforge/posnode/internal/codec"
	"github.com/nodeforge/posnode/internal/cryptoutil"
	"github.com/nodeforge/posnode/internal/store"
	"github.com/nodeforge/posnode/internal/types"
	"github.com/nodeforge/posnode/pkg/util"
)

// Mempool holds pending transactions durably in the Store and keeps a
// bounded in-memory index of recently-seen hashes for fast duplicate
// detection (see DESIGN.md Open Questions for the eviction policy this
// index does NOT implement: the LRU only bounds the *index*, not the
// underlying Store table).
type Mempool struct {
	store  *store.Store
	logger *zap.Logger

	seen *lru.Cache[[32]byte, struct{}]

	mu sync.Mutex
}

// New builds a Mempool backed by s, with a recent-hash index capped at
// indexSize entries (store.DefaultListLimit doubles as a sane default
// index size when indexSize <= 0).
func New(s *store.Store, indexSize int, logger *zap.Logger) (*Mempool, error) {
	if indexSize <= 0 {
		indexSize = store.DefaultListLimit
	}
	cache, err := lru.New[[32]byte, struct{}](indexSize)
	if err != nil {
		return nil, fmt.Errorf("create mempool index: %w", err)
	}
	return &Mempool{store: s, logger: logger, seen: cache}, nil
}

// Admit rejects on duplicate hash, bad signature, or failed sender
// recovery; otherwise stores the transaction.
func (m *Mempool) Admit(tx *types.Tx) error {
	hash, err := codec.HashTx(tx)
	if err != nil {
		return types.NewValidationError(types.KindMalformedPayload, err.Error())
	}

	m.mu.Lock()
	_, known := m.seen.Get(hash)
	m.mu.Unlock()
	if known {
		return types.NewValidationError(types.KindDuplicateHash, "already known")
	}
	if existing, ok, _ := m.store.GetPendingTx(hash); ok && existing != nil {
		return types.NewValidationError(types.KindDuplicateHash, "already known")
	}

	if !tx.IsSigned() {
		return types.NewValidationError(types.KindInvalidSignature, "missing signature")
	}
	if _, err := senderOf(tx); err != nil {
		return types.NewValidationError(types.KindInvalidSignature, err.Error())
	}

	if err := m.store.PutPendingTx(tx); err != nil {
		return fmt.Errorf("store pending tx: %w", err)
	}
	m.mu.Lock()
	m.seen.Add(hash, struct{}{})
	m.mu.Unlock()
	m.logger.Debug("admitted transaction", zap.String("hash", util.HashToHex(hash)))
	return nil
}

// ValidTx reports whether the transaction's nonce is exactly one past
// the sender's confirmed nonce, and the sender's confirmed balance
// strictly exceeds the transaction's value (fee is checked separately
// at block-apply time).
func (m *Mempool) ValidTx(tx *types.Tx) (bool, error) {
	sender, err := senderOf(tx)
	if err != nil {
		return false, nil
	}
	state, err := accounts.Compute(m.store, sender, [32]byte{})
	if err != nil {
		return false, err
	}
	if tx.Nonce != state.Nonce+1 {
		return false, nil
	}
	return state.Balance.Cmp(tx.Value) > 0, nil
}

// GetBatch returns a fee-descending, hash-ascending-tie-break snapshot,
// taking up to target entries for which ValidTx holds. Skipped
// transactions remain in the mempool.
func (m *Mempool) GetBatch(target int) ([]*types.Tx, error) {
	all, err := m.store.ListPendingTxs(0)
	if err != nil {
		return nil, err
	}

	type scored struct {
		tx   *types.Tx
		hash [32]byte
	}
	scoredTxs := make([]scored, 0, len(all))
	for _, tx := range all {
		h, err := codec.HashTx(tx)
		if err != nil {
			return nil, err
		}
		scoredTxs = append(scoredTxs, scored{tx: tx, hash: h})
	}

	sort.Slice(scoredTxs, func(i, j int) bool {
		cmp := scoredTxs[i].tx.Fee.Cmp(scoredTxs[j].tx.Fee)
		if cmp != 0 {
			return cmp > 0 // fee descending
		}
		return util.LessHash(scoredTxs[i].hash, scoredTxs[j].hash) // hash ascending
	})

	batch := make([]*types.Tx, 0, target)
	for _, s := range scoredTxs {
		if len(batch) >= target {
			break
		}
		ok, err := m.ValidTx(s.tx)
		if err != nil {
			return nil, err
		}
		if ok {
			batch = append(batch, s.tx)
		}
	}
	return batch, nil
}

// Unmined reports true iff tx.hash does not appear in any confirmed
// block at or below head.
func (m *Mempool) Unmined(hash [32]byte) (bool, error) {
	head, ok, err := m.store.Head()
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	headHash, err := codec.HashHeader(&head.PendingBlockHeader)
	if err != nil {
		return false, err
	}
	chain, err := m.store.ListPrecedingBlocks(headHash)
	if err != nil {
		return false, err
	}
	for _, b := range chain {
		for i := range b.Txs {
			h, err := codec.HashTx(&b.Txs[i])
			if err != nil {
				return false, err
			}
			if h == hash {
				return false, nil
			}
		}
	}
	return true, nil
}

func senderOf(tx *types.Tx) (types.Address, error) {
	enc, err := codec.EncodeTxUnsigned(tx)
	if err != nil {
		return types.Address{}, err
	}
	hash := util.Hash256(enc)
	sig := cryptoutil.Signature{V: tx.V, R: tx.R, S: tx.S}
	return cryptoutil.RecoverAddress(hash, sig)
}
