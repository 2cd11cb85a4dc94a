// Package store implements the durable K/V tables every other
// component reads and writes through. The original sharechain
// package's production boltstore.go did not survive retrieval — only
// its test file did — so this package is rebuilt from that test's
// observable contract (Add/Get/Has/Tip/SetTip/GetAncestors/Count, and
// persistence across reopen) rather than copied from a source file,
// generalized from a single hash-chain table to the five tables this
// protocol needs.
//
// go.etcd.io/bbolt is the on-disk engine of choice here; every bucket
// is a direct bolt bucket, one per table, so writes are durable before
// Update returns per bbolt's fsync-on-commit guarantee — satisfying the
// "writes are durable before returning ok" contract without any extra
// fsync plumbing.
package store

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/nodeforge/posnode/internal/codec"
	"github.com/nodeforge/posnode/internal/types"
	"github.com/nodeforge/posnode/pkg/util"
)

var (
	bucketPendingTxs    = []byte("pending_transactions")
	bucketPendingBlocks = []byte("pending_blocks")
	bucketBlocks        = []byte("blocks")
	bucketVotes         = []byte("votes")
	bucketMiners        = []byte("miners")
	bucketSlashed       = []byte("slashed")
)

var allBuckets = [][]byte{
	bucketPendingTxs,
	bucketPendingBlocks,
	bucketBlocks,
	bucketVotes,
	bucketMiners,
	bucketSlashed,
}

// DefaultListLimit is the bound placed on unbounded `list` calls absent
// an explicit limit.
const DefaultListLimit = 2000

// Store is the single shared mutable state: every table lives in one
// bolt file, one bucket per table.
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// Open creates or opens the bolt file at path, creating every table
// bucket if missing.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- pending_transactions[hash→Tx] ---

func (s *Store) PutPendingTx(tx *types.Tx) error {
	hash, err := codec.HashTx(tx)
	if err != nil {
		return fmt.Errorf("hash tx: %w", err)
	}
	enc, err := codec.EncodeTx(tx)
	if err != nil {
		return fmt.Errorf("encode tx: %w", err)
	}
	return s.put(bucketPendingTxs, hash[:], enc)
}

func (s *Store) GetPendingTx(hash [32]byte) (*types.Tx, bool, error) {
	raw, ok, err := s.get(bucketPendingTxs, hash[:])
	if err != nil || !ok {
		return nil, ok, err
	}
	tx, err := codec.DecodeTx(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode tx: %w", err)
	}
	return tx, true, nil
}

func (s *Store) DeletePendingTx(hash [32]byte) error {
	return s.delete(bucketPendingTxs, hash[:])
}

// ListPendingTxs returns up to limit pending transactions (0 = DefaultListLimit).
func (s *Store) ListPendingTxs(limit int) ([]*types.Tx, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var out []*types.Tx
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketPendingTxs).Cursor()
		for k, v := c.First(); k != nil && len(out) < limit; k, v = c.Next() {
			decoded, err := codec.DecodeTx(v)
			if err != nil {
				return fmt.Errorf("decode tx %x: %w", k, err)
			}
			out = append(out, decoded)
		}
		return nil
	})
	return out, err
}

// --- pending_blocks[hash→PendingBlockHeader] ---

func (s *Store) PutPendingBlock(h *types.PendingBlockHeader) error {
	hash, err := codec.HashHeader(h)
	if err != nil {
		return fmt.Errorf("hash header: %w", err)
	}
	enc, err := codec.EncodeHeader(h)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	return s.put(bucketPendingBlocks, hash[:], enc)
}

func (s *Store) GetPendingBlock(hash [32]byte) (*types.PendingBlockHeader, bool, error) {
	raw, ok, err := s.get(bucketPendingBlocks, hash[:])
	if err != nil || !ok {
		return nil, ok, err
	}
	h, err := codec.DecodeHeader(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode header: %w", err)
	}
	return h, true, nil
}

func (s *Store) DeletePendingBlock(hash [32]byte) error {
	return s.delete(bucketPendingBlocks, hash[:])
}

// ListPendingBlocks returns up to limit pending-block headers
// (0 = DefaultListLimit), the shape the GC task (internal/node) scans
// to find pending blocks at or below the irreversible height.
func (s *Store) ListPendingBlocks(limit int) ([]*types.PendingBlockHeader, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var out []*types.PendingBlockHeader
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketPendingBlocks).Cursor()
		for k, v := c.First(); k != nil && len(out) < limit; k, v = c.Next() {
			h, err := codec.DecodeHeader(v)
			if err != nil {
				return fmt.Errorf("decode pending block %x: %w", k, err)
			}
			out = append(out, h)
		}
		return nil
	})
	return out, err
}

// --- blocks[hash→Block] ---

type blockWire struct {
	Header types.PendingBlockHeader `cbor:"1,keyasint"`
	Txs    []types.Tx               `cbor:"2,keyasint"`
}

func (s *Store) PutBlock(b *types.Block) error {
	hash, err := codec.HashHeader(&b.PendingBlockHeader)
	if err != nil {
		return fmt.Errorf("hash block header: %w", err)
	}
	enc, err := codec.Encode(blockWire{Header: b.PendingBlockHeader, Txs: b.Txs})
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	if err := s.put(bucketBlocks, hash[:], enc); err != nil {
		return err
	}
	s.logger.Debug("committed block", zap.Uint64("number", b.Number), zap.String("hash", util.HashToHex(hash)))
	return nil
}

func (s *Store) GetBlock(hash [32]byte) (*types.Block, bool, error) {
	raw, ok, err := s.get(bucketBlocks, hash[:])
	if err != nil || !ok {
		return nil, ok, err
	}
	var w blockWire
	if err := codec.Decode(raw, &w); err != nil {
		return nil, false, fmt.Errorf("decode block: %w", err)
	}
	return &types.Block{PendingBlockHeader: w.Header, Txs: w.Txs}, true, nil
}

// Head returns the committed block with the highest Number, or
// ok=false if the chain is empty.
func (s *Store) Head() (*types.Block, bool, error) {
	var best *types.Block
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketBlocks).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var w blockWire
			if err := codec.Decode(v, &w); err != nil {
				return fmt.Errorf("decode block %x: %w", k, err)
			}
			if best == nil || w.Header.Number > best.Number {
				b := &types.Block{PendingBlockHeader: w.Header, Txs: w.Txs}
				best = b
			}
		}
		return nil
	})
	return best, best != nil, err
}

// ListPrecedingBlocks walks prev_hash back from block to genesis,
// returning them oldest-first.
func (s *Store) ListPrecedingBlocks(block [32]byte) ([]*types.Block, error) {
	var chain []*types.Block
	cur := block
	for {
		b, ok, err := s.GetBlock(cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		chain = append(chain, b)
		if util.IsZeroHash(b.PrevHash) {
			break
		}
		cur = b.PrevHash
	}
	// reverse to oldest-first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// --- votes[hash→Vote] ---

func (s *Store) PutVote(v *types.Vote) error {
	hash, err := codec.HashVote(v)
	if err != nil {
		return fmt.Errorf("hash vote: %w", err)
	}
	enc, err := codec.EncodeVote(v)
	if err != nil {
		return fmt.Errorf("encode vote: %w", err)
	}
	return s.put(bucketVotes, hash[:], enc)
}

func (s *Store) GetVote(hash [32]byte) (*types.Vote, bool, error) {
	raw, ok, err := s.get(bucketVotes, hash[:])
	if err != nil || !ok {
		return nil, ok, err
	}
	v, err := codec.DecodeVote(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode vote: %w", err)
	}
	return v, true, nil
}

// ListVotesForRound returns every vote cast at (blockNumber, round),
// the shape the Vote Manager's tally needs.
func (s *Store) ListVotesForRound(blockNumber uint64, round uint32) ([]*types.Vote, error) {
	var out []*types.Vote
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketVotes).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			decoded, err := codec.DecodeVote(v)
			if err != nil {
				return fmt.Errorf("decode vote %x: %w", k, err)
			}
			if decoded.BlockNumber == blockNumber && decoded.VotingRound == round {
				out = append(out, decoded)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].MinerAddress.String() < out[j].MinerAddress.String()
	})
	return out, err
}

// --- miners[address→Miner] ---

type minerWire struct {
	Address           types.Address  `cbor:"1,keyasint"`
	StakeAmount       types.Decimal  `cbor:"2,keyasint"`
	InsertedAtUnix    int64          `cbor:"3,keyasint"`
	ParticipationRate float64        `cbor:"4,keyasint"`
}

func (s *Store) PutMiner(m *types.Miner) error {
	enc, err := codec.Encode(minerWire{
		Address:           m.Address,
		StakeAmount:       m.StakeAmount,
		InsertedAtUnix:    m.InsertedAt.Unix(),
		ParticipationRate: m.ParticipationRate,
	})
	if err != nil {
		return fmt.Errorf("encode miner: %w", err)
	}
	return s.put(bucketMiners, m.Address[:], enc)
}

func minerFromWire(w minerWire) *types.Miner {
	return &types.Miner{
		Address:           w.Address,
		StakeAmount:       w.StakeAmount,
		InsertedAt:        time.Unix(w.InsertedAtUnix, 0).UTC(),
		ParticipationRate: w.ParticipationRate,
	}
}

func (s *Store) GetMiner(addr types.Address) (*types.Miner, bool, error) {
	raw, ok, err := s.get(bucketMiners, addr[:])
	if err != nil || !ok {
		return nil, ok, err
	}
	var w minerWire
	if err := codec.Decode(raw, &w); err != nil {
		return nil, false, fmt.Errorf("decode miner: %w", err)
	}
	return minerFromWire(w), true, nil
}

func (s *Store) ListMiners(limit int) ([]*types.Miner, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var out []*types.Miner
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketMiners).Cursor()
		for k, v := c.First(); k != nil && len(out) < limit; k, v = c.Next() {
			var w minerWire
			if err := codec.Decode(v, &w); err != nil {
				return fmt.Errorf("decode miner %x: %w", k, err)
			}
			out = append(out, minerFromWire(w))
		}
		return nil
	})
	return out, err
}

// --- slashed[offender|height|round→{}] ---

func slashedKey(offender types.Address, height uint64, round uint32) []byte {
	key := make([]byte, 20+8+4)
	copy(key, offender[:])
	binary.BigEndian.PutUint64(key[20:], height)
	binary.BigEndian.PutUint32(key[28:], round)
	return key
}

// IsSlashed reports whether offender has already been slashed for the
// equivocation key (height, round), making Slasher.Apply idempotent.
func (s *Store) IsSlashed(offender types.Address, height uint64, round uint32) (bool, error) {
	_, ok, err := s.get(bucketSlashed, slashedKey(offender, height, round))
	return ok, err
}

// MarkSlashed records that offender has been slashed for (height, round).
func (s *Store) MarkSlashed(offender types.Address, height uint64, round uint32) error {
	return s.put(bucketSlashed, slashedKey(offender, height, round), []byte{1})
}

// --- generic table helpers ---

func (s *Store) put(bucket, key, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put(key, value)
	})
}

func (s *Store) get(bucket, key []byte) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucket).Get(key)
		if v == nil {
			return nil
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	return out, out != nil, err
}

func (s *Store) delete(bucket, key []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete(key)
	})
}
