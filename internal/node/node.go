package node

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nodeforge/posnode/internal/accounts"
	"github.com/nodeforge/posnode/internal/assembler"
	"github.com/nodeforge/posnode/internal/codec"
	"github.com/nodeforge/posnode/internal/config"
	"github.com/nodeforge/posnode/internal/cryptoutil"
	"github.com/nodeforge/posnode/internal/mempool"
	"github.com/nodeforge/posnode/internal/metrics"
	"github.com/nodeforge/posnode/internal/participation"
	"github.com/nodeforge/posnode/internal/slasher"
	"github.com/nodeforge/posnode/internal/store"
	"github.com/nodeforge/posnode/internal/store/trie"
	"github.com/nodeforge/posnode/internal/types"
	"github.com/nodeforge/posnode/internal/voting"
)

// Node wires every component into the cooperative-task orchestrator: a
// mining loop, a mempool-ingress entry point, and a garbage collector,
// sharing only the Store.
//
// Follows a layered Node/Generator/Codec constructor-then-Start(ctx)
// idiom: components are built once at construction and started as
// goroutines, never re-wired at runtime.
type Node struct {
	cfg    config.NodeConfig
	logger *zap.Logger

	store  *store.Store
	trieDB *bbolt.DB

	mempool   *mempool.Mempool
	assembler *assembler.Assembler
	voting    *voting.Manager

	net PeerNetwork
	bus *Bus

	signer     *cryptoutil.PrivateKey
	proposerID types.Address

	// sessionID identifies this process to reject self-connections.
	// Lifecycle is one process run, so it is generated fresh at
	// construction rather than persisted, following the same shape as
	// a LoadOrCreateIdentity helper but simplified since key storage
	// itself is out of scope here.
	sessionID uuid.UUID

	ingressLimiter *rate.Limiter

	startedAt time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Node: it opens the on-disk store and trie database
// under cfg.DataDir/leveldb, and wires Mempool, Assembler and the Vote
// Manager around them.
func New(cfg config.NodeConfig, logger *zap.Logger, signer *cryptoutil.PrivateKey, net PeerNetwork, stateRoot assembler.StateRootProvider) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if net == nil {
		net = NopNetwork{}
	}

	dbDir := filepath.Join(cfg.DataDir, "leveldb")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s, err := store.Open(filepath.Join(dbDir, "store.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	trieDB, err := bbolt.Open(filepath.Join(dbDir, "pending_blocks.db"), 0o600, nil)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open trie db: %w", err)
	}

	mp, err := mempool.New(s, cfg.DefaultPendingTxQueryLimit, logger)
	if err != nil {
		s.Close()
		trieDB.Close()
		return nil, fmt.Errorf("build mempool: %w", err)
	}

	asm := assembler.New(s, stateRoot, signer)
	vm := voting.New(s, net, cfg, signer, logger)

	return &Node{
		cfg:            cfg,
		logger:         logger,
		store:          s,
		trieDB:         trieDB,
		mempool:        mp,
		assembler:      asm,
		voting:         vm,
		net:            net,
		bus:            NewBus(256),
		signer:         signer,
		proposerID:     cryptoutil.Address(signer.PubKey()),
		sessionID:      uuid.New(),
		ingressLimiter: rate.NewLimiter(rate.Limit(cfg.IngressRateLimit), cfg.IngressBurst),
		startedAt:      time.Now(),
	}, nil
}

// SessionID returns the process-wide identity used to reject
// self-connections.
func (n *Node) SessionID() uuid.UUID { return n.sessionID }

// Events exposes the orchestrator's event stream for logging/metrics
// subscribers (and tests).
func (n *Node) Events() <-chan Event { return n.bus.Events() }

// Store exposes the underlying Store for read-only callers (HTTP
// status endpoints, CLI inspection commands) — never for writes
// outside this package's own operations, preserving single-writer-per-
// table discipline.
func (n *Node) Store() *store.Store { return n.store }

// Close stops background tasks and releases the store/trie handles.
func (n *Node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	err := n.trieDB.Close()
	return multierr.Append(err, n.store.Close())
}

// Start launches the mining loop and GC cooperative tasks. The
// mempool-ingress task has no dedicated goroutine of its own: it is
// the synchronous IngestTx/IngestVote entry points below, called by
// whatever external transport receives network traffic.
func (n *Node) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		n.miningLoop(ctx)
	}()
	go func() {
		defer n.wg.Done()
		n.gcLoop(ctx)
	}()
}

// --- mempool ingress ---

// IngestTx implements the mempool-ingress task's transaction path:
// rate-limit, admit, record metrics/events, and gossip on success.
func (n *Node) IngestTx(tx *types.Tx) error {
	if !n.ingressLimiter.Allow() {
		return fmt.Errorf("ingress rate limit exceeded")
	}

	err := n.mempool.Admit(tx)
	hash, hashErr := codec.HashTx(tx)
	if hashErr != nil {
		hash = [32]byte{}
	}

	outcome := "admitted"
	if err != nil {
		outcome = outcomeOf(err)
	}
	metrics.TxsAdmitted.WithLabelValues(outcome).Inc()
	n.bus.Publish(TxAdmittedEvent{Hash: hash, Err: err, Outcome: outcome})

	if err == nil {
		metrics.MempoolSize.Inc()
		n.net.BroadcastTx(tx)
	}
	return err
}

// IngestTxBatch admits several transactions, aggregating every
// rejection with go.uber.org/multierr rather than stopping at the
// first failure — mempool rejections are all independently recoverable
// (a bad tx does not block its siblings).
func (n *Node) IngestTxBatch(txs []*types.Tx) error {
	var errs error
	for _, tx := range txs {
		if err := n.IngestTx(tx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// IngestVote implements the mempool-ingress task's vote path: validate
// the signature and miner registration, check for an equivocation
// against every vote already known at the same key, and persist.
func (n *Node) IngestVote(v *types.Vote) error {
	if !n.ingressLimiter.Allow() {
		return fmt.Errorf("ingress rate limit exceeded")
	}

	if err := n.voting.ValidateVote(v); err != nil {
		metrics.VotesCast.WithLabelValues("rejected").Inc()
		return err
	}

	existing, err := n.store.ListVotesForRound(v.BlockNumber, v.VotingRound)
	if err != nil {
		return fmt.Errorf("list votes for equivocation check: %w", err)
	}
	if proof, found, derr := slasher.Detect(v, existing); derr == nil && found {
		n.emitSlash(proof, v.BlockNumber, v.VotingRound)
	}

	if err := n.store.PutVote(v); err != nil {
		return fmt.Errorf("persist vote: %w", err)
	}
	metrics.VotesCast.WithLabelValues("received").Inc()
	n.bus.Publish(VoteReceivedEvent{Height: v.BlockNumber, Round: v.VotingRound, Vote: v})
	return nil
}

func (n *Node) emitSlash(proof *types.SlashProof, height uint64, round uint32) {
	fee, err := types.DecimalFromString(n.cfg.CoinbaseFee)
	if err != nil {
		fee = types.ZeroDecimal()
	}
	slashTx, err := slasher.Emit(n.signer, proof, fee)
	if err != nil {
		n.logger.Warn("build slash transaction", zap.Error(err))
		return
	}
	if err := n.mempool.Admit(slashTx); err != nil {
		n.logger.Warn("admit slash transaction", zap.Error(err))
		return
	}
	n.net.BroadcastTx(slashTx)
	n.bus.Publish(SlashEmittedEvent{Offender: proof.VoteA.MinerAddress, Height: height, Round: round})
}

func outcomeOf(err error) string {
	if ve, ok := err.(*types.ValidationError); ok {
		return ve.Kind
	}
	return "error"
}

// --- mining loop ---

func (n *Node) miningLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.MiningInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UptimeSeconds.Set(time.Since(n.startedAt).Seconds())
			n.runMiningRound(ctx)
		}
	}
}

// runMiningRound runs one iteration of the mining loop: assemble a
// candidate from the mempool's current batch, run the vote manager's
// round loop to commit it, and apply any slash transactions the
// winning body carries. A panic here is recovered so it cannot poison
// subsequent heights.
func (n *Node) runMiningRound(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("mining round panicked", zap.Any("recover", r))
		}
	}()

	start := time.Now()
	batch, err := n.mempool.GetBatch(n.cfg.TargetTxsPerBlock)
	if err != nil {
		n.logger.Error("get mempool batch", zap.Error(err))
		return
	}
	if len(batch) == 0 {
		return // empty batch: no block this tick.
	}

	pb, nodes, err := n.assembler.Assemble(ctx, batch)
	if err != nil {
		n.logger.Error("assemble pending block", zap.Error(err))
		return
	}
	ownHash, err := n.assembler.Persist(n.trieDB, pb, nodes)
	if err != nil {
		n.logger.Error("persist pending block", zap.Error(err))
		return
	}
	header := pb.PendingBlockHeader
	height := header.Number

	known := func() []*types.PendingBlockHeader {
		return []*types.PendingBlockHeader{&header}
	}

	onRound := func(round uint32, cast *types.Vote, result voting.Result) {
		if cast != nil {
			n.bus.Publish(VoteCastEvent{Height: height, Round: round, Vote: cast})
		}
		if err := participation.Update(n.store, result.VotersSeen); err != nil {
			n.logger.Warn("update participation", zap.Uint64("height", height), zap.Uint32("round", round), zap.Error(err))
		}
		if !result.HasWinner {
			metrics.RoundsEscalated.Inc()
			n.bus.Publish(RoundEscalatedEvent{Height: height, Round: round})
		}
	}

	result, err := n.voting.RunHeight(ctx, height, &header, known, onRound)
	if err != nil {
		n.logger.Error("run voting height", zap.Uint64("height", height), zap.Error(err))
		return
	}
	metrics.VotingRoundDuration.Observe(time.Since(start).Seconds())
	_ = ownHash

	if err := n.commitWinner(height, result); err != nil {
		n.logger.Error("commit winning block", zap.Uint64("height", height), zap.Error(err))
	}
}

// commitWinner loads the winning candidate's body from the trie store
// (for this node's own candidate as for any other), persists it as a
// Block, and applies any slash transactions
// it carries. Participation is updated per round by RunHeight's
// onRound callback, including the winning round, so commitWinner does
// not touch it again here.
func (n *Node) commitWinner(height uint64, result voting.Result) error {
	winnerHeader, ok, err := n.store.GetPendingBlock(result.Winner)
	if err != nil {
		return fmt.Errorf("load winning header: %w", err)
	}
	if !ok {
		return types.NewStorageError(types.KindNotFound, "winning pending block header not found")
	}

	tr, err := trie.Open(n.trieDB, result.Winner)
	if err != nil {
		return fmt.Errorf("open winning body trie: %w", err)
	}
	defer tr.Close()
	body, err := tr.LoadBody(winnerHeader.TxRoot)
	if err != nil {
		return fmt.Errorf("load winning body: %w", err)
	}

	block := &types.Block{PendingBlockHeader: *winnerHeader, Txs: body, CommittedAt: time.Now()}
	if err := n.store.PutBlock(block); err != nil {
		return fmt.Errorf("put block: %w", err)
	}
	metrics.ChainHeight.Set(float64(height))
	n.bus.Publish(HeightCommittedEvent{Height: height, Hash: result.Winner})

	for i := range block.Txs {
		tx := &block.Txs[i]
		if h, herr := codec.HashTx(tx); herr == nil {
			_ = n.store.DeletePendingTx(h)
		}
		if isSlashTx(tx) {
			if err := slasher.Apply(n.store, tx, n.cfg.SlashPenaltyPercentage); err != nil {
				n.logger.Warn("apply slash transaction", zap.Error(err))
			} else {
				metrics.SlashesApplied.Inc()
			}
		}
	}

	if miners, err := n.store.ListMiners(0); err == nil {
		metrics.MinersRegistered.Set(float64(len(miners)))
	}
	return nil
}

func isSlashTx(tx *types.Tx) bool {
	var payload types.TxPayload
	if json.Unmarshal(tx.Data, &payload) != nil {
		return false
	}
	return payload.TxType == types.TxTypeSlash
}

// --- garbage collector ---

func (n *Node) gcLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.runGC(); err != nil {
				n.logger.Warn("gc pass failed", zap.Error(err))
			}
		}
	}
}

// runGC is the periodic pending-block collector. This protocol never
// reorgs — a committed block is final — so the instant a height
// commits, every pending-block body at or below that height is
// irreversible; there is no separate "last_irreversible" oracle to
// consult here, since head height already implies it (other systems
// might compute irreversibility from a richer finality rule, but none
// is needed in this protocol). GC drops the trie namespace and header
// row for every pending block at or below the current head.
func (n *Node) runGC() error {
	head, ok, err := n.store.Head()
	if err != nil {
		return fmt.Errorf("read head: %w", err)
	}
	if !ok {
		return nil
	}

	headers, err := n.store.ListPendingBlocks(0)
	if err != nil {
		return fmt.Errorf("list pending blocks: %w", err)
	}
	for _, h := range headers {
		if h.Number > head.Number {
			continue
		}
		hash, err := codec.HashHeader(h)
		if err != nil {
			continue
		}
		if err := trie.Drop(n.trieDB, hash); err != nil {
			n.logger.Warn("drop pending trie", zap.Error(err))
		}
		if err := n.store.DeletePendingBlock(hash); err != nil {
			n.logger.Warn("delete pending block header", zap.Error(err))
		}
	}
	return nil
}

// Accounts exposes a read-only account-state lookup for CLI/status use.
func (n *Node) Accounts(addr types.Address) (accounts.AccountState, error) {
	return accounts.Compute(n.store, addr, [32]byte{})
}
