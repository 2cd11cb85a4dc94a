// manager.go implements the per-height voting state machine: candidate
// selection, casting, collection, and the commit-vs-escalate decision.
//
// Round escalation is a for-loop driven by select/ticker, modeled on a
// generator poll loop — never recursion, so rounds never grow the stack.
package voting

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/posnode/internal/codec"
	"github.com/nodeforge/posnode/internal/config"
	"github.com/nodeforge/posnode/internal/cryptoutil"
	"github.com/nodeforge/posnode/internal/store"
	"github.com/nodeforge/posnode/internal/types"
	"github.com/nodeforge/posnode/pkg/util"
)

// Network is the minimal propagation collaborator this package needs;
// the peer transport itself is out of scope here, so this interface is
// the seam a concrete libp2p-backed implementation would satisfy.
type Network interface {
	BroadcastVote(v *types.Vote)
}

// NopNetwork discards broadcasts — the default when no transport is wired.
type NopNetwork struct{}

func (NopNetwork) BroadcastVote(*types.Vote) {}

// roundState is the ephemeral (height, round) -> votes map the vote
// manager owns and releases when the height commits.
type roundState struct {
	mu    sync.Mutex
	votes map[uint32][]*types.Vote
}

// Manager runs the voting state machine for one node.
type Manager struct {
	store   *store.Store
	tally   *Tally
	net     Network
	cfg     config.NodeConfig
	logger  *zap.Logger
	signer  *cryptoutil.PrivateKey
	minerID types.Address

	rounds   map[uint64]*roundState
	roundsMu sync.Mutex
}

// New builds a Manager.
func New(s *store.Store, net Network, cfg config.NodeConfig, signer *cryptoutil.PrivateKey, logger *zap.Logger) *Manager {
	return &Manager{
		store:   s,
		tally:   NewTally(s),
		net:     net,
		cfg:     cfg,
		signer:  signer,
		minerID: cryptoutil.Address(signer.PubKey()),
		logger:  logger,
		rounds:  make(map[uint64]*roundState),
	}
}

func (m *Manager) stateFor(height uint64) *roundState {
	m.roundsMu.Lock()
	defer m.roundsMu.Unlock()
	rs, ok := m.rounds[height]
	if !ok {
		rs = &roundState{votes: make(map[uint32][]*types.Vote)}
		m.rounds[height] = rs
	}
	return rs
}

// ReleaseHeight drops a height's ephemeral round state once committed.
func (m *Manager) ReleaseHeight(height uint64) {
	m.roundsMu.Lock()
	defer m.roundsMu.Unlock()
	delete(m.rounds, height)
}

// GetCurrentVotingRound returns max(v.round for v in votes where
// v.height=h) + 1, or 0 if none — used to resume after restart.
func (m *Manager) GetCurrentVotingRound(height uint64) (uint32, error) {
	var maxRound uint32
	found := false
	for round := uint32(0); ; round++ {
		votes, err := m.store.ListVotesForRound(height, round)
		if err != nil {
			return 0, err
		}
		if len(votes) == 0 {
			break
		}
		maxRound = round
		found = true
	}
	if !found {
		return 0, nil
	}
	return maxRound + 1, nil
}

// SelectCandidate picks the block this node votes for. Round 0 is
// always the local node's own pending block for height h; rounds above
// 0 pick uniformly at random among locally known pending blocks at
// that height.
//
// TODO: round>0 selection should weight candidates by prior-round
// votes rather than choosing uniformly.
func (m *Manager) SelectCandidate(round uint32, own *types.PendingBlockHeader, known []*types.PendingBlockHeader) (*types.PendingBlockHeader, error) {
	if round == 0 {
		return own, nil
	}
	if len(known) == 0 {
		return own, nil
	}
	return known[rand.Intn(len(known))], nil
}

// AlreadyVoted reports whether this node has already cast a vote for
// (height, round).
func (m *Manager) AlreadyVoted(height uint64, round uint32) bool {
	rs := m.stateFor(height)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, v := range rs.votes[round] {
		if v.MinerAddress == m.minerID {
			return true
		}
	}
	return false
}

// CastVote constructs, signs, persists and propagates a Vote for the
// given candidate, guarded by AlreadyVoted.
func (m *Manager) CastVote(candidate *types.PendingBlockHeader, height uint64, round uint32) (*types.Vote, error) {
	if m.AlreadyVoted(height, round) {
		return nil, nil
	}
	candidateHash, err := codec.HashHeader(candidate)
	if err != nil {
		return nil, fmt.Errorf("hash candidate: %w", err)
	}

	v := &types.Vote{
		MinerAddress: m.minerID,
		BlockNumber:  height,
		BlockHash:    candidateHash,
		VotingRound:  round,
	}
	enc, err := codec.EncodeVoteUnsigned(v)
	if err != nil {
		return nil, fmt.Errorf("encode unsigned vote: %w", err)
	}
	sig := cryptoutil.Sign(m.signer, util.Hash256(enc))
	v.V, v.R, v.S = sig.V, sig.R, sig.S

	if err := m.store.PutVote(v); err != nil {
		return nil, fmt.Errorf("persist vote: %w", err)
	}

	rs := m.stateFor(height)
	rs.mu.Lock()
	rs.votes[round] = append(rs.votes[round], v)
	rs.mu.Unlock()

	m.net.BroadcastVote(v)
	return v, nil
}

// ValidateVote recovers the signer over the unsigned encoding, requires
// it matches MinerAddress, and requires the miner is registered. The
// warm-up check is present but disabled by default, gated by
// cfg.WarmUpCheckEnabled.
func (m *Manager) ValidateVote(v *types.Vote) error {
	enc, err := codec.EncodeVoteUnsigned(v)
	if err != nil {
		return types.NewValidationError(types.KindMalformedPayload, err.Error())
	}
	sig := cryptoutil.Signature{V: v.V, R: v.R, S: v.S}
	signer, err := cryptoutil.RecoverAddress(util.Hash256(enc), sig)
	if err != nil || signer != v.MinerAddress {
		return types.NewValidationError(types.KindInvalidSignature, "vote signer does not match miner_address")
	}

	miner, ok, err := m.store.GetMiner(v.MinerAddress)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewValidationError(types.KindUnknownMiner, v.MinerAddress.String())
	}

	if m.cfg.WarmUpCheckEnabled {
		if time.Since(miner.InsertedAt) <= m.cfg.WarmUp {
			return types.NewValidationError(types.KindUnknownMiner, "miner has not cleared warm-up period")
		}
	}
	return nil
}

// Collect waits up to intervals x VoteCollectionTimeout, with early
// termination once EarlyVoteCountingThreshold valid votes are seen.
func (m *Manager) Collect(ctx context.Context, height uint64, round uint32) ([]*types.Vote, error) {
	ticker := time.NewTicker(m.cfg.VoteCollectionTimeout)
	defer ticker.Stop()

	for interval := 0; interval < m.cfg.VoteCollectionIntervals; interval++ {
		select {
		case <-ctx.Done():
			return m.validVotesFor(height, round)
		case <-ticker.C:
			votes, err := m.validVotesFor(height, round)
			if err != nil {
				return nil, err
			}
			if len(votes) >= m.cfg.EarlyVoteCountingThreshold {
				return votes, nil
			}
		}
	}
	return m.validVotesFor(height, round)
}

func (m *Manager) validVotesFor(height uint64, round uint32) ([]*types.Vote, error) {
	all, err := m.store.ListVotesForRound(height, round)
	if err != nil {
		return nil, err
	}
	valid := make([]*types.Vote, 0, len(all))
	for _, v := range all {
		if m.ValidateVote(v) == nil {
			valid = append(valid, v)
		}
	}
	return valid, nil
}

// RunHeight drives the full round loop for one height: cast, collect,
// tally, and either return the winner or escalate to round+1. It returns
// once a round has a winner or ctx is cancelled — an explicit loop, not recursion,
// so there is no stack growth across rounds.
//
// onRound, if non-nil, fires after every round's tally (including the
// winning one) with the vote this node cast that round (nil if it had
// already voted) and the tally result, so callers can drive
// per-round side effects such as participation updates and
// escalation notifications without RunHeight depending on them
// directly.
func (m *Manager) RunHeight(ctx context.Context, height uint64, own *types.PendingBlockHeader, knownAtHeight func() []*types.PendingBlockHeader, onRound func(round uint32, cast *types.Vote, result Result)) (Result, error) {
	for round := uint32(0); ; round++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		candidate, err := m.SelectCandidate(round, own, knownAtHeight())
		if err != nil {
			return Result{}, err
		}
		cast, err := m.CastVote(candidate, height, round)
		if err != nil {
			return Result{}, fmt.Errorf("cast vote round %d: %w", round, err)
		}

		votes, err := m.Collect(ctx, height, round)
		if err != nil {
			return Result{}, err
		}

		result, err := m.tally.Compute(votes, m.cfg.Supermajority)
		if err != nil {
			return Result{}, err
		}

		m.logger.Info("tallied voting round",
			zap.Uint64("height", height),
			zap.Uint32("round", round),
			zap.Bool("has_winner", result.HasWinner),
		)

		if onRound != nil {
			onRound(round, cast, result)
		}

		if result.HasWinner {
			m.ReleaseHeight(height)
			return result, nil
		}
	}
}
