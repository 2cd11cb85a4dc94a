package voting

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/posnode/internal/codec"
	"github.com/nodeforge/posnode/internal/config"
	"github.com/nodeforge/posnode/internal/cryptoutil"
	"github.com/nodeforge/posnode/internal/store"
	"github.com/nodeforge/posnode/internal/types"
	"github.com/nodeforge/posnode/pkg/util"
)

func fastTestConfig() config.NodeConfig {
	cfg := config.Testnet()
	cfg.VoteCollectionTimeout = 5 * time.Millisecond
	cfg.VoteCollectionIntervals = 2
	cfg.EarlyVoteCountingThreshold = 1
	return cfg
}

func newTestManager(t *testing.T) (*Manager, *store.Store, *cryptoutil.PrivateKey) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	priv, _ := cryptoutil.GeneratePrivateKey()
	addr := cryptoutil.Address(priv.PubKey())
	if err := s.PutMiner(&types.Miner{Address: addr, StakeAmount: types.DecimalFromInt64(100)}); err != nil {
		t.Fatalf("PutMiner: %v", err)
	}

	mgr := New(s, NopNetwork{}, fastTestConfig(), priv, zap.NewNop())
	return mgr, s, priv
}

func TestCastVoteThenAlreadyVoted(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	candidate := &types.PendingBlockHeader{Number: 1}

	v1, err := mgr.CastVote(candidate, 1, 0)
	if err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if v1 == nil {
		t.Fatal("expected a cast vote")
	}
	if !mgr.AlreadyVoted(1, 0) {
		t.Error("expected already_voted? to be true after casting")
	}
	v2, err := mgr.CastVote(candidate, 1, 0)
	if err != nil {
		t.Fatalf("CastVote (second): %v", err)
	}
	if v2 != nil {
		t.Error("second cast in the same round should be a no-op")
	}
}

func TestValidateVoteRejectsUnknownMiner(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	stranger, _ := cryptoutil.GeneratePrivateKey()
	v := &types.Vote{MinerAddress: cryptoutil.Address(stranger.PubKey()), BlockNumber: 1, VotingRound: 0}
	// sign with the stranger's own key so the signature itself is valid,
	// isolating the "unknown miner" rejection path.
	v2 := signVoteWith(t, stranger, v)
	if err := mgr.ValidateVote(v2); err == nil {
		t.Error("expected rejection of an unregistered miner's vote")
	}
}

func signVoteWith(t *testing.T, priv *cryptoutil.PrivateKey, v *types.Vote) *types.Vote {
	t.Helper()
	enc, err := codec.EncodeVoteUnsigned(v)
	if err != nil {
		t.Fatalf("EncodeVoteUnsigned: %v", err)
	}
	sig := cryptoutil.Sign(priv, util.Hash256(enc))
	v.V, v.R, v.S = sig.V, sig.R, sig.S
	return v
}

func TestRunHeightCommitsOwnCandidateAlone(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	own := &types.PendingBlockHeader{Number: 1}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var rounds int
	var lastCast *types.Vote
	onRound := func(round uint32, cast *types.Vote, r Result) {
		rounds++
		lastCast = cast
	}

	result, err := mgr.RunHeight(ctx, 1, own, func() []*types.PendingBlockHeader { return nil }, onRound)
	if err != nil {
		t.Fatalf("RunHeight: %v", err)
	}
	if !result.HasWinner {
		t.Fatal("the sole registered miner's own vote should reach supermajority alone")
	}
	if rounds != 1 {
		t.Errorf("onRound fired %d times, want 1 (winning on round 0)", rounds)
	}
	if lastCast == nil {
		t.Error("onRound's cast vote should be non-nil on the round this node actually voted")
	}
}

func TestGetCurrentVotingRoundResumesAfterVotes(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	own := &types.PendingBlockHeader{Number: 5}
	if _, err := mgr.CastVote(own, 5, 0); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if _, err := mgr.CastVote(own, 5, 1); err != nil {
		t.Fatalf("CastVote round 1: %v", err)
	}
	round, err := mgr.GetCurrentVotingRound(5)
	if err != nil {
		t.Fatalf("GetCurrentVotingRound: %v", err)
	}
	if round != 2 {
		t.Errorf("round = %d, want 2 (max seen round 1, plus one)", round)
	}
}
