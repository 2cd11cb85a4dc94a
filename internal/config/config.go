// Package config holds the single NodeConfig value every component is
// constructed with — replacing the scattered @default_* module
// attributes and global Endpoint.config lookups the original system
// used.
//
// Follows the named-constants-table idiom shared by chaincfg/dagconfig-
// style params files: one struct per network profile instead of a
// single mutable global.
package config

import (
	"time"

	"go.uber.org/zap"
)

// NodeConfig carries every protocol tunable, plus the ambient settings
// the full node orchestrator needs: the mining-loop and GC tick
// periods, and the mempool-ingress rate limit.
type NodeConfig struct {
	// Network is a human-readable profile name ("testnet", "mainnet").
	Network string

	// Environment selects the zap logger build ("production" or
	// "development"); anything else gets zap.NewNop(), matching the
	// test harness's behavior of never logging in unit tests.
	Environment string

	// DataDir is the on-disk root; the K/V store and trie namespaces
	// live under DataDir/leveldb.
	DataDir string

	VoteCollectionTimeout      time.Duration
	VoteCollectionIntervals    int
	QuorumSize                 int
	EarlyVoteCountingThreshold int
	WarmUp                     time.Duration
	WarmUpCheckEnabled         bool
	MinParticipationRate       float64
	MaxParticipationRate       float64
	SlashPenaltyPercentage     float64
	TargetTxsPerBlock          int
	Supermajority              float64
	DefaultPendingTxQueryLimit int
	CoinbaseFee                string // canonical decimal string

	// MiningInterval paces the timer-driven mining loop: at most one
	// height is assembled and voted on per tick, through as many rounds
	// as it takes to find a winner.
	MiningInterval time.Duration

	// GCInterval paces the periodic pending-block garbage collector:
	// it drops the trie and header row of every pending block at or
	// below the committed head height.
	GCInterval time.Duration

	// IngressRateLimit and IngressBurst bound the mempool-ingress
	// task's admission rate (transactions and votes combined), using
	// golang.org/x/time/rate the way a stratum server throttles job
	// submissions.
	IngressRateLimit float64
	IngressBurst     int
}

// Testnet returns the protocol's testnet defaults (TARGET_TXS_PER_BLOCK=2,
// QUORUM_SIZE=1).
func Testnet() NodeConfig {
	return NodeConfig{
		Network:                    "testnet",
		Environment:                "development",
		DataDir:                    "./data",
		VoteCollectionTimeout:      500 * time.Millisecond,
		VoteCollectionIntervals:    6,
		QuorumSize:                 1,
		EarlyVoteCountingThreshold: 50,
		WarmUp:                     48 * time.Hour,
		WarmUpCheckEnabled:         false,
		MinParticipationRate:       0.0001,
		MaxParticipationRate:       1.0,
		SlashPenaltyPercentage:     0.20,
		TargetTxsPerBlock:          2,
		Supermajority:              2.0 / 3.0,
		DefaultPendingTxQueryLimit: 2000,
		CoinbaseFee:                "1.0",
		MiningInterval:             2 * time.Second,
		GCInterval:                 30 * time.Second,
		IngressRateLimit:           100,
		IngressBurst:               50,
	}
}

// Mainnet returns production-calibrated constants. QUORUM_SIZE=1 is a
// testnet-only value; production raises both the quorum and the
// per-block tx target.
func Mainnet() NodeConfig {
	c := Testnet()
	c.Network = "mainnet"
	c.Environment = "production"
	c.QuorumSize = 4
	c.TargetTxsPerBlock = 500
	return c
}

// BuildLogger constructs the zap.Logger this config's Environment
// calls for — zap.NewProduction for "production", zap.NewNop for
// anything else but "development", which gets a human-friendly
// development logger.
func (c NodeConfig) BuildLogger() (*zap.Logger, error) {
	switch c.Environment {
	case "production":
		return zap.NewProduction()
	case "development":
		return zap.NewDevelopment()
	default:
		return zap.NewNop(), nil
	}
}
