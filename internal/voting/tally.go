// Package voting implements the vote manager state machine — candidate
// selection, casting, collection, stake-weighted tallying, commit, and
// round escalation.
package voting

import (
	"sort"

	"github.com/nodeforge/posnode/internal/types"
)

// Tally groups valid votes by block_hash, following the same
// weight/group/sum shape as a PPLNS reward window's
// MinerWeights/TotalWeight computation: there, share weight sums per
// miner address over a sliding window; here, stake sums per candidate
// block hash over one round's valid votes.
type Tally struct {
	store MinerLookup
}

// MinerLookup is the subset of the Store this package depends on,
// narrowed to avoid an import cycle and to make tests trivial to fake.
type MinerLookup interface {
	GetMiner(addr types.Address) (*types.Miner, bool, error)
}

// NewTally builds a Tally backed by a miner registry lookup.
func NewTally(store MinerLookup) *Tally {
	return &Tally{store: store}
}

// groupResult is one candidate block_hash's summed stake weight.
type groupResult struct {
	blockHash [32]byte
	weight    types.Decimal
}

// Result reports the tally outcome for one round.
type Result struct {
	Winner     [32]byte
	HasWinner  bool
	Groups     map[[32]byte]types.Decimal
	VotersSeen map[types.Address]bool
}

// Compute groups votes by block_hash, weights by stake_amount, and
// declares a winner as any group whose sum ≥ supermajority x total
// distinct-voter stake, earliest block_hash (lexicographic hex)
// breaking ties.
func (t *Tally) Compute(votes []*types.Vote, supermajority float64) (Result, error) {
	result := Result{Groups: map[[32]byte]types.Decimal{}, VotersSeen: map[types.Address]bool{}}

	stakeByVoter := map[types.Address]types.Decimal{}
	for _, v := range votes {
		if _, seen := stakeByVoter[v.MinerAddress]; seen {
			continue
		}
		miner, ok, err := t.store.GetMiner(v.MinerAddress)
		if err != nil {
			return result, err
		}
		if !ok {
			continue
		}
		stakeByVoter[v.MinerAddress] = miner.StakeAmount
		result.VotersSeen[v.MinerAddress] = true
	}

	totalPower := types.ZeroDecimal()
	for _, stake := range stakeByVoter {
		totalPower = totalPower.Add(stake)
	}

	groupTotals := map[[32]byte]types.Decimal{}
	for _, v := range votes {
		stake, ok := stakeByVoter[v.MinerAddress]
		if !ok {
			continue
		}
		if existing, ok := groupTotals[v.BlockHash]; ok {
			groupTotals[v.BlockHash] = existing.Add(stake)
		} else {
			groupTotals[v.BlockHash] = stake
		}
	}
	result.Groups = groupTotals

	threshold := thresholdOf(totalPower, supermajority)

	var qualifying []groupResult
	for hash, weight := range groupTotals {
		if weight.Cmp(threshold) >= 0 {
			qualifying = append(qualifying, groupResult{blockHash: hash, weight: weight})
		}
	}
	if len(qualifying) == 0 {
		return result, nil
	}
	sort.Slice(qualifying, func(i, j int) bool {
		return lessHex(qualifying[i].blockHash, qualifying[j].blockHash)
	})
	result.Winner = qualifying[0].blockHash
	result.HasWinner = true
	return result, nil
}

// thresholdOf computes supermajority * totalPower using Decimal's
// percent helper — supermajority is a fraction (e.g. 2.0/3.0), so it
// is converted to a percentage (66.66...) for MulPercent.
func thresholdOf(totalPower types.Decimal, supermajority float64) types.Decimal {
	return totalPower.MulPercent(supermajority * 100)
}

func lessHex(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
