// Package participation implements the per-miner participation-rate
// update: every tally, a miner's rolling score rises for casting a
// valid vote and falls for abstaining, clamped to [MinParticipationRate,
// MaxParticipationRate].
//
// Follows the same prometheus.Gauge-per-metric idiom used for
// SharechainHeight/PoolHashrate: a miner's rate is both persisted in
// the miners table and exported as a gauge vector entry.
package participation

import (
	"github.com/nodeforge/posnode/internal/metrics"
	"github.com/nodeforge/posnode/internal/store"
	"github.com/nodeforge/posnode/internal/types"
)

// step is the fixed per-round participation adjustment.
const step = 0.01

// Update runs the participation update: for every registered miner,
// increase its rate by step if it cast a valid vote in this round
// (present in voters), decrease it otherwise, clamping to the
// configured bounds and persisting the result.
func Update(s *store.Store, voters map[types.Address]bool) error {
	miners, err := s.ListMiners(0)
	if err != nil {
		return err
	}
	for _, m := range miners {
		if voters[m.Address] {
			m.ParticipationRate = types.ClampParticipationRate(m.ParticipationRate + step)
		} else {
			m.ParticipationRate = types.ClampParticipationRate(m.ParticipationRate - step)
		}
		if err := s.PutMiner(m); err != nil {
			return err
		}
		metrics.ParticipationRate.WithLabelValues(m.Address.String()).Set(m.ParticipationRate)
	}
	return nil
}
