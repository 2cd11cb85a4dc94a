package types

import "time"

// Participation rate bounds.
const (
	MinParticipationRate = 0.0001
	MaxParticipationRate = 1.0
)

// Miner is a registered stake-weighted voter. Created by an external
// deposit transaction, mutated by Participation and the Slasher, never
// deleted by the core — stake may fall to zero but the row persists.
type Miner struct {
	Address           Address   `cbor:"1,keyasint"`
	StakeAmount       Decimal   `cbor:"2,keyasint"`
	InsertedAt        time.Time `cbor:"3,keyasint"`
	ParticipationRate float64   `cbor:"4,keyasint"`
}

// ClampParticipationRate keeps a participation rate within the
// configured bounds after an increment or decrement.
func ClampParticipationRate(rate float64) float64 {
	if rate < MinParticipationRate {
		return MinParticipationRate
	}
	if rate > MaxParticipationRate {
		return MaxParticipationRate
	}
	return rate
}
