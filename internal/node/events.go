// Package node wires the codec, crypto, store, accounts, mempool,
// assembler, voting, slasher, coinbase, and participation components
// together into three cooperative tasks — the mining loop, mempool
// ingress, and the pending-block garbage collector — sharing only the
// Store.
//
// Follows the event-type definitions and ticker-driven-goroutine idiom
// used elsewhere for node orchestration, generalized from mining-job/
// share events to this domain's tx/vote/height/slash events.
package node

import "github.com/nodeforge/posnode/internal/types"

// Event is the common interface every orchestrator event satisfies,
// following the same plain-struct event-type style used elsewhere
// (NewJobEvent, ShareSubmitEvent, ...) rather than a closed sum type,
// so new event kinds can be added without touching existing listeners.
type Event interface {
	eventMarker()
}

// TxAdmittedEvent fires when the mempool ingress task accepts (or
// rejects) an incoming transaction.
type TxAdmittedEvent struct {
	Hash    [32]byte
	Err     error // nil on success
	Outcome string
}

func (TxAdmittedEvent) eventMarker() {}

// VoteCastEvent fires when this node casts its own vote for a height/round.
type VoteCastEvent struct {
	Height uint64
	Round  uint32
	Vote   *types.Vote
}

func (VoteCastEvent) eventMarker() {}

// VoteReceivedEvent fires when the mempool-ingress task admits a vote
// that arrived from the network (as opposed to one this node cast
// itself).
type VoteReceivedEvent struct {
	Height uint64
	Round  uint32
	Vote   *types.Vote
}

func (VoteReceivedEvent) eventMarker() {}

// RoundEscalatedEvent fires when a voting round fails to reach
// supermajority and the height moves to round+1.
type RoundEscalatedEvent struct {
	Height uint64
	Round  uint32
}

func (RoundEscalatedEvent) eventMarker() {}

// HeightCommittedEvent fires when a height's voting round produces a
// winner and the corresponding block is written to the Store.
type HeightCommittedEvent struct {
	Height uint64
	Hash   [32]byte
}

func (HeightCommittedEvent) eventMarker() {}

// SlashEmittedEvent fires when the Slasher detects an equivocation and
// pushes a slash transaction into the mempool.
type SlashEmittedEvent struct {
	Offender types.Address
	Height   uint64
	Round    uint32
}

func (SlashEmittedEvent) eventMarker() {}

// Bus is a small fan-out event channel: the orchestrator publishes,
// observers (logging, metrics, tests) subscribe. Flattened into one
// typed channel rather than a channel-per-event-type, since this
// domain's event volume is modest (heights, not per-share traffic).
type Bus struct {
	ch chan Event
}

// NewBus creates an event bus with the given channel buffer size.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{ch: make(chan Event, buffer)}
}

// Publish emits an event, dropping it if the channel is full rather
// than blocking the orchestrator's hot path — events are observability,
// never a correctness dependency.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	select {
	case b.ch <- e:
	default:
	}
}

// Events returns the receive side of the bus for subscribers.
func (b *Bus) Events() <-chan Event {
	return b.ch
}
