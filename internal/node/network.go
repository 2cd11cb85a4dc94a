package node

import "github.com/nodeforge/posnode/internal/types"

// PeerNetwork is the narrow collaborator interface standing in for the
// peer transport, which is out of scope here: the concrete
// implementation is an external HTTP/WebSocket layer this module never
// builds. It composes voting.Network (BroadcastVote) with transaction
// broadcast, used by the mempool-ingress task, and a connection count,
// which nothing in this module reads.
type PeerNetwork interface {
	BroadcastTx(tx *types.Tx)
	BroadcastVote(v *types.Vote)
	Connected() int
}

// NopNetwork discards every broadcast and reports zero peers — the
// default when no transport is wired, a stand-in for a transport layer
// referenced only via its contract here.
type NopNetwork struct{}

func (NopNetwork) BroadcastTx(*types.Tx)     {}
func (NopNetwork) BroadcastVote(*types.Vote) {}
func (NopNetwork) Connected() int            { return 0 }
