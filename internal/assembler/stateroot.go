// Package assembler turns a chosen batch of transactions into a
// candidate PendingBlock.
package assembler

import (
	"context"
	"sync"

	"github.com/nodeforge/posnode/internal/types"
)

// StateRootProvider is the external `state_root(txs)` collaborator,
// out of this module's scope — some other component (a world-state
// execution engine) computes it. Modeled the same way an external RPC
// collaborator like BitcoinRPC is modeled elsewhere: an interface plus
// a context-aware method, with a fake implementation for tests.
type StateRootProvider interface {
	StateRoot(ctx context.Context, txs []types.Tx) ([32]byte, error)
}

// MockStateRoot implements StateRootProvider for tests: a canned
// return value plus an error override, guarded by a mutex since it may
// be shared across
// concurrent assembler calls in tests.
type MockStateRoot struct {
	mu sync.Mutex

	Root [32]byte
	Err  error

	Calls int
}

// NewMockStateRoot returns a MockStateRoot with a deterministic
// non-zero default root.
func NewMockStateRoot() *MockStateRoot {
	return &MockStateRoot{Root: [32]byte{0x01}}
}

func (m *MockStateRoot) StateRoot(_ context.Context, _ []types.Tx) ([32]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return [32]byte{}, m.Err
	}
	return m.Root, nil
}
