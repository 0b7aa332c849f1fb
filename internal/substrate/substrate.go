// Package substrate defines the ability set the coordinator expects
// from the decentralized key-value substrate (spec.md §6.2): a
// content-addressed store with commutative merge and subscription-based
// state streaming. The substrate itself — a full content-addressed
// store and merge engine — is an external collaborator (spec.md §1);
// this package specifies only the interface boundary, an in-memory
// mock, and a minimal real transport built from the teacher's own
// libp2p node-bootstrap code (core/network.go) so the gossip-layer
// dependency family is genuinely exercised rather than only imported.
package substrate

import (
	"context"
	"sync"
)

// Delta is one state-change notification from the substrate. Delivery
// may be at-least-once (spec.md §6.2); handlers must be idempotent.
type Delta struct {
	ContractId string
	Value      []byte
}

// Substrate is the ability set spec.md §6.2 requires.
type Substrate interface {
	Put(ctx context.Context, contractId string, value []byte) error
	Get(ctx context.Context, contractId string) ([]byte, error)
	Subscribe(ctx context.Context, contractId string) (<-chan Delta, error)
	Close() error
}

// Mock is an in-memory Substrate for tests: Put stores the value and
// fans it out to every subscriber of that contractId, modeling a
// commutative merge trivially (last Put wins locally, but since the
// value the coordinator puts is always the union-merged TrustState
// bytes, repeated delivery is naturally idempotent upstream).
type Mock struct {
	mu   sync.Mutex
	data map[string][]byte
	subs map[string][]chan Delta
}

// NewMock returns a ready-to-use in-memory Substrate.
func NewMock() *Mock {
	return &Mock{
		data: make(map[string][]byte),
		subs: make(map[string][]chan Delta),
	}
}

func (m *Mock) Put(_ context.Context, contractId string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[contractId] = cp
	for _, ch := range m.subs[contractId] {
		select {
		case ch <- Delta{ContractId: contractId, Value: cp}:
		default:
		}
	}
	return nil
}

func (m *Mock) Get(_ context.Context, contractId string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[contractId]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *Mock) Subscribe(_ context.Context, contractId string) (<-chan Delta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Delta, 32)
	m.subs[contractId] = append(m.subs[contractId], ch)
	return ch, nil
}

func (m *Mock) Close() error { return nil }
