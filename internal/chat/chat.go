// Package chat defines the ability set the coordinator expects from its
// messaging-transport collaborator (spec.md §6.1) and an in-memory mock
// implementation for tests and local development. The real transport
// (a secure 1-to-1 + group chat service with anonymous polls) is
// explicitly out of scope for the core (spec.md §1); only the
// interface boundary is specified here.
package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RawId is opaque bytes identifying a real user on the chat service.
// It is transient by contract (spec.md §3.1): callers must Zeroize it
// via internal/identity after a single masking pass.
type RawId []byte

// MessageId identifies a sent message.
type MessageId string

// PollHandle identifies an open poll.
type PollHandle string

// MembershipEventKind distinguishes MembershipChanged directions.
type MembershipEventKind int

const (
	MembershipAdded MembershipEventKind = iota
	MembershipRemoved
)

// Event is the union of inbound event kinds the collaborator streams
// to the coordinator (spec.md §6.1).
type Event struct {
	Kind          EventKind
	RawId         RawId
	Text          string
	PollHandle    PollHandle
	MembershipDir MembershipEventKind
}

// EventKind enumerates Event.Kind values.
type EventKind int

const (
	EventIncomingCommand EventKind = iota
	EventPollExpired
	EventMembershipChanged
)

// Tally is the aggregate-only vote count a poll returns. The core never
// learns which member voted which way (spec.md §4.E "Anonymity contract").
type Tally struct {
	Approve int
	Reject  int
}

// Collaborator is the ability set spec.md §6.1 requires. Every method
// may fail with a retryable ChatTransient-class error; callers should
// use internal/errs to classify.
type Collaborator interface {
	SendPM(ctx context.Context, recipient RawId, body string) (MessageId, error)
	SendGroup(ctx context.Context, body string) (MessageId, error)
	CreatePoll(ctx context.Context, question string, options []string, expiresAt time.Time) (PollHandle, error)
	GetPollTally(ctx context.Context, handle PollHandle) (Tally, error)
	AddToGroup(ctx context.Context, raw RawId) error
	RemoveFromGroup(ctx context.Context, raw RawId) error

	// Events returns the inbound event stream. Delivery may be
	// at-least-once; handlers consuming it must be idempotent
	// (spec.md §6.2 applies the same discipline to chat as to substrate).
	Events() <-chan Event
}

// Mock is an in-memory Collaborator for tests and example wiring. It
// never persists message content or contact lists, honoring spec.md
// §6.1's "Persistence constraint on the chat collaborator".
type Mock struct {
	mu      sync.Mutex
	events  chan Event
	polls   map[PollHandle]*mockPoll
	groupID int
}

type mockPoll struct {
	tally Tally
}

// NewMock returns a ready-to-use Mock collaborator.
func NewMock() *Mock {
	return &Mock{
		events: make(chan Event, 256),
		polls:  make(map[PollHandle]*mockPoll),
	}
}

func (m *Mock) SendPM(_ context.Context, _ RawId, _ string) (MessageId, error) {
	return MessageId(uuid.New().String()), nil
}

func (m *Mock) SendGroup(_ context.Context, _ string) (MessageId, error) {
	return MessageId(uuid.New().String()), nil
}

func (m *Mock) CreatePoll(_ context.Context, _ string, _ []string, _ time.Time) (PollHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := PollHandle(uuid.New().String())
	m.polls[h] = &mockPoll{}
	return h, nil
}

// SetTally lets tests simulate votes arriving on a poll before it expires.
func (m *Mock) SetTally(h PollHandle, approve, reject int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.polls[h]; ok {
		p.tally = Tally{Approve: approve, Reject: reject}
	}
}

func (m *Mock) GetPollTally(_ context.Context, h PollHandle) (Tally, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.polls[h]
	if !ok {
		return Tally{}, fmt.Errorf("chat: unknown poll %s", h)
	}
	return p.tally, nil
}

func (m *Mock) AddToGroup(_ context.Context, _ RawId) error    { return nil }
func (m *Mock) RemoveFromGroup(_ context.Context, _ RawId) error { return nil }

func (m *Mock) Events() <-chan Event { return m.events }

// Emit lets tests/the local wiring inject an inbound event.
func (m *Mock) Emit(e Event) { m.events <- e }

// ExpirePoll emits a PollExpired event for handle.
func (m *Mock) ExpirePoll(h PollHandle) {
	m.Emit(Event{Kind: EventPollExpired, PollHandle: h})
}
