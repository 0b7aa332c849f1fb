// Package eventloop implements spec.md §4.J and §5: a single
// cooperative loop hosting three concurrent logical streams
// (chat-inbound, substrate-state-change, internal timers) and
// serializing every trust-graph mutation through itself. Grounded on
// the teacher's Broadcast/subscriber idiom (core/network.go,
// core/event_bus-style usage throughout core/) generalized from a
// pub/sub fan-out to an explicit select-driven dispatch loop, since
// spec.md §5 requires total ordering rather than independent delivery.
package eventloop

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roder/stroma/internal/chat"
	"github.com/roder/stroma/internal/substrate"
)

// Timer identifies one of the internal timer streams spec.md §4.J names.
type Timer int

const (
	TimerHeartbeat Timer = iota
	TimerPollExpiry
	TimerRegistryRefresh
	TimerVerificationSweep
)

// Handlers is the set of callbacks the loop dispatches to. Each is
// invoked synchronously on the loop goroutine — the loop is the
// serializer for the trust graph (spec.md §4.J) — so handlers must not
// block except at the suspension points spec.md §5 allows (I/O to chat
// or substrate, awaiting a worker-pool result, explicit yield).
type Handlers struct {
	OnChatEvent      func(ctx context.Context, e chat.Event)
	OnSubstrateDelta func(ctx context.Context, d substrate.Delta)
	OnTimer          func(ctx context.Context, t Timer, now time.Time)
}

// Loop is the single-threaded cooperative scheduler of spec.md §5.
type Loop struct {
	log      *logrus.Logger
	collab   chat.Collaborator
	sub      substrate.Substrate
	contract string
	handlers Handlers

	heartbeat          time.Duration
	registryRefresh    time.Duration
	verificationSweep  time.Duration
}

// Config bundles the loop's timer cadences.
type Config struct {
	Heartbeat         time.Duration
	RegistryRefresh   time.Duration
	VerificationSweep time.Duration
}

// DefaultConfig returns reasonable cadences: a 30s heartbeat, 5m
// registry refresh, 15m verification sweep.
func DefaultConfig() Config {
	return Config{
		Heartbeat:         30 * time.Second,
		RegistryRefresh:   5 * time.Minute,
		VerificationSweep: 15 * time.Minute,
	}
}

// New builds a Loop bound to a chat collaborator and a substrate
// contract (the content-addressed slot this group's trust state lives
// under).
func New(log *logrus.Logger, collab chat.Collaborator, sub substrate.Substrate, contract string, cfg Config, h Handlers) *Loop {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Loop{
		log:               log,
		collab:            collab,
		sub:               sub,
		contract:          contract,
		handlers:          h,
		heartbeat:         cfg.Heartbeat,
		registryRefresh:   cfg.RegistryRefresh,
		verificationSweep: cfg.VerificationSweep,
	}
}

// Run drives the loop until ctx is cancelled. It owns the select
// statement that fans in chat events, substrate deltas, and the three
// timer streams without interleaving — each case body runs to
// completion (or to its next suspension point) before the next select
// iteration, per spec.md §4.J.
func (l *Loop) Run(ctx context.Context) error {
	deltas, err := l.sub.Subscribe(ctx, l.contract)
	if err != nil {
		return err
	}
	events := l.collab.Events()

	heartbeatTicker := time.NewTicker(l.heartbeat)
	defer heartbeatTicker.Stop()
	registryTicker := time.NewTicker(l.registryRefresh)
	defer registryTicker.Stop()
	sweepTicker := time.NewTicker(l.verificationSweep)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if l.handlers.OnChatEvent != nil {
				l.handlers.OnChatEvent(ctx, e)
			}

		case d, ok := <-deltas:
			if !ok {
				deltas = nil
				continue
			}
			if l.handlers.OnSubstrateDelta != nil {
				l.handlers.OnSubstrateDelta(ctx, d)
			}

		case now := <-heartbeatTicker.C:
			l.dispatchTimer(ctx, TimerHeartbeat, now)

		case now := <-registryTicker.C:
			l.dispatchTimer(ctx, TimerRegistryRefresh, now)

		case now := <-sweepTicker.C:
			l.dispatchTimer(ctx, TimerVerificationSweep, now)
		}
	}
}

func (l *Loop) dispatchTimer(ctx context.Context, t Timer, now time.Time) {
	if l.handlers.OnTimer == nil {
		return
	}
	l.handlers.OnTimer(ctx, t, now)
}
