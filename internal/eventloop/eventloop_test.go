package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/roder/stroma/internal/chat"
	"github.com/roder/stroma/internal/substrate"
)

type capture struct {
	mu         sync.Mutex
	chatEvents []chat.Event
	deltas     []substrate.Delta
	timers     []Timer
}

func (c *capture) onChat(_ context.Context, e chat.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatEvents = append(c.chatEvents, e)
}

func (c *capture) onDelta(_ context.Context, d substrate.Delta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deltas = append(c.deltas, d)
}

func (c *capture) onTimer(_ context.Context, t Timer, _ time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers = append(c.timers, t)
}

func (c *capture) chatCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chatEvents)
}

func (c *capture) deltaCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deltas)
}

func (c *capture) timerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func TestLoopDispatchesChatEvents(t *testing.T) {
	collab := chat.NewMock()
	sub := substrate.NewMock()
	cap := &capture{}
	cfg := Config{Heartbeat: time.Hour, RegistryRefresh: time.Hour, VerificationSweep: time.Hour}
	l := New(nil, collab, sub, "contract-a", cfg, Handlers{OnChatEvent: cap.onChat})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	collab.Emit(chat.Event{Kind: chat.EventIncomingCommand, Text: "vouch @x"})

	deadline := time.Now().Add(2 * time.Second)
	for cap.chatCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if cap.chatCount() != 1 {
		t.Fatalf("chat events dispatched = %d, want 1", cap.chatCount())
	}
}

func TestLoopDispatchesSubstrateDeltas(t *testing.T) {
	collab := chat.NewMock()
	sub := substrate.NewMock()
	cap := &capture{}
	cfg := Config{Heartbeat: time.Hour, RegistryRefresh: time.Hour, VerificationSweep: time.Hour}
	l := New(nil, collab, sub, "contract-b", cfg, Handlers{OnSubstrateDelta: cap.onDelta})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// Subscribe happens inside Run; give it a moment before Put races it.
	time.Sleep(10 * time.Millisecond)
	if err := sub.Put(ctx, "contract-b", []byte("state-bytes")); err != nil {
		t.Fatalf("put: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for cap.deltaCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if cap.deltaCount() != 1 {
		t.Fatalf("deltas dispatched = %d, want 1", cap.deltaCount())
	}
}

func TestLoopDispatchesTimers(t *testing.T) {
	collab := chat.NewMock()
	sub := substrate.NewMock()
	cap := &capture{}
	cfg := Config{Heartbeat: 5 * time.Millisecond, RegistryRefresh: time.Hour, VerificationSweep: time.Hour}
	l := New(nil, collab, sub, "contract-c", cfg, Handlers{OnTimer: cap.onTimer})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for cap.timerCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if cap.timerCount() == 0 {
		t.Fatal("expected at least one heartbeat timer dispatch")
	}
}

func TestLoopReturnsContextErrorOnCancel(t *testing.T) {
	collab := chat.NewMock()
	sub := substrate.NewMock()
	cfg := DefaultConfig()
	l := New(nil, collab, sub, "contract-d", cfg, Handlers{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}
