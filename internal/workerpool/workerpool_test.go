package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitReturnsValue(t *testing.T) {
	p := New(2)
	ch := p.Submit(context.Background(), func(ctx context.Context) ([]byte, error) {
		return []byte("result"), nil
	})
	res := <-ch
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if string(res.Value) != "result" {
		t.Fatalf("Value = %q, want %q", res.Value, "result")
	}
}

func TestSubmitPropagatesError(t *testing.T) {
	p := New(1)
	wantErr := errors.New("boom")
	ch := p.Submit(context.Background(), func(ctx context.Context) ([]byte, error) {
		return nil, wantErr
	})
	res := <-ch
	if !errors.Is(res.Err, wantErr) {
		t.Fatalf("Err = %v, want %v", res.Err, wantErr)
	}
}

func TestSubmitBoundsConcurrency(t *testing.T) {
	p := New(1)
	var running int32
	var maxObserved int32

	started := make(chan struct{})
	release := make(chan struct{})

	p.Submit(context.Background(), func(ctx context.Context) ([]byte, error) {
		n := atomic.AddInt32(&running, 1)
		if n > atomic.LoadInt32(&maxObserved) {
			atomic.StoreInt32(&maxObserved, n)
		}
		close(started)
		<-release
		atomic.AddInt32(&running, -1)
		return nil, nil
	})

	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	blocked := p.Submit(ctx, func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&running, 1)
		return nil, nil
	})

	res := <-blocked
	if res.Err == nil {
		t.Fatal("expected the second submission to time out waiting for a slot of capacity 1")
	}
	close(release)

	if atomic.LoadInt32(&maxObserved) > 1 {
		t.Fatalf("observed %d concurrent workers in a pool of capacity 1", maxObserved)
	}
}

func TestRunAllReturnsFirstError(t *testing.T) {
	p := New(4)
	wantErr := errors.New("fn2 failed")
	err := p.RunAll(context.Background(),
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return wantErr },
		func(ctx context.Context) error { return nil },
	)
	if !errors.Is(err, wantErr) {
		t.Fatalf("RunAll() error = %v, want %v", err, wantErr)
	}
}

func TestRunAllSucceedsWhenAllFnsSucceed(t *testing.T) {
	p := New(2)
	var count int32
	fns := make([]func(ctx context.Context) error, 5)
	for i := range fns {
		fns[i] = func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		}
	}
	if err := p.RunAll(context.Background(), fns...); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if count != 5 {
		t.Fatalf("ran %d fns, want 5", count)
	}
}

func TestCapacityDefaultsToAtLeastOne(t *testing.T) {
	p := New(0)
	if p.Capacity() != 1 {
		t.Fatalf("Capacity() = %d, want 1 for a non-positive request", p.Capacity())
	}
	p2 := New(-5)
	if p2.Capacity() != 1 {
		t.Fatalf("Capacity() = %d, want 1 for a negative request", p2.Capacity())
	}
}

func TestCapacityReportsConfiguredValue(t *testing.T) {
	p := New(8)
	if p.Capacity() != 8 {
		t.Fatalf("Capacity() = %d, want 8", p.Capacity())
	}
}
