package governance

import (
	"context"
	"testing"

	"github.com/roder/stroma/internal/auditlog"
	"github.com/roder/stroma/internal/chat"
	"github.com/roder/stroma/internal/config"
	"github.com/roder/stroma/internal/identity"
)

type recordingExecutor struct {
	appliedKey, appliedValue string
	calls                    int
}

func (e *recordingExecutor) ApplyConfigChange(key, value string) error {
	e.appliedKey, e.appliedValue = key, value
	e.calls++
	return nil
}
func (e *recordingExecutor) ApplyGroupConfig(key, value string) error { return nil }
func (e *recordingExecutor) ApplyFederation(otherGroupID string) error { return nil }

func creatorHash() identity.MemberHash {
	var h identity.MemberHash
	h[0] = 7
	return h
}

func TestCreateRejectsNonWhitelistedKey(t *testing.T) {
	collab := chat.NewMock()
	g := New(nil, collab, auditlog.New(nil), &recordingExecutor{}, config.DefaultGroupConfig())

	_, err := g.Create(context.Background(), KindConfigChange, creatorHash(), "not_a_real_key", "5")
	if err == nil {
		t.Fatal("expected rejection for non-whitelisted key")
	}
}

func TestProposalPassesAndExecutesOnQuorum(t *testing.T) {
	collab := chat.NewMock()
	exec := &recordingExecutor{}
	g := New(nil, collab, auditlog.New(nil), exec, config.DefaultGroupConfig())

	p, err := g.Create(context.Background(), KindConfigChange, creatorHash(), "min_vouch_threshold", "3")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	collab.SetTally(p.PollHandle, 8, 2) // 10/10 members voted, 80% approve

	if err := g.HandlePollExpired(context.Background(), p.PollHandle, 10); err != nil {
		t.Fatalf("handle poll expired: %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("expected executor to be called once, got %d", exec.calls)
	}
	if exec.appliedKey != "min_vouch_threshold" || exec.appliedValue != "3" {
		t.Fatalf("executor applied (%s=%s), want (min_vouch_threshold=3)", exec.appliedKey, exec.appliedValue)
	}
	if got, _ := g.Pending(p.PollHandle); got != nil {
		t.Fatal("expected proposal to be removed from pending after closing")
	}
}

func TestProposalFailsBelowQuorum(t *testing.T) {
	collab := chat.NewMock()
	exec := &recordingExecutor{}
	g := New(nil, collab, auditlog.New(nil), exec, config.DefaultGroupConfig())

	p, err := g.Create(context.Background(), KindConfigChange, creatorHash(), "min_vouch_threshold", "3")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	collab.SetTally(p.PollHandle, 1, 0) // only 1/10 members voted: below min_quorum=0.5

	if err := g.HandlePollExpired(context.Background(), p.PollHandle, 10); err != nil {
		t.Fatalf("handle poll expired: %v", err)
	}
	if exec.calls != 0 {
		t.Fatalf("expected no execution below quorum, got %d calls", exec.calls)
	}
}

func TestHandlePollExpiredIsIdempotent(t *testing.T) {
	collab := chat.NewMock()
	exec := &recordingExecutor{}
	g := New(nil, collab, auditlog.New(nil), exec, config.DefaultGroupConfig())

	p, err := g.Create(context.Background(), KindConfigChange, creatorHash(), "min_vouch_threshold", "3")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	collab.SetTally(p.PollHandle, 9, 1)

	if err := g.HandlePollExpired(context.Background(), p.PollHandle, 10); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	if err := g.HandlePollExpired(context.Background(), p.PollHandle, 10); err != nil {
		t.Fatalf("second handle: %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("expected exactly one execution across repeated expiry handling, got %d", exec.calls)
	}
}

func TestRecoverReattachesUnexecutedProposal(t *testing.T) {
	collab := chat.NewMock()
	g := New(nil, collab, auditlog.New(nil), &recordingExecutor{}, config.DefaultGroupConfig())

	p := &Proposal{ID: "p1", Kind: KindConfigChange, Key: "min_quorum", Value: "0.6", PollHandle: "handle-1"}
	g.Recover(p)

	got, ok := g.Pending("handle-1")
	if !ok || got.ID != "p1" {
		t.Fatal("expected recovered proposal to be pending")
	}
}
