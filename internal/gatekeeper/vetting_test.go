package gatekeeper

import (
	"context"
	"testing"
	"time"

	"github.com/roder/stroma/internal/auditlog"
	"github.com/roder/stroma/internal/chat"
	"github.com/roder/stroma/internal/config"
	"github.com/roder/stroma/internal/identity"
	"github.com/roder/stroma/internal/trust"
	"github.com/roder/stroma/internal/zkp"
)

func gkHash(b byte) identity.MemberHash {
	var h identity.MemberHash
	h[0] = b
	return h
}

func newTestGatekeeper() (*Gatekeeper, *zkp.Stub) {
	collab := chat.NewMock()
	audit := auditlog.New(nil)
	limiter := NewRateLimiter(time.Minute, time.Hour)
	prover := zkp.NewStub([]byte("group-secret"))
	return New(nil, time.Hour, audit, collab, prover, limiter), prover
}

func bootstrapGatekeeperState(t *testing.T) *trust.TrustState {
	t.Helper()
	cfg := config.DefaultGroupConfig()
	s := trust.New(cfg)
	members := []byte{1, 2, 3}
	for _, b := range members {
		s.Members.Add(gkHash(b))
		s.Clusters[gkHash(b)] = gkHash(1)
	}
	for _, target := range members {
		s.Vouches[gkHash(target)] = trust.NewHashSet()
		for _, voucher := range members {
			if voucher != target {
				s.Vouches[gkHash(target)].Add(gkHash(voucher))
			}
		}
	}
	if !s.SatisfiesInvariants() {
		t.Fatal("fixture does not satisfy invariants")
	}
	return s
}

func TestVettingHappyPath(t *testing.T) {
	gk, prover := newTestGatekeeper()
	state := bootstrapGatekeeperState(t)
	candidate := gkHash(9)
	inviter, assessor := gkHash(1), gkHash(2)

	id := gk.StartInvite(candidate, chat.RawId("candidate-raw"), inviter)
	if st, _ := gk.State(id); st != Inviting {
		t.Fatalf("state = %s, want inviting", st)
	}

	if err := gk.Advance(id, assessor, gkHash(1)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if st, _ := gk.State(id); st != Vetting {
		t.Fatalf("state = %s, want vetting", st)
	}

	// Put the assessor in its own cluster so the state matches the
	// witness below (vouchers in clusters 1 and 2).
	state.Clusters[assessor] = gkHash(2)
	stmt, _, err := gk.BeginVerification(id, state.ClusterCount())
	if err != nil {
		t.Fatalf("begin verification: %v", err)
	}
	if st, _ := gk.State(id); st != Verifying {
		t.Fatalf("state = %s, want verifying", st)
	}

	w := zkp.Witness{Voucher1: inviter, Voucher2: assessor, Cluster1: gkHash(1), Cluster2: gkHash(2)}
	proof, err := prover.Prove(stmt, w)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	ok, err := gk.CompleteVerification(id, proof)
	if err != nil {
		t.Fatalf("complete verification: %v", err)
	}
	if !ok {
		t.Fatal("expected proof to verify")
	}
	if st, _ := gk.State(id); st != Admitting {
		t.Fatalf("state = %s, want admitting", st)
	}

	if _, err := gk.Admit(context.Background(), id, state, gkHash(1)); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !state.Members.Has(candidate) {
		t.Fatal("candidate was not committed to the trust state")
	}
	if _, ok := gk.State(id); ok {
		t.Fatal("session should be closed after admission")
	}
}

func TestCompleteVerificationRejectsBadProof(t *testing.T) {
	gk, _ := newTestGatekeeper()
	candidate := gkHash(9)
	id := gk.StartInvite(candidate, chat.RawId("raw"), gkHash(1))
	if err := gk.Advance(id, gkHash(2), gkHash(1)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	stmt, _, err := gk.BeginVerification(id, 2)
	if err != nil {
		t.Fatalf("begin verification: %v", err)
	}
	_ = stmt

	ok, err := gk.CompleteVerification(id, zkp.Proof{})
	if err != nil {
		t.Fatalf("complete verification: %v", err)
	}
	if ok {
		t.Fatal("expected an empty proof to fail verification")
	}
	if st, _ := gk.State(id); st != Rejected {
		t.Fatalf("state = %s, want rejected", st)
	}
}

func TestExpireClosesStaleSessions(t *testing.T) {
	gk, _ := newTestGatekeeper()
	id := gk.StartInvite(gkHash(9), chat.RawId("raw"), gkHash(1))

	expired := gk.Expire(time.Now().UTC().Add(25 * time.Hour))
	if len(expired) != 1 || expired[0] != id {
		t.Fatalf("expected session %s to expire, got %v", id, expired)
	}
	if _, ok := gk.State(id); ok {
		t.Fatal("expired session should no longer be tracked")
	}
}

func TestAdvanceRejectsWrongState(t *testing.T) {
	gk, _ := newTestGatekeeper()
	id := gk.StartInvite(gkHash(9), chat.RawId("raw"), gkHash(1))
	if err := gk.Advance(id, gkHash(2), gkHash(1)); err != nil {
		t.Fatalf("first advance: %v", err)
	}
	if err := gk.Advance(id, gkHash(3), gkHash(1)); err == nil {
		t.Fatal("expected rejection advancing a session already past inviting")
	}
}
