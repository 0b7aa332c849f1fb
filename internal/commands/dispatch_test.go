package commands

import (
	"context"
	"testing"
	"time"

	"github.com/roder/stroma/internal/auditlog"
	"github.com/roder/stroma/internal/chat"
	"github.com/roder/stroma/internal/config"
	"github.com/roder/stroma/internal/gatekeeper"
	"github.com/roder/stroma/internal/governance"
	"github.com/roder/stroma/internal/identity"
	"github.com/roder/stroma/internal/trust"
	"github.com/roder/stroma/internal/zkp"
)

// fakeMasker maps a mention's raw bytes onto a MemberHash by copying
// its first byte into h[0], mirroring the test fixtures in internal/trust.
type fakeMasker struct{}

func (fakeMasker) Mask(raw []byte) (identity.MemberHash, error) {
	var h identity.MemberHash
	if len(raw) > 0 {
		h[0] = raw[0]
	}
	return h, nil
}

type noopExecutor struct{}

func (noopExecutor) ApplyConfigChange(key, value string) error { return nil }
func (noopExecutor) ApplyGroupConfig(key, value string) error  { return nil }
func (noopExecutor) ApplyFederation(otherGroupID string) error { return nil }

func memberHash(b byte) identity.MemberHash {
	var h identity.MemberHash
	h[0] = b
	return h
}

func bootstrapDispatcher(t *testing.T) (*Dispatcher, *trust.TrustState) {
	t.Helper()
	cfg := config.DefaultGroupConfig()
	state := trust.New(cfg)
	members := []byte{1, 2, 3}
	for _, b := range members {
		state.Members.Add(memberHash(b))
		state.Clusters[memberHash(b)] = memberHash(1)
	}
	for _, target := range members {
		state.Vouches[memberHash(target)] = trust.NewHashSet()
		for _, voucher := range members {
			if voucher == target {
				continue
			}
			state.Vouches[memberHash(target)].Add(memberHash(voucher))
		}
	}
	if !state.SatisfiesInvariants() {
		t.Fatal("fixture does not satisfy invariants")
	}

	collab := chat.NewMock()
	audit := auditlog.New(nil)
	limiter := gatekeeper.NewRateLimiter(time.Minute, time.Hour)
	prover := zkp.NewStub([]byte("test-secret"))
	gk := gatekeeper.New(nil, 0, audit, collab, prover, limiter)
	gov := governance.New(nil, collab, audit, noopExecutor{}, cfg)

	return New(nil, state, gk, gov, audit, collab, fakeMasker{}), state
}

func TestHandleVouchMutatesTrustState(t *testing.T) {
	disp, state := bootstrapDispatcher(t)
	caller := memberHash(2)

	cmd, err := Parse("vouch @\x01")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reply, err := disp.Dispatch(context.Background(), cmd, caller, chat.RawId("caller-raw"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if reply == "" {
		t.Fatal("expected a reply")
	}
	target := memberHash(1)
	if !state.Vouches[target].Has(caller) {
		t.Fatal("vouch was not recorded on the trust state")
	}
}

func TestHandleFlagTriggersEjection(t *testing.T) {
	disp, state := bootstrapDispatcher(t)
	target := memberHash(1)

	// target (1) currently has effective_vouches=2 from {2,3}. A single
	// flag from 2 drops it to 1, below min_vouch_threshold=2, which
	// should fire Trigger2 and eject immediately.
	cmd, err := Parse("flag @\x01 abuse")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reply, err := disp.Dispatch(context.Background(), cmd, memberHash(2), chat.RawId("caller-raw"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if state.Members.Has(target) {
		t.Fatalf("expected target to be ejected, reply=%q", reply)
	}
	if !state.Ejected.Has(target) {
		t.Fatal("target not recorded as ejected")
	}
}

func TestHandleStatusReportsNonMember(t *testing.T) {
	disp, _ := bootstrapDispatcher(t)
	cmd, err := Parse("status")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reply, err := disp.Dispatch(context.Background(), cmd, memberHash(99), chat.RawId("x"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if reply != "you are not a current member" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}
