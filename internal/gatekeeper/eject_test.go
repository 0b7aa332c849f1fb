package gatekeeper

import (
	"context"
	"testing"

	"github.com/roder/stroma/internal/chat"
	"github.com/roder/stroma/internal/identity"
	"github.com/roder/stroma/internal/trust"
)

func TestCheckAndEjectNoopWhenCompliant(t *testing.T) {
	gk, _ := newTestGatekeeper()
	state := bootstrapGatekeeperState(t)
	target := gkHash(1)

	trigger, _, err := gk.CheckAndEject(context.Background(), state, target, gkHash(2))
	if err != nil {
		t.Fatalf("check and eject: %v", err)
	}
	if trigger != trust.NoTrigger {
		t.Fatalf("expected no trigger for a compliant member, got %s", trigger)
	}
	if !state.Members.Has(target) {
		t.Fatal("member should not have been ejected")
	}
}

func TestCheckAndEjectFiresOnInsufficientVouches(t *testing.T) {
	gk, _ := newTestGatekeeper()
	state := bootstrapGatekeeperState(t)
	target := gkHash(1)
	flagger := gkHash(2)

	if _, err := state.AddFlag(target, flagger); err != nil {
		t.Fatalf("add flag: %v", err)
	}

	trigger, _, err := gk.CheckAndEject(context.Background(), state, target, flagger)
	if err != nil {
		t.Fatalf("check and eject: %v", err)
	}
	if trigger == trust.NoTrigger {
		t.Fatal("expected an ejection trigger after the flag dropped effective_vouches below threshold")
	}
	if state.Members.Has(target) {
		t.Fatal("target should have been ejected")
	}
	if !state.Ejected.Has(target) {
		t.Fatal("target should be recorded as ejected")
	}
}

func TestEjectTripsRateLimiterForPrecipitatingActor(t *testing.T) {
	gk, _ := newTestGatekeeper()
	state := bootstrapGatekeeperState(t)
	target := gkHash(1)
	flagger := gkHash(2)

	if _, err := state.AddFlag(target, flagger); err != nil {
		t.Fatalf("add flag: %v", err)
	}
	if _, err := gk.Eject(context.Background(), state, target, trust.Trigger2, flagger); err != nil {
		t.Fatalf("eject: %v", err)
	}
	if gk.limiter.Allowed(flagger.Prefix4(), "flag_or_vouch_withdrawal") {
		t.Fatal("expected the precipitating actor's rate limiter bucket to be tripped")
	}
}

func TestRebuildRawMappingReplacesState(t *testing.T) {
	gk, _ := newTestGatekeeper()
	a, b := gkHash(1), gkHash(2)
	gk.NoteRawMapping(a, chat.RawId("old-raw-a"))

	gk.RebuildRawMapping(map[identity.MemberHash]chat.RawId{b: chat.RawId("new-raw-b")})

	if gk.SessionCount() != 0 {
		t.Fatal("rebuilding the raw mapping must not touch vetting sessions")
	}
	gk.mu.Lock()
	_, hasA := gk.rawByHash[a]
	_, hasB := gk.rawByHash[b]
	gk.mu.Unlock()
	if hasA {
		t.Fatal("a's stale mapping should have been dropped by the rebuild")
	}
	if !hasB {
		t.Fatal("b's mapping from the new snapshot should be present")
	}
}
