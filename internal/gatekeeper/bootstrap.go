package gatekeeper

import (
	"fmt"

	"github.com/roder/stroma/internal/config"
	"github.com/roder/stroma/internal/identity"
	"github.com/roder/stroma/internal/trust"
)

// CreateGroup seeds a brand-new, not-yet-validated TrustState with a
// single founding member. spec.md §3.2's invariants (in particular
// effective_vouches(m) >= min_vouch_threshold for every member) admit
// no exemption for group size, so a lone founder cannot yet be
// invariant-compliant; CreateGroup deliberately returns a state that
// would fail SatisfiesInvariants until FinalizeBootstrap closes the
// loop. This is SPEC_FULL.md §N's supplemented `create-group` bootstrap
// command — spec.md itself assumes a group already exists.
func CreateGroup(cfg config.GroupConfig, founder identity.MemberHash) *trust.TrustState {
	t := trust.New(cfg)
	t.Members.Add(founder)
	t.Clusters[founder] = founder
	return t
}

// AddSeed adds another founding member to a group still in bootstrap
// (pre-FinalizeBootstrap). Like CreateGroup, it does not enforce
// per-member invariants — the operator is trusted to call
// FinalizeBootstrap once enough founders are present for the group to
// become self-consistent.
func AddSeed(t *trust.TrustState, seed identity.MemberHash) error {
	if t.Members.Has(seed) {
		return fmt.Errorf("gatekeeper: %s is already a member", seed)
	}
	t.Members.Add(seed)
	t.Clusters[seed] = seed
	return nil
}

// FinalizeBootstrap closes the bootstrap phase: every founding member
// is made to mutually vouch for every other founder (the only way a
// from-scratch group can satisfy effective_vouches >= min_vouch_threshold
// for its very first members, since no outside vouchers can exist yet),
// then the usual invariant check runs. It fails if fewer than
// min_vouch_threshold+1 founders were seeded — there are not enough
// distinct members to hand out the required vouches.
func FinalizeBootstrap(t *trust.TrustState) error {
	need := t.Config.MinVouchThreshold + 1
	if len(t.Members) < need {
		return fmt.Errorf("gatekeeper: bootstrap requires at least %d founders, have %d", need, len(t.Members))
	}
	cand := t.Clone()
	for target := range cand.Members {
		if cand.Vouches[target] == nil {
			cand.Vouches[target] = trust.NewHashSet()
		}
		for voucher := range cand.Members {
			if voucher == target {
				continue
			}
			cand.Vouches[target].Add(voucher)
		}
	}
	if !cand.SatisfiesInvariants() {
		return fmt.Errorf("gatekeeper: bootstrap state still fails trust graph invariants after finalize")
	}
	*t = *cand
	return nil
}
