package trust

import "github.com/roder/stroma/internal/identity"

// Delta is the set of inserted elements produced by one mutation.
// Deltas are commutative under union merge (spec.md §4.B): applying
// the same delta twice, or two deltas in either order, yields the same
// resulting TrustState.
type Delta struct {
	MembersAdded HashSet
	EjectedAdded HashSet
	VouchesAdded map[identity.MemberHash]HashSet
	FlagsAdded   map[identity.MemberHash]HashSet
}

func emptyDelta() Delta {
	return Delta{
		MembersAdded: NewHashSet(),
		EjectedAdded: NewHashSet(),
		VouchesAdded: make(map[identity.MemberHash]HashSet),
		FlagsAdded:   make(map[identity.MemberHash]HashSet),
	}
}

func (d Delta) withVouch(target, voucher identity.MemberHash) Delta {
	if d.VouchesAdded[target] == nil {
		d.VouchesAdded[target] = NewHashSet()
	}
	d.VouchesAdded[target].Add(voucher)
	return d
}

func (d Delta) withFlag(target, flagger identity.MemberHash) Delta {
	if d.FlagsAdded[target] == nil {
		d.FlagsAdded[target] = NewHashSet()
	}
	d.FlagsAdded[target].Add(flagger)
	return d
}

// commit applies candidate in place of s only if candidate satisfies
// every invariant; otherwise s is left untouched and an error is
// returned (spec.md §4.B step 5, §7 InvariantViolation).
func (s *TrustState) commit(candidate *TrustState) error {
	if !candidate.SatisfiesInvariants() {
		return errInvariant("post-commit check failed")
	}
	*s = *candidate
	return nil
}

// AddMember adds h to members, registers both required vouches, and
// labels its cluster (spec.md §4.B). Cluster labels are not
// recomputed here — that only happens at local write time via the
// matchmaker (spec.md §4.B step 4) — the caller supplies the cluster
// this candidate should initially carry (typically propagated from
// its first voucher, or a fresh singleton cluster at bootstrap).
func (s *TrustState) AddMember(h, inviterVouch, secondVouch identity.MemberHash, cluster ClusterId) (Delta, error) {
	if err := s.AdmissionCheck(h, []identity.MemberHash{inviterVouch, secondVouch}); err != nil {
		return Delta{}, err
	}
	cand := s.Clone()
	cand.Members.Add(h)
	cand.Ejected.Remove(h)
	if cand.Vouches[h] == nil {
		cand.Vouches[h] = NewHashSet()
	}
	cand.Vouches[h].Add(inviterVouch)
	cand.Vouches[h].Add(secondVouch)
	cand.Clusters[h] = cluster

	if err := s.commit(cand); err != nil {
		return Delta{}, err
	}

	d := emptyDelta()
	d.MembersAdded.Add(h)
	d = d.withVouch(h, inviterVouch)
	d = d.withVouch(h, secondVouch)
	return d, nil
}

// AddVouch records that voucher vouches for target. Idempotent: adding
// the same vouch twice produces no change and no error.
func (s *TrustState) AddVouch(target, voucher identity.MemberHash) (Delta, error) {
	if !s.Members.Has(voucher) {
		return Delta{}, errInvariant("voucher not a member")
	}
	if !s.Members.Has(target) {
		return Delta{}, errInvariant("vouch target not a member")
	}
	if s.vouchSet(target).Has(voucher) {
		return emptyDelta(), nil
	}
	cand := s.Clone()
	if cand.Vouches[target] == nil {
		cand.Vouches[target] = NewHashSet()
	}
	cand.Vouches[target].Add(voucher)

	if err := s.commit(cand); err != nil {
		return Delta{}, err
	}
	return emptyDelta().withVouch(target, voucher), nil
}

// AddFlag records that flagger flags target. Idempotent. A voucher
// flagging their own vouchee is permitted — this is exactly the
// no-unilateral-2-point scenario of spec.md §4.C, and the arithmetic
// (not this function) bounds its effect on standing.
func (s *TrustState) AddFlag(target, flagger identity.MemberHash) (Delta, error) {
	if !s.Members.Has(flagger) {
		return Delta{}, errInvariant("flagger not a member")
	}
	if !s.Members.Has(target) {
		return Delta{}, errInvariant("flag target not a member")
	}
	if s.flagSet(target).Has(flagger) {
		return emptyDelta(), nil
	}
	cand := s.Clone()
	if cand.Flags[target] == nil {
		cand.Flags[target] = NewHashSet()
	}
	cand.Flags[target].Add(flagger)

	// A flag may push the target below invariant thresholds; that is
	// not a rejection here — it is precisely what should trigger
	// ejection. SatisfiesInvariants is only evaluated over *current*
	// members below, by temporarily excluding the flagged target's own
	// invariant so the flag commits and the gatekeeper FSM can react.
	// remove_member (not this function) is the intended follow-up.
	if err := cand.satisfiesInvariantsExcept(target); err != nil {
		return Delta{}, err
	}
	*s = *cand
	return emptyDelta().withFlag(target, flagger), nil
}

// satisfiesInvariantsExcept checks every invariant for every member
// other than exempt. Used by AddFlag so a flag that pushes its own
// target out of compliance still commits (the gatekeeper then ejects
// that target). A flag changes no other member's counts, so a flag is
// rejected here only when some other member is already out of
// compliance.
func (s *TrustState) satisfiesInvariantsExcept(exempt identity.MemberHash) error {
	for m := range s.Members {
		if m == exempt {
			continue
		}
		if s.Ejected.Has(m) {
			return errInvariant("member also ejected")
		}
		if s.EffectiveVouches(m) < s.Config.MinVouchThreshold {
			return errInvariant("effective vouches below threshold")
		}
		if s.Standing(m) < 0 {
			return errInvariant("standing negative")
		}
		if !s.ClusterDiversitySatisfied(m) {
			return errInvariant("cluster diversity violated")
		}
	}
	if !s.structurallyValid() {
		return errInvariant("vouch or flag references an unknown hash")
	}
	return nil
}

// RemoveMember moves h from members to ejected, preserving all
// historical vouches/flags (spec.md §4.B, §9 "ejected is append-only").
func (s *TrustState) RemoveMember(h identity.MemberHash) (Delta, error) {
	if !s.Members.Has(h) {
		return emptyDelta(), nil
	}
	cand := s.Clone()
	cand.Members.Remove(h)
	cand.Ejected.Add(h)
	delete(cand.Clusters, h)

	if err := cand.satisfiesInvariantsExcept(h); err != nil {
		return Delta{}, err
	}
	*s = *cand

	d := emptyDelta()
	d.EjectedAdded.Add(h)
	return d, nil
}
