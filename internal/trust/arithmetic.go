package trust

import "github.com/roder/stroma/internal/identity"

// EffectiveVouches returns |V| - |X| where V = vouches[t] and X = V ∩
// flags[t] (spec.md §4.C).
func (s *TrustState) EffectiveVouches(t identity.MemberHash) int {
	v := s.vouchSet(t)
	f := s.flagSet(t)
	x := v.Intersect(f)
	return len(v) - len(x)
}

// RegularFlags returns |F| - |X| (spec.md §4.C).
func (s *TrustState) RegularFlags(t identity.MemberHash) int {
	v := s.vouchSet(t)
	f := s.flagSet(t)
	x := v.Intersect(f)
	return len(f) - len(x)
}

// Standing returns effective_vouches(t) - regular_flags(t) (spec.md §4.C).
func (s *TrustState) Standing(t identity.MemberHash) int {
	return s.EffectiveVouches(t) - s.RegularFlags(t)
}

// distinctVoucherClusters returns the number of distinct cluster labels
// among t's current vouchers.
func (s *TrustState) distinctVoucherClusters(t identity.MemberHash) int {
	clusters := NewHashSet()
	for voucher := range s.vouchSet(t) {
		if c, ok := s.Clusters[voucher]; ok {
			clusters.Add(c)
		}
	}
	return len(clusters)
}

// bootstrapExempt reports whether the group is still small enough
// (≤5 members) that the cross-cluster requirement degrades to "distinct
// members" (spec.md §3.2, §4.C).
func (s *TrustState) bootstrapExempt() bool {
	return len(s.Members) <= 5
}

// ClusterDiversitySatisfied implements the invariant of spec.md §3.2's
// fifth bullet and §4.C's admission clause: vouches for t must
// originate from at least min(distinct_clusters_in_group,
// effective_vouches(t)) distinct clusters, clipped to
// ≥ MinVouchThreshold once the group has ≥2 clusters, with a bootstrap
// exemption for groups of ≤5 members.
func (s *TrustState) ClusterDiversitySatisfied(t identity.MemberHash) bool {
	groupClusters := s.ClusterCount()
	if groupClusters <= 1 || s.bootstrapExempt() {
		// Single cluster or bootstrap phase: only distinctness of
		// vouchers (enforced separately) is required.
		return true
	}
	eff := s.EffectiveVouches(t)
	required := groupClusters
	if eff < required {
		required = eff
	}
	if required < s.Config.MinVouchThreshold {
		required = s.Config.MinVouchThreshold
	}
	return s.distinctVoucherClusters(t) >= required
}

// structurallyValid checks the invariant that can never be violated
// regardless of convergence state: every vouch/flag names a hash the
// state actually knows about, a current member or a (historically
// preserved, append-only per spec.md §9) ejected one. A delta that
// references a hash in neither set is corrupt, not merely
// under-supported, and is rejected outright.
func (s *TrustState) structurallyValid() bool {
	for _, vouchers := range s.Vouches {
		for v := range vouchers {
			if !s.Members.Has(v) && !s.Ejected.Has(v) {
				return false
			}
		}
	}
	for _, flaggers := range s.Flags {
		for f := range flaggers {
			if !s.Members.Has(f) && !s.Ejected.Has(f) {
				return false
			}
		}
	}
	return true
}

// SatisfiesInvariants re-checks every per-member invariant of spec.md
// §3.2 after a commit. It never mutates s.
func (s *TrustState) SatisfiesInvariants() bool {
	for m := range s.Members {
		if s.Ejected.Has(m) {
			return false
		}
		if s.EffectiveVouches(m) < s.Config.MinVouchThreshold {
			return false
		}
		if s.Standing(m) < 0 {
			return false
		}
		if !s.ClusterDiversitySatisfied(m) {
			return false
		}
	}
	return s.structurallyValid()
}

// EjectionTrigger names which of the three ejection triggers fired
// (spec.md §4.C "Ejection triggers").
type EjectionTrigger int

const (
	// NoTrigger means none of the three triggers fired.
	NoTrigger EjectionTrigger = iota
	// Trigger1 fires when standing(t) < 0.
	Trigger1
	// Trigger2 fires when effective_vouches(t) < min_vouch_threshold.
	Trigger2
	// Trigger3 fires when the cluster-diversity invariant on t is violated.
	Trigger3
)

func (tg EjectionTrigger) String() string {
	switch tg {
	case Trigger1:
		return "standing_negative"
	case Trigger2:
		return "insufficient_vouches"
	case Trigger3:
		return "cluster_diversity_violated"
	default:
		return "none"
	}
}

// CheckEjection evaluates all three ejection triggers for member t and
// returns the first one that fires, in the priority order spec.md §4.C
// lists them (standing, then vouch count, then diversity). Multiple
// triggers may fire simultaneously; only one reason is recorded per
// spec.md §4.D's AuditEntry shape.
func (s *TrustState) CheckEjection(t identity.MemberHash) EjectionTrigger {
	if !s.Members.Has(t) {
		return NoTrigger
	}
	if s.Standing(t) < 0 {
		return Trigger1
	}
	if s.EffectiveVouches(t) < s.Config.MinVouchThreshold {
		return Trigger2
	}
	if !s.ClusterDiversitySatisfied(t) {
		return Trigger3
	}
	return NoTrigger
}

// AdmissionCheck reports whether candidate c may be admitted given the
// proposed vouchers, per spec.md §4.C "Admission". It does not mutate
// s; the caller commits separately via AddMember.
func (s *TrustState) AdmissionCheck(c identity.MemberHash, vouchers []identity.MemberHash) error {
	if len(vouchers) < s.Config.MinVouchThreshold {
		return errAdmission("too few vouchers")
	}
	distinctVouchers := NewHashSet()
	for _, v := range vouchers {
		if !s.Members.Has(v) {
			return errAdmission("voucher not a current member")
		}
		distinctVouchers.Add(v)
	}
	if len(distinctVouchers) != len(vouchers) {
		return errAdmission("duplicate voucher")
	}

	groupClusters := s.ClusterCount()
	if groupClusters <= 1 || s.bootstrapExempt() {
		// Bootstrap / single-cluster phase: distinctness of members is
		// already enforced above; no further cluster check applies.
		return nil
	}

	voucherClusters := NewHashSet()
	for v := range distinctVouchers {
		if cl, ok := s.Clusters[v]; ok {
			voucherClusters.Add(cl)
		}
	}
	required := groupClusters
	if len(vouchers) < required {
		required = len(vouchers)
	}
	if len(voucherClusters) < required {
		return errAdmission("vouchers do not span required distinct clusters")
	}
	return nil
}
