package trust

import "github.com/roder/stroma/internal/config"

// Merge combines local state s with an incoming remote state r,
// following spec.md §4.B's five steps, with step 5 (the invariant
// check) narrowed to a structural check. Merge only rejects a
// converged candidate that is structurally corrupt (a vouch or flag
// naming a hash the state has never heard of); it does not reject a
// candidate merely because some member is transiently under-supported
// (effective_vouches/standing/cluster-diversity below threshold).
// Gating on those threshold invariants here would make Merge
// order-dependent: two deltas that are each individually valid once
// fully converged can leave a member under-supported when only one of
// the two has landed, and the arrival order of commutative,
// at-least-once delta delivery is not guaranteed (spec.md §6.2). A
// member left under-supported after merge is not ejected by Merge
// itself; CheckEjection/CheckAndEject re-evaluate it on the next local
// pass, the same quarantine-then-react path AddFlag already uses for a
// flag that pushes its own target out of compliance. Merge is
// commutative and idempotent at the TrustState level: merging the same
// remote twice, or two remotes in either order, converges to the same
// value (property 2 and 7 of spec.md §8.1).
func (s *TrustState) Merge(r *TrustState) error {
	cand := s.Clone()

	cand.Members = cand.Members.Union(r.Members)
	cand.Ejected = cand.Ejected.Union(r.Ejected)

	for target, vouchers := range r.Vouches {
		if cand.Vouches[target] == nil {
			cand.Vouches[target] = NewHashSet()
		}
		cand.Vouches[target] = cand.Vouches[target].Union(vouchers)
	}
	for target, flaggers := range r.Flags {
		if cand.Flags[target] == nil {
			cand.Flags[target] = NewHashSet()
		}
		cand.Flags[target] = cand.Flags[target].Union(flaggers)
	}

	if r.Version > cand.Version && !configEqual(cand.Config, r.Config) {
		cand.Config = r.Config
	}
	if r.Version > cand.Version {
		cand.Version = r.Version
	}

	// Cluster labels are recomputed only at local write time (step 4);
	// a merge never assigns cluster labels itself. Any member present
	// only in r and missing a local label is left unlabeled until the
	// next local write triggers matchmaker.Relabel.

	if !cand.structurallyValid() {
		return errInvariant("merge would reference an unknown hash")
	}
	*s = *cand
	return nil
}

func configEqual(a, b config.GroupConfig) bool {
	return a == b
}
