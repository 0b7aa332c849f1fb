package matchmaker

import (
	"sort"

	"github.com/roder/stroma/internal/identity"
	"github.com/roder/stroma/internal/trust"
)

// degree returns the number of distinct members u either vouches for
// or is vouched for by — the "degree within the trust graph" centrality
// proxy spec.md §4.F says is sufficient.
func degree(s *trust.TrustState, u identity.MemberHash) int {
	neighbors := trust.NewHashSet()
	if v, ok := s.Vouches[u]; ok {
		for n := range v {
			neighbors.Add(n)
		}
	}
	for target, vouchers := range s.Vouches {
		if vouchers.Has(u) {
			neighbors.Add(target)
		}
	}
	return len(neighbors)
}

// SuggestIntroduction implements spec.md §4.F's strategic-introduction
// suggestion for a pending candidate whose first voucher is v1. The
// result is advisory: the member is free to consult another assessor.
func SuggestIntroduction(s *trust.TrustState, v1 identity.MemberHash) (identity.MemberHash, bool) {
	used := trust.NewHashSet()
	for _, d := range DistinctValidators(s) {
		for v := range voucherSetOf(s, d) {
			used.Add(v)
		}
	}

	v1Cluster, haveV1Cluster := s.Clusters[v1]

	var candidates []identity.MemberHash
	for m := range s.Members {
		if used.Has(m) {
			continue
		}
		if haveV1Cluster {
			if c, ok := s.Clusters[m]; ok && c == v1Cluster {
				continue
			}
		}
		candidates = append(candidates, m)
	}

	if best, ok := pickHighestDegree(s, candidates); ok {
		return best, true
	}

	// Fallback: any cross-cluster member regardless of the "used" set.
	var fallback []identity.MemberHash
	for m := range s.Members {
		if haveV1Cluster {
			if c, ok := s.Clusters[m]; ok && c == v1Cluster {
				continue
			}
		}
		fallback = append(fallback, m)
	}
	return pickHighestDegree(s, fallback)
}

func pickHighestDegree(s *trust.TrustState, candidates []identity.MemberHash) (identity.MemberHash, bool) {
	if len(candidates) == 0 {
		return identity.MemberHash{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		di, dj := degree(s, candidates[i]), degree(s, candidates[j])
		if di != dj {
			return di > dj
		}
		return lessHash(candidates[i], candidates[j])
	})
	return candidates[0], true
}
