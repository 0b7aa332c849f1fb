// Package matchmaker implements cluster detection, the
// Distinct-Validator-Ratio health metric, and strategic-introduction
// suggestion (spec.md §4.F). Cluster labeling runs on demand at local
// write time, never during a merge (spec.md §4.B step 4).
package matchmaker

import (
	"sort"

	"github.com/roder/stroma/internal/identity"
	"github.com/roder/stroma/internal/trust"
)

type unionFind struct {
	parent map[identity.MemberHash]identity.MemberHash
}

func newUnionFind(members []identity.MemberHash) *unionFind {
	uf := &unionFind{parent: make(map[identity.MemberHash]identity.MemberHash, len(members))}
	for _, m := range members {
		uf.parent[m] = m
	}
	return uf
}

func (uf *unionFind) find(x identity.MemberHash) identity.MemberHash {
	root := x
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[x] != root {
		uf.parent[x], x = root, uf.parent[x]
	}
	return root
}

func (uf *unionFind) union(a, b identity.MemberHash) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	// Deterministic merge direction keeps Relabel's output independent
	// of map iteration order.
	if lessHash(ra, rb) {
		uf.parent[rb] = ra
	} else {
		uf.parent[ra] = rb
	}
}

func lessHash(a, b identity.MemberHash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// mutualEdges returns every pair (a,b) such that a vouches for b and b
// vouches for a (spec.md §4.F "bidirectional vouches").
func mutualEdges(s *trust.TrustState) [][2]identity.MemberHash {
	var edges [][2]identity.MemberHash
	for target, vouchers := range s.Vouches {
		for voucher := range vouchers {
			if s.Vouches[voucher] != nil && s.Vouches[voucher].Has(target) {
				if lessHash(voucher, target) {
					edges = append(edges, [2]identity.MemberHash{voucher, target})
				}
			}
		}
	}
	return edges
}

// neighborClusters returns, for member m, the multiset of cluster
// labels currently held by members m either vouches for or is vouched
// for by (one-way ties), used by the label-propagation refinement pass.
func neighborClusters(s *trust.TrustState, m identity.MemberHash, clusters map[identity.MemberHash]identity.MemberHash) []identity.MemberHash {
	var out []identity.MemberHash
	if vouchers, ok := s.Vouches[m]; ok {
		for v := range vouchers {
			if c, ok := clusters[v]; ok {
				out = append(out, c)
			}
		}
	}
	for target, vouchers := range s.Vouches {
		if vouchers.Has(m) {
			if c, ok := clusters[target]; ok {
				out = append(out, c)
			}
		}
	}
	return out
}

func majority(labels []identity.MemberHash) (identity.MemberHash, bool) {
	if len(labels) == 0 {
		return identity.MemberHash{}, false
	}
	counts := make(map[identity.MemberHash]int, len(labels))
	for _, l := range labels {
		counts[l]++
	}
	var best identity.MemberHash
	bestCount := -1
	keys := make([]identity.MemberHash, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessHash(keys[i], keys[j]) })
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best, true
}

// Relabel recomputes cluster labels for every member of s, in place.
// The labeling algorithm is: (1) connected components over the
// bidirectional-vouch graph, labeled by the smallest MemberHash in the
// component (spec.md §4.F), then (2) a bounded label-propagation
// refinement pass that folds members with no mutual tie yet (e.g. a
// just-admitted candidate whose vouchers have not vouched back) into
// the cluster most represented among their one-way vouch edges. The
// precise refinement algorithm is an implementation choice per
// spec.md §4.F; label propagation is the one spec.md names as
// sufficient.
func Relabel(s *trust.TrustState) {
	members := make([]identity.MemberHash, 0, len(s.Members))
	for m := range s.Members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return lessHash(members[i], members[j]) })

	uf := newUnionFind(members)
	for _, e := range mutualEdges(s) {
		uf.union(e[0], e[1])
	}

	labels := make(map[identity.MemberHash]identity.MemberHash, len(members))
	roots := make(map[identity.MemberHash][]identity.MemberHash)
	for _, m := range members {
		r := uf.find(m)
		roots[r] = append(roots[r], m)
	}
	for root, comp := range roots {
		_ = root
		min := comp[0]
		for _, m := range comp[1:] {
			if lessHash(m, min) {
				min = m
			}
		}
		for _, m := range comp {
			labels[m] = min
		}
	}

	// Label-propagation refinement: members whose component is a
	// singleton (no mutual tie yet) adopt the majority cluster among
	// their one-way vouch neighbors, iterated a fixed small number of
	// times so the process always terminates.
	singleton := func(m identity.MemberHash) bool { return len(roots[uf.find(m)]) == 1 }
	for round := 0; round < 4; round++ {
		changed := false
		for _, m := range members {
			if !singleton(m) {
				continue
			}
			if maj, ok := majority(neighborClusters(s, m, labels)); ok && maj != labels[m] {
				labels[m] = maj
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	s.Clusters = labels
}
