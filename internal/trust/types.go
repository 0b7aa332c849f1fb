// Package trust implements the mergeable, set-based group state
// (spec.md §3.2, §4.B) and the vouch-invalidation arithmetic that sits
// on top of it (spec.md §4.C).
package trust

import (
	"sort"

	"github.com/roder/stroma/internal/config"
	"github.com/roder/stroma/internal/identity"
)

// ClusterId labels a connected component of the mutual-vouch graph. Per
// spec.md §4.F it is the smallest MemberHash in the component, which
// makes it deterministic given only the vouch set.
type ClusterId = identity.MemberHash

// HashSet is a set of MemberHash values. The zero value is not usable;
// use NewHashSet.
type HashSet map[identity.MemberHash]struct{}

// NewHashSet returns an empty HashSet.
func NewHashSet() HashSet { return make(HashSet) }

// Add inserts h. Idempotent.
func (s HashSet) Add(h identity.MemberHash) { s[h] = struct{}{} }

// Has reports whether h is present.
func (s HashSet) Has(h identity.MemberHash) bool { _, ok := s[h]; return ok }

// Remove deletes h if present.
func (s HashSet) Remove(h identity.MemberHash) { delete(s, h) }

// Clone returns a deep copy.
func (s HashSet) Clone() HashSet {
	out := make(HashSet, len(s))
	for h := range s {
		out[h] = struct{}{}
	}
	return out
}

// Union returns a new set containing every element of s and other.
// Commutative and idempotent — the building block for merge semantics
// (spec.md §4.B).
func (s HashSet) Union(other HashSet) HashSet {
	out := s.Clone()
	for h := range other {
		out[h] = struct{}{}
	}
	return out
}

// Intersect returns the elements present in both s and other.
func (s HashSet) Intersect(other HashSet) HashSet {
	out := NewHashSet()
	small, big := s, other
	if len(other) < len(s) {
		small, big = other, s
	}
	for h := range small {
		if _, ok := big[h]; ok {
			out[h] = struct{}{}
		}
	}
	return out
}

// Sorted returns the set's elements in deterministic ascending order,
// used for canonical serialization (spec.md §4.G step 1).
func (s HashSet) Sorted() []identity.MemberHash {
	out := make([]identity.MemberHash, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		return lessHash(out[i], out[j])
	})
	return out
}

func lessHash(a, b identity.MemberHash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// FederationAnchor is a reserved, unimplemented field (spec.md §9):
// the core carries it through merge/encrypt/decrypt but never
// populates or interprets it. A future Phase-4+ extension would use it
// for inter-group private-set-intersection.
type FederationAnchor struct {
	AnchorHash identity.MemberHash
	OtherGroup string
}

// TrustState is the single logical value per group described in
// spec.md §3.2.
type TrustState struct {
	Members  HashSet
	Ejected  HashSet
	Vouches  map[identity.MemberHash]HashSet
	Flags    map[identity.MemberHash]HashSet
	Clusters map[identity.MemberHash]ClusterId
	Config   config.GroupConfig
	Version  uint64
	Schema   uint64

	FederationAnchor *FederationAnchor
}

// CurrentSchema is the schema version new states are created with.
const CurrentSchema = 1

// New returns an empty TrustState ready for bootstrap seeding.
func New(cfg config.GroupConfig) *TrustState {
	return &TrustState{
		Members:  NewHashSet(),
		Ejected:  NewHashSet(),
		Vouches:  make(map[identity.MemberHash]HashSet),
		Flags:    make(map[identity.MemberHash]HashSet),
		Clusters: make(map[identity.MemberHash]ClusterId),
		Config:   cfg,
		Version:  0,
		Schema:   CurrentSchema,
	}
}

// Clone returns a deep copy of s, suitable as the basis for a
// speculative mutation that might be rejected (spec.md §4.B: rejected
// merges/commits must not mutate the original).
func (s *TrustState) Clone() *TrustState {
	out := &TrustState{
		Members:  s.Members.Clone(),
		Ejected:  s.Ejected.Clone(),
		Vouches:  make(map[identity.MemberHash]HashSet, len(s.Vouches)),
		Flags:    make(map[identity.MemberHash]HashSet, len(s.Flags)),
		Clusters: make(map[identity.MemberHash]ClusterId, len(s.Clusters)),
		Config:   s.Config,
		Version:  s.Version,
		Schema:   s.Schema,
	}
	for k, v := range s.Vouches {
		out.Vouches[k] = v.Clone()
	}
	for k, v := range s.Flags {
		out.Flags[k] = v.Clone()
	}
	for k, v := range s.Clusters {
		out.Clusters[k] = v
	}
	if s.FederationAnchor != nil {
		anchor := *s.FederationAnchor
		out.FederationAnchor = &anchor
	}
	return out
}

func (s *TrustState) vouchSet(target identity.MemberHash) HashSet {
	if v, ok := s.Vouches[target]; ok {
		return v
	}
	return NewHashSet()
}

func (s *TrustState) flagSet(target identity.MemberHash) HashSet {
	if f, ok := s.Flags[target]; ok {
		return f
	}
	return NewHashSet()
}

// ClusterCount returns the number of distinct cluster labels currently
// assigned. Used by the admission predicate (spec.md §4.C).
func (s *TrustState) ClusterCount() int {
	seen := NewHashSet()
	for _, c := range s.Clusters {
		seen.Add(c)
	}
	return len(seen)
}
