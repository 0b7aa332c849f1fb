package trust

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/roder/stroma/internal/config"
	"github.com/roder/stroma/internal/identity"
)

// edgeEntry gives vouches and flags a canonical, sorted
// representation for serialization (spec.md §4.G step 1: "Serialize
// the full new TrustState to a canonical byte stream (deterministic
// ordering of sets → stable hashes)").
type edgeEntry struct {
	Target string   `json:"target"`
	From   []string `json:"from"`
}

type clusterEntry struct {
	Member  string `json:"member"`
	Cluster string `json:"cluster"`
}

// snapshot is the canonical, deterministically-ordered wire form of a
// TrustState.
type snapshot struct {
	Members  []string       `json:"members"`
	Ejected  []string       `json:"ejected"`
	Vouches  []edgeEntry    `json:"vouches"`
	Flags    []edgeEntry    `json:"flags"`
	Clusters []clusterEntry `json:"clusters"`
	Config   config.GroupConfig `json:"config"`
	Version  uint64         `json:"version"`
	Schema   uint64         `json:"schema"`

	FederationAnchorHash  string `json:"federation_anchor_hash,omitempty"`
	FederationAnchorGroup string `json:"federation_anchor_group,omitempty"`
}

func hexOf(h identity.MemberHash) string { return h.String() }

func sortedEdges(m map[identity.MemberHash]HashSet) []edgeEntry {
	targets := make([]identity.MemberHash, 0, len(m))
	for t := range m {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return lessHash(targets[i], targets[j]) })

	out := make([]edgeEntry, 0, len(targets))
	for _, t := range targets {
		from := m[t].Sorted()
		fromStr := make([]string, len(from))
		for i, h := range from {
			fromStr[i] = hexOf(h)
		}
		out = append(out, edgeEntry{Target: hexOf(t), From: fromStr})
	}
	return out
}

// ToCanonicalBytes serializes s deterministically: identical
// TrustState values (regardless of map iteration order) always produce
// identical bytes, which is what makes the chunk/version hash chain of
// spec.md §4.G meaningful.
func (s *TrustState) ToCanonicalBytes() ([]byte, error) {
	snap := snapshot{
		Config:  s.Config,
		Version: s.Version,
		Schema:  s.Schema,
	}
	for _, h := range s.Members.Sorted() {
		snap.Members = append(snap.Members, hexOf(h))
	}
	for _, h := range s.Ejected.Sorted() {
		snap.Ejected = append(snap.Ejected, hexOf(h))
	}
	snap.Vouches = sortedEdges(s.Vouches)
	snap.Flags = sortedEdges(s.Flags)

	clusterMembers := make([]identity.MemberHash, 0, len(s.Clusters))
	for m := range s.Clusters {
		clusterMembers = append(clusterMembers, m)
	}
	sort.Slice(clusterMembers, func(i, j int) bool { return lessHash(clusterMembers[i], clusterMembers[j]) })
	for _, m := range clusterMembers {
		snap.Clusters = append(snap.Clusters, clusterEntry{Member: hexOf(m), Cluster: hexOf(s.Clusters[m])})
	}

	if s.FederationAnchor != nil {
		snap.FederationAnchorHash = hexOf(s.FederationAnchor.AnchorHash)
		snap.FederationAnchorGroup = s.FederationAnchor.OtherGroup
	}

	return json.Marshal(snap)
}

func parseHash(s string) (identity.MemberHash, error) {
	var h identity.MemberHash
	if len(s) != len(h)*2 {
		return h, fmt.Errorf("trust: malformed hash %q", s)
	}
	var b []byte
	if _, err := fmt.Sscanf(s, "%x", &b); err != nil {
		return h, fmt.Errorf("trust: malformed hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("trust: malformed hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

// FromCanonicalBytes reverses ToCanonicalBytes (spec.md §4.G recovery
// side "reverses the steps").
func FromCanonicalBytes(b []byte) (*TrustState, error) {
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("trust: unmarshal snapshot: %w", err)
	}
	s := &TrustState{
		Members:  NewHashSet(),
		Ejected:  NewHashSet(),
		Vouches:  make(map[identity.MemberHash]HashSet),
		Flags:    make(map[identity.MemberHash]HashSet),
		Clusters: make(map[identity.MemberHash]ClusterId),
		Config:   snap.Config,
		Version:  snap.Version,
		Schema:   snap.Schema,
	}
	for _, hs := range snap.Members {
		h, err := parseHash(hs)
		if err != nil {
			return nil, err
		}
		s.Members.Add(h)
	}
	for _, hs := range snap.Ejected {
		h, err := parseHash(hs)
		if err != nil {
			return nil, err
		}
		s.Ejected.Add(h)
	}
	for _, e := range snap.Vouches {
		t, err := parseHash(e.Target)
		if err != nil {
			return nil, err
		}
		set := NewHashSet()
		for _, fs := range e.From {
			h, err := parseHash(fs)
			if err != nil {
				return nil, err
			}
			set.Add(h)
		}
		s.Vouches[t] = set
	}
	for _, e := range snap.Flags {
		t, err := parseHash(e.Target)
		if err != nil {
			return nil, err
		}
		set := NewHashSet()
		for _, fs := range e.From {
			h, err := parseHash(fs)
			if err != nil {
				return nil, err
			}
			set.Add(h)
		}
		s.Flags[t] = set
	}
	for _, c := range snap.Clusters {
		m, err := parseHash(c.Member)
		if err != nil {
			return nil, err
		}
		cl, err := parseHash(c.Cluster)
		if err != nil {
			return nil, err
		}
		s.Clusters[m] = cl
	}
	if snap.FederationAnchorHash != "" {
		h, err := parseHash(snap.FederationAnchorHash)
		if err != nil {
			return nil, err
		}
		s.FederationAnchor = &FederationAnchor{AnchorHash: h, OtherGroup: snap.FederationAnchorGroup}
	}
	return s, nil
}
