package matchmaker

import (
	"testing"

	"github.com/roder/stroma/internal/config"
	"github.com/roder/stroma/internal/identity"
	"github.com/roder/stroma/internal/trust"
)

func mutualVouch(s *trust.TrustState, x, y identity.MemberHash) {
	if s.Vouches[x] == nil {
		s.Vouches[x] = trust.NewHashSet()
	}
	s.Vouches[x].Add(y)
	if s.Vouches[y] == nil {
		s.Vouches[y] = trust.NewHashSet()
	}
	s.Vouches[y].Add(x)
}

func TestRelabelGroupsMutualVouchersIntoOneCluster(t *testing.T) {
	cfg := config.DefaultGroupConfig()
	s := trust.New(cfg)
	a, b, c := mh(1), mh(2), mh(3)
	for _, m := range []identity.MemberHash{a, b, c} {
		s.Members.Add(m)
	}
	mutualVouch(s, a, b)
	mutualVouch(s, b, c)

	Relabel(s)

	if s.Clusters[a] != s.Clusters[b] || s.Clusters[b] != s.Clusters[c] {
		t.Fatalf("expected a, b, c in one cluster; got %v %v %v", s.Clusters[a], s.Clusters[b], s.Clusters[c])
	}
}

func TestRelabelSeparatesDisjointComponents(t *testing.T) {
	cfg := config.DefaultGroupConfig()
	s := trust.New(cfg)
	a, b, x, y := mh(1), mh(2), mh(10), mh(11)
	for _, m := range []identity.MemberHash{a, b, x, y} {
		s.Members.Add(m)
	}
	mutualVouch(s, a, b)
	mutualVouch(s, x, y)

	Relabel(s)

	if s.Clusters[a] != s.Clusters[b] {
		t.Fatal("a and b mutually vouch and must share a cluster")
	}
	if s.Clusters[x] != s.Clusters[y] {
		t.Fatal("x and y mutually vouch and must share a cluster")
	}
	if s.Clusters[a] == s.Clusters[x] {
		t.Fatal("disjoint components must receive distinct cluster labels")
	}
}
