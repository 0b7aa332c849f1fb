package matchmaker

import (
	"testing"

	"github.com/roder/stroma/internal/config"
	"github.com/roder/stroma/internal/identity"
	"github.com/roder/stroma/internal/trust"
)

func mh(b byte) identity.MemberHash {
	var h identity.MemberHash
	h[0] = b
	return h
}

// fullMeshState builds n members, every member mutually vouched by
// every other, all in one cluster — giving each member an
// effective-vouch count of n-1.
func fullMeshState(n int) *trust.TrustState {
	cfg := config.DefaultGroupConfig()
	s := trust.New(cfg)
	hs := make([]identity.MemberHash, n)
	for i := 0; i < n; i++ {
		hs[i] = mh(byte(i + 1))
		s.Members.Add(hs[i])
		s.Clusters[hs[i]] = hs[0]
	}
	for _, target := range hs {
		s.Vouches[target] = trust.NewHashSet()
		for _, voucher := range hs {
			if voucher != target {
				s.Vouches[target].Add(voucher)
			}
		}
	}
	return s
}

func TestIsValidatorRequiresStrictlyAboveThreshold(t *testing.T) {
	s := fullMeshState(3) // each member has 2 effective vouches == threshold, not > threshold
	for m := range s.Members {
		if IsValidator(s, m) {
			t.Fatalf("member %s should not be a validator at exactly the threshold", m)
		}
	}

	s4 := fullMeshState(4) // each member has 3 effective vouches > threshold(2)
	for m := range s4.Members {
		if !IsValidator(s4, m) {
			t.Fatalf("member %s should be a validator with 3 effective vouches", m)
		}
	}
}

func TestDVRUndefinedBelowFourMembers(t *testing.T) {
	s := fullMeshState(3)
	if _, ok := DVR(s); ok {
		t.Fatal("expected DVR to be undefined with fewer than 4 members")
	}
}

func TestDVRDefinedAtFourMembers(t *testing.T) {
	s := fullMeshState(4)
	ratio, ok := DVR(s)
	if !ok {
		t.Fatal("expected DVR to be defined with 4 members")
	}
	if ratio < 0 {
		t.Fatalf("unexpected negative DVR: %f", ratio)
	}
}

func TestDistinctValidatorsShareNoVouchers(t *testing.T) {
	s := fullMeshState(6)
	distinct := DistinctValidators(s)
	seen := trust.NewHashSet()
	for _, v := range distinct {
		for voucher := range s.Vouches[v] {
			if seen.Has(voucher) {
				t.Fatalf("voucher %s reused across distinct validators", voucher)
			}
			seen.Add(voucher)
		}
	}
}

func TestHistogramBucketsByEffectiveVouches(t *testing.T) {
	s := fullMeshState(4)
	h := Histogram(s)
	if h[3] != 4 {
		t.Fatalf("expected all 4 members bucketed at effective_vouches=3, got %v", h)
	}
}
