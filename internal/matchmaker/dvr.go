package matchmaker

import (
	"sort"

	"github.com/roder/stroma/internal/identity"
	"github.com/roder/stroma/internal/trust"
)

// IsValidator reports whether m is a validator: effective-vouch count
// strictly greater than the group's min_vouch_threshold (GLOSSARY
// "Validator"; spec.md §4.F fixes this at >=3 effective vouches for the
// default threshold of 2, which is the same condition).
func IsValidator(s *trust.TrustState, m identity.MemberHash) bool {
	return s.EffectiveVouches(m) > s.Config.MinVouchThreshold
}

// DistinctValidators performs the greedy selection of spec.md §4.F: in
// descending order of effective-vouch count, a validator is added to
// the distinct set only if its voucher set is disjoint from every
// already-selected validator's voucher set.
func DistinctValidators(s *trust.TrustState) []identity.MemberHash {
	type cand struct {
		m   identity.MemberHash
		eff int
	}
	var validators []cand
	for m := range s.Members {
		if IsValidator(s, m) {
			validators = append(validators, cand{m, s.EffectiveVouches(m)})
		}
	}
	sort.Slice(validators, func(i, j int) bool {
		if validators[i].eff != validators[j].eff {
			return validators[i].eff > validators[j].eff
		}
		return lessHash(validators[i].m, validators[j].m)
	})

	var distinct []identity.MemberHash
	used := trust.NewHashSet()
	for _, c := range validators {
		voucherSet := voucherSetOf(s, c.m)
		if disjoint(voucherSet, used) {
			distinct = append(distinct, c.m)
			for v := range voucherSet {
				used.Add(v)
			}
		}
	}
	return distinct
}

func voucherSetOf(s *trust.TrustState, m identity.MemberHash) trust.HashSet {
	if v, ok := s.Vouches[m]; ok {
		return v
	}
	return trust.NewHashSet()
}

func disjoint(a, b trust.HashSet) bool {
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for h := range small {
		if big.Has(h) {
			return false
		}
	}
	return true
}

// DVR computes the Distinct-Validator-Ratio of spec.md §4.F:
// distinct_validators / floor(|members|/4). ok is false when the
// denominator is zero (fewer than 4 members), in which case the ratio
// is undefined rather than a division by zero.
func DVR(s *trust.TrustState) (ratio float64, ok bool) {
	denom := len(s.Members) / 4
	if denom == 0 {
		return 0, false
	}
	return float64(len(DistinctValidators(s))) / float64(denom), true
}

// Histogram buckets members by effective-vouch count, used by the
// `mesh strength` command (SPEC_FULL.md §N).
func Histogram(s *trust.TrustState) map[int]int {
	h := make(map[int]int)
	for m := range s.Members {
		h[s.EffectiveVouches(m)]++
	}
	return h
}
