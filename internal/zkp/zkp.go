// Package zkp specifies the ability set spec.md §9 requires of the
// zero-knowledge admission proof: a candidate proves membership of a
// fixed witness set (two distinct members, belonging to different
// clusters, both currently in good standing) without revealing which
// two members. spec.md treats the actual circuit as a black box; this
// package specifies only the Prover/Verifier boundary plus a stub
// implementation grounded on the teacher's commitment-style proof
// shape (core/zero_trust_data_channels.go's sealed-envelope pattern),
// built from HMAC rather than a real zk-STARK circuit. Swapping Stub
// for a real gnark/STARK backend later only requires a new type
// satisfying Prover/Verifier.
package zkp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/roder/stroma/internal/identity"
)

// Statement is the public claim a proof attests to: that the candidate
// has secured vouches from two distinct members in different clusters,
// both in good standing, per spec.md §3.2's admission invariant.
type Statement struct {
	CandidateCommitment [32]byte
	ClusterCount         int // must be >= 2 for the claim to be meaningful
}

// Proof is an opaque attestation. Only Stub's internal shape is defined
// here; a real circuit would produce an equally opaque byte blob.
type Proof struct {
	blob []byte
}

// Witness is the private data the prover holds and must never reveal:
// the two backing members' hashes and the per-proof secret binding
// them to Statement.CandidateCommitment.
type Witness struct {
	Voucher1, Voucher2 identity.MemberHash
	Cluster1, Cluster2 identity.MemberHash
	Secret             [32]byte
}

// Prover produces a Proof for a Statement given a Witness it keeps private.
type Prover interface {
	Prove(stmt Statement, w Witness) (Proof, error)
}

// Verifier checks a Proof against a Statement without learning the Witness.
type Verifier interface {
	Verify(stmt Statement, p Proof) (bool, error)
}

var errWitnessInvalid = errors.New("zkp: witness does not satisfy statement")

// Stub is an HMAC-commitment based Prover/Verifier. It is NOT
// zero-knowledge against a verifier who can brute-force the witness
// space; it exercises the Prover/Verifier boundary and the
// gatekeeper's vetting flow (BeginVerification/CompleteVerification).
// The chat `invite` handler does not call it.
// Because it is symmetric-key, Stub records the expected commitment at
// Prove time so Verify can later check a proof against the matching
// Statement alone, keeping the same Prover/Verifier shape a real
// circuit would expose.
type Stub struct {
	key [32]byte

	mu       sync.Mutex
	expected map[[32]byte][]byte
}

// NewStub derives a fixed HMAC key for this group's proof instance from
// groupSecret, analogous to how internal/identity derives its masking key.
func NewStub(groupSecret []byte) *Stub {
	var key [32]byte
	mac := hmac.New(sha256.New, []byte("zkp-admission-stub-v1"))
	mac.Write(groupSecret)
	copy(key[:], mac.Sum(nil))
	return &Stub{key: key, expected: make(map[[32]byte][]byte)}
}

func (s *Stub) commit(stmt Statement, w Witness) []byte {
	mac := hmac.New(sha256.New, s.key[:])
	mac.Write(stmt.CandidateCommitment[:])
	mac.Write(w.Voucher1[:])
	mac.Write(w.Voucher2[:])
	mac.Write(w.Cluster1[:])
	mac.Write(w.Cluster2[:])
	mac.Write(w.Secret[:])
	return mac.Sum(nil)
}

// Prove builds a stub proof. It fails closed if the witness plainly
// cannot satisfy the statement (same cluster on both sides, or fewer
// than two distinct vouchers), matching spec.md §9's "two distinct
// members, cross-cluster" scope decision (see SPEC_FULL.md §N).
func (s *Stub) Prove(stmt Statement, w Witness) (Proof, error) {
	if w.Voucher1 == w.Voucher2 {
		return Proof{}, fmt.Errorf("%w: vouchers not distinct", errWitnessInvalid)
	}
	if w.Cluster1 == w.Cluster2 {
		return Proof{}, fmt.Errorf("%w: vouchers share a cluster", errWitnessInvalid)
	}
	if stmt.ClusterCount < 2 {
		return Proof{}, fmt.Errorf("%w: statement requires cluster diversity", errWitnessInvalid)
	}
	blob := s.commit(stmt, w)
	s.mu.Lock()
	s.expected[stmt.CandidateCommitment] = blob
	s.mu.Unlock()
	return Proof{blob: blob}, nil
}

// Verify checks a proof blob against the commitment recorded by a
// matching Prove call. Because Stub is symmetric-key, the verifier
// must be the same party (the group's own coordinator instance) that
// called Prove — this matches spec.md §9's single-trust-domain
// assumption for the stub.
func (s *Stub) Verify(stmt Statement, p Proof) (bool, error) {
	s.mu.Lock()
	want, ok := s.expected[stmt.CandidateCommitment]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if len(p.blob) != len(want) {
		return false, nil
	}
	return hmac.Equal(p.blob, want), nil
}

// CommitCandidate derives the public commitment for a candidate hash,
// randomized per admission attempt so repeated attempts by the same
// candidate are unlinkable to an outside observer.
func CommitCandidate(candidate identity.MemberHash) (commitment [32]byte, nonce [32]byte, err error) {
	if _, err = rand.Read(nonce[:]); err != nil {
		return commitment, nonce, fmt.Errorf("zkp: generate nonce: %w", err)
	}
	mac := hmac.New(sha256.New, nonce[:])
	mac.Write(candidate[:])
	copy(commitment[:], mac.Sum(nil))
	return commitment, nonce, nil
}
