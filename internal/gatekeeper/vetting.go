// Package gatekeeper implements the per-candidate admission FSM and
// per-member ejection executor of spec.md §4.D, grounded on the
// teacher's cooldown-map style for the rate limiter
// (core/faucet.go) and its state-machine-over-a-map idiom used
// throughout core/ for session-scoped records (e.g. core/escrow.go's
// ephemeral hold map).
package gatekeeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/roder/stroma/internal/auditlog"
	"github.com/roder/stroma/internal/chat"
	"github.com/roder/stroma/internal/errs"
	"github.com/roder/stroma/internal/identity"
	"github.com/roder/stroma/internal/trust"
	"github.com/roder/stroma/internal/zkp"
)

// SessionID identifies one in-flight vetting session.
type SessionID string

// VettingState enumerates the per-candidate FSM states of spec.md §4.D.
type VettingState int

const (
	Inviting VettingState = iota
	Vetting
	Verifying
	Admitting
	Admitted
	Rejected
	Expired
)

func (s VettingState) String() string {
	switch s {
	case Inviting:
		return "inviting"
	case Vetting:
		return "vetting"
	case Verifying:
		return "verifying"
	case Admitting:
		return "admitting"
	case Admitted:
		return "admitted"
	case Rejected:
		return "rejected"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// session is the ephemeral, never-persisted record spec.md §4.D names:
// session_id -> {candidate_hash, inviter_hash, assessor_hash,
// started_at, secondary_cluster}.
type session struct {
	state           VettingState
	candidateHash   identity.MemberHash
	candidateRaw    chat.RawId
	inviterHash     identity.MemberHash
	assessorHash    identity.MemberHash
	secondaryCluster trust.ClusterId
	startedAt       time.Time
	proofStmt       zkp.Statement
}

// Gatekeeper owns the vetting-session table and the ejection executor.
// Every method that touches the trust graph must be called from the
// single event loop thread (spec.md §5); Gatekeeper itself holds no
// lock around the trust graph, matching that ownership discipline.
type Gatekeeper struct {
	log      *logrus.Logger
	ttl      time.Duration
	audit    *auditlog.Log
	collab   chat.Collaborator
	prover   *zkp.Stub
	limiter  *RateLimiter

	mu       sync.Mutex
	sessions map[SessionID]*session
	rawByHash map[identity.MemberHash]chat.RawId
}

// New builds a Gatekeeper. ttl<=0 selects spec.md §4.D's default of 72h.
func New(log *logrus.Logger, ttl time.Duration, audit *auditlog.Log, collab chat.Collaborator, prover *zkp.Stub, limiter *RateLimiter) *Gatekeeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Gatekeeper{
		log:       log,
		ttl:       ttl,
		audit:     audit,
		collab:    collab,
		prover:    prover,
		limiter:   limiter,
		sessions:  make(map[SessionID]*session),
		rawByHash: make(map[identity.MemberHash]chat.RawId),
	}
}

// NoteRawMapping records the transient hash->raw_id mapping rebuilt
// from live chat membership on each heartbeat (spec.md §4.D point 2).
func (g *Gatekeeper) NoteRawMapping(h identity.MemberHash, raw chat.RawId) {
	g.mu.Lock()
	g.rawByHash[h] = raw
	g.mu.Unlock()
}

// StartInvite opens a new vetting session in the Inviting state.
func (g *Gatekeeper) StartInvite(candidate identity.MemberHash, candidateRaw chat.RawId, inviter identity.MemberHash) SessionID {
	id := SessionID(uuid.New().String())
	g.mu.Lock()
	g.sessions[id] = &session{
		state:         Inviting,
		candidateHash: candidate,
		candidateRaw:  candidateRaw,
		inviterHash:   inviter,
		startedAt:     time.Now().UTC(),
	}
	g.mu.Unlock()
	return id
}

// Advance moves a session to Vetting once a second assessor names
// themselves and a secondary cluster is recorded for diversity checks.
func (g *Gatekeeper) Advance(id SessionID, assessor identity.MemberHash, secondaryCluster trust.ClusterId) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return fmt.Errorf("gatekeeper: unknown session %s", id)
	}
	if s.state != Inviting {
		return fmt.Errorf("gatekeeper: session %s not in inviting state", id)
	}
	s.assessorHash = assessor
	s.secondaryCluster = secondaryCluster
	s.state = Vetting
	return nil
}

// BeginVerification transitions Vetting -> Verifying and issues the
// zkp commitment the candidate's proof must bind to.
func (g *Gatekeeper) BeginVerification(id SessionID, clusterCount int) (zkp.Statement, [32]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return zkp.Statement{}, [32]byte{}, fmt.Errorf("gatekeeper: unknown session %s", id)
	}
	if s.state != Vetting {
		return zkp.Statement{}, [32]byte{}, fmt.Errorf("gatekeeper: session %s not in vetting state", id)
	}
	commitment, nonce, err := zkp.CommitCandidate(s.candidateHash)
	if err != nil {
		return zkp.Statement{}, [32]byte{}, err
	}
	s.proofStmt = zkp.Statement{CandidateCommitment: commitment, ClusterCount: clusterCount}
	s.state = Verifying
	return s.proofStmt, nonce, nil
}

// CompleteVerification checks the submitted proof and moves the
// session into Admitting on success, Rejected on proof failure.
func (g *Gatekeeper) CompleteVerification(id SessionID, proof zkp.Proof) (bool, error) {
	g.mu.Lock()
	s, ok := g.sessions[id]
	g.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("gatekeeper: unknown session %s", id)
	}
	if s.state != Verifying {
		return false, fmt.Errorf("gatekeeper: session %s not in verifying state", id)
	}
	ok2, err := g.prover.Verify(s.proofStmt, proof)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrVerificationFailure, err)
	}
	g.mu.Lock()
	if ok2 {
		s.state = Admitting
	} else {
		s.state = Rejected
	}
	g.mu.Unlock()
	return ok2, nil
}

// Admit commits the candidate to the trust graph and closes the
// session as Admitted, destroying its ephemeral record.
func (g *Gatekeeper) Admit(ctx context.Context, id SessionID, t *trust.TrustState, cluster trust.ClusterId) (trust.Delta, error) {
	g.mu.Lock()
	s, ok := g.sessions[id]
	g.mu.Unlock()
	if !ok {
		return trust.Delta{}, fmt.Errorf("gatekeeper: unknown session %s", id)
	}
	if s.state != Admitting {
		return trust.Delta{}, fmt.Errorf("gatekeeper: session %s not in admitting state", id)
	}

	delta, err := t.AddMember(s.candidateHash, s.inviterHash, s.assessorHash, cluster)
	if err != nil {
		g.closeSession(id, Rejected)
		return trust.Delta{}, err
	}

	if err := g.collab.AddToGroup(ctx, s.candidateRaw); err != nil {
		g.log.WithError(err).Warn("gatekeeper: chat add_to_group failed after commit")
	}
	if g.audit != nil {
		g.audit.Append(s.candidateHash, auditlog.KindAdmission, "candidate admitted")
	}
	g.closeSession(id, Admitted)
	return delta, nil
}

// Expire marks sessions older than ttl as Expired and removes them.
// Intended to run from a timer event on the event loop (spec.md §4.J).
func (g *Gatekeeper) Expire(now time.Time) []SessionID {
	g.mu.Lock()
	defer g.mu.Unlock()
	var expired []SessionID
	for id, s := range g.sessions {
		if s.state == Admitted || s.state == Rejected || s.state == Expired {
			continue
		}
		if now.Sub(s.startedAt) >= g.ttl {
			expired = append(expired, id)
			delete(g.sessions, id)
		}
	}
	return expired
}

// Reject closes a session without admitting the candidate.
func (g *Gatekeeper) Reject(id SessionID) {
	g.closeSession(id, Rejected)
}

func (g *Gatekeeper) closeSession(id SessionID, final VettingState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, id)
	_ = final
}

// State returns a session's current state for inspection (e.g. the
// `status` chat command), or (0, false) if the session has closed.
func (g *Gatekeeper) State(id SessionID) (VettingState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return 0, false
	}
	return s.state, true
}

// SessionCount returns the number of currently open vetting sessions.
func (g *Gatekeeper) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}
