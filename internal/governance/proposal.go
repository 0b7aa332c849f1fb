// Package governance implements the proposal lifecycle of spec.md
// §4.E, grounded on the teacher's DAOProposal
// create/vote/tally/execute shape (core/dao_proposal.go), adapted from
// token-weighted quadratic voting to the chat collaborator's anonymous
// aggregate-only tally.
package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/roder/stroma/internal/auditlog"
	"github.com/roder/stroma/internal/chat"
	"github.com/roder/stroma/internal/config"
	"github.com/roder/stroma/internal/identity"
)

// Kind enumerates the proposal kinds spec.md §4.E names.
type Kind string

const (
	KindConfigChange Kind = "config_change"
	KindGroupConfig  Kind = "group_config"
	KindFederation   Kind = "federation"
)

// ProposalID identifies a proposal independent of its chat poll handle.
type ProposalID string

// Proposal is the pending-proposal record. Governance keeps it only in
// its in-memory pending map; it is not written to the trust graph or
// persisted, and a caller that restarts must hand it back via Recover.
type Proposal struct {
	ID         ProposalID
	Kind       Kind
	Key        string
	Value      string
	Creator    identity.MemberHash
	PollHandle chat.PollHandle
	ExpiresAt  time.Time
	Executed   bool
}

// Executor applies a passed proposal's side effect. ConfigChange
// mutates internal/config.GroupConfig's whitelisted keys; GroupConfig
// and Federation are applied by the caller-supplied chat/federation
// hooks since they are external-collaborator side effects.
type Executor interface {
	ApplyConfigChange(key, value string) error
	ApplyGroupConfig(key, value string) error
	ApplyFederation(otherGroupID string) error
}

// Governance owns the set of pending proposals and drives their
// creation and PollExpired-triggered closing.
type Governance struct {
	log      *logrus.Logger
	collab   chat.Collaborator
	audit    *auditlog.Log
	executor Executor
	cfg      config.GroupConfig

	pending map[chat.PollHandle]*Proposal
}

// New builds a Governance engine.
func New(log *logrus.Logger, collab chat.Collaborator, audit *auditlog.Log, executor Executor, cfg config.GroupConfig) *Governance {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Governance{
		log:      log,
		collab:   collab,
		audit:    audit,
		executor: executor,
		cfg:      cfg,
		pending:  make(map[chat.PollHandle]*Proposal),
	}
}

var errUnknownKey = fmt.Errorf("governance: key not in config whitelist")

// Create dispatches a poll to chat and records the pending proposal
// (spec.md §4.E "Create"). For KindConfigChange, key must be in
// config.WhitelistedKeys().
func (g *Governance) Create(ctx context.Context, kind Kind, creator identity.MemberHash, key, value string) (*Proposal, error) {
	if kind == KindConfigChange {
		allowed := false
		for _, k := range config.WhitelistedKeys() {
			if k == key {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, errUnknownKey
		}
	}

	question := fmt.Sprintf("Proposal (%s): set %s = %s?", kind, key, value)
	expiresAt := time.Now().UTC().Add(g.cfg.DefaultPollTimeout)
	handle, err := g.collab.CreatePoll(ctx, question, []string{"Approve", "Reject"}, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("governance: create_poll: %w", err)
	}

	p := &Proposal{
		ID:         ProposalID(uuid.New().String()),
		Kind:       kind,
		Key:        key,
		Value:      value,
		Creator:    creator,
		PollHandle: handle,
		ExpiresAt:  expiresAt,
	}
	g.pending[handle] = p
	if g.audit != nil {
		g.audit.Append(creator, auditlog.KindProposalCreate, fmt.Sprintf("proposal %s created: %s=%s", p.ID, key, value))
	}
	return p, nil
}

// HandlePollExpired implements spec.md §4.E "Close & execute": reads
// aggregate tallies, computes participation/approval_ratio, executes
// the action exactly once on pass, and appends a single AuditEntry.
// It is idempotent, guarded by Proposal.Executed, matching spec.md
// §5's ordering guarantee for poll-expiry handling.
func (g *Governance) HandlePollExpired(ctx context.Context, handle chat.PollHandle, memberCount int) error {
	p, ok := g.pending[handle]
	if !ok {
		return nil
	}
	if p.Executed {
		return nil
	}

	tally, err := g.collab.GetPollTally(ctx, handle)
	if err != nil {
		return fmt.Errorf("governance: get_poll_tally: %w", err)
	}

	total := tally.Approve + tally.Reject
	var passed bool
	if total == 0 || memberCount == 0 {
		passed = false
	} else {
		participation := float64(total) / float64(memberCount)
		approvalRatio := float64(tally.Approve) / float64(total)
		passed = participation >= g.cfg.MinQuorum && approvalRatio >= g.thresholdFor(p.Kind)
	}

	if passed {
		if execErr := g.execute(p); execErr != nil {
			g.log.WithError(execErr).Warn("governance: proposal passed but execution failed")
			passed = false
		}
	}

	p.Executed = true
	delete(g.pending, handle)

	if g.audit != nil {
		outcome := "failed"
		if passed {
			outcome = "passed"
		}
		g.audit.Append(p.Creator, auditlog.KindConfigChange, fmt.Sprintf("proposal %s %s (approve=%d reject=%d)", p.ID, outcome, tally.Approve, tally.Reject))
	}
	return nil
}

func (g *Governance) thresholdFor(k Kind) float64 {
	if k == KindConfigChange {
		return g.cfg.ConfigChangeThreshold
	}
	return g.cfg.ConfigChangeThreshold
}

func (g *Governance) execute(p *Proposal) error {
	switch p.Kind {
	case KindConfigChange:
		return g.executor.ApplyConfigChange(p.Key, p.Value)
	case KindGroupConfig:
		return g.executor.ApplyGroupConfig(p.Key, p.Value)
	case KindFederation:
		return g.executor.ApplyFederation(p.Value)
	default:
		return fmt.Errorf("governance: unknown proposal kind %s", p.Kind)
	}
}

// Pending returns the proposal associated with handle, if any still open.
func (g *Governance) Pending(handle chat.PollHandle) (*Proposal, bool) {
	p, ok := g.pending[handle]
	return p, ok
}

// PendingCount reports how many proposals are awaiting poll expiry.
func (g *Governance) PendingCount() int {
	return len(g.pending)
}

// Recover re-attaches to a still-active proposal's poll_handle after a
// restart, matching spec.md §5's shutdown/recovery contract for
// proposal handlers: "persisting the pending proposal and leaving
// executed = false; on next boot, recovery re-attaches ... by
// poll_handle."
func (g *Governance) Recover(p *Proposal) {
	if p == nil || p.Executed {
		return
	}
	g.pending[p.PollHandle] = p
}
