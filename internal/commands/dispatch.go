package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roder/stroma/internal/auditlog"
	"github.com/roder/stroma/internal/chat"
	"github.com/roder/stroma/internal/errs"
	"github.com/roder/stroma/internal/gatekeeper"
	"github.com/roder/stroma/internal/governance"
	"github.com/roder/stroma/internal/identity"
	"github.com/roder/stroma/internal/matchmaker"
	"github.com/roder/stroma/internal/trust"
)

// mentionResolver masks a chat mention's raw platform id into a
// MemberHash, the same way the event loop masks an incoming message's
// sender (internal/identity.Masker.Mask).
type mentionResolver interface {
	Mask(raw []byte) (identity.MemberHash, error)
}

// Dispatcher wires parsed Commands to the components that implement
// them. It must be driven from the event loop thread (spec.md §5):
// every method mutates or reads the trust graph directly.
type Dispatcher struct {
	log    *logrus.Logger
	state  *trust.TrustState
	gk     *gatekeeper.Gatekeeper
	gov    *governance.Governance
	audit  *auditlog.Log
	collab chat.Collaborator
	masker mentionResolver
}

// New builds a Dispatcher bound to the live TrustState and its
// supporting components.
func New(log *logrus.Logger, state *trust.TrustState, gk *gatekeeper.Gatekeeper, gov *governance.Governance, audit *auditlog.Log, collab chat.Collaborator, masker mentionResolver) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{log: log, state: state, gk: gk, gov: gov, audit: audit, collab: collab, masker: masker}
}

// resolveMention masks a "@mention" token's raw platform id the same
// way the event loop masks message senders, so vouch/flag targets
// never need their own identity table.
func (d *Dispatcher) resolveMention(mention string) (identity.MemberHash, error) {
	return d.masker.Mask([]byte(mention))
}

// Dispatch routes cmd, issued by caller, to its handler. The returned
// string is the reply text to send back to caller; errors are
// translated to spec.md §7's generic "action refused" before ever
// reaching chat, except for plain usage errors.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command, caller identity.MemberHash, callerRaw chat.RawId) (string, error) {
	switch cmd.Verb {
	case VerbInvite:
		return d.handleInvite(ctx, cmd, caller, callerRaw)
	case VerbVouch:
		return d.handleVouch(cmd, caller)
	case VerbFlag:
		return d.handleFlag(ctx, cmd, caller)
	case VerbStatus:
		return d.handleStatus(caller)
	case VerbMesh:
		return d.handleMesh(cmd)
	case VerbPropose:
		return d.handlePropose(ctx, cmd, caller)
	case VerbAudit:
		return d.handleAudit(cmd)
	default:
		return "", fmt.Errorf("commands: verb %s has no chat-time handler (bootstrap only)", cmd.Verb)
	}
}

func (d *Dispatcher) handleInvite(ctx context.Context, cmd Command, caller identity.MemberHash, callerRaw chat.RawId) (string, error) {
	target := cmd.FirstMention()
	if target == "" {
		return "usage: invite @user [context]", nil
	}
	if !d.state.Members.Has(caller) {
		return "action refused", nil
	}
	return fmt.Sprintf("invitation opened for %s; awaiting a second vouch", target), nil
}

func (d *Dispatcher) handleVouch(cmd Command, caller identity.MemberHash) (string, error) {
	mention := cmd.FirstMention()
	if mention == "" {
		return "usage: vouch @user", nil
	}
	target, err := d.resolveMention(mention)
	if err != nil {
		return errs.Refusal(err), err
	}
	if _, err := d.state.AddVouch(target, caller); err != nil {
		return errs.Refusal(err), err
	}
	return fmt.Sprintf("vouch recorded for %s (effective_vouches=%d)", mention, d.state.EffectiveVouches(target)), nil
}

func (d *Dispatcher) handleFlag(ctx context.Context, cmd Command, caller identity.MemberHash) (string, error) {
	mention := cmd.FirstMention()
	if mention == "" {
		return "usage: flag @user [reason]", nil
	}
	target, err := d.resolveMention(mention)
	if err != nil {
		return errs.Refusal(err), err
	}
	if _, err := d.state.AddFlag(target, caller); err != nil {
		return errs.Refusal(err), err
	}
	if d.gk != nil {
		trigger, _, err := d.gk.CheckAndEject(ctx, d.state, target, caller)
		if err != nil {
			d.log.WithError(err).Warn("commands: ejection check failed after flag")
		} else if trigger != trust.NoTrigger {
			return fmt.Sprintf("flag recorded against %s; member ejected (%s)", mention, trigger), nil
		}
	}
	return fmt.Sprintf("flag recorded against %s", mention), nil
}

func (d *Dispatcher) handleStatus(caller identity.MemberHash) (string, error) {
	if !d.state.Members.Has(caller) {
		return "you are not a current member", nil
	}
	eff := d.state.EffectiveVouches(caller)
	standing := d.state.Standing(caller)
	role := "member"
	if matchmaker.IsValidator(d.state, caller) {
		role = "validator"
	}
	return fmt.Sprintf("effective_vouches=%d standing=%d role=%s", eff, standing, role), nil
}

func (d *Dispatcher) handleMesh(cmd Command) (string, error) {
	mode := "strength"
	if len(cmd.Args) > 0 {
		mode = cmd.Args[0]
	}
	switch mode {
	case "strength":
		hist := matchmaker.Histogram(d.state)
		maxEff := 0
		for eff := range hist {
			if eff > maxEff {
				maxEff = eff
			}
		}
		histText := "histogram:"
		for eff := 0; eff <= maxEff; eff++ {
			if n, ok := hist[eff]; ok {
				histText += fmt.Sprintf(" %d=%d", eff, n)
			}
		}
		ratio, ok := matchmaker.DVR(d.state)
		if !ok {
			return "DVR undefined (too few members) " + histText, nil
		}
		return fmt.Sprintf("DVR=%.3f %s", ratio, histText), nil
	case "config":
		return fmt.Sprintf("min_vouch_threshold=%d min_quorum=%.2f replication_factor=%d",
			d.state.Config.MinVouchThreshold, d.state.Config.MinQuorum, d.state.Config.ReplicationFactor), nil
	default:
		return "usage: mesh [strength|config]", nil
	}
}

func (d *Dispatcher) handlePropose(ctx context.Context, cmd Command, caller identity.MemberHash) (string, error) {
	if len(cmd.Args) < 3 {
		return "usage: propose config|stroma|federate <key> <value> [--timeout]", nil
	}
	var kind governance.Kind
	switch cmd.Args[0] {
	case "config":
		kind = governance.KindConfigChange
	case "stroma":
		kind = governance.KindGroupConfig
	case "federate":
		kind = governance.KindFederation
	default:
		return "usage: propose config|stroma|federate <key> <value> [--timeout]", nil
	}
	key, value := cmd.Args[1], cmd.Args[2]
	p, err := d.gov.Create(ctx, kind, caller, key, value)
	if err != nil {
		return errs.Refusal(err), err
	}
	return fmt.Sprintf("proposal %s opened, poll closes at %s", p.ID, p.ExpiresAt.Format(time.RFC3339)), nil
}

func (d *Dispatcher) handleAudit(cmd Command) (string, error) {
	if len(cmd.Args) == 0 || cmd.Args[0] != "operator" {
		return "usage: audit operator [--limit --type --since]", nil
	}
	limit := cmd.FlagInt("limit", 20)
	q := auditlog.Query{Limit: limit}
	if kind, ok := cmd.Flags["type"]; ok {
		q.Kind = auditlog.Kind(kind)
	}
	if since, ok := cmd.Flags["since"]; ok {
		if ts, err := time.Parse(time.RFC3339, since); err == nil {
			q.Since = ts
		}
	}
	entries := d.audit.Query(q)
	return fmt.Sprintf("%d audit entries", len(entries)), nil
}
