package gatekeeper

import (
	"context"

	"github.com/roder/stroma/internal/auditlog"
	"github.com/roder/stroma/internal/chat"
	"github.com/roder/stroma/internal/identity"
	"github.com/roder/stroma/internal/trust"
)

// Eject executes spec.md §4.D's immediate, unconditional ejection
// sequence for member h once trigger has fired: commit remove_member,
// dispatch a chat removal, append an audit entry, and trip the rate
// limiter for whichever member's action precipitated the ejection
// (precipitatedBy — the flagger in a flag-triggered ejection, or the
// voucher who withdrew in a withdrawal-triggered one).
func (g *Gatekeeper) Eject(ctx context.Context, t *trust.TrustState, h identity.MemberHash, trigger trust.EjectionTrigger, precipitatedBy identity.MemberHash) (trust.Delta, error) {
	delta, err := t.RemoveMember(h)
	if err != nil {
		return trust.Delta{}, err
	}

	g.mu.Lock()
	raw, haveRaw := g.rawByHash[h]
	delete(g.rawByHash, h)
	g.mu.Unlock()

	if haveRaw {
		if err := g.collab.RemoveFromGroup(ctx, raw); err != nil {
			g.log.WithError(err).Warn("gatekeeper: chat remove_from_group failed after ejection commit")
		}
	} else {
		g.log.Warn("gatekeeper: no raw_id mapping for ejected member; removal deferred to next heartbeat")
	}

	if g.audit != nil {
		g.audit.Append(h, auditlog.KindEjection, "ejected: "+trigger.String())
	}

	if g.limiter != nil && precipitatedBy != (identity.MemberHash{}) {
		g.limiter.Trip(precipitatedBy.Prefix4(), "flag_or_vouch_withdrawal")
	}

	return delta, nil
}

// CheckAndEject runs CheckEjection for h and, if a trigger fired,
// performs the full ejection sequence. It is the single entry point
// the event loop calls after every vouch/flag/member-change commit
// (spec.md §4.C "checked after every vouch/flag/member change").
func (g *Gatekeeper) CheckAndEject(ctx context.Context, t *trust.TrustState, h identity.MemberHash, precipitatedBy identity.MemberHash) (trust.EjectionTrigger, trust.Delta, error) {
	trigger := t.CheckEjection(h)
	if trigger == trust.NoTrigger {
		return trust.NoTrigger, trust.Delta{}, nil
	}
	delta, err := g.Eject(ctx, t, h, trigger, precipitatedBy)
	return trigger, delta, err
}

// rebuildRawMapping replaces the transient hash->raw_id mapping from a
// fresh chat membership snapshot, per spec.md §4.D point 2's
// "rebuilt from the live chat membership on each heartbeat".
func (g *Gatekeeper) rebuildRawMapping(snapshot map[identity.MemberHash]chat.RawId) {
	g.mu.Lock()
	g.rawByHash = make(map[identity.MemberHash]chat.RawId, len(snapshot))
	for h, raw := range snapshot {
		g.rawByHash[h] = raw
	}
	g.mu.Unlock()
}

// RebuildRawMapping is the exported heartbeat hook.
func (g *Gatekeeper) RebuildRawMapping(snapshot map[identity.MemberHash]chat.RawId) {
	g.rebuildRawMapping(snapshot)
}
