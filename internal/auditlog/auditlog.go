// Package auditlog implements the append-only AuditEntry trail shared
// by the gatekeeper and governance components (spec.md §3.4, §4.D,
// §4.E). Entries are never mutated or removed once appended, grounded
// on the teacher's AuditManager/LedgerAuditEvent shape
// (core/audit_management.go) but keyed by an actor hash prefix instead
// of a full address, since entries must never leak more identity than
// spec.md §4.A allows.
package auditlog

import (
	"sync"
	"time"

	"github.com/roder/stroma/internal/identity"
)

// Kind enumerates the audit entry kinds referenced by spec.md.
type Kind string

const (
	KindEjection       Kind = "ejection"
	KindConfigChange   Kind = "config_change"
	KindGroupConfig    Kind = "group_config"
	KindFederation     Kind = "federation"
	KindAdmission      Kind = "admission"
	KindProposalCreate Kind = "proposal_create"
)

// Entry is an append-only audit record (spec.md §3.4). ActorPrefix is
// the first 4 bytes of a MemberHash — never the full hash, and never a
// RawId (spec.md §4.A "no-PII log" property).
type Entry struct {
	Timestamp   time.Time
	ActorPrefix [4]byte
	Kind        Kind
	Summary     string
}

// Log is an in-memory append-only audit trail. A real deployment would
// additionally persist entries through the same encrypted-chunking
// pipeline as the trust graph (spec.md §4.G); Log only owns the
// in-memory ordering and query surface, and accepts an optional Sink to
// mirror entries elsewhere.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	sink    Sink
}

// Sink receives a copy of every appended entry. Implementations must
// not block the caller for long; the gatekeeper/governance call sites
// run on the single event loop thread (spec.md §5).
type Sink interface {
	Write(Entry)
}

// New returns an empty Log, optionally mirroring to sink.
func New(sink Sink) *Log {
	return &Log{sink: sink}
}

// Append records a new entry. actor identifies whoever's action is
// being audited (spec.md §4.A: only a MemberHash prefix may be logged).
func (l *Log) Append(actor identity.MemberHash, kind Kind, summary string) Entry {
	e := Entry{
		Timestamp:   time.Now().UTC(),
		ActorPrefix: actor.Prefix4(),
		Kind:        kind,
		Summary:     summary,
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	if l.sink != nil {
		l.sink.Write(e)
	}
	return e
}

// Query supports the `audit` command's pagination/filter options
// (SPEC_FULL.md §N): optional kind filter, optional since timestamp,
// and a limit with offset-free "most recent first" paging.
type Query struct {
	Kind  Kind // zero value means "any"
	Since time.Time
	Limit int
}

// Query returns entries matching q, most recent first.
func (l *Log) Query(q Query) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if q.Kind != "" && e.Kind != q.Kind {
			continue
		}
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}

// Len returns the total number of appended entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
