package auditlog

import (
	"testing"
	"time"

	"github.com/roder/stroma/internal/identity"
)

func actorHash(b byte) identity.MemberHash {
	var h identity.MemberHash
	h[0] = b
	return h
}

type recordingSink struct {
	entries []Entry
}

func (s *recordingSink) Write(e Entry) {
	s.entries = append(s.entries, e)
}

func TestAppendMirrorsToSink(t *testing.T) {
	sink := &recordingSink{}
	l := New(sink)

	l.Append(actorHash(1), KindEjection, "ejected for insufficient vouches")

	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	if len(sink.entries) != 1 {
		t.Fatalf("sink received %d entries, want 1", len(sink.entries))
	}
	if sink.entries[0].Kind != KindEjection {
		t.Fatalf("sink entry kind = %s, want %s", sink.entries[0].Kind, KindEjection)
	}
}

func TestAppendNeverLeaksFullMemberHash(t *testing.T) {
	l := New(nil)
	actor := actorHash(0xAB)
	e := l.Append(actor, KindAdmission, "admitted")

	want := actor.Prefix4()
	if e.ActorPrefix != want {
		t.Fatalf("ActorPrefix = %x, want %x", e.ActorPrefix, want)
	}
}

func TestQueryFiltersByKind(t *testing.T) {
	l := New(nil)
	l.Append(actorHash(1), KindEjection, "e1")
	l.Append(actorHash(2), KindAdmission, "a1")
	l.Append(actorHash(3), KindEjection, "e2")

	out := l.Query(Query{Kind: KindEjection})
	if len(out) != 2 {
		t.Fatalf("got %d ejection entries, want 2", len(out))
	}
	for _, e := range out {
		if e.Kind != KindEjection {
			t.Fatalf("filtered result contained kind %s", e.Kind)
		}
	}
}

func TestQueryReturnsMostRecentFirst(t *testing.T) {
	l := New(nil)
	l.Append(actorHash(1), KindAdmission, "first")
	l.Append(actorHash(2), KindAdmission, "second")
	l.Append(actorHash(3), KindAdmission, "third")

	out := l.Query(Query{})
	if len(out) != 3 {
		t.Fatalf("got %d entries, want 3", len(out))
	}
	if out[0].Summary != "third" || out[2].Summary != "first" {
		t.Fatalf("entries not in most-recent-first order: %v", out)
	}
}

func TestQueryRespectsLimit(t *testing.T) {
	l := New(nil)
	for i := 0; i < 5; i++ {
		l.Append(actorHash(1), KindAdmission, "x")
	}
	out := l.Query(Query{Limit: 2})
	if len(out) != 2 {
		t.Fatalf("got %d entries, want 2", len(out))
	}
}

func TestQuerySinceExcludesOlderEntries(t *testing.T) {
	l := New(nil)
	l.Append(actorHash(1), KindAdmission, "old")
	cutoff := time.Now().UTC().Add(time.Hour)
	out := l.Query(Query{Since: cutoff})
	if len(out) != 0 {
		t.Fatalf("expected no entries newer than a future cutoff, got %d", len(out))
	}
}
