package fsm

import "testing"

func TestNewStartsProvisionalAndAllowsWrites(t *testing.T) {
	w := New(3)
	if w.State() != Provisional {
		t.Fatalf("state = %s, want provisional", w.State())
	}
	ran := false
	if err := w.TryWrite(func() { ran = true }); err != nil {
		t.Fatalf("unexpected error writing while provisional: %v", err)
	}
	if !ran {
		t.Fatal("write did not run immediately while provisional")
	}
}

func TestFullAttestationTransitionsToActive(t *testing.T) {
	w := New(3)
	w.SetChunkCount(2)
	for _, idx := range []int{0, 1} {
		for i := 0; i < 3; i++ {
			w.RecordAttestation(idx)
		}
	}
	if w.State() != Active {
		t.Fatalf("state = %s, want active", w.State())
	}
}

func TestHolderFailureDegradesFromActive(t *testing.T) {
	w := New(3)
	w.SetChunkCount(1)
	for i := 0; i < 3; i++ {
		w.RecordAttestation(0)
	}
	if w.State() != Active {
		t.Fatalf("precondition: want active, got %s", w.State())
	}
	w.MarkHolderFailed(0)
	if w.State() != Degraded {
		t.Fatalf("state = %s, want degraded", w.State())
	}
}

func TestWritesQueueWhileDegradedAndDrainOnRecovery(t *testing.T) {
	w := New(3)
	w.SetChunkCount(1)
	for i := 0; i < 3; i++ {
		w.RecordAttestation(0)
	}
	w.MarkHolderFailed(0)

	ran := false
	if err := w.TryWrite(func() { ran = true }); err == nil {
		t.Fatal("expected an error queuing a write while degraded")
	}
	if ran {
		t.Fatal("write must not run immediately while degraded")
	}

	w.MarkReplacementVerified(0)
	if w.State() != Active {
		t.Fatalf("state = %s, want active after replacement verified", w.State())
	}
	if n := w.DrainQueued(); n != 1 {
		t.Fatalf("drained %d writes, want 1", n)
	}
	if !ran {
		t.Fatal("queued write did not run after drain")
	}
}

func TestIsolatedBlocksWritesAndIgnoresAttestations(t *testing.T) {
	w := New(3)
	w.SetChunkCount(1)
	w.MarkIsolated()
	if w.State() != Isolated {
		t.Fatalf("state = %s, want isolated", w.State())
	}
	for i := 0; i < 5; i++ {
		w.RecordAttestation(0)
	}
	if w.State() != Isolated {
		t.Fatal("isolated must not be recovered by attestations alone")
	}
	if err := w.TryWrite(func() {}); err == nil {
		t.Fatal("expected writes blocked while isolated")
	}
}
