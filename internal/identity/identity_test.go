package identity

import "testing"

func TestMaskIsDeterministicForSameRawId(t *testing.T) {
	m, err := NewMasker([]byte("root-secret"), []byte("group-a"))
	if err != nil {
		t.Fatalf("new masker: %v", err)
	}
	h1, err := m.Mask([]byte("user-123"))
	if err != nil {
		t.Fatalf("mask: %v", err)
	}
	h2, err := m.Mask([]byte("user-123"))
	if err != nil {
		t.Fatalf("mask: %v", err)
	}
	if h1 != h2 {
		t.Fatal("expected masking the same raw id twice to produce the same hash")
	}
}

func TestMaskDiffersAcrossGroups(t *testing.T) {
	m1, err := NewMasker([]byte("root-secret"), []byte("group-a"))
	if err != nil {
		t.Fatalf("new masker a: %v", err)
	}
	m2, err := NewMasker([]byte("root-secret"), []byte("group-b"))
	if err != nil {
		t.Fatalf("new masker b: %v", err)
	}
	h1, _ := m1.Mask([]byte("user-123"))
	h2, _ := m2.Mask([]byte("user-123"))
	if h1 == h2 {
		t.Fatal("the same raw id must mask to different hashes in different groups")
	}
}

func TestNewMaskerRejectsEmptyRootIdentity(t *testing.T) {
	if _, err := NewMasker(nil, []byte("group-a")); err == nil {
		t.Fatal("expected rejection for empty root identity")
	}
}

func TestPrefix4IsFirstFourBytes(t *testing.T) {
	var h MemberHash
	copy(h[:], []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02})
	p := h.Prefix4()
	want := [4]byte{0xde, 0xad, 0xbe, 0xef}
	if p != want {
		t.Fatalf("Prefix4() = %x, want %x", p, want)
	}
}
