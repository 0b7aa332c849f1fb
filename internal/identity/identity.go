// Package identity implements the masking layer (spec.md §4.A): it
// derives a per-group HMAC key from the coordinator's root identity and
// uses it to turn real chat-user ids into opaque, group-stable
// MemberHash values that carry no information back to the raw id.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"

	"github.com/roder/stroma/internal/errs"
)

// MemberHashSize is the width of a MemberHash: the full HMAC-SHA256 output.
const MemberHashSize = 32

// MemberHash is the stable, group-scoped pseudonym for a real chat user.
type MemberHash [MemberHashSize]byte

// String renders a MemberHash as hex. Safe to log at DEBUG per spec.md §4.A.
func (h MemberHash) String() string { return fmt.Sprintf("%x", h[:]) }

// Prefix4 returns the first 4 bytes, used as AuditEntry.actor_hash_prefix.
func (h MemberHash) Prefix4() [4]byte {
	var p [4]byte
	copy(p[:], h[:4])
	return p
}

// IdentityKeySize is the width of a derived IdentityKey.
const IdentityKeySize = 32

// identityMaskingLabel is the HKDF "info" label from spec.md §3.1.
const identityMaskingLabel = "identity-masking-v1"

// Masker holds one coordinator's derived IdentityKey and performs
// masking. A Masker must be Close()d on shutdown so its key is
// zeroized.
type Masker struct {
	key [IdentityKeySize]byte
}

// NewMasker derives a per-coordinator IdentityKey from rootIdentity via
// HKDF-SHA256 with the fixed label and the given group-scoping salt
// (distinct salts for distinct groups give distinct keys, so the same
// raw id masks to different hashes in different groups, per spec.md
// §4.A). HKDF/HMAC failure is fatal configuration error — there is no
// soft-fail path (spec.md §4.A "Failures").
func NewMasker(rootIdentity []byte, groupSalt []byte) (*Masker, error) {
	if len(rootIdentity) == 0 {
		return nil, fmt.Errorf("identity: empty root identity: %w", errs.ErrIdentity)
	}
	r := hkdf.New(sha256.New, rootIdentity, groupSalt, []byte(identityMaskingLabel))
	m := &Masker{}
	if _, err := io.ReadFull(r, m.key[:]); err != nil {
		return nil, fmt.Errorf("identity: hkdf derive: %w: %v", errs.ErrIdentity, err)
	}
	return m, nil
}

// Mask computes MemberHash = HMAC-SHA256(IdentityKey, raw). raw is the
// caller's buffer; Mask does not retain a copy of it — the caller still
// owns raw and must Zeroize it once this call returns (spec.md §4.A).
func (m *Masker) Mask(raw []byte) (MemberHash, error) {
	if m == nil {
		return MemberHash{}, fmt.Errorf("identity: nil masker: %w", errs.ErrIdentity)
	}
	mac := hmac.New(sha256.New, m.key[:])
	if _, err := mac.Write(raw); err != nil {
		return MemberHash{}, fmt.Errorf("identity: hmac write: %w: %v", errs.ErrIdentity, err)
	}
	var h MemberHash
	copy(h[:], mac.Sum(nil))
	return h, nil
}

// Close zeroizes the held IdentityKey. It is safe to call more than once.
func (m *Masker) Close() {
	if m == nil {
		return
	}
	Zeroize(m.key[:])
}

// Zeroize overwrites buf with zeros. Every transient holder of a RawId,
// an IdentityKey, a derived chunk key, or a session secret must call
// this before releasing the buffer's storage (spec.md §4.A).
func Zeroize(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// LogSafe returns a value fit for the logging subsystem at DEBUG
// verbosity: a MemberHash, never a RawId (spec.md §4.A). Callers must
// not construct a log field from a raw id directly.
func LogSafe(h MemberHash) logrus.Fields {
	return logrus.Fields{"member_hash": h.String()}
}
