// Package placement implements spec.md §4.H: a PoW-gated holder
// registry, rendezvous (HRW) chunk placement, and spot/sweep
// verification. The difficulty-gating idiom is grounded on the
// teacher's SynnergyConsensus difficulty knob
// (core/consensus_difficulty.go), generalized from block-mining
// difficulty to a fixed per-entry admission cost that defeats trivial
// Sybil fan-out (spec.md §3.3).
package placement

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// PoWDifficulty is the required number of leading zero bits in a
// RegistryEntry's proof hash (spec.md §4.H).
const PoWDifficulty = 18

// RegistryEntry is one coordinator's best-effort, append-only
// advertisement on the substrate registry log: `(root_pubkey_id,
// num_chunks, size_bucket, registered_at, contract_id, pow_proof)`
// per spec.md §3.3, plus Addr so a recovering peer has somewhere to
// dial the holder. RegisteredAt backs the staleness check of §4.H and
// is not part of the PoW preimage (it would make GeneratePoW's work
// non-reproducible across the clock tick it runs in).
type RegistryEntry struct {
	RootPubKeyID [33]byte
	ContractId   string // substrate slot this coordinator's state lives under
	NumChunks    int
	Addr         string
	SizeBucket   int // coarse capacity bucket for outbound fairness matching
	Nonce        uint64
	RegisteredAt time.Time
}

func entryPreimage(e RegistryEntry, nonce uint64) []byte {
	buf := make([]byte, 0, 33+len(e.ContractId)+8+len(e.Addr)+8+8)
	buf = append(buf, e.RootPubKeyID[:]...)
	buf = append(buf, []byte(e.ContractId)...)
	var ncb [8]byte
	binary.BigEndian.PutUint64(ncb[:], uint64(e.NumChunks))
	buf = append(buf, ncb[:]...)
	buf = append(buf, []byte(e.Addr)...)
	var sb [8]byte
	binary.BigEndian.PutUint64(sb[:], uint64(e.SizeBucket))
	buf = append(buf, sb[:]...)
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	buf = append(buf, nb[:]...)
	return buf
}

func leadingZeroBits(h [32]byte) int {
	count := 0
	for _, b := range h {
		if b == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				return count
			}
			count++
		}
		return count
	}
	return count
}

// GeneratePoW brute-forces a nonce producing a SHA-256 digest of
// entryPreimage with at least PoWDifficulty leading zero bits. At
// difficulty 18 this takes roughly 100ms on commodity hardware
// (spec.md §4.H).
func GeneratePoW(e RegistryEntry) (nonce uint64, err error) {
	for n := uint64(0); n < 1<<40; n++ {
		digest := sha256.Sum256(entryPreimage(e, n))
		if leadingZeroBits(digest) >= PoWDifficulty {
			return n, nil
		}
	}
	return 0, fmt.Errorf("placement: exhausted nonce space without meeting difficulty %d", PoWDifficulty)
}

// VerifyPoW checks that e.Nonce satisfies PoWDifficulty.
func VerifyPoW(e RegistryEntry) bool {
	digest := sha256.Sum256(entryPreimage(e, e.Nonce))
	return leadingZeroBits(digest) >= PoWDifficulty
}

// Registry is a local view of the shared, best-effort append-only
// registry log. Entries arrive via substrate state-change delivery
// and are merged by last-write-wins per RootPubKeyID (the log itself
// is append-only on the wire; staleness is judged locally).
type Registry struct {
	mu         sync.RWMutex
	entries    map[[33]byte]RegistryEntry
	staleAfter time.Duration
}

// NewRegistry builds an empty Registry with the given staleness window.
func NewRegistry(staleAfter time.Duration) *Registry {
	if staleAfter <= 0 {
		staleAfter = 7 * 24 * time.Hour
	}
	return &Registry{entries: make(map[[33]byte]RegistryEntry), staleAfter: staleAfter}
}

// Admit validates e's proof of work and records/refreshes it.
func (r *Registry) Admit(e RegistryEntry) error {
	if !VerifyPoW(e) {
		return fmt.Errorf("placement: entry fails proof-of-work difficulty %d", PoWDifficulty)
	}
	r.mu.Lock()
	r.entries[e.RootPubKeyID] = e
	r.mu.Unlock()
	return nil
}

// Active returns every registry entry not older than staleAfter,
// relative to now (spec.md §4.H: "treated as inactive by placement but
// not deleted").
func (r *Registry) Active(now time.Time) []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RegistryEntry
	for _, e := range r.entries {
		if now.Sub(e.RegisteredAt) <= r.staleAfter {
			out = append(out, e)
		}
	}
	return out
}

// All returns every known entry regardless of staleness. Recovery
// locates this coordinator's own entry with Lookup, not All.
func (r *Registry) All() []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Lookup finds a specific coordinator's entry by root_pubkey_id.
func (r *Registry) Lookup(rootPubKeyID [33]byte) (RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[rootPubKeyID]
	return e, ok
}

// hrwScore is the rendezvous-hashing score for (chunkKey, holder) at a
// given epoch: xxhash of their concatenation, higher wins (spec.md §3.3).
func hrwScore(chunkKey string, holder [33]byte, epoch uint64) uint64 {
	buf := make([]byte, 0, len(chunkKey)+33+8)
	buf = append(buf, []byte(chunkKey)...)
	buf = append(buf, holder[:]...)
	var eb [8]byte
	binary.BigEndian.PutUint64(eb[:], epoch)
	buf = append(buf, eb[:]...)
	return xxhash.Sum64(buf)
}

// SelectHolders runs the rendezvous rule of spec.md §4.H: rank every
// active registry entry by HRW score for chunkKey at epoch and return
// the top replicationFactor candidates, highest score first.
func SelectHolders(active []RegistryEntry, chunkKey string, epoch uint64, replicationFactor int) []RegistryEntry {
	type scored struct {
		entry RegistryEntry
		score uint64
	}
	scoredEntries := make([]scored, len(active))
	for i, e := range active {
		scoredEntries[i] = scored{entry: e, score: hrwScore(chunkKey, e.RootPubKeyID, epoch)}
	}
	for i := 1; i < len(scoredEntries); i++ {
		j := i
		for j > 0 && scoredEntries[j-1].score < scoredEntries[j].score {
			scoredEntries[j-1], scoredEntries[j] = scoredEntries[j], scoredEntries[j-1]
			j--
		}
	}
	if replicationFactor > len(scoredEntries) {
		replicationFactor = len(scoredEntries)
	}
	out := make([]RegistryEntry, replicationFactor)
	for i := 0; i < replicationFactor; i++ {
		out[i] = scoredEntries[i].entry
	}
	return out
}
