package placement

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Attestation is a holder's signed acknowledgement that it stores a
// chunk (spec.md §4.H "Distribution"). Signature verification is left
// to the caller, who has access to the holder's registered pubkey.
type Attestation struct {
	HolderID  [33]byte
	ChunkHash [32]byte
	Timestamp time.Time
	Signature []byte
}

// OutboundSubscriptions is the public accounting of chunks this
// coordinator holds on behalf of others (spec.md §4.H "Subscription
// isolation"). It records chunk hash -> holder pairs only; it does no
// size-bucket matching of holders.
type OutboundSubscriptions struct {
	mu    sync.RWMutex
	held  map[[32]byte][33]byte // chunk hash -> holder we serve
}

// NewOutboundSubscriptions returns an empty, public-by-design map.
func NewOutboundSubscriptions() *OutboundSubscriptions {
	return &OutboundSubscriptions{held: make(map[[32]byte][33]byte)}
}

func (o *OutboundSubscriptions) Record(chunkHash [32]byte, holder [33]byte) {
	o.mu.Lock()
	o.held[chunkHash] = holder
	o.mu.Unlock()
}

func (o *OutboundSubscriptions) Count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.held)
}

// InboundSubscriptions is the encrypted-at-rest accounting of who
// holds this coordinator's own chunks, chosen by random selection
// among eligible holders rather than size-bucket matching, so no
// correlation can be drawn between who stores whose data (spec.md
// §4.H). "Encrypted-at-rest" here means: callers persist this map only
// through the same AES-GCM pipeline as the trust graph, never in the
// clear; this type itself only holds the in-memory working copy.
type InboundSubscriptions struct {
	mu      sync.RWMutex
	holders map[int][]RegistryEntry // chunk index -> holders
}

// NewInboundSubscriptions returns an empty map.
func NewInboundSubscriptions() *InboundSubscriptions {
	return &InboundSubscriptions{holders: make(map[int][]RegistryEntry)}
}

// ChooseRandom selects replicationFactor holders at random from
// eligible (active, size-compatible is irrelevant here — security, not
// fairness, drives this choice) and records them for chunkIndex.
func (i *InboundSubscriptions) ChooseRandom(chunkIndex int, eligible []RegistryEntry, replicationFactor int) ([]RegistryEntry, error) {
	if len(eligible) < replicationFactor {
		return nil, fmt.Errorf("placement: only %d eligible holders, need %d", len(eligible), replicationFactor)
	}
	shuffled := make([]RegistryEntry, len(eligible))
	copy(shuffled, eligible)
	if err := secureShuffle(shuffled); err != nil {
		return nil, err
	}
	chosen := shuffled[:replicationFactor]
	i.mu.Lock()
	i.holders[chunkIndex] = chosen
	i.mu.Unlock()
	return chosen, nil
}

func (i *InboundSubscriptions) HoldersFor(chunkIndex int) []RegistryEntry {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.holders[chunkIndex]
}

// secureShuffle performs a Fisher-Yates shuffle using crypto/rand so
// holder selection cannot be biased or predicted by an observer.
func secureShuffle(entries []RegistryEntry) error {
	for i := len(entries) - 1; i > 0; i-- {
		j, err := randIntN(i + 1)
		if err != nil {
			return err
		}
		entries[i], entries[j] = entries[j], entries[i]
	}
	return nil
}

func randIntN(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("placement: rand read: %w", err)
	}
	v := uint64(0)
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return int(v % uint64(n)), nil
}

// Challenge is a spot-check request sent to a purported holder (spec.md
// §4.H "Verification").
type Challenge struct {
	Nonce     [16]byte
	Offset    int
	Length    int
	Timestamp time.Time
}

// NewChallenge builds a fresh, timestamped challenge covering
// chunk[offset:offset+length].
func NewChallenge(offset, length int) (Challenge, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Challenge{}, fmt.Errorf("placement: challenge nonce: %w", err)
	}
	return Challenge{Nonce: nonce, Offset: offset, Length: length, Timestamp: time.Now().UTC()}, nil
}

// ExpectedResponse computes SHA-256(nonce || chunk[offset:offset+length]),
// which the responder must return to prove possession (spec.md §4.H:
// "the responder's hash must cover the nonce to prevent replay").
func ExpectedResponse(c Challenge, chunkData []byte) ([32]byte, error) {
	end := c.Offset + c.Length
	if c.Offset < 0 || end > len(chunkData) {
		return [32]byte{}, fmt.Errorf("placement: challenge range out of bounds")
	}
	h := sha256.New()
	h.Write(c.Nonce[:])
	h.Write(chunkData[c.Offset:end])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// SpotCheckSampleSize returns max(1, floor(n/100)), capped at n (so 0
// for n=0), per spec.md §4.H's "sample 1% of (holder, chunk) pairs
// (minimum 1)".
func SpotCheckSampleSize(n int) int {
	k := n / 100
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// SuspicionTracker counts consecutive spot-check failures per holder
// and reports when a re-placement is forced (two consecutive failures,
// spec.md §4.H).
type SuspicionTracker struct {
	mu           sync.Mutex
	consecutive  map[[33]byte]int
}

// NewSuspicionTracker returns an empty tracker.
func NewSuspicionTracker() *SuspicionTracker {
	return &SuspicionTracker{consecutive: make(map[[33]byte]int)}
}

// RecordFailure increments holder's consecutive-failure count and
// reports whether re-placement should now be forced.
func (s *SuspicionTracker) RecordFailure(holder [33]byte) (forceReplace bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutive[holder]++
	return s.consecutive[holder] >= 2
}

// RecordSuccess resets holder's consecutive-failure count.
func (s *SuspicionTracker) RecordSuccess(holder [33]byte) {
	s.mu.Lock()
	delete(s.consecutive, holder)
	s.mu.Unlock()
}

// SampleIndices deterministically picks k distinct indices in
// [0,n) for the background sweep's "larger fraction across all
// chunks" pass, ordered for reproducible test assertions.
func SampleIndices(n, k int, seed uint64) []int {
	if k > n {
		k = n
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := len(idx) - 1; i > 0; i-- {
		seed = seed*6364136223846793005 + 1442695040888963407
		j := int(seed % uint64(i+1))
		idx[i], idx[j] = idx[j], idx[i]
	}
	out := idx[:k]
	sort.Ints(out)
	return out
}
