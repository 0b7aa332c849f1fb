package fsm

import (
	"context"
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/roder/stroma/internal/persistence/crypto"
	"github.com/roder/stroma/internal/persistence/placement"
	"github.com/roder/stroma/internal/trust"
)

// ErrIdentityMismatch is the fatal RecoveryError::IdentityMismatch of
// spec.md §4.I: decryption failed because the loaded root identity
// does not match the one the persisted state was encrypted under.
// Recover wraps every crypto.Open failure in it, so a bad signature or
// a root_pubkey_id mismatch is reported the same way.
var ErrIdentityMismatch = fmt.Errorf("fsm: recovery failed: identity mismatch")

// ChunkFetcher abstracts reading a specific chunk from a specific
// holder over the substrate, so recovery logic stays substrate-agnostic.
type ChunkFetcher func(ctx context.Context, holder placement.RegistryEntry, chunkIndex int) (crypto.Chunk, error)

// Manifest is the small signed header that travels alongside a
// version's chunk set — version, previous_hash, and signature — so a
// recoverer can verify the chain and signature before trusting the
// reassembled ciphertext (spec.md §4.I step 4). In a full deployment
// this is itself a chunk-0-sized object fetched the same way as any
// other chunk; Recover takes it as already-fetched input to keep this
// package free of a second substrate round-trip concern.
type Manifest struct {
	Version      uint64
	PreviousHash [32]byte
	Signature    []byte
}

// Recover implements spec.md §4.I's five-step recovery procedure. It
// returns the decoded TrustState and the WriteBlocker state it should
// enter (Active if every chunk got >= replicationFactor holder
// responses, else Provisional).
func Recover(
	ctx context.Context,
	rootIdentity []byte,
	verifyPubKey *secp256k1.PublicKey,
	registry *placement.Registry,
	rootPubKeyID [33]byte,
	epoch uint64,
	numChunks int,
	replicationFactor int,
	manifest Manifest,
	fetch ChunkFetcher,
) (*trust.TrustState, State, error) {
	self, ok := registry.Lookup(rootPubKeyID)
	if !ok {
		return nil, Isolated, fmt.Errorf("fsm: recovery: no registry entry for this coordinator's root_pubkey_id")
	}

	chunks := make([]crypto.Chunk, 0, numChunks)
	respondedFully := true

	for idx := 0; idx < numChunks; idx++ {
		candidates := placement.SelectHolders(registry.Active(time.Now().UTC()), chunkKeyFor(self, idx), epoch, replicationFactor)
		chunk, responders, err := fetchWithFallback(ctx, candidates, idx, fetch)
		if err != nil {
			return nil, Isolated, fmt.Errorf("fsm: recovery: chunk %d unreachable from all holders: %w", idx, err)
		}
		if responders < replicationFactor {
			respondedFully = false
		}
		chunks = append(chunks, chunk)
	}

	sealed, err := crypto.Reassemble(chunks)
	if err != nil {
		return nil, Isolated, fmt.Errorf("fsm: recovery: %w", err)
	}

	env := &crypto.Envelope{
		Version:      manifest.Version,
		PreviousHash: manifest.PreviousHash,
		Ciphertext:   sealed,
		Signature:    manifest.Signature,
		RootPubKeyID: rootPubKeyID,
	}
	plaintext, err := crypto.Open(rootIdentity, verifyPubKey, env)
	if err != nil {
		return nil, Isolated, fmt.Errorf("%w: %v", ErrIdentityMismatch, err)
	}

	state, err := trust.FromCanonicalBytes(plaintext)
	if err != nil {
		return nil, Isolated, fmt.Errorf("fsm: recovery: deserialize trust state: %w", err)
	}

	if respondedFully {
		return state, Active, nil
	}
	return state, Provisional, nil
}

func fetchWithFallback(ctx context.Context, candidates []placement.RegistryEntry, idx int, fetch ChunkFetcher) (crypto.Chunk, int, error) {
	responders := 0
	var last crypto.Chunk
	var lastErr error
	for _, holder := range candidates {
		c, err := fetch(ctx, holder, idx)
		if err != nil {
			lastErr = err
			continue
		}
		if !crypto.VerifyChunkHash(c) {
			lastErr = fmt.Errorf("fsm: chunk %d hash mismatch from holder", idx)
			continue
		}
		if responders == 0 {
			last = c
		}
		responders++
	}
	if responders == 0 {
		return crypto.Chunk{}, 0, lastErr
	}
	return last, responders, nil
}

func chunkKeyFor(self placement.RegistryEntry, idx int) string {
	return fmt.Sprintf("%x:%d", self.RootPubKeyID, idx)
}
