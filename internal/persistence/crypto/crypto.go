// Package crypto implements spec.md §4.G's write-path: canonical
// serialization (delegated to internal/trust), per-version HKDF key
// derivation, AES-256-GCM encryption, SHA-256 hash chaining, secp256k1
// signing, and 64 KiB chunking with per-chunk hashes. Grounded on the
// teacher's envelope-signing pattern in core/compliance.go (secp256k1
// ECDSA over a SHA-256 digest) and its AES-GCM usage in the same file.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/hkdf"
)

// ChunkSize is the fixed chunk width of spec.md §4.G: 64 KiB.
const ChunkSize = 64 * 1024

const stateEncLabel = "state-enc-v1"

// Chunk is one content-addressed slice of an encrypted state blob.
type Chunk struct {
	Index int
	Data  []byte
	Hash  [32]byte
}

// Envelope is the full on-wire record for one persisted version
// (spec.md §4.G steps 1-6).
type Envelope struct {
	Version      uint64
	PreviousHash [32]byte
	Ciphertext   []byte
	Signature    []byte
	RootPubKeyID [33]byte
	Chunks       []Chunk
}

// deriveKey computes the AES-256 key for a version via HKDF from the
// root identity, label "state-enc-v1", salt = version bytes (spec.md
// §4.G step 3).
func deriveKey(rootIdentity []byte, version uint64) ([32]byte, error) {
	var key [32]byte
	var salt [8]byte
	binary.BigEndian.PutUint64(salt[:], version)
	r := hkdf.New(sha256.New, rootIdentity, salt[:], []byte(stateEncLabel))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("crypto: hkdf derive: %w", err)
	}
	return key, nil
}

// associatedData builds the AES-GCM AD tuple (version || previous_hash
// || root_pubkey_id), per spec.md §4.G step 4.
func associatedData(version uint64, previousHash [32]byte, rootPubKeyID [33]byte) []byte {
	ad := make([]byte, 8+32+33)
	binary.BigEndian.PutUint64(ad[0:8], version)
	copy(ad[8:40], previousHash[:])
	copy(ad[40:73], rootPubKeyID[:])
	return ad
}

// Seal encrypts plaintext (the canonical TrustState bytes) into a
// signed, chunked Envelope for the given version, chaining from
// prevCiphertext (nil/empty at genesis, per spec.md §4.G step 2).
func Seal(rootIdentity []byte, signingKey *secp256k1.PrivateKey, version uint64, prevCiphertext []byte, plaintext []byte) (*Envelope, error) {
	var previousHash [32]byte
	if len(prevCiphertext) > 0 {
		previousHash = sha256.Sum256(prevCiphertext)
	}

	key, err := deriveKey(rootIdentity, version)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm wrap: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	pub := signingKey.PubKey()
	var pubID [33]byte
	copy(pubID[:], pub.SerializeCompressed())

	ad := associatedData(version, previousHash, pubID)
	sealed := gcm.Seal(nonce, nonce, plaintext, ad)

	digest := sha256.Sum256(append(append([]byte{}, sealed...), ad...))
	sig := ecdsa.Sign(signingKey, digest[:])

	chunks := splitChunks(sealed)
	if len(chunks) > 1<<32-1 {
		return nil, fmt.Errorf("crypto: ciphertext too large: %d chunks exceeds u32", len(chunks))
	}

	return &Envelope{
		Version:      version,
		PreviousHash: previousHash,
		Ciphertext:   sealed,
		Signature:    sig.Serialize(),
		RootPubKeyID: pubID,
		Chunks:       chunks,
	}, nil
}

func splitChunks(data []byte) []Chunk {
	var chunks []Chunk
	for i := 0; i < len(data); i += ChunkSize {
		end := i + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		piece := data[i:end]
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Data:  piece,
			Hash:  sha256.Sum256(piece),
		})
	}
	return chunks
}

// Open verifies an Envelope's signature and chain, then decrypts it
// back into plaintext (spec.md §4.G "Recovery side reverses the
// steps"). verifyPubKey must match env.RootPubKeyID's claimed key, or
// signature verification is meaningless.
func Open(rootIdentity []byte, verifyPubKey *secp256k1.PublicKey, env *Envelope) ([]byte, error) {
	var pubID [33]byte
	copy(pubID[:], verifyPubKey.SerializeCompressed())
	if pubID != env.RootPubKeyID {
		return nil, fmt.Errorf("crypto: root_pubkey_id mismatch")
	}

	ad := associatedData(env.Version, env.PreviousHash, env.RootPubKeyID)
	digest := sha256.Sum256(append(append([]byte{}, env.Ciphertext...), ad...))
	sig, err := ecdsa.ParseDERSignature(env.Signature)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse signature: %w", err)
	}
	if !sig.Verify(digest[:], verifyPubKey) {
		return nil, fmt.Errorf("crypto: signature verification failed")
	}

	key, err := deriveKey(rootIdentity, env.Version)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm wrap: %w", err)
	}
	if len(env.Ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: ciphertext too short")
	}
	nonce := env.Ciphertext[:gcm.NonceSize()]
	body := env.Ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, ad)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (identity mismatch?): %w", err)
	}
	return plaintext, nil
}

// VerifyChainLink checks that prevCiphertext hashes to claimedPrevious,
// detecting a rollback attack per spec.md §4.I.
func VerifyChainLink(prevCiphertext []byte, claimedPrevious [32]byte) bool {
	return sha256.Sum256(prevCiphertext) == claimedPrevious
}

// VerifyChunkHash checks one chunk's recorded hash against its data.
func VerifyChunkHash(c Chunk) bool {
	return sha256.Sum256(c.Data) == c.Hash
}

// Reassemble concatenates chunks in index order after verifying each
// chunk hash, per spec.md §4.I step 4.
func Reassemble(chunks []Chunk) ([]byte, error) {
	ordered := make([]Chunk, len(chunks))
	seen := make([]bool, len(chunks))
	for _, c := range chunks {
		if c.Index < 0 || c.Index >= len(chunks) {
			return nil, fmt.Errorf("crypto: chunk index %d out of range", c.Index)
		}
		if seen[c.Index] {
			return nil, fmt.Errorf("crypto: duplicate chunk index %d", c.Index)
		}
		if !VerifyChunkHash(c) {
			return nil, fmt.Errorf("crypto: chunk %d hash mismatch", c.Index)
		}
		ordered[c.Index] = c
		seen[c.Index] = true
	}
	var out []byte
	for _, c := range ordered {
		out = append(out, c.Data...)
	}
	return out, nil
}
