// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keystore owns the inference gateway's long-lived X25519
// identity: generation, versioned crash-safe persistence, and
// time-based rotation.
//
// Grounded on lib/sealed/sealed.go for the keypair-generation-into-
// mmap-memory pattern and on lib/artifactstore/encrypt.go's
// versioned-blob discipline, but using raw golang.org/x/crypto/curve25519
// scalars instead of age's wrapped identity format: the wire protocol
// fixes a raw 32-byte public point on the wire, which age's armored
// container cannot produce directly.
package keystore

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/echolia/inference-gateway/lib/clock"
	"github.com/echolia/inference-gateway/lib/secret"
)

// Identity is the server's X25519 keypair plus its lifecycle metadata.
// The private scalar lives in mmap-backed, mlock'd memory; callers
// must not copy it out of the Buffer for longer than the call that
// borrows it.
type Identity struct {
	// PrivateScalar holds the 32-byte private scalar. Owned by the
	// Identity; closed when the Identity is discarded by rotation.
	PrivateScalar *secret.Buffer

	// PublicPoint is the corresponding public point. Safe to expose.
	PublicPoint [32]byte

	// KeyID uniquely identifies this (private, public) pair, e.g.
	// "srv-2026-08".
	KeyID string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// PublicView is the subset of an Identity safe to hand to callers
// outside the keystore, such as the public-key HTTP endpoint.
type PublicView struct {
	PublicPoint [32]byte
	KeyID       string
	ExpiresAt   time.Time
}

// KeyStore holds the current Identity behind an atomic pointer for
// lock-free reads, serializing rotation on a single writer mutex —
// the same shared-read/single-writer discipline lib/service uses for
// its own long-lived signing key.
type KeyStore struct {
	clock          clock.Clock
	path           string
	rotationPeriod time.Duration

	current      atomic.Pointer[Identity]
	rotationLock sync.Mutex
}

// New constructs a KeyStore. Call Initialize before any other method.
func New(clk clock.Clock, path string, rotationPeriod time.Duration) *KeyStore {
	return &KeyStore{clock: clk, path: path, rotationPeriod: rotationPeriod}
}

// Initialize loads the persisted identity, generating and persisting a
// fresh one if absent or expired. A corrupt blob is returned as an
// error rather than replaced. Idempotent: calling it again after
// success is a no-op.
//
// A persistence failure here is fatal per spec §4.1 — the process must
// not serve requests without a durable identity.
func (store *KeyStore) Initialize() error {
	if store.current.Load() != nil {
		return nil
	}

	identity, err := store.load()
	if err != nil {
		return fmt.Errorf("keystore: initialize: %w", err)
	}
	store.current.Store(identity)
	return nil
}

// load reads the persisted blob. Absence, or a valid blob past its
// expiration, yields a freshly generated identity; a blob that fails
// to decode or whose public point does not match its scalar is an
// error.
func (store *KeyStore) load() (*Identity, error) {
	blob, readErr := os.ReadFile(store.path)
	if readErr != nil {
		if !os.IsNotExist(readErr) {
			return nil, fmt.Errorf("reading key blob: %w", readErr)
		}
		return store.generateAndPersist()
	}

	decoded, decodeErr := decodeBlob(blob)
	if decodeErr != nil {
		// Corruption is only tolerated if we would be generating a
		// fresh key anyway; there is no "due" signal without a valid
		// creation timestamp, so any decode failure at load time is
		// treated as fatal, per spec §4.1 ("as fatal otherwise").
		return nil, fmt.Errorf("%w (fatal: no valid identity to fall back to)", decodeErr)
	}

	identity, err := identityFromBlob(decoded)
	if err != nil {
		return nil, fmt.Errorf("decoding persisted identity: %w", err)
	}

	if store.clock.Now().After(identity.ExpiresAt) {
		identity.PrivateScalar.Close()
		return store.generateAndPersist()
	}

	return identity, nil
}

// CurrentPrivateAndPublic returns the active identity. The caller must
// not retain PrivateScalar past the current call — it is a borrowed
// view into the keystore's live state, which rotation may replace and
// close concurrently.
func (store *KeyStore) CurrentPrivateAndPublic() (*Identity, error) {
	identity := store.current.Load()
	if identity == nil {
		return nil, fmt.Errorf("keystore: not initialized")
	}
	return identity, nil
}

// CurrentPublicView returns the subset of the active identity that is
// safe to expose externally.
func (store *KeyStore) CurrentPublicView() (PublicView, error) {
	identity := store.current.Load()
	if identity == nil {
		return PublicView{}, fmt.Errorf("keystore: not initialized")
	}
	return PublicView{
		PublicPoint: identity.PublicPoint,
		KeyID:       identity.KeyID,
		ExpiresAt:   identity.ExpiresAt,
	}, nil
}

// RotateIfStale generates and persists a fresh identity if the current
// one has passed its expiration, then swaps the in-memory reference.
// Calling it twice in quick succession after a successful rotation is
// a no-op on the second call (§8 invariant 5).
//
// A persistence failure during rotation is non-fatal: it is returned
// to the caller to log, and the old identity continues to serve.
func (store *KeyStore) RotateIfStale() error {
	current := store.current.Load()
	if current != nil && !store.clock.Now().After(current.ExpiresAt) {
		return nil
	}

	store.rotationLock.Lock()
	defer store.rotationLock.Unlock()

	// Re-check under the lock: another goroutine may have already
	// rotated while we waited.
	current = store.current.Load()
	if current != nil && !store.clock.Now().After(current.ExpiresAt) {
		return nil
	}

	fresh, err := store.generateAndPersist()
	if err != nil {
		return fmt.Errorf("keystore: rotation: %w", err)
	}

	store.current.Store(fresh)
	return nil
}

// generateAndPersist creates a new identity from a CSPRNG scalar,
// writes it durably, and returns it. It does not touch store.current
// — callers decide when to swap.
func (store *KeyStore) generateAndPersist() (*Identity, error) {
	var privateScalar [32]byte
	if _, err := rand.Read(privateScalar[:]); err != nil {
		return nil, fmt.Errorf("generating private scalar: %w", err)
	}

	var publicPoint [32]byte
	curve25519.ScalarBaseMult(&publicPoint, &privateScalar)

	now := store.clock.Now()
	identity := &Identity{
		PublicPoint: publicPoint,
		KeyID:       fmt.Sprintf("srv-%s", now.UTC().Format("2006-01")),
		CreatedAt:   now,
		ExpiresAt:   now.Add(store.rotationPeriod),
	}

	buffer, err := secret.NewFromBytes(append([]byte(nil), privateScalar[:]...))
	if err != nil {
		secret.Zero(privateScalar[:])
		return nil, fmt.Errorf("protecting private scalar: %w", err)
	}
	identity.PrivateScalar = buffer
	secret.Zero(privateScalar[:])

	blob := encodeBlob(scalarArray(identity.PrivateScalar), publicPoint,
		identity.CreatedAt.Unix(), identity.ExpiresAt.Unix(), identity.KeyID)
	if err := writeAtomic(store.path, blob); err != nil {
		identity.PrivateScalar.Close()
		return nil, fmt.Errorf("persisting identity: %w", err)
	}

	return identity, nil
}

// identityFromBlob reconstructs an Identity from a decoded blob,
// verifying the public point matches the scalar's derivation.
func identityFromBlob(decoded decodedBlob) (*Identity, error) {
	var derivedPublic [32]byte
	curve25519.ScalarBaseMult(&derivedPublic, &decoded.privateScalar)
	if derivedPublic != decoded.publicPoint {
		return nil, fmt.Errorf("%w: public point does not match private scalar derivation", errCorruptBlob)
	}

	buffer, err := secret.NewFromBytes(append([]byte(nil), decoded.privateScalar[:]...))
	if err != nil {
		return nil, fmt.Errorf("protecting private scalar: %w", err)
	}
	secret.Zero(decoded.privateScalar[:])

	return &Identity{
		PrivateScalar: buffer,
		PublicPoint:   decoded.publicPoint,
		KeyID:         decoded.identifier,
		CreatedAt:     time.Unix(decoded.createdUnix, 0).UTC(),
		ExpiresAt:     time.Unix(decoded.expiresUnix, 0).UTC(),
	}, nil
}

// scalarArray copies the private scalar out of guarded memory just
// long enough to serialize it. The copy is returned by value and is not
// zeroed by this function.
func scalarArray(buffer *secret.Buffer) [32]byte {
	var scalar [32]byte
	copy(scalar[:], buffer.Bytes())
	return scalar
}

// writeAtomic implements write-to-temp, fsync, atomic-rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, ".keystore-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath) // no-op after a successful rename

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
