// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessioncrypto implements the per-request E2EE envelope
// primitives: X25519 key agreement, HKDF-SHA256 derivation, and
// ChaCha20-Poly1305 sealing/opening. Every function here is pure and
// stateless given its inputs — no package-level state, no caching.
//
// Adapted from lib/artifactstore/encrypt.go's HKDF derivation
// discipline (deriveKey, "derive fresh, don't cache"), but standard
// ChaCha20-Poly1305 with a 12-byte nonce replaces that file's
// XChaCha20-Poly1305 with a 24-byte nonce: the wire protocol fixes a
// 12-byte nonce for byte-level agreement with the client's mirrored
// implementation, and no additional-associated-data is bound in, per
// spec — the task tag travels in cleartext.
package sessioncrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/echolia/inference-gateway/lib/secret"
)

// hkdfInfo is the fixed domain-separation tag for key derivation. This
// exact byte string must be reproduced by every implementation that
// speaks this protocol — changing it invalidates all envelopes.
var hkdfInfo = []byte("echolia-inference-v1")

// NonceSize and TagSize are the wire-fixed AEAD parameter sizes.
const (
	NonceSize = chacha20poly1305.NonceSize // 12
	TagSize   = chacha20poly1305.Overhead  // 16
	KeySize   = chacha20poly1305.KeySize   // 32
)

// Envelope is the decoded byte form of a SealedEnvelope: ciphertext,
// nonce, and tag as opened byte slices (the wire layer handles
// base64), plus the sender's ephemeral public point.
type Envelope struct {
	Ciphertext   []byte
	Nonce        [NonceSize]byte
	Tag          [TagSize]byte
	EphemeralPub [32]byte
}

// ErrMalformedEnvelope is returned when an envelope's field lengths
// don't match the wire-fixed sizes.
var ErrMalformedEnvelope = fmt.Errorf("sessioncrypto: malformed envelope")

// ErrAuthFailed is returned by Open on any AEAD authentication
// failure. It is deliberately indistinguishable from a decode error
// upstream — the server returns the same tag whether authentication
// failed or the ciphertext was garbage.
var ErrAuthFailed = fmt.Errorf("sessioncrypto: authentication failed")

// DeriveKey performs X25519 scalar multiplication between a private
// scalar and a peer's ephemeral public point, then feeds the raw
// 32-byte shared secret through HKDF-SHA256 with the fixed info tag to
// produce a 32-byte AEAD key. The shared secret is zeroed before
// return regardless of outcome.
//
// serverPrivate is borrowed and not closed. The returned Buffer is
// owned by the caller and must be closed after use — per spec, keys
// are derived fresh for every request, never cached.
func DeriveKey(serverPrivate *secret.Buffer, peerEphemeralPublic [32]byte) (*secret.Buffer, error) {
	var privateScalar [32]byte
	copy(privateScalar[:], serverPrivate.Bytes())
	defer secret.Zero(privateScalar[:])

	sharedSecret, err := curve25519.X25519(privateScalar[:], peerEphemeralPublic[:])
	defer secret.Zero(sharedSecret)
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: X25519: %w", err)
	}

	reader := hkdf.New(sha256.New, sharedSecret, nil, hkdfInfo)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("sessioncrypto: HKDF derivation: %w", err)
	}

	// NewFromBytes copies into mmap-backed memory and zeros derived.
	return secret.NewFromBytes(derived)
}

// Open decrypts and authenticates an envelope under key. No
// additional-associated-data is bound to the AEAD, matching the wire
// protocol. Any authentication failure — wrong key, tampered
// ciphertext, or corrupt framing — returns ErrAuthFailed, never a more
// specific reason; only a key of the wrong length fails earlier, with
// an AEAD construction error.
//
// key is borrowed and not closed.
func Open(key *secret.Buffer, nonce [NonceSize]byte, ciphertext []byte, tag [TagSize]byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: constructing AEAD: %w", err)
	}

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag[:]...)

	plaintext, err := aead.Open(nil, nonce[:], sealed, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// Seal encrypts plaintext under key, generating a fresh CSPRNG nonce
// for this call. Nonces are never reused under the same key because
// every key is derived fresh per request and used for exactly one
// seal-or-open pair.
//
// key is borrowed and not closed.
func Seal(key *secret.Buffer, plaintext []byte) (ciphertext []byte, nonce [NonceSize]byte, tag [TagSize]byte, err error) {
	aead, err := chacha20poly1305.New(key.Bytes())
	if err != nil {
		return nil, nonce, tag, fmt.Errorf("sessioncrypto: constructing AEAD: %w", err)
	}

	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nonce, tag, fmt.Errorf("sessioncrypto: generating nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce[:], plaintext, nil)
	ciphertext = sealed[:len(sealed)-TagSize]
	copy(tag[:], sealed[len(sealed)-TagSize:])
	return ciphertext, nonce, tag, nil
}

// DecodeEnvelope validates field lengths and assembles an Envelope
// from already-base64-decoded wire fields.
func DecodeEnvelope(ciphertext, nonce, tag, ephemeralPub []byte) (Envelope, error) {
	if len(nonce) != NonceSize {
		return Envelope{}, fmt.Errorf("%w: nonce length %d, want %d", ErrMalformedEnvelope, len(nonce), NonceSize)
	}
	if len(tag) != TagSize {
		return Envelope{}, fmt.Errorf("%w: tag length %d, want %d", ErrMalformedEnvelope, len(tag), TagSize)
	}
	if len(ephemeralPub) != 32 {
		return Envelope{}, fmt.Errorf("%w: ephemeral public key length %d, want 32", ErrMalformedEnvelope, len(ephemeralPub))
	}

	var envelope Envelope
	envelope.Ciphertext = ciphertext
	copy(envelope.Nonce[:], nonce)
	copy(envelope.Tag[:], tag)
	copy(envelope.EphemeralPub[:], ephemeralPub)
	return envelope, nil
}
