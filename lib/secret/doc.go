// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive data such
// as X25519 private scalars, derived AEAD keys, and decrypted journal
// plaintext that must never survive past a single inference request.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Because the memory lives
// outside the Go heap, the garbage collector cannot copy or relocate
// it, guaranteeing secret material does not persist after release.
//
// Constructors:
//
//   - [New] -- allocates a zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeros the source
//
// Access via [Buffer.Bytes] (slice into mmap region) or
// [Buffer.String] (heap copy for API boundaries). After Close, any
// access panics. Close is idempotent. [Zero] overwrites a plain byte
// slice in place for the rarer case where secret material must be
// scrubbed from a caller-owned slice that never lived in a Buffer.
//
// Depends only on golang.org/x/sys/unix. Used by internal/keystore to
// hold the server's long-lived X25519 identity and by
// internal/sessioncrypto to hold per-request derived keys; decrypted
// plaintext is a plain slice scrubbed with [Zero].
package secret
