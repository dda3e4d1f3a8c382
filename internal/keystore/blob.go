// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"encoding/binary"
	"fmt"
)

// blobVersion is the single leading version byte of the persisted key
// blob. Bumping this would require a migration path; there is none
// yet because there has only ever been one format.
const blobVersion byte = 0x01

// blobHeaderSize is the byte offset where the identifier string
// begins: 1 (version) + 32 (private scalar) + 32 (public point) + 8
// (creation) + 8 (expiration).
const blobHeaderSize = 1 + 32 + 32 + 8 + 8

// encodeBlob serializes an identity into the on-disk wire format:
//
//	byte 0:      version (0x01)
//	bytes 1-33:  private scalar, raw X25519 encoding
//	bytes 33-65: public point
//	bytes 65-73: creation instant, signed 64-bit seconds since epoch, big-endian
//	bytes 73-81: expiration instant, same encoding
//	bytes 81-:   identifier string, UTF-8, remainder of file
func encodeBlob(privateScalar, publicPoint [32]byte, createdUnix, expiresUnix int64, identifier string) []byte {
	blob := make([]byte, blobHeaderSize+len(identifier))
	blob[0] = blobVersion
	copy(blob[1:33], privateScalar[:])
	copy(blob[33:65], publicPoint[:])
	binary.BigEndian.PutUint64(blob[65:73], uint64(createdUnix))
	binary.BigEndian.PutUint64(blob[73:81], uint64(expiresUnix))
	copy(blob[81:], identifier)
	return blob
}

// decodedBlob is the parsed form of a persisted key blob.
type decodedBlob struct {
	privateScalar [32]byte
	publicPoint   [32]byte
	createdUnix   int64
	expiresUnix   int64
	identifier    string
}

// errCorruptBlob is returned when the blob fails structural validation
// (bad version byte or short length), or by identityFromBlob when the
// public point does not match the scalar. KeyStore.load returns it as
// an error in every case; it never treats it as absence.
var errCorruptBlob = fmt.Errorf("keystore: corrupt key blob")

// decodeBlob parses the on-disk wire format. It does not verify that
// publicPoint matches the derivation of privateScalar — the caller
// (Initialize) does that, since it is a semantic check, not a framing
// check.
func decodeBlob(blob []byte) (decodedBlob, error) {
	if len(blob) < blobHeaderSize {
		return decodedBlob{}, fmt.Errorf("%w: length %d is shorter than header %d", errCorruptBlob, len(blob), blobHeaderSize)
	}
	if blob[0] != blobVersion {
		return decodedBlob{}, fmt.Errorf("%w: version byte %#x, want %#x", errCorruptBlob, blob[0], blobVersion)
	}

	var decoded decodedBlob
	copy(decoded.privateScalar[:], blob[1:33])
	copy(decoded.publicPoint[:], blob[33:65])
	decoded.createdUnix = int64(binary.BigEndian.Uint64(blob[65:73]))
	decoded.expiresUnix = int64(binary.BigEndian.Uint64(blob[73:81]))
	decoded.identifier = string(blob[81:])
	return decoded, nil
}
