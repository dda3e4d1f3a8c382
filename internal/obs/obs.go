// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package obs wires up the gateway's structured logging.
//
// Grounded on cmd/bureau-daemon/main.go's slog.New(slog.NewJSONHandler(...))
// plus slog.SetDefault construction — the gateway carries the teacher's
// logging idiom unchanged even though spec's Non-goals exclude a
// metrics/observability layer: structured logs are ambient, not a
// feature the spec scoped out.
package obs

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
)

// NewLogger builds the process-wide JSON logger writing to stderr at
// the given level and installs it as the slog default.
func NewLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

// SHA256Hex is a convenience redaction helper: callers that want to
// log "something changed about this output" without logging the
// output itself hash it first, mirroring
// original_source/app/inference/tasks.py's response_sha256 log field.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
