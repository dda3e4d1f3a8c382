// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package quota implements the QuotaLedger: an atomic daily request
// counter keyed on (principal, date), backed by lib/sqlitepool.
//
// Grounded on lib/sqlitepool/pool.go for connection management and on
// cmd/bureau-telemetry-service/store.go's sqlitex.Execute /
// sqlitex.ExecOptions call style for issuing SQL. The reserve
// operation uses a single "INSERT ... ON CONFLICT DO UPDATE" upsert so
// the increment-then-compare in spec §4.3 executes as one round trip
// under SQLite's default isolation, matching the atomicity guarantee
// "Pattern 4" in the spec's design notes requires.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/echolia/inference-gateway/lib/clock"
	"github.com/echolia/inference-gateway/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS quota_counters (
	principal  TEXT NOT NULL,
	date_key   TEXT NOT NULL,
	count      INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (principal, date_key)
);
`

// Tier is a request-ceiling label for a principal.
type Tier string

const (
	TierFree     Tier = "free"
	TierElevated Tier = "elevated"
)

// Ceilings holds the two configured daily request limits. There are no
// middle tiers.
type Ceilings struct {
	Free     int64
	Elevated int64
}

func (ceilings Ceilings) forTier(tier Tier) int64 {
	if tier == TierElevated {
		return ceilings.Elevated
	}
	return ceilings.Free
}

// Outcome is the result of a Reserve call.
type Outcome int

const (
	Granted Outcome = iota
	Exhausted
)

// Snapshot is a read-only view of a principal's usage, computed from
// the current counter and their tier's ceiling. Never persisted.
type Snapshot struct {
	RequestsRemaining int64
	ResetAt           time.Time
	Tier              Tier
}

// Ledger is the QuotaLedger. Row updates and reads all go through a
// single-statement upsert or SELECT — there is no read-modify-write
// gap for callers to race on.
type Ledger struct {
	pool     *sqlitepool.Pool
	clock    clock.Clock
	ceilings Ceilings

	// principalLocks serializes concurrent Reserve calls for the same
	// principal ahead of the SQL round trip, keyed by a BLAKE3 digest
	// of the principal ID rather than the ID itself so the lock table
	// never holds a reversible copy of caller identifiers in memory.
	// SQLite's own upsert is already atomic (spec §4.3); this only
	// trims contention on the shared connection pool under a hot
	// principal, adapted from lib/artifactstore/encrypt.go's keyed-hash
	// discipline.
	principalLocks sync.Map // [32]byte -> *sync.Mutex
}

// Open opens (creating if necessary) the SQLite-backed ledger at path.
func Open(path string, poolSize int, clk clock.Clock, ceilings Ceilings, logger *slog.Logger) (*Ledger, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("quota: opening ledger: %w", err)
	}
	return &Ledger{pool: pool, clock: clk, ceilings: ceilings}, nil
}

// Close releases the underlying connection pool.
func (ledger *Ledger) Close() error {
	return ledger.pool.Close()
}

// DateKey returns the deterministic UTC YYYY-MM-DD key for now.
func DateKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// nextUTCMidnight returns the start of the next UTC day after now.
func nextUTCMidnight(now time.Time) time.Time {
	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, 1)
}

// Peek returns the current usage snapshot without mutating any row.
func (ledger *Ledger) Peek(ctx context.Context, principal string, tier Tier) (Snapshot, error) {
	count, err := ledger.readCount(ctx, principal, DateKey(ledger.clock.Now()))
	if err != nil {
		return Snapshot{}, err
	}
	return ledger.snapshot(count, tier), nil
}

// Reserve atomically increments today's counter for principal and
// reports whether the post-increment count is within the tier's
// ceiling. The increment is never rolled back, even on Exhausted —
// this is deliberate (spec §4.3, Design Note Pattern 4): a single
// upsert trades a bounded one-request over-count for zero-contention
// atomicity, and Exhausted is returned before any further pipeline
// step runs, so the over-count never amplifies.
func (ledger *Ledger) Reserve(ctx context.Context, principal string, tier Tier) (Outcome, Snapshot, error) {
	lock := ledger.lockFor(principal)
	lock.Lock()
	defer lock.Unlock()

	dateKey := DateKey(ledger.clock.Now())

	conn, err := ledger.pool.Take(ctx)
	if err != nil {
		return Exhausted, Snapshot{}, fmt.Errorf("quota: reserve: %w", err)
	}
	defer ledger.pool.Put(conn)

	var newCount int64
	query := `
		INSERT INTO quota_counters (principal, date_key, count, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(principal, date_key) DO UPDATE SET
			count = count + 1,
			updated_at = excluded.updated_at
		RETURNING count;
	`
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{principal, dateKey, ledger.clock.Now().Unix()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			newCount = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return Exhausted, Snapshot{}, fmt.Errorf("quota: upsert: %w", err)
	}

	ceiling := ledger.ceilings.forTier(tier)
	outcome := Granted
	if newCount > ceiling {
		outcome = Exhausted
	}
	return outcome, ledger.snapshot(newCount, tier), nil
}

// lockFor returns the mutex serializing Reserve calls for principal,
// creating it on first use.
func (ledger *Ledger) lockFor(principal string) *sync.Mutex {
	hasher := blake3.New()
	hasher.Write([]byte(principal))
	var key [32]byte
	copy(key[:], hasher.Sum(nil))

	value, _ := ledger.principalLocks.LoadOrStore(key, &sync.Mutex{})
	return value.(*sync.Mutex)
}

func (ledger *Ledger) readCount(ctx context.Context, principal, dateKey string) (int64, error) {
	conn, err := ledger.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("quota: peek: %w", err)
	}
	defer ledger.pool.Put(conn)

	var count int64
	err = sqlitex.Execute(conn,
		"SELECT count FROM quota_counters WHERE principal = ? AND date_key = ?",
		&sqlitex.ExecOptions{
			Args: []any{principal, dateKey},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("quota: reading counter: %w", err)
	}
	return count, nil
}

func (ledger *Ledger) snapshot(count int64, tier Tier) Snapshot {
	ceiling := ledger.ceilings.forTier(tier)
	remaining := ceiling - count
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		RequestsRemaining: remaining,
		ResetAt:           nextUTCMidnight(ledger.clock.Now()),
		Tier:              tier,
	}
}
