// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package entitlement implements the gateway's entitlement
// collaborator contract: resolving a principal to a quota tier based
// on whether their "ai" add-on is active.
//
// Grounded on original_source/app/master_db.py's get_user_add_ons,
// which treats an add-on active iff status == "active" and
// (expires_at is null or expires_at > now) — reproduced here as a
// single SQL predicate rather than a fetch-then-filter-in-Python step,
// executed through lib/sqlitepool + zombiezen.com/go/sqlite the same
// way internal/quota reads its counters.
package entitlement

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/echolia/inference-gateway/internal/quota"
	"github.com/echolia/inference-gateway/lib/clock"
	"github.com/echolia/inference-gateway/lib/sqlitepool"
)

// aiAddOnType is the add_on_type row value the original master
// database uses to gate elevated inference quota.
const aiAddOnType = "ai"

// Source resolves a principal's current tier by consulting the master
// database's add-on table.
type Source struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

// Open opens the master add-ons database at path in read-only-ish
// usage (the gateway never writes to it; activation is owned by the
// billing service).
func Open(path string, poolSize int, clk clock.Clock) (*Source, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{Path: path, PoolSize: poolSize})
	if err != nil {
		return nil, fmt.Errorf("entitlement: opening master db: %w", err)
	}
	return &Source{pool: pool, clock: clk}, nil
}

// Close releases the underlying connection pool.
func (source *Source) Close() error {
	return source.pool.Close()
}

// TierOf resolves the quota tier for principalID. A principal with no
// active "ai" add-on row is TierFree; every account starts there.
func (source *Source) TierOf(ctx context.Context, principalID string) (quota.Tier, error) {
	conn, err := source.pool.Take(ctx)
	if err != nil {
		return quota.TierFree, fmt.Errorf("entitlement: tier lookup: %w", err)
	}
	defer source.pool.Put(conn)

	active := false
	err = sqlitex.Execute(conn, `
		SELECT 1 FROM user_add_ons
		WHERE user_id = ? AND add_on_type = ? AND status = 'active'
		  AND (expires_at IS NULL OR expires_at > ?)
		LIMIT 1;
	`, &sqlitex.ExecOptions{
		Args: []any{principalID, aiAddOnType, source.clock.Now().Unix()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			active = true
			return nil
		},
	})
	if err != nil {
		return quota.TierFree, fmt.Errorf("entitlement: querying add-on: %w", err)
	}

	if active {
		return quota.TierElevated, nil
	}
	return quota.TierFree, nil
}
