// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity implements the gateway's identity collaborator
// contract: resolving an inbound bearer token to the principal and
// device it was issued to.
//
// Grounded on original_source/app/auth/service.py's
// refresh_access_token, which decodes a JWT and reads its "sub" (user
// id) and "device_id" claims, and on lib/servicetoken/token.go's
// Verify/VerifyAt split (a pure verification function plus a
// clock-injected variant) — adapted here to HMAC-signed JWTs via
// github.com/golang-jwt/jwt/v5, the library the original service's JWT
// helpers (app/auth/crypto.py) are themselves a thin wrapper over, since
// the wire format here is a bearer JWT rather than the teacher's Ed25519
// service token.
package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/echolia/inference-gateway/lib/clock"
)

// Principal is the authenticated caller of an inference request.
type Principal struct {
	PrincipalID string
	DeviceID    string
}

// ErrAuthRequired is returned for any bearer token that cannot be
// resolved to a Principal — expired, malformed, wrong signature, or
// missing required claims. The HTTP layer maps this uniformly to
// Unauthenticated / 401 / "auth_required" without further detail.
var ErrAuthRequired = errors.New("identity: auth_required")

// claims mirrors the JWT payload shape created by the original
// service's create_access_token: "sub" for the user id, "device_id",
// and "type" distinguishing access from refresh tokens.
type claims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"device_id"`
	Type     string `json:"type"`
}

// Resolver verifies bearer access tokens against a shared HMAC secret.
type Resolver struct {
	secret []byte
	clock  clock.Clock
}

// NewResolver builds a Resolver. secret is the HMAC signing key shared
// with the token issuer; it is not a long-term secret held here beyond
// the lifetime of the process.
func NewResolver(secret []byte, clk clock.Clock) *Resolver {
	return &Resolver{secret: secret, clock: clk}
}

// ResolvePrincipal verifies bearerToken and extracts the principal and
// device it was issued to. Per spec §6, this runs before the
// orchestrator; its failure must not consume any quota.
func (resolver *Resolver) ResolvePrincipal(bearerToken string) (Principal, error) {
	parsed, err := jwt.ParseWithClaims(bearerToken, &claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return resolver.secret, nil
	}, jwt.WithTimeFunc(resolver.clock.Now))
	if err != nil || !parsed.Valid {
		return Principal{}, ErrAuthRequired
	}

	tokenClaims, ok := parsed.Claims.(*claims)
	if !ok {
		return Principal{}, ErrAuthRequired
	}
	if tokenClaims.Type != "access" {
		return Principal{}, ErrAuthRequired
	}
	if tokenClaims.Subject == "" || tokenClaims.DeviceID == "" {
		return Principal{}, ErrAuthRequired
	}

	return Principal{PrincipalID: tokenClaims.Subject, DeviceID: tokenClaims.DeviceID}, nil
}
