// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/echolia/inference-gateway/lib/clock"
)

func signToken(t *testing.T, secret []byte, tokenClaims claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestResolvePrincipalValidToken(t *testing.T) {
	secret := []byte("test-secret")
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	resolver := NewResolver(secret, fake)

	tokenString := signToken(t, secret, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(fake.Now().Add(time.Hour)),
		},
		DeviceID: "device-1",
		Type:     "access",
	})

	principal, err := resolver.ResolvePrincipal(tokenString)
	if err != nil {
		t.Fatalf("ResolvePrincipal: %v", err)
	}
	if principal.PrincipalID != "u1" || principal.DeviceID != "device-1" {
		t.Errorf("Principal = %+v, want {u1 device-1}", principal)
	}
}

func TestResolvePrincipalExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	resolver := NewResolver(secret, fake)

	tokenString := signToken(t, secret, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(fake.Now().Add(-time.Hour)),
		},
		DeviceID: "device-1",
		Type:     "access",
	})

	if _, err := resolver.ResolvePrincipal(tokenString); err != ErrAuthRequired {
		t.Errorf("ResolvePrincipal() error = %v, want ErrAuthRequired", err)
	}
}

func TestResolvePrincipalWrongSecret(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	resolver := NewResolver([]byte("real-secret"), fake)

	tokenString := signToken(t, []byte("wrong-secret"), claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(fake.Now().Add(time.Hour))},
		DeviceID:         "device-1",
		Type:             "access",
	})

	if _, err := resolver.ResolvePrincipal(tokenString); err != ErrAuthRequired {
		t.Errorf("ResolvePrincipal() error = %v, want ErrAuthRequired", err)
	}
}

func TestResolvePrincipalRefreshTokenRejected(t *testing.T) {
	secret := []byte("test-secret")
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	resolver := NewResolver(secret, fake)

	tokenString := signToken(t, secret, claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(fake.Now().Add(time.Hour))},
		DeviceID:         "device-1",
		Type:             "refresh",
	})

	if _, err := resolver.ResolvePrincipal(tokenString); err != ErrAuthRequired {
		t.Errorf("ResolvePrincipal() error = %v, want ErrAuthRequired (refresh token used as access)", err)
	}
}

func TestResolvePrincipalMissingDeviceID(t *testing.T) {
	secret := []byte("test-secret")
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	resolver := NewResolver(secret, fake)

	tokenString := signToken(t, secret, claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(fake.Now().Add(time.Hour))},
		Type:             "access",
	})

	if _, err := resolver.ResolvePrincipal(tokenString); err != ErrAuthRequired {
		t.Errorf("ResolvePrincipal() error = %v, want ErrAuthRequired (missing device_id)", err)
	}
}
