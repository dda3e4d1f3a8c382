// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi exposes the inference gateway's HTTP surface: the
// public-key, execute, usage, and provider-info endpoints described in
// spec §6.
//
// Grounded on lib/service/http.go's HTTPServer lifecycle (bind early,
// signal readiness, graceful shutdown on context cancellation) and on
// its Go 1.22+ http.ServeMux method-and-path registration style, seen
// throughout the teacher's cmd/*-service binaries.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/echolia/inference-gateway/internal/entitlement"
	"github.com/echolia/inference-gateway/internal/identity"
	"github.com/echolia/inference-gateway/internal/keystore"
	"github.com/echolia/inference-gateway/internal/orchestrator"
	"github.com/echolia/inference-gateway/internal/quota"
	"github.com/echolia/inference-gateway/internal/sessioncrypto"
	"github.com/echolia/inference-gateway/internal/taskregistry"
)

// Server holds the collaborators the HTTP surface delegates to. It
// carries no request-scoped state.
type Server struct {
	keyStore     *keystore.KeyStore
	resolver     *identity.Resolver
	entitlements *entitlement.Source
	ledger       *quota.Ledger
	orchestrator *orchestrator.Orchestrator
	providers    []string
	logger       *slog.Logger

	mux *http.ServeMux
}

// Config bundles Server's collaborators.
type Config struct {
	KeyStore     *keystore.KeyStore
	Resolver     *identity.Resolver
	Entitlements *entitlement.Source
	Ledger       *quota.Ledger
	Orchestrator *orchestrator.Orchestrator

	// Providers lists the configured backend names in preference
	// order, for the supplemental /v1/inference/provider endpoint.
	Providers []string

	Logger *slog.Logger
}

// NewServer builds the routed handler.
func NewServer(config Config) *Server {
	server := &Server{
		keyStore:     config.KeyStore,
		resolver:     config.Resolver,
		entitlements: config.Entitlements,
		ledger:       config.Ledger,
		orchestrator: config.Orchestrator,
		providers:    config.Providers,
		logger:       config.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/inference/public-key", server.handlePublicKey)
	mux.HandleFunc("POST /v1/inference/execute", server.handleExecute)
	mux.HandleFunc("GET /v1/inference/usage", server.handleUsage)
	mux.HandleFunc("GET /v1/inference/provider", server.handleProvider)
	server.mux = mux
	return server
}

// ServeHTTP satisfies http.Handler, wrapping every request with an
// access-log line keyed by a ULID request id — monotonic within a
// millisecond, unlike a UUID, so log lines sort the way requests
// arrived.
func (server *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := ulid.Make().String()
	started := time.Now()

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
	server.mux.ServeHTTP(recorder, r.WithContext(ctx))

	server.logger.Info("http_request",
		"request_id", requestID,
		"method", r.Method,
		"path", r.URL.Path,
		"status", recorder.status,
		"duration_ms", time.Since(started).Milliseconds(),
	)
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (recorder *statusRecorder) WriteHeader(status int) {
	recorder.status = status
	recorder.ResponseWriter.WriteHeader(status)
}

// --- wire shapes (spec §6) ---

type publicKeyResponse struct {
	PublicKey string `json:"public_key"`
	KeyID     string `json:"key_id"`
	ExpiresAt string `json:"expires_at"`
	Algorithm string `json:"algorithm"`
}

type executeRequest struct {
	Task               string `json:"task"`
	EncryptedContent   string `json:"encrypted_content"`
	Nonce              string `json:"nonce"`
	MAC                string `json:"mac"`
	EphemeralPublicKey string `json:"ephemeral_public_key"`
	ClientVersion      string `json:"client_version"`
}

type usageWire struct {
	RequestsRemaining int64  `json:"requests_remaining"`
	ResetAt           string `json:"reset_at"`
	Tier              string `json:"tier"`
}

type executeResponse struct {
	EncryptedResult string    `json:"encrypted_result"`
	Nonce           string    `json:"nonce"`
	MAC             string    `json:"mac"`
	Usage           usageWire `json:"usage"`
}

type errorResponse struct {
	Error string     `json:"error"`
	Usage *usageWire `json:"usage,omitempty"`
}

func toUsageWire(snapshot quota.Snapshot) usageWire {
	return usageWire{
		RequestsRemaining: snapshot.RequestsRemaining,
		ResetAt:           snapshot.ResetAt.UTC().Format(time.RFC3339),
		Tier:              string(snapshot.Tier),
	}
}

// --- handlers ---

func (server *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	_, err := server.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "auth_required", nil)
		return
	}

	if err := server.keyStore.RotateIfStale(); err != nil {
		server.logger.Error("key_rotation_failed", "error", err)
	}
	view, err := server.keyStore.CurrentPublicView()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", nil)
		return
	}

	writeJSON(w, http.StatusOK, publicKeyResponse{
		PublicKey: base64.StdEncoding.EncodeToString(view.PublicPoint[:]),
		KeyID:     view.KeyID,
		ExpiresAt: view.ExpiresAt.UTC().Format(time.RFC3339),
		Algorithm: "X25519",
	})
}

func (server *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	principal, err := server.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "auth_required", nil)
		return
	}

	var wire executeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&wire); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_envelope", nil)
		return
	}

	envelope, err := decodeEnvelope(wire)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_envelope", nil)
		return
	}

	tier, err := server.entitlements.TierOf(r.Context(), principal.PrincipalID)
	if err != nil {
		server.logger.Error("entitlement_lookup_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", nil)
		return
	}

	result, execErr := server.orchestrator.Execute(r.Context(), orchestrator.Request{
		Principal:     principal,
		Tier:          tier,
		Task:          taskregistry.Tag(wire.Task),
		Envelope:      envelope,
		ClientVersion: wire.ClientVersion,
	})
	if execErr != nil {
		var usage *usageWire
		if execErr.Kind == orchestrator.RateLimited {
			snapshot := toUsageWire(result.Usage)
			usage = &snapshot
		}
		writeError(w, execErr.Kind.HTTPStatus(), execErr.Kind.Tag(), usage)
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		EncryptedResult: base64.StdEncoding.EncodeToString(result.Ciphertext),
		Nonce:           base64.StdEncoding.EncodeToString(result.Nonce[:]),
		MAC:             base64.StdEncoding.EncodeToString(result.Tag[:]),
		Usage:           toUsageWire(result.Usage),
	})
}

func (server *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	principal, err := server.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "auth_required", nil)
		return
	}

	tier, err := server.entitlements.TierOf(r.Context(), principal.PrincipalID)
	if err != nil {
		server.logger.Error("entitlement_lookup_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", nil)
		return
	}

	snapshot, err := server.ledger.Peek(r.Context(), principal.PrincipalID, tier)
	if err != nil {
		server.logger.Error("quota_peek_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", nil)
		return
	}

	writeJSON(w, http.StatusOK, toUsageWire(snapshot))
}

// handleProvider is a supplemental diagnostic endpoint (not in
// spec.md's original §6) reporting which backends are configured and
// in what preference order, so operators can confirm a deploy's
// provider wiring without reading logs.
func (server *Server) handleProvider(w http.ResponseWriter, r *http.Request) {
	if _, err := server.authenticate(r); err != nil {
		writeError(w, http.StatusUnauthorized, "auth_required", nil)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Configured []string `json:"configured"`
	}{Configured: server.providers})
}

// authenticate extracts and resolves the bearer token. Per spec §6,
// this runs before any quota-consuming work and never touches the
// ledger.
func (server *Server) authenticate(r *http.Request) (identity.Principal, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return identity.Principal{}, identity.ErrAuthRequired
	}
	token := strings.TrimPrefix(header, prefix)
	return server.resolver.ResolvePrincipal(token)
}

// decodeEnvelope base64-decodes the wire fields and validates their
// lengths, producing MalformedEnvelope (400, invalid_envelope) for a
// syntactically broken request before the orchestrator — and therefore
// before any quota reservation — ever runs.
func decodeEnvelope(wire executeRequest) (sessioncrypto.Envelope, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(wire.EncryptedContent)
	if err != nil {
		return sessioncrypto.Envelope{}, fmt.Errorf("decoding encrypted_content: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(wire.Nonce)
	if err != nil {
		return sessioncrypto.Envelope{}, fmt.Errorf("decoding nonce: %w", err)
	}
	mac, err := base64.StdEncoding.DecodeString(wire.MAC)
	if err != nil {
		return sessioncrypto.Envelope{}, fmt.Errorf("decoding mac: %w", err)
	}
	ephemeralPub, err := base64.StdEncoding.DecodeString(wire.EphemeralPublicKey)
	if err != nil {
		return sessioncrypto.Envelope{}, fmt.Errorf("decoding ephemeral_public_key: %w", err)
	}
	return sessioncrypto.DecodeEnvelope(ciphertext, nonce, mac, ephemeralPub)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, tag string, usage *usageWire) {
	writeJSON(w, status, errorResponse{Error: tag, Usage: usage})
}
