// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator implements the InferenceOrchestrator: the
// per-request pipeline that ties KeyStore, SessionCrypto, QuotaLedger,
// TaskRegistry, and ProviderGateway together into one state machine.
//
// Grounded on the teacher's suspendable-pipeline-with-mandatory-cleanup
// idiom in lib/artifactstore (defer-chained Close calls unwinding a
// multi-step acquire sequence on any early return) — every secret or
// plaintext byte slice this package touches is registered for wipe via
// defer in the same statement that creates it, so no exit path (error
// return or success) can skip erasure.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/echolia/inference-gateway/internal/identity"
	"github.com/echolia/inference-gateway/internal/keystore"
	"github.com/echolia/inference-gateway/internal/provider"
	"github.com/echolia/inference-gateway/internal/quota"
	"github.com/echolia/inference-gateway/internal/sessioncrypto"
	"github.com/echolia/inference-gateway/internal/taskregistry"
	"github.com/echolia/inference-gateway/lib/clock"
	"github.com/echolia/inference-gateway/lib/secret"
)

// Request is one fully-formed, already-authenticated inference call.
type Request struct {
	Principal identity.Principal
	Tier      quota.Tier
	Task      taskregistry.Tag
	Envelope  sessioncrypto.Envelope

	// ClientVersion is opaque and logged for diagnostics only; never
	// interpreted.
	ClientVersion string
}

// Result is the sealed response plus the usage snapshot taken at
// reservation time.
type Result struct {
	Ciphertext []byte
	Nonce      [sessioncrypto.NonceSize]byte
	Tag        [sessioncrypto.TagSize]byte
	Usage      quota.Snapshot
}

// Orchestrator wires the five collaborating components into the
// pipeline described in spec §4.6. It holds no per-request state.
type Orchestrator struct {
	keyStore  *keystore.KeyStore
	ledger    *quota.Ledger
	tasks     *taskregistry.Registry
	providers *provider.Registry
	clock     clock.Clock

	providerTimeout time.Duration
	logger          *slog.Logger
}

// New builds an Orchestrator. providerTimeout bounds every
// ProviderGateway call (spec §5's default is 30s; callers pass their
// configured value).
func New(keyStore *keystore.KeyStore, ledger *quota.Ledger, tasks *taskregistry.Registry, providers *provider.Registry, clk clock.Clock, providerTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		keyStore:        keyStore,
		ledger:          ledger,
		tasks:           tasks,
		providers:       providers,
		clock:           clk,
		providerTimeout: providerTimeout,
		logger:          logger,
	}
}

// Execute runs one request through the full pipeline: quota reserve,
// task lookup, key readiness, decrypt, dispatch, parse+validate, seal.
// It returns exactly one of (Result, nil) or (Result, *Error). Once the
// quota reservation has succeeded, every rejection (RateLimited
// included) returns a Result carrying only the Usage snapshot, so the
// caller can render a countdown, per spec §7; a ledger failure returns
// Result{}.
func (orchestrator *Orchestrator) Execute(ctx context.Context, request Request) (Result, *Error) {
	traceID := uuid.New().String()

	// Quota-check.
	outcome, snapshot, err := orchestrator.ledger.Reserve(ctx, request.Principal.PrincipalID, request.Tier)
	if err != nil {
		orchestrator.logger.Error("quota_reserve_failed", "trace_id", traceID, "error", err)
		return Result{}, reject(Server, err)
	}
	if outcome == quota.Exhausted {
		orchestrator.logger.Info("quota_exhausted", "trace_id", traceID, "tier", request.Tier)
		return Result{Usage: snapshot}, reject(RateLimited, nil)
	}

	// Task-lookup.
	descriptor, err := orchestrator.tasks.Lookup(request.Task)
	if err != nil {
		return Result{Usage: snapshot}, reject(BadTask, err)
	}

	// Key-ready.
	if err := orchestrator.keyStore.RotateIfStale(); err != nil {
		orchestrator.logger.Error("key_rotation_failed", "trace_id", traceID, "error", err)
		return Result{Usage: snapshot}, reject(Server, err)
	}
	serverIdentity, err := orchestrator.keyStore.CurrentPrivateAndPublic()
	if err != nil {
		orchestrator.logger.Error("key_not_ready", "trace_id", traceID, "error", err)
		return Result{Usage: snapshot}, reject(Server, err)
	}

	// Decrypt.
	derivedKey, err := sessioncrypto.DeriveKey(serverIdentity.PrivateScalar, request.Envelope.EphemeralPub)
	if err != nil {
		orchestrator.logger.Error("key_derivation_failed", "trace_id", traceID, "error", err)
		return Result{Usage: snapshot}, reject(Server, err)
	}
	defer derivedKey.Close()

	plaintext, err := sessioncrypto.Open(derivedKey, request.Envelope.Nonce, request.Envelope.Ciphertext, request.Envelope.Tag)
	if err != nil {
		orchestrator.logger.Info("decrypt_failed", "trace_id", traceID, "task", request.Task)
		return Result{Usage: snapshot}, reject(Unprocessable, nil)
	}
	defer secret.Zero(plaintext)

	// Format+Dispatch.
	system, user := orchestrator.tasks.Format(descriptor, string(plaintext), orchestrator.clock.Now())
	backend, err := orchestrator.providers.Select()
	if err != nil {
		orchestrator.logger.Error("no_provider_configured", "trace_id", traceID, "error", err)
		return Result{Usage: snapshot}, reject(Server, err)
	}

	providerCtx, cancel := context.WithTimeout(ctx, orchestrator.providerTimeout)
	defer cancel()

	temperature := taskregistry.FixedSampling.Temperature
	response, err := backend.Complete(providerCtx, provider.Request{
		System:      system,
		Input:       user,
		MaxTokens:   taskregistry.FixedSampling.MaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		kind, providerErr := classifyProviderError(err)
		orchestrator.logger.Error("provider_call_failed", "trace_id", traceID, "provider", backend.Name(), "error", providerErr)
		return Result{Usage: snapshot}, reject(kind, providerErr)
	}
	orchestrator.logger.Info("provider_call_succeeded",
		"trace_id", traceID,
		"provider", backend.Name(),
		"model", response.Model,
		"input_token_count", response.Usage.InputTokens,
		"output_token_count", response.Usage.OutputTokens,
		"finish_reason", string(response.StopReason),
	)

	// Parse+Validate.
	taskResult, err := orchestrator.tasks.Parse(descriptor, response.Text)
	if err != nil {
		orchestrator.logger.Error("model_output_invalid", "trace_id", traceID, "task", request.Task)
		return Result{Usage: snapshot}, reject(MalformedOutput, err)
	}

	canonicalJSON, err := taskResult.CanonicalJSON()
	if err != nil {
		orchestrator.logger.Error("result_serialization_failed", "trace_id", traceID, "error", err)
		return Result{Usage: snapshot}, reject(Server, err)
	}
	defer secret.Zero(canonicalJSON)

	// Seal.
	ciphertext, nonce, tag, err := sessioncrypto.Seal(derivedKey, canonicalJSON)
	if err != nil {
		orchestrator.logger.Error("seal_failed", "trace_id", traceID, "error", err)
		return Result{Usage: snapshot}, reject(Server, err)
	}

	return Result{Ciphertext: ciphertext, Nonce: nonce, Tag: tag, Usage: snapshot}, nil
}

// classifyProviderError maps a provider error into an orchestrator
// Kind. Transport failures (including provider-call timeouts, which
// surface here as a client.Do error) map to ProviderTransport; a 400
// from the backend maps to ProviderBadRequest; anything else —
// including other 4xx statuses, throttling and overload, which are the
// provider's problem rather than ours — maps to ProviderServer.
func classifyProviderError(err error) (Kind, error) {
	providerErr, ok := err.(*provider.ProviderError)
	if !ok {
		return ProviderTransport, err
	}
	switch {
	case providerErr.IsTransport():
		return ProviderTransport, providerErr
	case providerErr.IsBadRequest():
		return ProviderBadRequest, providerErr
	default:
		return ProviderServer, providerErr
	}
}
