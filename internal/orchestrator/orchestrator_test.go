// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"bytes"
	"context"
	"crypto/rand"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/echolia/inference-gateway/internal/identity"
	"github.com/echolia/inference-gateway/internal/keystore"
	"github.com/echolia/inference-gateway/internal/provider"
	"github.com/echolia/inference-gateway/internal/quota"
	"github.com/echolia/inference-gateway/internal/sessioncrypto"
	"github.com/echolia/inference-gateway/internal/taskregistry"
	"github.com/echolia/inference-gateway/lib/clock"
	"github.com/echolia/inference-gateway/lib/secret"
)

// fakeProvider returns a canned response or error, standing in for
// ProviderGateway.Complete in these pipeline tests, mirroring spec
// §8's "mock that echoes a canonical JSON" round-trip law.
type fakeProvider struct {
	text string
	err  error
}

func (fake *fakeProvider) Name() string { return "fake" }
func (fake *fakeProvider) Complete(ctx context.Context, request provider.Request) (*provider.Response, error) {
	if fake.err != nil {
		return nil, fake.err
	}
	return &provider.Response{Text: fake.text, StopReason: provider.StopReasonEndTurn}, nil
}

type testHarness struct {
	orchestrator *Orchestrator
	clientPriv   [32]byte
	clientPub    [32]byte
	serverPub    [32]byte
	logBuf       *bytes.Buffer
}

func newHarness(t *testing.T, fake clock.Clock, freeCeiling int64, backend provider.Provider) *testHarness {
	t.Helper()

	store := keystore.New(fake, filepath.Join(t.TempDir(), "identity.key"), 30*24*time.Hour)
	if err := store.Initialize(); err != nil {
		t.Fatalf("keystore.Initialize: %v", err)
	}
	serverView, err := store.CurrentPublicView()
	if err != nil {
		t.Fatalf("CurrentPublicView: %v", err)
	}

	ledger, err := quota.Open(filepath.Join(t.TempDir(), "quota.db"), 2, fake, quota.Ceilings{Free: freeCeiling, Elevated: 200}, nil)
	if err != nil {
		t.Fatalf("quota.Open: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	registry := provider.NewRegistry(backend, nil, nil)
	tasks := taskregistry.New()

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	var clientPriv, clientPub [32]byte
	if _, err := rand.Read(clientPriv[:]); err != nil {
		t.Fatalf("generating client scalar: %v", err)
	}
	curve25519.ScalarBaseMult(&clientPub, &clientPriv)

	return &testHarness{
		orchestrator: New(store, ledger, tasks, registry, fake, 5*time.Second, logger),
		clientPriv:   clientPriv,
		clientPub:    clientPub,
		serverPub:    serverView.PublicPoint,
		logBuf:       &logBuf,
	}
}

func (harness *testHarness) sealPlaintext(t *testing.T, plaintext string) sessioncrypto.Envelope {
	t.Helper()
	clientBuffer, err := secret.NewFromBytes(append([]byte(nil), harness.clientPriv[:]...))
	if err != nil {
		t.Fatalf("secret.NewFromBytes: %v", err)
	}
	defer clientBuffer.Close()

	key, err := sessioncrypto.DeriveKey(clientBuffer, harness.serverPub)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	defer key.Close()

	ciphertext, nonce, tag, err := sessioncrypto.Seal(key, []byte(plaintext))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	return sessioncrypto.Envelope{
		Ciphertext:   ciphertext,
		Nonce:        nonce,
		Tag:          tag,
		EphemeralPub: harness.clientPub,
	}
}

func TestExecuteHappyPath(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	backend := &fakeProvider{text: `{"memories": [{"kind": "commitment", "content": "call Ada tomorrow", "confidence": 0.9}], "confidence": 0.9}`}
	harness := newHarness(t, fake, 10, backend)

	envelope := harness.sealPlaintext(t, "I promised to call Ada tomorrow.")

	result, execErr := harness.orchestrator.Execute(context.Background(), Request{
		Principal: identity.Principal{PrincipalID: "u1", DeviceID: "d1"},
		Tier:      quota.TierFree,
		Task:      taskregistry.MemoryDistillation,
		Envelope:  envelope,
	})
	if execErr != nil {
		t.Fatalf("Execute() error = %v", execErr)
	}
	if result.Usage.RequestsRemaining != 9 {
		t.Errorf("RequestsRemaining = %d, want 9", result.Usage.RequestsRemaining)
	}
	if len(result.Ciphertext) == 0 {
		t.Error("Ciphertext is empty")
	}

	if strings.Contains(harness.logBuf.String(), "call Ada") {
		t.Error("log output contains plaintext")
	}
}

func TestExecuteQuotaExhausted(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	backend := &fakeProvider{text: `{"insights": [], "confidence": 1.0}`}
	harness := newHarness(t, fake, 10, backend)

	for i := 0; i < 10; i++ {
		envelope := harness.sealPlaintext(t, "entry")
		if _, execErr := harness.orchestrator.Execute(context.Background(), Request{
			Principal: identity.Principal{PrincipalID: "u2"},
			Tier:      quota.TierFree,
			Task:      taskregistry.InsightExtraction,
			Envelope:  envelope,
		}); execErr != nil {
			t.Fatalf("warm-up Execute %d: %v", i, execErr)
		}
	}

	envelope := harness.sealPlaintext(t, "entry")
	result, execErr := harness.orchestrator.Execute(context.Background(), Request{
		Principal: identity.Principal{PrincipalID: "u2"},
		Tier:      quota.TierFree,
		Task:      taskregistry.InsightExtraction,
		Envelope:  envelope,
	})
	if execErr == nil || execErr.Kind != RateLimited {
		t.Fatalf("Execute() error = %v, want RateLimited", execErr)
	}
	if result.Usage.RequestsRemaining != 0 {
		t.Errorf("RequestsRemaining = %d, want 0", result.Usage.RequestsRemaining)
	}
}

func TestExecuteTamperedCiphertext(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	backend := &fakeProvider{text: `{"insights": [], "confidence": 1.0}`}
	harness := newHarness(t, fake, 10, backend)

	envelope := harness.sealPlaintext(t, "entry")
	envelope.Ciphertext = append([]byte(nil), envelope.Ciphertext...)
	if len(envelope.Ciphertext) > 0 {
		envelope.Ciphertext[0] ^= 0x01
	}

	_, execErr := harness.orchestrator.Execute(context.Background(), Request{
		Principal: identity.Principal{PrincipalID: "u3"},
		Tier:      quota.TierFree,
		Task:      taskregistry.InsightExtraction,
		Envelope:  envelope,
	})
	if execErr == nil || execErr.Kind != Unprocessable {
		t.Fatalf("Execute() error = %v, want Unprocessable", execErr)
	}

	snapshot, err := harness.orchestrator.ledger.Peek(context.Background(), "u3", quota.TierFree)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if snapshot.RequestsRemaining != 9 {
		t.Errorf("RequestsRemaining after tampered request = %d, want 9 (quota still consumed)", snapshot.RequestsRemaining)
	}
}

func TestExecuteUnknownTaskStillConsumesQuota(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	backend := &fakeProvider{text: `{"insights": [], "confidence": 1.0}`}
	harness := newHarness(t, fake, 10, backend)

	envelope := harness.sealPlaintext(t, "entry")
	_, execErr := harness.orchestrator.Execute(context.Background(), Request{
		Principal: identity.Principal{PrincipalID: "u4"},
		Tier:      quota.TierFree,
		Task:      taskregistry.Tag("summarization"),
		Envelope:  envelope,
	})
	if execErr == nil || execErr.Kind != BadTask {
		t.Fatalf("Execute() error = %v, want BadTask", execErr)
	}

	snapshot, err := harness.orchestrator.ledger.Peek(context.Background(), "u4", quota.TierFree)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if snapshot.RequestsRemaining != 9 {
		t.Errorf("RequestsRemaining after unknown task = %d, want 9 (quota consumed before task-lookup)", snapshot.RequestsRemaining)
	}
}

func TestExecuteMalformedModelOutput(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	backend := &fakeProvider{text: "not json"}
	harness := newHarness(t, fake, 10, backend)

	envelope := harness.sealPlaintext(t, "entry")
	_, execErr := harness.orchestrator.Execute(context.Background(), Request{
		Principal: identity.Principal{PrincipalID: "u6"},
		Tier:      quota.TierFree,
		Task:      taskregistry.InsightExtraction,
		Envelope:  envelope,
	})
	if execErr == nil || execErr.Kind != MalformedOutput {
		t.Fatalf("Execute() error = %v, want MalformedOutput", execErr)
	}

	snapshot, err := harness.orchestrator.ledger.Peek(context.Background(), "u6", quota.TierFree)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if snapshot.RequestsRemaining != 9 {
		t.Errorf("RequestsRemaining after malformed output = %d, want 9 (quota consumed)", snapshot.RequestsRemaining)
	}
	if strings.Contains(harness.logBuf.String(), "entry") {
		t.Error("log output contains plaintext")
	}
}

func TestExecuteProviderTransportError(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	backend := &fakeProvider{err: &provider.ProviderError{Cause: context.DeadlineExceeded}}
	harness := newHarness(t, fake, 10, backend)

	envelope := harness.sealPlaintext(t, "entry")
	_, execErr := harness.orchestrator.Execute(context.Background(), Request{
		Principal: identity.Principal{PrincipalID: "u7"},
		Tier:      quota.TierFree,
		Task:      taskregistry.InsightExtraction,
		Envelope:  envelope,
	})
	if execErr == nil || execErr.Kind != ProviderTransport {
		t.Fatalf("Execute() error = %v, want ProviderTransport", execErr)
	}
}
