// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command inference-gateway serves the E2EE inference orchestrator's
// HTTP surface: public-key distribution, encrypted task execution, and
// usage reporting for the journal client.
//
// The process never holds a plaintext journal entry outside a single
// request's lifetime, and never persists one. Derived keys live in
// mlock'd memory; the decrypted plaintext is an ordinary heap slice
// that Orchestrator.Execute zeroes before it returns, and the string
// copy passed to the prompt formatter is not zeroed.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/echolia/inference-gateway/internal/config"
	"github.com/echolia/inference-gateway/internal/entitlement"
	"github.com/echolia/inference-gateway/internal/httpapi"
	"github.com/echolia/inference-gateway/internal/identity"
	"github.com/echolia/inference-gateway/internal/keystore"
	"github.com/echolia/inference-gateway/internal/obs"
	"github.com/echolia/inference-gateway/internal/orchestrator"
	"github.com/echolia/inference-gateway/internal/provider"
	"github.com/echolia/inference-gateway/internal/quota"
	"github.com/echolia/inference-gateway/internal/taskregistry"
	"github.com/echolia/inference-gateway/lib/clock"
	"github.com/echolia/inference-gateway/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) > 1 && os.Args[1] == "-version" {
		fmt.Printf("inference-gateway %s\n", version.Full())
		return nil
	}

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return fmt.Errorf("parsing configuration: %w", err)
	}

	level, err := parseLogLevel(cfg.LogLevelName)
	if err != nil {
		return err
	}
	logger := obs.NewLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	keyStore := keystore.New(clk, cfg.KeyStorePath, cfg.RotationPeriod)
	if err := keyStore.Initialize(); err != nil {
		return fmt.Errorf("initializing keystore: %w", err)
	}

	resolver := identity.NewResolver([]byte(cfg.JWTSecret), clk)

	entitlements, err := entitlement.Open(cfg.MasterDBPath, 4, clk)
	if err != nil {
		return fmt.Errorf("opening entitlement source: %w", err)
	}
	defer entitlements.Close()

	ledger, err := quota.Open(cfg.QuotaDBPath, cfg.QuotaPoolSize, clk, quota.Ceilings{
		Free:     cfg.FreeCeiling,
		Elevated: cfg.ElevatedCeiling,
	}, logger)
	if err != nil {
		return fmt.Errorf("opening quota ledger: %w", err)
	}
	defer ledger.Close()

	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	registry, configured := buildProviderRegistry(httpClient, cfg)
	if len(configured) == 0 {
		return fmt.Errorf("no LLM provider is configured")
	}
	logger.Info("providers_configured", "providers", configured)

	tasks := taskregistry.New()
	orch := orchestrator.New(keyStore, ledger, tasks, registry, clk, cfg.ProviderTimeout, logger)

	server := httpapi.NewServer(httpapi.Config{
		KeyStore:     keyStore,
		Resolver:     resolver,
		Entitlements: entitlements,
		Ledger:       ledger,
		Orchestrator: orch,
		Providers:    configured,
		Logger:       logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.ProviderTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http_server_listening", "address", cfg.ListenAddr, "version", version.Short())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("http_server_shutting_down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// buildProviderRegistry constructs a backend for every provider with a
// configured API key and returns them wrapped in a Registry, along
// with the names actually configured (in the registry's fixed
// preference order) for diagnostics.
func buildProviderRegistry(httpClient *http.Client, cfg config.Config) (*provider.Registry, []string) {
	var google, openai, anthropic provider.Provider
	var configured []string

	if cfg.GoogleAPIKey != "" {
		google = provider.NewGoogle(httpClient, cfg.GoogleAPIKey, cfg.GoogleModel)
		configured = append(configured, "google")
	}
	if cfg.OpenAIAPIKey != "" {
		openai = provider.NewOpenAI(httpClient, cfg.OpenAIAPIKey, cfg.OpenAIModel)
		configured = append(configured, "openai")
	}
	if cfg.AnthropicAPIKey != "" {
		anthropic = provider.NewAnthropic(httpClient, cfg.AnthropicAPIKey, cfg.AnthropicModel)
		configured = append(configured, "anthropic")
	}

	return provider.NewRegistry(google, openai, anthropic), configured
}

func parseLogLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

