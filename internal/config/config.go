// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config assembles the gateway's process configuration:
// process flags for topology (ports, paths, durations) layered over
// environment variables for secrets (API keys, JWT signing material).
//
// Grounded on original_source/app/config.py's flat, env-first Settings
// object, but realized the way the teacher's cmd/ binaries configure
// themselves — flag.StringVar/flag.DurationVar for everything that
// isn't a secret, os.Getenv for everything that is — matching
// cmd/bureau-artifact-service/main.go's flag-plus-stdin-secret
// convention. No third-party config or .env library is introduced:
// the teacher never reaches for one, and flag+os.Getenv covers every
// binary in the corpus.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// Config holds every setting the gateway process needs at startup.
type Config struct {
	ListenAddr string

	KeyStorePath   string
	RotationPeriod time.Duration

	QuotaDBPath     string
	QuotaPoolSize   int
	FreeCeiling     int64
	ElevatedCeiling int64

	MasterDBPath string

	JWTSecret string

	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
	GoogleAPIKey    string
	GoogleModel     string

	ProviderTimeout time.Duration

	LogLevelName string
}

// Parse builds a Config from process flags (topology) and environment
// variables (secrets), matching flag.Parse's usual "call once from
// main" contract. args is normally os.Args[1:].
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("inference-gateway", flag.ContinueOnError)

	cfg := Config{}
	fs.StringVar(&cfg.ListenAddr, "listen", ":8443", "HTTP listen address")
	fs.StringVar(&cfg.KeyStorePath, "keystore-path", "/var/lib/inference-gateway/identity.key", "path to the persisted X25519 identity blob")
	fs.DurationVar(&cfg.RotationPeriod, "key-rotation-period", 30*24*time.Hour, "how often the server identity rotates")
	fs.StringVar(&cfg.QuotaDBPath, "quota-db", "/var/lib/inference-gateway/quota.db", "path to the quota ledger SQLite database")
	fs.IntVar(&cfg.QuotaPoolSize, "quota-pool-size", 4, "SQLite connection pool size for the quota ledger")
	fs.Int64Var(&cfg.FreeCeiling, "quota-free-ceiling", 10, "daily request ceiling for the free tier")
	fs.Int64Var(&cfg.ElevatedCeiling, "quota-elevated-ceiling", 200, "daily request ceiling for the elevated (ai add-on) tier")
	fs.StringVar(&cfg.MasterDBPath, "master-db", "/var/lib/inference-gateway/master.db", "path to the master add-ons database")
	fs.StringVar(&cfg.AnthropicModel, "anthropic-model", "claude-sonnet-4-5", "Anthropic model identifier")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", "gpt-4o-mini", "OpenAI model identifier")
	fs.StringVar(&cfg.GoogleModel, "google-model", "gemini-2.0-flash", "Google Gemini model identifier")
	fs.DurationVar(&cfg.ProviderTimeout, "provider-timeout", 30*time.Second, "per-request LLM provider call timeout")
	fs.StringVar(&cfg.LogLevelName, "log-level", "info", "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.JWTSecret = os.Getenv("INFERENCE_GATEWAY_JWT_SECRET")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GoogleAPIKey = os.Getenv("GEMINI_API_KEY")

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: INFERENCE_GATEWAY_JWT_SECRET is required")
	}
	if cfg.AnthropicAPIKey == "" && cfg.OpenAIAPIKey == "" && cfg.GoogleAPIKey == "" {
		return Config{}, fmt.Errorf("config: at least one of ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY is required")
	}

	return cfg, nil
}
