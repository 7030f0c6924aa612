// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config resolves the portal's runtime configuration from the
// environment at startup. Secrets support a /run/secrets/<name> file
// fallback for container deployments. Load never guesses: anything the
// token proxy needs must be present or Validate fails before the server
// accepts traffic.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-playground/validator/v10"
)

// Session store backends accepted by SESSION_BACKEND.
const (
	SessionBackendMemory = "memory"
	SessionBackendBadger = "badger"
)

// DefaultMaxContextBytes bounds the flattened dataset text embedded in
// each chat prompt. Large enough that typical datasets never clamp.
const DefaultMaxContextBytes = 262144

var validate = validator.New()

// Config is the portal's resolved runtime configuration.
type Config struct {
	// Port the HTTP server listens on.
	Port string `validate:"required"`

	// BI identity provider (client-credentials token endpoint).
	BIAuthHost string `validate:"required,url"`
	BITenantID string `validate:"required"`
	BIClientID string `validate:"required"`
	// BIClientSecret stays sealed; opened per token request.
	BIClientSecret *memguard.Enclave `validate:"required"`
	BITokenScope   string            `validate:"required"`

	// BI report API (embed token endpoint).
	BIAPIHost     string `validate:"required,url"`
	BIWorkspaceID string `validate:"required"`
	BIReportID    string `validate:"required"`

	// Dataset grounding for chat.
	DatasetPath     string `validate:"required"`
	DatasetWatch    bool
	MaxContextBytes int `validate:"gt=0"`

	// Session persistence.
	SessionBackend       string `validate:"oneof=memory badger"`
	SessionDBPath        string
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration

	// Chat rate limit in requests per second. Zero disables.
	ChatRateLimitRPS float64 `validate:"gte=0"`
}

// Load resolves the configuration from the environment.
//
// # Outputs
//
//   - *Config: Resolved configuration. Not yet validated; callers run
//     Validate before wiring the server.
//   - error: Non-nil when a present variable fails to parse. Absent
//     variables are left to Validate so one run reports every gap.
func Load() (*Config, error) {
	maxContext, err := parseIntEnv("DATASET_MAX_CONTEXT_BYTES", DefaultMaxContextBytes)
	if err != nil {
		return nil, err
	}
	watch, err := parseBoolEnv("DATASET_WATCH", false)
	if err != nil {
		return nil, err
	}
	sessionTTL, err := parseDurationEnv("SESSION_TTL", 0)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := parseDurationEnv("SESSION_SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	rateLimit, err := parseFloatEnv("CHAT_RATE_LIMIT_RPS", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port: getEnvOrDefault("PORT", "8080"),

		BIAuthHost:   strings.TrimSpace(os.Getenv("BI_AUTH_HOST")),
		BITenantID:   strings.TrimSpace(os.Getenv("BI_TENANT_ID")),
		BIClientID:   strings.TrimSpace(os.Getenv("BI_CLIENT_ID")),
		BITokenScope: strings.TrimSpace(os.Getenv("BI_TOKEN_SCOPE")),

		BIAPIHost:     strings.TrimSpace(os.Getenv("BI_API_HOST")),
		BIWorkspaceID: strings.TrimSpace(os.Getenv("BI_WORKSPACE_ID")),
		BIReportID:    strings.TrimSpace(os.Getenv("BI_REPORT_ID")),

		DatasetPath:     strings.TrimSpace(os.Getenv("DATASET_PATH")),
		DatasetWatch:    watch,
		MaxContextBytes: maxContext,

		SessionBackend:       getEnvOrDefault("SESSION_BACKEND", SessionBackendMemory),
		SessionDBPath:        strings.TrimSpace(os.Getenv("SESSION_DB_PATH")),
		SessionTTL:           sessionTTL,
		SessionSweepInterval: sweepInterval,

		ChatRateLimitRPS: rateLimit,
	}

	if secret := resolveSecret("BI_CLIENT_SECRET", "bi_client_secret"); secret != "" {
		cfg.BIClientSecret = memguard.NewEnclave([]byte(secret))
	}

	return cfg, nil
}

// Validate checks the configuration and returns one error naming every
// missing or malformed field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		fields := make([]string, 0)
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return fmt.Errorf("invalid configuration, check fields: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.SessionBackend == SessionBackendBadger && c.SessionDBPath == "" {
		return fmt.Errorf("SESSION_DB_PATH is required when SESSION_BACKEND=badger")
	}
	return nil
}

// resolveSecret reads an env variable, falling back to the mounted
// /run/secrets/<name> file when the variable is empty.
func resolveSecret(envKey, secretName string) string {
	if value := strings.TrimSpace(os.Getenv(envKey)); value != "" {
		return value
	}
	secretPath := "/run/secrets/" + secretName
	if raw, err := os.ReadFile(secretPath); err == nil {
		slog.Info("Read secret from container secrets", "key", envKey, "path", secretPath)
		return strings.TrimSpace(string(raw))
	}
	return ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
