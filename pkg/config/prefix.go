package config

import (
	"fmt"
	"strings"
)

// PrefixConfig holds configurable API endpoint prefixes for all route groups.
// This allows flexible API gateway routing and versioning support.
//
// Example environment variables:
//
//	API_PREFIX_VERIFICATION=/api/v1/verification
//	API_PREFIX_WEBHOOK=/webhook
//	API_PREFIX_MFA=/api/v1/mfa
//	API_PREFIX_2FA=/api/v1/2fa
//	API_PREFIX_EVENTS=/api/v1/events
type PrefixConfig struct {
	Verification string // Contact verification endpoints (initiate, verify, resend, status)
	Webhook      string // Provider webhook endpoints (handshake, inbound delivery)
	Mfa          string // Login challenge endpoints (challenge, factor verification)
	TwoFA        string // Second-factor management endpoints (enroll, activate, remove)
	Events       string // Verification outcome SSE endpoints
}

// DefaultPrefixes returns the default v1 prefix configuration.
// Webhooks stay unversioned because provider consoles are configured once.
func DefaultPrefixes() PrefixConfig {
	return PrefixConfig{
		Verification: "/api/v1/verification",
		Webhook:      "/webhook",
		Mfa:          "/api/v1/mfa",
		TwoFA:        "/api/v1/2fa",
		Events:       "/api/v1/events",
	}
}

// BuildPrefixesFromBase builds prefix configuration from a base path.
// The webhook prefix is not rebased; provider callbacks keep a stable path.
func BuildPrefixesFromBase(basePath string) PrefixConfig {
	basePath = strings.TrimSuffix(basePath, "/")

	return PrefixConfig{
		Verification: basePath + "/verification",
		Webhook:      "/webhook",
		Mfa:          basePath + "/mfa",
		TwoFA:        basePath + "/2fa",
		Events:       basePath + "/events",
	}
}

// LoadPrefixConfig loads prefix configuration from environment variables.
//
// Configuration priority (highest to lowest):
//  1. Individual API_PREFIX_* overrides
//  2. API_PREFIX_BASE: base path for all endpoints
//  3. DefaultPrefixes
func LoadPrefixConfig() PrefixConfig {
	defaults := DefaultPrefixes()
	if basePath := GetEnv("API_PREFIX_BASE"); basePath != "" {
		defaults = BuildPrefixesFromBase(basePath)
	}

	return PrefixConfig{
		Verification: GetEnvOrDefault("API_PREFIX_VERIFICATION", defaults.Verification),
		Webhook:      GetEnvOrDefault("API_PREFIX_WEBHOOK", defaults.Webhook),
		Mfa:          GetEnvOrDefault("API_PREFIX_MFA", defaults.Mfa),
		TwoFA:        GetEnvOrDefault("API_PREFIX_2FA", defaults.TwoFA),
		Events:       GetEnvOrDefault("API_PREFIX_EVENTS", defaults.Events),
	}
}

// Validate checks that all prefix paths are non-empty and start with /
func (p PrefixConfig) Validate() error {
	prefixes := map[string]string{
		"Verification": p.Verification,
		"Webhook":      p.Webhook,
		"Mfa":          p.Mfa,
		"TwoFA":        p.TwoFA,
		"Events":       p.Events,
	}

	for name, prefix := range prefixes {
		if prefix == "" {
			return fmt.Errorf("prefix %s is empty", name)
		}
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("prefix %s must start with /: %s", name, prefix)
		}
	}
	return nil
}
