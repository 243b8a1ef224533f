package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/teamdesk/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required settings that are missing
	Present  map[string]string // Settings that are set (masked values)
	Warnings []string          // Non-fatal warnings
	Driver   string            // Storage driver in use
}

type setting struct {
	key    string
	value  string
	secret bool
}

// CheckRequiredConfig reports required settings for the selected drivers
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
		Driver:   cfg.Storage.Driver,
	}

	// Always required
	required := []setting{
		{"database.url (DATABASE_URL)", cfg.Database.URL, true},
		{"auth.jwt_secret (JWT_SECRET)", cfg.Auth.JWTSecret, true},
	}
	if cfg.Storage.Driver == "s3" {
		required = append(required,
			setting{"storage.bucket", cfg.Storage.Bucket, false},
			setting{"storage.region", cfg.Storage.Region, false},
		)
	}

	for _, s := range required {
		if s.value == "" {
			result.Missing = append(result.Missing, s.key)
			continue
		}
		result.Present[s.key] = display(s)
	}

	// Optional but good to check
	optional := []setting{
		{"redis.url (REDIS_URL)", cfg.Redis.URL, true},
		{"storage.endpoint", cfg.Storage.Endpoint, false},
		{"storage.access_key_id", cfg.Storage.AccessKeyID, true},
	}
	for _, s := range optional {
		if s.value != "" {
			result.Present[s.key] = display(s)
		}
	}

	if cfg.Redis.URL == "" {
		result.Warnings = append(result.Warnings, "redis.url is empty; permissions are cached per process")
	}
	if !cfg.Jobs.Enabled {
		result.Warnings = append(result.Warnings, "jobs are disabled; attachment cleanup runs inline")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(w io.Writer, result *ConfigCheckResult) {
	fmt.Fprintln(w, "=== Configuration Check ===")
	fmt.Fprintf(w, "Storage driver: %s\n\n", result.Driver)

	if len(result.Missing) > 0 {
		fmt.Fprintln(w, "❌ Missing required settings:")
		for _, v := range result.Missing {
			fmt.Fprintf(w, "   - %s\n", v)
		}
		fmt.Fprintln(w)
	}

	if len(result.Present) > 0 {
		fmt.Fprintln(w, "✓ Configured settings:")
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "   - %s = %s\n", k, result.Present[k])
		}
		fmt.Fprintln(w)
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "⚠ Warning: %s\n", warning)
	}

	if len(result.Missing) == 0 {
		fmt.Fprintln(w, "✓ All required configuration is present")
	}

	fmt.Fprintln(w, "============================")
}

func display(s setting) string {
	if s.secret {
		return maskSecret(s.value)
	}
	return s.value
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}
