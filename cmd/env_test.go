package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teamdesk/internal/config"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "po****le", maskSecret("postgres://example"))
}

func TestCheckRequiredConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Driver = "s3"
	cfg.Database.URL = "postgres://teamdesk@localhost/teamdesk"

	result := CheckRequiredConfig(cfg)
	assert.Equal(t, []string{"auth.jwt_secret (JWT_SECRET)", "storage.bucket", "storage.region"}, result.Missing)
	assert.Equal(t, "po****sk", result.Present["database.url (DATABASE_URL)"])
	assert.Len(t, result.Warnings, 2)

	var buf bytes.Buffer
	PrintConfigCheck(&buf, result)
	assert.Contains(t, buf.String(), "storage.bucket")
	assert.NotContains(t, buf.String(), "All required configuration is present")

	cfg.Storage.Driver = "local"
	cfg.Auth.JWTSecret = "secret"
	cfg.Redis.URL = "redis://localhost:6379/0"
	cfg.Jobs.Enabled = true
	result = CheckRequiredConfig(cfg)
	assert.Empty(t, result.Missing)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, "****", result.Present["auth.jwt_secret (JWT_SECRET)"])
}

func TestQueueConfigOverrides(t *testing.T) {
	cfg := &config.Config{}
	cfg.Jobs.MaxWorkers = 9
	qc := queueConfig(cfg)
	assert.Equal(t, 9, qc.MaxWorkers)
	assert.Equal(t, 10, qc.MaxAttempts)
}
