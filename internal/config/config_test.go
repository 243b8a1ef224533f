package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Redis.PermissionTTL)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, "messages", cfg.Storage.Namespace)
	assert.Equal(t, 20, cfg.Messaging.MessagePageSize)
	assert.Equal(t, 10, cfg.Messaging.SidebarPageSize)
	assert.Equal(t, 5, cfg.Messaging.MaxAttachments)
	assert.False(t, cfg.Jobs.Enabled)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "teamdesk.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9000

[storage]
driver = "s3"
bucket = "attachments"

[messaging]
max_page_size = 50
`), 0644))

	t.Setenv("JWT_SECRET", "alias-secret")
	t.Setenv("TEAMDESK_SERVER_PORT", "9100")
	t.Setenv("TEAMDESK_STORAGE_ACCESS_KEY_ID", "AKIA")
	t.Setenv("TEAMDESK_JOBS_ENABLED", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "s3", cfg.Storage.Driver)
	assert.Equal(t, "attachments", cfg.Storage.Bucket)
	assert.Equal(t, "AKIA", cfg.Storage.AccessKeyID)
	assert.Equal(t, 50, cfg.Messaging.MaxPageSize)
	assert.Equal(t, "alias-secret", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Jobs.Enabled)
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TEAMDESK_LOG_LEVEL=debug\nTEAMDESK_LOG_FORMAT=console\n"), 0644))

	t.Setenv("TEAMDESK_LOG_LEVEL", "warn")
	t.Setenv("TEAMDESK_LOG_FORMAT", "")
	require.NoError(t, os.Unsetenv("TEAMDESK_LOG_FORMAT"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "warn", os.Getenv("TEAMDESK_LOG_LEVEL"))
	assert.Equal(t, "console", os.Getenv("TEAMDESK_LOG_FORMAT"))
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.Database.URL = ""
	cfg.Auth.JWTSecret = ""
	cfg.Storage.Driver = "s3"

	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database url is required")
	assert.Contains(t, err.Error(), "jwt_secret is required")
	assert.Contains(t, err.Error(), "bucket is required")

	cfg.Database.URL = "postgres://localhost/teamdesk"
	cfg.Auth.JWTSecret = "secret"
	cfg.Storage.Bucket = "attachments"
	assert.NoError(t, Validate(cfg))
}

func TestInitConfig_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teamdesk.toml")
	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.Storage.Driver)
	assert.NoError(t, Validate(cfg))
}
