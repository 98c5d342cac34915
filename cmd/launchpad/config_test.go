package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/launchpad/internal/shell/executor"
)

// clearEnv unsets every LAUNCHPAD_ variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "LAUNCHPAD_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "./data/launchpad.db", cfg.Database.DSN)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, "railway", cfg.Provider.Binary)
	assert.Equal(t, "RAILWAY_TOKEN", cfg.Provider.TokenEnv)
	assert.Equal(t, 300*time.Second, cfg.Provider.DeployTimeout)
	assert.Equal(t, 60*time.Second, cfg.Provider.CommandTimeout)
	assert.Equal(t, 4, cfg.Orchestrator.MaxParallel)
	assert.Equal(t, 2*time.Second, cfg.Orchestrator.RetryDelay)
	assert.Equal(t, "production", cfg.Orchestrator.Environment)
	assert.Equal(t, "deployment:events", cfg.Events.Channel)
	assert.Equal(t, "local", cfg.Lock.Backend)
	assert.True(t, cfg.Reaper.Enabled)
	assert.Equal(t, 30*time.Minute, cfg.Reaper.StaleAfter)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Auth.SharedSecret)
	assert.Empty(t, cfg.Auth.AllowedOrigins)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
  shutdown_timeout: 15s

database:
  dsn: "/tmp/test.db"

redis:
  addr: "localhost:6379"

provider:
  token: "shared"
  workspace_tokens:
    ws-1: "tok-1"

orchestrator:
  max_parallel: 8

lock:
  backend: redis
  ttl: 45s

auth:
  allowed_origins:
    - "https://app.example.com"
    - "admin.example.com"

log:
  level: "debug"
  format: "text"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/tmp/test.db", cfg.Database.DSN)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "shared", cfg.Provider.Token)
	assert.Equal(t, map[string]string{"ws-1": "tok-1"}, cfg.Provider.WorkspaceTokens)
	assert.Equal(t, 8, cfg.Orchestrator.MaxParallel)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, 45*time.Second, cfg.Lock.TTL)
	assert.Equal(t, []string{"https://app.example.com", "admin.example.com"}, cfg.Auth.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("LAUNCHPAD_SERVER_PORT", "3000")
	t.Setenv("LAUNCHPAD_DATABASE_DSN", "/custom/path.db")
	t.Setenv("LAUNCHPAD_PROVIDER_TOKEN", "from-env")
	t.Setenv("LAUNCHPAD_ORCHESTRATOR_RETRY_DELAY", "500ms")
	t.Setenv("LAUNCHPAD_AUTH_SHARED_SECRET", "s3cret")
	t.Setenv("LAUNCHPAD_AUTH_ALLOWED_ORIGINS", "app.example.com,admin.example.com")
	t.Setenv("LAUNCHPAD_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.DSN)
	assert.Equal(t, "from-env", cfg.Provider.Token)
	assert.Equal(t, 500*time.Millisecond, cfg.Orchestrator.RetryDelay)
	assert.Equal(t, "s3cret", cfg.Auth.SharedSecret)
	assert.Equal(t, []string{"app.example.com", "admin.example.com"}, cfg.Auth.AllowedOrigins)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

func TestLoadConfig_RedisLockRequiresRedis(t *testing.T) {
	clearEnv(t)
	t.Setenv("LAUNCHPAD_LOCK_BACKEND", "redis")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.addr")
}

func TestLoadConfig_UnknownLockBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("LAUNCHPAD_LOCK_BACKEND", "etcd")

	_, err := LoadConfig("")
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level, format string
	}{
		{"info", "json"},
		{"debug", "text"},
		{"warning", "json"},
		{"error", "json"},
		{"invalid", "json"},
	}
	for _, tt := range tests {
		t.Run(tt.level+"_"+tt.format, func(t *testing.T) {
			logger := SetupLogger(&Config{Log: LogConfig{Level: tt.level, Format: tt.format}})
			assert.NotNil(t, logger)
		})
	}
}

// =============================================================================
// Token Source Tests
// =============================================================================

func TestTokenSource(t *testing.T) {
	ctx := context.Background()

	shared := tokenSource(ProviderConfig{Token: "shared"})
	tok, err := shared.Token(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "shared", tok)

	perWorkspace := tokenSource(ProviderConfig{WorkspaceTokens: map[string]string{"ws-1": "tok-1"}})
	_, err = perWorkspace.Token(ctx, "ws-2")
	assert.ErrorIs(t, err, executor.ErrNoToken)

	both := tokenSource(ProviderConfig{Token: "shared", WorkspaceTokens: map[string]string{"ws-1": "tok-1"}})
	tok, err = both.Token(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	tok, err = both.Token(ctx, "ws-2")
	require.NoError(t, err)
	assert.Equal(t, "shared", tok)

	_, err = tokenSource(ProviderConfig{}).Token(ctx, "ws-1")
	assert.ErrorIs(t, err, executor.ErrNoToken)
}

// =============================================================================
// Auth Warning Tests
// =============================================================================

func TestWarnInsecureAuth(t *testing.T) {
	tests := []struct {
		name  string
		cfg   AuthConfig
		warns []string
	}{
		{"empty secret", AuthConfig{}, []string{"auth.shared_secret is empty"}},
		{"secret set", AuthConfig{SharedSecret: "s3cret"}, nil},
		{"wildcard origin", AuthConfig{SharedSecret: "s3cret", AllowedOrigins: []string{"*"}}, []string{"auth.allowed_origins contains *"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			warnInsecureAuth(tt.cfg, logger)

			if len(tt.warns) == 0 {
				assert.Empty(t, buf.String())
				return
			}
			assert.Contains(t, buf.String(), "level=WARN")
			for _, w := range tt.warns {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}
