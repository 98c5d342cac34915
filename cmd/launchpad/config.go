package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Provider     ProviderConfig     `mapstructure:"provider"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Events       EventsConfig       `mapstructure:"events"`
	Lock         LockConfig         `mapstructure:"lock"`
	Reaper       ReaperConfig       `mapstructure:"reaper"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Log          LogConfig          `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig holds the pub/sub connection. An empty Addr runs single-node:
// events are relayed in-process and locks are local.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// ProviderConfig configures the provider CLI.
type ProviderConfig struct {
	Binary string `mapstructure:"binary"`
	Path   string `mapstructure:"path"`
	Home   string `mapstructure:"home"`
	// WorkDir is the directory the CLI runs in.
	WorkDir string `mapstructure:"workdir"`

	// TokenEnv names the variable the CLI reads its token from.
	TokenEnv string `mapstructure:"token_env"`
	// Token is used for workspaces without an entry in WorkspaceTokens.
	Token           string            `mapstructure:"token"`
	WorkspaceTokens map[string]string `mapstructure:"workspace_tokens"`

	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	DeployTimeout  time.Duration `mapstructure:"deploy_timeout"`
}

// OrchestratorConfig tunes deployment runs.
type OrchestratorConfig struct {
	MaxParallel   int           `mapstructure:"max_parallel"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
	Environment   string        `mapstructure:"environment"`
}

// EventsConfig configures event publishing.
type EventsConfig struct {
	Channel        string        `mapstructure:"channel"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// LockConfig selects the service lock backend.
type LockConfig struct {
	// Backend is "local" or "redis". "redis" requires redis.addr.
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// ReaperConfig configures the abandoned deployment reaper.
type ReaperConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// SharedSecret, when set, must match X-Gateway-Secret on every API call.
	SharedSecret string `mapstructure:"shared_secret"`
	// AllowedOrigins lists browser origins allowed to open event streams.
	// Empty means same-origin only; "*" allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	// Deploy kick-offs return immediately; only /events is long lived and
	// it hijacks the connection.
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.dsn", "./data/launchpad.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("provider.binary", "railway")
	v.SetDefault("provider.path", "/usr/local/bin:/usr/bin:/bin")
	v.SetDefault("provider.home", "")
	v.SetDefault("provider.workdir", "")
	v.SetDefault("provider.token_env", "RAILWAY_TOKEN")
	v.SetDefault("provider.token", "")
	v.SetDefault("provider.command_timeout", "60s")
	v.SetDefault("provider.deploy_timeout", "300s")

	v.SetDefault("orchestrator.max_parallel", 4)
	v.SetDefault("orchestrator.retry_delay", "2s")
	v.SetDefault("orchestrator.max_retry_delay", "30s")
	v.SetDefault("orchestrator.environment", "production")

	v.SetDefault("events.channel", "deployment:events")
	v.SetDefault("events.publish_timeout", "2s")

	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.ttl", "30s")

	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.interval", "60s")
	v.SetDefault("reaper.stale_after", "30m")

	v.SetDefault("auth.shared_secret", "")
	v.SetDefault("auth.allowed_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// Missing file: defaults and environment apply.
		}
	}

	v.SetEnvPrefix("LAUNCHPAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Lock.Backend) {
	case "local":
	case "redis":
		if !c.Redis.Enabled() {
			return fmt.Errorf("lock.backend redis requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown lock.backend %q", c.Lock.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
