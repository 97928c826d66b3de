// Package config loads server settings from YAML and FOURINAROW_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// EnvPrefix namespaces environment overrides, e.g. FOURINAROW_AUTH_JWT_SECRET.
const EnvPrefix = "FOURINAROW"

// DevJWTSecret is the built-in signing secret. It must be overridden in
// production.
const DevJWTSecret = "fourinarow-dev-secret"

// Config is the root configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
	Bot         BotConfig         `mapstructure:"bot"`
	Scoring     ScoringConfig     `mapstructure:"scoring"`
	Replay      ReplayConfig      `mapstructure:"replay"`
}

// ServerConfig covers the HTTP/WebSocket listener and the gRPC admin port.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	SendQueueSize   int           `mapstructure:"send_queue_size"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	GRPC            GRPCConfig    `mapstructure:"grpc"`
}

// GRPCConfig configures the health/admin gRPC server.
type GRPCConfig struct {
	Address              string `mapstructure:"address"`
	MaxConcurrentStreams int    `mapstructure:"max_concurrent_streams"`
}

// LoggingConfig selects level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig selects the player store backend.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	URL      string `mapstructure:"url"`
	Path     string `mapstructure:"path"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// AuthConfig configures token signing and password hashing.
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

// MatchmakingConfig configures the waiting queue.
type MatchmakingConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// BotConfig configures the automated opponent.
type BotConfig struct {
	Name     string        `mapstructure:"name"`
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// ScoringConfig sets points awarded per win.
type ScoringConfig struct {
	WinPoints int `mapstructure:"win_points"`
}

// ReplayConfig controls on-disk game replays.
type ReplayConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
}

// Dir returns the replay directory, or "" when replays are disabled.
func (c ReplayConfig) Dir() string {
	if !c.Enabled {
		return ""
	}
	return c.Directory
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_buffer_size", 1024)
	v.SetDefault("server.write_buffer_size", 1024)
	v.SetDefault("server.send_queue_size", 256)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.grpc.address", ":9090")
	v.SetDefault("server.grpc.max_concurrent_streams", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "")
	v.SetDefault("database.path", "fourinarow.db")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)

	v.SetDefault("auth.jwt_secret", DevJWTSecret)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", bcrypt.DefaultCost)

	v.SetDefault("matchmaking.timeout", 10*time.Second)

	v.SetDefault("bot.name", "Bot")
	v.SetDefault("bot.min_delay", 400*time.Millisecond)
	v.SetDefault("bot.max_delay", 1000*time.Millisecond)

	v.SetDefault("scoring.win_points", 1)

	v.SetDefault("replay.enabled", false)
	v.SetDefault("replay.directory", "replays")
}

// newViper reports whether a config file was actually read.
func newViper(path string) (*viper.Viper, bool, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		return v, false, nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return v, false, nil
		}
		return nil, false, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return v, true, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads path (a missing file falls back to defaults) and applies
// environment overrides.
func Load(path string) (*Config, error) {
	v, _, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch loads path and calls onChange with every valid revision written to
// it afterwards. Invalid revisions are logged and skipped.
func Watch(path string, logger *zap.Logger, onChange func(*Config)) (*Config, error) {
	v, found, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		next, err := decode(v)
		if err != nil {
			logger.Warn("ignoring invalid configuration change",
				zap.String("file", e.Name),
				zap.Error(err),
			)
			return
		}
		logger.Info("configuration reloaded",
			zap.String("file", e.Name),
			zap.String("op", e.Op.String()),
		)
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}

// Validate reports every inconsistent setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if c.Server.SendQueueSize <= 0 {
		errs = append(errs, errors.New("server.send_queue_size must be positive"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Server.GRPC.MaxConcurrentStreams <= 0 {
		errs = append(errs, errors.New("server.grpc.max_concurrent_streams must be positive"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for postgres"))
		}
		if c.Database.MinConns > c.Database.MaxConns {
			errs = append(errs, errors.New("database.min_conns exceeds database.max_conns"))
		}
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be postgres or sqlite", c.Database.Driver))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}

	if c.Matchmaking.Timeout <= 0 {
		errs = append(errs, errors.New("matchmaking.timeout must be positive"))
	}

	if c.Bot.MinDelay < 0 {
		errs = append(errs, errors.New("bot.min_delay must not be negative"))
	}
	if c.Bot.MinDelay >= c.Bot.MaxDelay {
		errs = append(errs, errors.New("bot.min_delay must be below bot.max_delay"))
	}

	if c.Scoring.WinPoints < 0 {
		errs = append(errs, errors.New("scoring.win_points must not be negative"))
	}
	if c.Replay.Enabled && c.Replay.Directory == "" {
		errs = append(errs, errors.New("replay.directory is required when replays are enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
