package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the chat server runtime parameters.
type Config struct {
	ListenAddress       string         `mapstructure:"listen_address"`
	LogLevel            string         `mapstructure:"log_level"`
	ShutdownGracePeriod time.Duration  `mapstructure:"shutdown_grace_period"`
	ClientOrigin        string         `mapstructure:"client_origin"`
	Database            DatabaseConfig `mapstructure:"database"`
	Auth                AuthConfig     `mapstructure:"auth"`
	Socket              SocketConfig   `mapstructure:"socket"`
	Metrics             MetricsConfig  `mapstructure:"metrics"`
	Tracing             TracingConfig  `mapstructure:"tracing"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AuthConfig names the env var that holds the token signing secret; the
// secret itself never lives in a config file.
type AuthConfig struct {
	SecretEnv string        `mapstructure:"secret_env"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type SocketConfig struct {
	SendBuffer int `mapstructure:"send_buffer"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TracingConfig struct {
	Exporter     string `mapstructure:"exporter"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Insecure     bool   `mapstructure:"insecure"`
}

const (
	defaultListenAddress       = "127.0.0.1:3000"
	defaultLogLevel            = "info"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultClientOrigin        = "http://localhost:3000"
	defaultDatabasePath        = "data/chat.db"
	defaultSecretEnv           = "CHAT_JWT_SECRET"
	defaultTokenTTL            = 7 * 24 * time.Hour
	defaultSendBuffer          = 64
	defaultTracingExporter     = "none"
)

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with CHAT_ and override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("client_origin", defaultClientOrigin)
	v.SetDefault("database.path", defaultDatabasePath)
	v.SetDefault("auth.secret_env", defaultSecretEnv)
	v.SetDefault("auth.token_ttl", defaultTokenTTL.String())
	v.SetDefault("socket.send_buffer", defaultSendBuffer)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.exporter", defaultTracingExporter)
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.insecure", false)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	var err error
	if cfg.ShutdownGracePeriod, err = durationOf(v, "shutdown_grace_period"); err != nil {
		return Config{}, err
	}
	if cfg.Auth.TokenTTL, err = durationOf(v, "auth.token_ttl"); err != nil {
		return Config{}, err
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaultDatabasePath
	}
	if cfg.Auth.SecretEnv == "" {
		cfg.Auth.SecretEnv = defaultSecretEnv
	}
	if cfg.Socket.SendBuffer <= 0 {
		cfg.Socket.SendBuffer = defaultSendBuffer
	}
	cfg.Tracing.Exporter = strings.ToLower(cfg.Tracing.Exporter)
	switch cfg.Tracing.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return Config{}, fmt.Errorf("unknown tracing exporter %q", cfg.Tracing.Exporter)
	}

	return cfg, nil
}

// Viper leaves durations as strings; normalize them here.
func durationOf(v *viper.Viper, key string) (time.Duration, error) {
	dur, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return dur, nil
}

// Secret fetches the token signing secret from the configured environment variable.
func (c Config) Secret() ([]byte, error) {
	env := c.Auth.SecretEnv
	if env == "" {
		env = defaultSecretEnv
	}
	val := strings.TrimSpace(getenv(env))
	if val == "" {
		return nil, fmt.Errorf("token secret env %s is empty", env)
	}
	return []byte(val), nil
}

// split out for testing.
var getenv = os.Getenv
