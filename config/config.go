package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvName       = "CLEND_ENV"
	EnvAuthSecret = "CLEND_AUTH_SECRET"

	defaultListen        = ":8545"
	defaultDataDir       = "./clend-data"
	defaultEnv           = "dev"
	defaultPassphraseEnv = "CLEND_ORACLE_PASSPHRASE"
	defaultPollInterval  = 2 * time.Second
	defaultJournalFile   = "relayer.db"
)

// Config captures the runtime settings for the vault daemon.
type Config struct {
	Listen    string          `yaml:"listen"`
	DataDir   string          `yaml:"data_dir"`
	Env       string          `yaml:"env"`
	Genesis   string          `yaml:"genesis"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Relayer   RelayerConfig   `yaml:"relayer"`
	Pauses    map[string]bool `yaml:"pauses"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AuthConfig configures JWT bearer authentication. An empty secret disables
// authentication and is only accepted in the dev environment.
type AuthConfig struct {
	Secret    string   `yaml:"secret"`
	Issuer    string   `yaml:"issuer"`
	Operators []string `yaml:"operators"`
}

type RateLimitConfig struct {
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

// OracleConfig locates the decryption oracle's signing key.
type OracleConfig struct {
	Keystore      string `yaml:"keystore"`
	PassphraseEnv string `yaml:"passphrase_env"`
}

type RelayerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	JournalDSN   string        `yaml:"journal_dsn"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BatchSize    int           `yaml:"batch_size"`
}

type TelemetryConfig struct {
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Insecure     bool              `yaml:"insecure"`
	Headers      map[string]string `yaml:"headers"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	cfg := Config{}
	cfg.normalize()
	return cfg
}

// Load reads the YAML configuration from disk, applies environment overrides
// and validates the result.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse decodes a configuration document. Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	if env := strings.TrimSpace(os.Getenv(EnvName)); env != "" {
		cfg.Env = env
	}
	if secret := strings.TrimSpace(os.Getenv(EnvAuthSecret)); secret != "" {
		cfg.Auth.Secret = secret
	}
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.Listen = strings.TrimSpace(cfg.Listen)
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env == "" {
		cfg.Env = defaultEnv
	}
	cfg.Genesis = strings.TrimSpace(cfg.Genesis)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)

	cfg.Auth.Secret = strings.TrimSpace(cfg.Auth.Secret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	operators := make([]string, 0, len(cfg.Auth.Operators))
	for _, op := range cfg.Auth.Operators {
		if trimmed := strings.TrimSpace(op); trimmed != "" {
			operators = append(operators, trimmed)
		}
	}
	cfg.Auth.Operators = operators

	cfg.Oracle.Keystore = strings.TrimSpace(cfg.Oracle.Keystore)
	if cfg.Oracle.Keystore == "" {
		cfg.Oracle.Keystore = filepath.Join(cfg.DataDir, "oracle.keystore")
	}
	cfg.Oracle.PassphraseEnv = strings.TrimSpace(cfg.Oracle.PassphraseEnv)
	if cfg.Oracle.PassphraseEnv == "" {
		cfg.Oracle.PassphraseEnv = defaultPassphraseEnv
	}

	if cfg.Relayer.PollInterval <= 0 {
		cfg.Relayer.PollInterval = defaultPollInterval
	}
	cfg.Relayer.JournalDSN = strings.TrimSpace(cfg.Relayer.JournalDSN)
	if cfg.Relayer.JournalDSN == "" {
		cfg.Relayer.JournalDSN = filepath.Join(cfg.DataDir, defaultJournalFile)
	}

	pauses := make(map[string]bool, len(cfg.Pauses))
	for name, paused := range cfg.Pauses {
		pauses[strings.ToLower(strings.TrimSpace(name))] = paused
	}
	cfg.Pauses = pauses

	cfg.Telemetry.OTLPEndpoint = strings.TrimSpace(cfg.Telemetry.OTLPEndpoint)
}

// IsDev reports whether the daemon runs in the development environment.
func (cfg Config) IsDev() bool {
	return cfg.Env == defaultEnv || cfg.Env == "local" || cfg.Env == "test"
}
