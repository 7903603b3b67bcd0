package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaultd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv(EnvName, "")
	path := writeConfig(t, "data_dir: /var/lib/clend\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != defaultListen {
		t.Fatalf("listen = %q", cfg.Listen)
	}
	if cfg.Env != "dev" || !cfg.IsDev() {
		t.Fatalf("env = %q", cfg.Env)
	}
	if cfg.Oracle.Keystore != filepath.Join("/var/lib/clend", "oracle.keystore") {
		t.Fatalf("keystore = %q", cfg.Oracle.Keystore)
	}
	if cfg.Relayer.PollInterval != defaultPollInterval {
		t.Fatalf("poll interval = %s", cfg.Relayer.PollInterval)
	}
	if cfg.Relayer.JournalDSN != filepath.Join("/var/lib/clend", "relayer.db") {
		t.Fatalf("journal = %q", cfg.Relayer.JournalDSN)
	}
}

func TestLoadParsesSections(t *testing.T) {
	t.Setenv(EnvName, "")
	path := writeConfig(t, `
listen: 127.0.0.1:9000
env: staging
auth:
  secret: "0123456789abcdef0123"
  issuer: clend
  operators: [" relayer ", ""]
rate_limit:
  requests_per_minute: 120
  burst: 10
relayer:
  enabled: true
  poll_interval: 500ms
  journal_dsn: postgres://relayer@db/clend
pauses:
  Vault: true
telemetry:
  otlp_endpoint: collector:4318
  insecure: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9000" || cfg.Env != "staging" {
		t.Fatalf("unexpected top-level values: %+v", cfg)
	}
	if len(cfg.Auth.Operators) != 1 || cfg.Auth.Operators[0] != "relayer" {
		t.Fatalf("operators = %v", cfg.Auth.Operators)
	}
	if cfg.RateLimit.RequestsPerMinute != 120 || cfg.RateLimit.Burst != 10 {
		t.Fatalf("rate limit = %+v", cfg.RateLimit)
	}
	if !cfg.Relayer.Enabled || cfg.Relayer.PollInterval != 500*time.Millisecond {
		t.Fatalf("relayer = %+v", cfg.Relayer)
	}
	if !cfg.Pauses["vault"] {
		t.Fatalf("pauses = %v", cfg.Pauses)
	}
	if !cfg.Telemetry.Insecure || cfg.Telemetry.OTLPEndpoint != "collector:4318" {
		t.Fatalf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvName, "Production")
	t.Setenv(EnvAuthSecret, "from-environment-secret")
	cfg, err := Parse(strings.NewReader("auth:\n  secret: file-secret-value-1234\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Env != "production" {
		t.Fatalf("env = %q", cfg.Env)
	}
	if cfg.Auth.Secret != "from-environment-secret" {
		t.Fatalf("secret override not applied")
	}
}

func TestValidationFailures(t *testing.T) {
	t.Setenv(EnvName, "")
	t.Setenv(EnvAuthSecret, "")
	cases := map[string]string{
		"unknown key":      "bogus: 1\n",
		"bad listen":       "listen: nowhere\n",
		"short secret":     "auth:\n  secret: short\n",
		"missing secret":   "env: production\n",
		"unknown module":   "pauses:\n  swap: true\n",
		"negative limit":   "rate_limit:\n  burst: -1\n",
		"negative retries": "relayer:\n  max_attempts: -2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestEmptyDocumentUsesDefaults(t *testing.T) {
	t.Setenv(EnvName, "")
	cfg, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Listen != Default().Listen {
		t.Fatalf("listen = %q", cfg.Listen)
	}
}
