package config

import (
	"fmt"
	"net"
)

var knownModules = map[string]struct{}{
	"vault":  {},
	"ctoken": {},
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if cfg.Auth.Secret == "" && !cfg.IsDev() {
		return fmt.Errorf("auth: secret required outside dev; set auth.secret or %s", EnvAuthSecret)
	}
	if cfg.Auth.Secret != "" && len(cfg.Auth.Secret) < 16 {
		return fmt.Errorf("auth: secret must be at least 16 bytes")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.Relayer.MaxAttempts < 0 || cfg.Relayer.BatchSize < 0 {
		return fmt.Errorf("relayer: values must not be negative")
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log: rotation values must not be negative")
	}
	for name := range cfg.Pauses {
		if _, ok := knownModules[name]; !ok {
			return fmt.Errorf("pauses: unknown module %q", name)
		}
	}
	return nil
}
