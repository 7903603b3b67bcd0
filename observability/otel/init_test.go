package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = secret ,broken, =x,tenant=vault")
	require.Equal(t, map[string]string{"api-key": "secret", "tenant": "vault"}, headers)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg := ConfigFromEnv("vaultd", "dev")
	require.False(t, cfg.Enabled())

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318/")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "authorization=token")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	cfg = ConfigFromEnv("vaultd", "dev")
	require.True(t, cfg.Enabled())
	require.Equal(t, "collector:4318", cfg.Endpoint)
	require.True(t, cfg.Insecure)
	require.Equal(t, "token", cfg.Headers["authorization"])
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "vaultd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)
}
