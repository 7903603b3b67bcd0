package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := Setup("vaultd", "test", Options{Level: "debug", Output: &buf})
	logger.Debug("position loaded", slog.String("account", "clend1xyz"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"service":  "vaultd",
		"env":      "test",
		"severity": "DEBUG",
		"message":  "position loaded",
		"account":  "clend1xyz",
	} {
		if got, _ := line[key].(string); got != want {
			t.Fatalf("%s: expected %q, got %q", key, want, got)
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp missing from %v", line)
	}
}

func TestSetupWritesRotatingFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "vaultd.log")
	logger := Setup("vaultd", "", Options{File: path, MaxSizeMB: 1, Output: &buf})
	logger.Info("hello")
	if buf.Len() == 0 {
		t.Fatalf("expected stdout copy of the line")
	}
	if matches, _ := filepath.Glob(path); len(matches) != 1 {
		t.Fatalf("expected log file at %s", path)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("auth_secret", "hunter2"); attr.Value.String() != RedactedValue {
		t.Fatalf("expected secret redacted, got %s", attr.Value)
	}
	if attr := MaskField("account", "clend1abc"); attr.Value.String() != "clend1abc" {
		t.Fatalf("expected allowlisted key kept, got %s", attr.Value)
	}
	if attr := MaskField("passphrase", " "); attr.Value.String() != " " {
		t.Fatalf("expected empty value untouched")
	}
	if keys := RedactionAllowlist(); len(keys) == 0 || keys[0] != "account" {
		t.Fatalf("unexpected allowlist %v", keys)
	}
}
