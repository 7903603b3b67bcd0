package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var redactionAllowlist = map[string]struct{}{
	"service":    {},
	"env":        {},
	"message":    {},
	"severity":   {},
	"timestamp":  {},
	"error":      {},
	"reason":     {},
	"component":  {},
	"method":     {},
	"op":         {},
	"request_id": {},
	"account":    {},
}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RedactionAllowlist returns a sorted copy of the log keys that are allowed to be emitted
// without redaction.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted. Empty values pass through so missing secrets stay visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
