package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys that identify vault state and request shape are safe to emit verbatim.
var plainKeys = map[string]struct{}{
	"vault_id":  {},
	"operation": {},
	"status":    {},
	"method":    {},
	"route":     {},
	"reason":    {},
	"component": {},
	"error":     {},
}

// Keys whose values never reach the log, whichever call site emits them.
var secretKeys = map[string]struct{}{
	"authorization": {},
	"token":         {},
	"secret":        {},
	"hmac_secret":   {},
	"password":      {},
	"dsn":           {},
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// MaskField returns an attribute for key that carries value only when the key
// is known to be safe.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	if _, ok := plainKeys[normalizeKey(key)]; ok {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// redactSecret masks attributes named like credentials. It runs inside the
// handler so a stray slog.String("dsn", ...) is still caught.
func redactSecret(attr slog.Attr) slog.Attr {
	if _, ok := secretKeys[normalizeKey(attr.Key)]; !ok {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && attr.Value.String() == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
