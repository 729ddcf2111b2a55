package logging

import (
	"log/slog"
	"slices"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// publicKeys lists attributes MaskField passes through. Pool identities and
// amounts are public; credentials and signatures are not. Kept sorted.
var publicKeys = []string{
	"asset",
	"authority",
	"class",
	"component",
	"env",
	"error",
	"fee",
	"height",
	"kind",
	"message",
	"method",
	"nonce",
	"payer",
	"reason",
	"remote",
	"service",
	"severity",
	"timestamp",
	"total",
}

// sensitiveMarkers trigger redaction in every handler built by SetupFormat,
// even when a caller forgets MaskField.
var sensitiveMarkers = []string{"passphrase", "password", "secret", "token", "authorization", "privkey"}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// IsAllowlisted reports whether MaskField emits key verbatim.
func IsAllowlisted(key string) bool {
	_, ok := slices.BinarySearch(publicKeys, normalizeKey(key))
	return ok
}

// RedactionAllowlist returns a copy of the verbatim keys.
func RedactionAllowlist() []string {
	return slices.Clone(publicKeys)
}

func isSensitive(key string) bool {
	normalized := normalizeKey(key)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// MaskValue returns RedactedValue for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField keeps allowlisted keys and masks everything else.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// redactSensitive is installed as a ReplaceAttr hook.
func redactSensitive(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !isSensitive(attr.Key) {
		return attr
	}
	if s := attr.Value.String(); strings.TrimSpace(s) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
