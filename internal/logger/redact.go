package logger

import (
	"log/slog"
	"strings"
)

// Redacted replaces the value of a sensitive attribute.
const Redacted = "[REDACTED]"

// Key fragments that mark an attribute as sensitive. Fingerprints are included: together with a
// login code they bind a token to its requester.
var sensitiveKeyPatterns = []string{
	"token",
	"pepper",
	"authorization",
	"hash",
	"password",
	"secret",
	"fingerprint",
}

func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	key := strings.ToLower(a.Key)
	for _, p := range sensitiveKeyPatterns {
		if strings.Contains(key, p) {
			return slog.String(a.Key, Redacted)
		}
	}
	return a
}
