package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces secrets in log lines.
const RedactedValue = "[REDACTED]"

// Secret returns an attribute that never prints value. Empty values stay
// empty so missing configuration remains visible.
func Secret(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// StripCredentials removes the password of a URL or DSN such as
// postgres://user:pw@host/db. Strings that do not parse as URLs with user
// info are returned unchanged.
func StripCredentials(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), RedactedValue)
	}
	return u.String()
}
