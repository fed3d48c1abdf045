package logging

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys the ledger logs routinely. Anything else passed through MaskField is
// treated as a secret.
var plainKeys = map[string]struct{}{
	"service":  {},
	"env":      {},
	"error":    {},
	"code":     {},
	"method":   {},
	"target":   {},
	"sender":   {},
	"account":  {},
	"asset":    {},
	"amount":   {},
	"hash":     {},
	"nonce":    {},
	"status":   {},
	"listen":   {},
	"driver":   {},
	"chain_id": {},
}

var keywordPassword = regexp.MustCompile(`(?i)(password\s*=\s*)(\S+)`)

// IsPlain reports whether key may be logged without masking.
func IsPlain(key string) bool {
	_, ok := plainKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns an attribute whose value is masked unless key is a known
// plain key. Empty values are kept so missing configuration stays visible.
func MaskField(key, value string) slog.Attr {
	if trimmed := strings.TrimSpace(value); trimmed == "" {
		return slog.String(key, trimmed)
	}
	if IsPlain(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// RedactDSN strips credentials from a database connection string while keeping
// host and database visible. URL and keyword/value forms are both handled.
func RedactDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return trimmed
	}
	if parsed, err := url.Parse(trimmed); err == nil && parsed.Scheme != "" && parsed.Host != "" {
		query := parsed.Query()
		if query.Has("password") {
			query.Del("password")
			parsed.RawQuery = strings.TrimPrefix(query.Encode()+"&password="+RedactedValue, "&")
		}
		if parsed.User == nil {
			return parsed.String()
		}
		if _, has := parsed.User.Password(); !has {
			return parsed.String()
		}
		// RedactedValue is spliced in after the escaped username so the
		// brackets are not percent-encoded.
		parsed.User = url.User(parsed.User.Username())
		prefix := parsed.Scheme + "://" + parsed.User.String()
		return prefix + ":" + RedactedValue + strings.TrimPrefix(parsed.String(), prefix)
	}
	return keywordPassword.ReplaceAllString(trimmed, "${1}"+RedactedValue)
}
