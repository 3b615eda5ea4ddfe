package logging

import (
	"net/url"
	"regexp"

	"go.uber.org/zap"
)

// RedactedText is the replacement text for sensitive data
const RedactedText = "[REDACTED]"

var (
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_.~+/]+=*`)

	// api_key=..., x-api-key: ... and provider key prefixes (sk-..., sk-ant-...)
	apiKeyPattern   = regexp.MustCompile(`(?i)(api[_-]?key|apikey)([=:]\s*)[A-Za-z0-9\-_]{12,}`)
	secretKeyPrefix = regexp.MustCompile(`\bsk-[A-Za-z0-9\-_]{16,}`)

	// user:pass@host in postgres://, nats:// and http(s):// URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`)
)

// SanitizeURL redacts credentials in a connection URL while keeping scheme,
// host and path readable. Strings that do not parse as URLs fall back to
// SanitizeConnectionString.
func SanitizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return SanitizeConnectionString(raw)
	}
	if u.User != nil {
		u.User = url.User(RedactedText)
	}
	q := u.Query()
	for _, key := range []string{"password", "token", "api_key"} {
		if q.Has(key) {
			q.Set(key, RedactedText)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// SanitizeConnectionString removes sensitive data from key=value style
// connection strings and user:pass@host URLs.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")
}

// SanitizeError sanitizes error messages that might contain credentials from
// the database driver, the NATS client or an LLM provider SDK.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}${2}"+RedactedText)
	sanitized = secretKeyPrefix.ReplaceAllString(sanitized, RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")
}

// ErrorField is zap.Error for errors that may carry credentials.
func ErrorField(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String("error", SanitizeError(err))
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
