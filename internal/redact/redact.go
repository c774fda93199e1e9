// Package redact scrubs sensitive information from strings before they are
// logged or returned in error responses. Job errors are persisted verbatim
// for operators; everything that leaves the process through logs or HTTP
// goes through this package first.
package redact

import "regexp"

// Redaction placeholders.
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"
	RedactedSQLPlaceholder        = "[REDACTED_SQL]"
	RedactedHostPlaceholder       = "[REDACTED_HOST]"
)

// replacement pairs a pattern with the placeholder that stands in for its
// matches. Order matters: connection strings must go before the bare
// host pattern or the host rule shreds them first.
type replacement struct {
	pattern     *regexp.Regexp
	placeholder string
}

var replacements = []replacement{
	// Database connection strings with inline credentials.
	{regexp.MustCompile(`(?i)(postgres|postgresql|mysql)://[^@\s]+@[^\s]+`), RedactedCredentialPlaceholder},

	// Secrets and API keys in key=value or key: value form.
	{regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password|passwd)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`), RedactedKeyPlaceholder},

	// Signed JWTs (three base64url segments starting with eyJ).
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), RedactedJWTPlaceholder},

	// Filesystem paths, including storage keys resolved to absolute paths.
	{regexp.MustCompile(`(/[\w.-]+){2,}`), RedactedPathPlaceholder},

	// SQL fragments leaked from driver errors.
	{regexp.MustCompile(`(?i)(SELECT|INSERT|UPDATE|DELETE|CREATE|ALTER|DROP)[\s\w,*()]+(?:FROM|INTO|SET|TABLE)[\s\w,*()='"]*`), RedactedSQLPlaceholder},

	// host:port endpoints from dial errors.
	{regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}:\d{1,5}\b`), RedactedHostPlaceholder},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range replacements {
		result = r.pattern.ReplaceAllString(result, r.placeholder)
	}
	return result
}

// Error redacts sensitive information from an error's message. A nil error
// yields the empty string.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
