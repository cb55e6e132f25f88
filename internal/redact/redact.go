// Package redact strips secrets from strings before they are logged. The
// application handles three kinds of material that must never reach log
// output: mailbox passwords, proxy URI credentials, and API auth tokens.
package redact

import "regexp"

// Redaction placeholders
const (
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	TokenPlaceholder      = "[REDACTED_TOKEN]"
)

var (
	// user:pass@ credentials inside any URI (proxy lines, database URLs).
	uriCredsRegex = regexp.MustCompile(`(?i)([a-z][a-z0-9+.-]*://)[^/@\s]+@`)

	// password-style key/value fragments in error text.
	passwordRegex = regexp.MustCompile(`(?i)(password|passwd|pwd)(['"\s:=]+)[^'"&\s]{3,}`)

	// Three-part base64url JWTs.
	jwtRegex = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)

	// bearer tokens in header-ish text.
	bearerRegex = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9_\-.~+/]{8,}`)
)

// String redacts credentials and tokens from the input string.
func String(input string) string {
	if input == "" {
		return input
	}
	result := uriCredsRegex.ReplaceAllString(input, "$1"+CredentialPlaceholder+"@")
	result = passwordRegex.ReplaceAllString(result, "$1$2"+CredentialPlaceholder)
	result = jwtRegex.ReplaceAllString(result, TokenPlaceholder)
	result = bearerRegex.ReplaceAllString(result, "$1"+TokenPlaceholder)
	return result
}

// Error redacts sensitive information from an error's Error() output.
// Returns "" for a nil error.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
