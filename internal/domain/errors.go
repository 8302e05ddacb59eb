package domain

import "fmt"

// maxBodySnippet bounds how much of a remote response body is kept on an
// error for diagnostics.
const maxBodySnippet = 500

// Snippet truncates a response body to the diagnostic limit.
func Snippet(body []byte) string {
	if len(body) > maxBodySnippet {
		return string(body[:maxBodySnippet])
	}
	return string(body)
}

// ConfigError reports a missing or invalid configuration value. It is fatal
// for the operation: the user must supply the value, retrying cannot help.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s not provided", e.Field)
}

// AuthError reports an operation that requires an authenticated session
// while none is present. The caller must log in and retry.
type AuthError struct {
	Op string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: not logged in", e.Op)
}

// ProtocolError reports a remote response whose shape violates the expected
// contract: an HTTP failure during the login handshake, a missing field, or
// a status marker other than the success literal.
type ProtocolError struct {
	Op         string
	StatusCode int    // 0 when the HTTP exchange itself succeeded
	Body       string // truncated to 500 bytes
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d | body=%s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Body)
}

// TransportError reports a failed HTTP exchange outside the login handshake:
// network error, timeout, or non-2xx status.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string // truncated to 500 bytes
	Err        error  // underlying network error, if any
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: status %d | body=%s", e.Op, e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports local or remote data that does not match the expected
// column layout. The dataset on disk is left unmodified.
type ParseError struct {
	Op     string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}
