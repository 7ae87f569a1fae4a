package timing

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repository lookups that matched nothing.
var ErrNotFound = errors.New("not found")

// ClientErrorCode classifies terminal scraping-client failures.
type ClientErrorCode string

// Client error codes surfaced after retries are exhausted.
const (
	ClientErrMaxRetries      ClientErrorCode = "MAX_RETRIES_EXCEEDED"
	ClientErrRetryableStatus ClientErrorCode = "RETRYABLE_STATUS"
	ClientErrNotFound        ClientErrorCode = "NOT_FOUND"
	ClientErrUnknown         ClientErrorCode = "UNKNOWN"
)

// ClientError is a terminal fetch failure. It preserves the upstream
// status and request URL for diagnostics.
type ClientError struct {
	Code   ClientErrorCode
	Status int
	URL    string
	Err    error
}

func (e *ClientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("client %s (status=%d url=%s): %v", e.Code, e.Status, e.URL, e.Err)
	}
	return fmt.Sprintf("client %s (status=%d url=%s)", e.Code, e.Status, e.URL)
}

func (e *ClientError) Unwrap() error { return e.Err }

// URLParseError reports a provider URL that could not be resolved.
type URLParseError struct {
	Raw    string
	Reason string
}

func (e *URLParseError) Error() string {
	return fmt.Sprintf("parse provider url %q: %s", e.Raw, e.Reason)
}

// ValidationError reports a single scraped row or lap missing a required
// field. It is recovered locally: the row is skipped and counted, never
// fatal to the whole document.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
}

// GuardrailError reports a pre-flight discovery/apply limit violation,
// raised before any network call or job enqueue.
type GuardrailError struct {
	Rule    string
	Message string
}

func (e *GuardrailError) Error() string {
	return fmt.Sprintf("guardrail %s: %s", e.Rule, e.Message)
}
