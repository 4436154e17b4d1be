package ali

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const maxSnippet = 900

// ErrNotConfigured is returned when credentials are missing at call time.
var ErrNotConfigured = errors.New("affiliate client not configured")

// NetworkError reports a transport failure that survived every retry.
type NetworkError struct {
	Method   string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("ali %s: network failure after %d attempt(s): %v", e.Method, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UpstreamError means the API answered but rejected the call.
type UpstreamError struct {
	Method  string
	Status  int
	Snippet string
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ali %s error: status=%d %s", e.Method, e.Status, e.Snippet)
	}
	return fmt.Sprintf("ali %s error: %s", e.Method, e.Snippet)
}

func snippet(body []byte) string {
	if len(body) <= maxSnippet {
		return string(body)
	}
	end := maxSnippet
	for end > 0 && !utf8.RuneStart(body[end]) {
		end--
	}
	return string(body[:end])
}
