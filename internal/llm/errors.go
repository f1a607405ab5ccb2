package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

// TransportError reports a failed call to the generation service: a non-2xx
// status, a network failure or a timeout. Content problems in a 2xx reply are
// not transport errors.
type TransportError struct {
	StatusCode int
	Body       string
	Timeout    bool
	// Retryable hints whether re-invoking the operation may succeed. Nothing
	// retries automatically.
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("generation request timed out: %v", e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("generation request failed: http status %d: %s", e.StatusCode, truncate(e.Body, 200))
	default:
		return fmt.Sprintf("generation request failed: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError builds a TransportError for a non-2xx reply.
func StatusError(status int, body string) *TransportError {
	return &TransportError{
		StatusCode: status,
		Body:       body,
		Retryable:  status == http.StatusTooManyRequests || status >= 500,
	}
}

// NetworkError builds a TransportError for a failed round trip.
func NetworkError(err error) *TransportError {
	timeout := errors.Is(err, context.DeadlineExceeded)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	return &TransportError{
		Timeout:   timeout,
		Retryable: timeout || isTransientNetwork(err),
		Err:       err,
	}
}

func isTransientNetwork(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection reset",
		"connection refused",
		"connection closed",
		"broken pipe",
		"tls handshake timeout",
		"eof",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
