package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openreliefdata/datahub/pkg/httpclient"
)

// ErrRetriesExhausted marks a terminal fetch failure after the retry budget
// was spent. The last underlying cause is wrapped alongside it.
var ErrRetriesExhausted = errors.New("retries exhausted")

// SourceDisabledError is returned when a fetch targets a source whose
// operator toggle is off. Never retried.
type SourceDisabledError struct {
	SourceID string
}

func (e *SourceDisabledError) Error() string {
	return fmt.Sprintf("source %s is disabled", e.SourceID)
}

// RateLimitedError is returned when the source's admission quota is
// exhausted. The executor does not retry it; callers may try again after
// RetryAfter.
type RateLimitedError struct {
	SourceID   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("source %s is rate limited, retry after %s", e.SourceID, e.RetryAfter)
}

// TransientTransportError wraps a failure worth retrying: timeout,
// connection failure, 5xx, or 429.
type TransientTransportError struct {
	Err error
}

func (e *TransientTransportError) Error() string {
	return fmt.Sprintf("transient transport failure: %v", e.Err)
}

func (e *TransientTransportError) Unwrap() error { return e.Err }

// PermanentTransportError wraps a failure retrying cannot fix: a non-429
// 4xx or a malformed request.
type PermanentTransportError struct {
	Err error
}

func (e *PermanentTransportError) Error() string {
	return fmt.Sprintf("permanent transport failure: %v", e.Err)
}

func (e *PermanentTransportError) Unwrap() error { return e.Err }

// isTransient classifies a transport error. HTTP status codes dominate:
// 5xx and 429 are transient, other 4xx are permanent. Network-level
// timeouts and connection drops are transient.
func isTransient(err error) bool {
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return httpErr.StatusCode >= 500 && httpErr.StatusCode <= 599
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "connection refused", "broken pipe", "eof", "timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
