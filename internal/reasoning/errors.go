package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidRequest = errors.New("invalid reasoning request")
	ErrCircuitOpen    = errors.New("circuit breaker open")
)

// Kind classifies a failure for the retry decision.
type Kind int

const (
	KindNetwork Kind = iota
	KindTimeout
	KindRateLimit
	KindAPI
	KindAuthentication
	KindCircuitBreakerOpen
	KindSerialization
	KindCritical
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limit"
	case KindAPI:
		return "api"
	case KindAuthentication:
		return "authentication"
	case KindCircuitBreakerOpen:
		return "circuit_breaker_open"
	case KindSerialization:
		return "serialization"
	case KindCritical:
		return "critical"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Retryable reports whether another attempt may help. API errors are only
// retryable for 5xx statuses.
func (k Kind) Retryable(status int) bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimit:
		return true
	case KindAPI:
		return status >= 500
	default:
		return false
	}
}

type Error struct {
	Kind       Kind
	Status     int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("reasoning ")
	b.WriteString(e.Kind.String())
	if e.Status > 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Retryable() bool { return e.Kind.Retryable(e.Status) }

// Classify maps any error onto the taxonomy. Already classified errors are
// returned unchanged; unknown errors count as network failures.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return &Error{Kind: KindCritical, Err: err}
	case errors.Is(err, ErrCircuitOpen):
		return &Error{Kind: KindCircuitBreakerOpen, Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}

// StatusError classifies a non-2xx HTTP response.
func StatusError(status int, retryAfter time.Duration, message string) *Error {
	e := &Error{Status: status, Message: strings.TrimSpace(message)}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuthentication
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimit
		e.RetryAfter = retryAfter
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Kind = KindTimeout
	default:
		e.Kind = KindAPI
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// ParseRetryAfter accepts delta-seconds or an HTTP date. Unparseable or past
// values yield 0.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
