package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// CodedError carries an application status code alongside an error.
// Codes below 500 mark client/semantic failures (validation, not-found,
// auth) that are terminal and must never be retried; 5xx codes mark
// server-side failures that are safe to retry.
type CodedError struct {
	Code int
	Err  error
}

func (e *CodedError) Error() string {
	return e.Err.Error()
}

func (e *CodedError) Unwrap() error {
	return e.Err
}

// NewCodedError wraps err with an application status code.
func NewCodedError(code int, err error) *CodedError {
	return &CodedError{Code: code, Err: err}
}

// Codef builds a CodedError from a format string.
func Codef(code int, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Err: fmt.Errorf(format, args...)}
}

// ErrorCode returns the application status code in err's chain, or 0 if
// the error carries none.
func ErrorCode(err error) int {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

// IsRetryable reports whether err is safe to retry. Errors coded below
// 500 are terminal. Everything else — explicit 5xx, timeouts, network
// failures, unclassified errors — is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if code := ErrorCode(err); code > 0 {
		return code >= 500
	}

	return true
}

// IsTimeout reports whether err represents a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timed out") ||
		strings.Contains(strings.ToLower(err.Error()), "deadline exceeded")
}

// IsTransientNetwork reports whether err matches common transient
// network failure patterns from wrapped HTTP client errors.
func IsTransientNetwork(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// CodeFromHTTPStatus converts an upstream HTTP response status into an
// application error code: 4xx passes through as terminal, everything
// else maps to 502 so the caller retries.
func CodeFromHTTPStatus(status int) int {
	if status >= 400 && status < 500 && status != 408 && status != 429 {
		return status
	}
	return 502
}
