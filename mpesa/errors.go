package mpesa

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Configuration and caller-input errors. Handlers map these to operator
// alerts and 4xx responses respectively.
var (
	ErrMissingCredentials = errors.New("mpesa: short code or passkey is not configured")
	ErrInvalidPhone       = errors.New("mpesa: phone number must be a valid Kenyan MSISDN")
	ErrInvalidAmount      = errors.New("mpesa: amount must be at least one whole unit")
)

// AuthError reports a failed token fetch (non-2xx from the OAuth endpoint or
// missing consumer credentials).
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return "mpesa auth failed: consumer key/secret not configured"
	}
	return fmt.Sprintf("mpesa auth failed: status %d: %s", e.StatusCode, e.Body)
}

// RequestError preserves the gateway's error payload for diagnostics. It is
// never swallowed at the initiation boundary.
type RequestError struct {
	StatusCode   int
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Body         string
}

func (e *RequestError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("mpesa request failed: status %d code %s: %s", e.StatusCode, e.ErrorCode, e.ErrorMessage)
	}
	return fmt.Sprintf("mpesa request failed: status %d: %s", e.StatusCode, e.Body)
}

// TimeoutError wraps a deadline hit talking to the gateway. Callers may retry
// initiation; this layer never does.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mpesa %s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func wrapTransportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}
	return fmt.Errorf("mpesa %s: %w", op, err)
}
