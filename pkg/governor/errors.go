package governor

import (
	"errors"
	"fmt"
)

// Package errors.
var (
	// ErrNoEndpoints is returned when no RPC endpoints are configured.
	ErrNoEndpoints = errors.New("no RPC endpoints configured")

	// ErrExhausted is returned when a logical call failed definitively:
	// the retry cap was hit with no endpoint rotation available.
	ErrExhausted = errors.New("retries exhausted")
)

// Rate-limit signals from the remote side. -32005 is the Solana
// "node is behind / too many requests" code; 429 shows up both as an
// HTTP status and as an error code in some providers' RPC envelopes.
const (
	codeNodeRateLimited = -32005
	codeTooManyRequests = 429
)

// RPCError represents a JSON-RPC error response.
type RPCError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsRateLimit returns true if the error is an explicit rate-limit
// signal that warrants endpoint rotation and backoff.
func IsRateLimit(err error) bool {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case codeNodeRateLimited, codeTooManyRequests:
			return true
		}
	}
	return false
}

// IsExhausted returns true if the error is a definitive failure from
// the governor rather than a condition it could recover locally.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrExhausted)
}

// isTransport reports whether the error is a transport-level failure
// (could not complete the call or parse the response) as opposed to an
// RPC-level error returned by the remote side.
func isTransport(err error) bool {
	var rpcErr *RPCError
	return err != nil && !errors.As(err, &rpcErr)
}

// permanentError marks an error the governor must surface immediately
// without retrying or recording a failure.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the governor returns it as-is instead of
// treating it as a retryable failure. Used by callers of Do whose
// operations can fail in ways retrying will not fix, such as a
// well-formed upstream response that simply carries no usable data.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
