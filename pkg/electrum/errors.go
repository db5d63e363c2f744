package electrum

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrTimeout is returned by client implementations when a request hits
	// its deadline. Retryable.
	ErrTimeout = errors.New("request to indexing server timed out")
	// ErrDisconnected is returned when the connection to the indexing
	// server is lost. Retryable.
	ErrDisconnected = errors.New("connection to indexing server lost")
)

// IsRetryable reports whether the error is a transport-level failure worth
// retrying with backoff, as opposed to a protocol or consistency error
// that must be surfaced.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrDisconnected) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
