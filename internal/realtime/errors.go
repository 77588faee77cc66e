package realtime

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConnected     = errors.New("realtime: not connected")
	ErrConnectionClosed = errors.New("realtime: connection closed")
)

// TransportError wraps a dial, read or write failure. Reconnect recovers
// from it when enabled.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("realtime %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("realtime %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a ping whose pong did not arrive in time.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("realtime %s timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Timeout() bool {
	return true
}
