package crawler

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotInChannel means the caller must join the channel before reading it.
	ErrNotInChannel = errors.New("not in channel")
	// ErrAuth means the credential is missing or rejected. It is fatal.
	ErrAuth = errors.New("authentication failed")
	// ErrCursorStalled means a timestamp lower bound stopped advancing.
	ErrCursorStalled = errors.New("pagination cursor stalled")
)

// ThrottledError reports platform throttling with the advised delay.
type ThrottledError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("throttled, retry after %s: %v", e.RetryAfter, e.Err)
}

func (e *ThrottledError) Unwrap() error { return e.Err }

// APIError is any platform failure that abandons the current fetch.
type APIError struct {
	Op        string
	ChannelID string
	Err       error
}

func (e *APIError) Error() string {
	if e.ChannelID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s channel %s: %v", e.Op, e.ChannelID, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// PersistenceError is a sink failure. The batch was rolled back and the run
// must stop.
type PersistenceError struct {
	Op        string
	ChannelID string
	Err       error
}

func (e *PersistenceError) Error() string {
	if e.ChannelID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s channel %s: %v", e.Op, e.ChannelID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
