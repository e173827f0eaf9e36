package kafka

import (
	"fmt"
	"time"
)

const (
	PatternSessionLogout  = "session.logout"
	PatternSessionExpired = "session.expired"
	PatternCartRendered   = "cart.rendered"
)

// SessionEvent is published by the storefront's auth service when a browser
// session ends.
type SessionEvent struct {
	Pattern string `json:"pattern"`
	Data    struct {
		SessionID  string    `json:"session_id"`
		UserID     string    `json:"user_id,omitempty"`
		OccurredAt time.Time `json:"occurred_at"`
	} `json:"data"`
}

// CartEvent is a snapshot of a cart after it changed.
type CartEvent struct {
	Pattern string        `json:"pattern"`
	Data    CartEventData `json:"data"`
}

type CartEventData struct {
	SessionID  string    `json:"session_id"`
	Mode       string    `json:"mode"`
	ItemCount  int       `json:"item_count"`
	LineCount  int       `json:"line_count"`
	Total      string    `json:"total"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ErrRetry asks the consumer to process the message again after Delay.
type ErrRetry struct {
	Err   error
	Delay time.Duration
}

func (e *ErrRetry) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *ErrRetry) Unwrap() error {
	return e.Err
}

func NewRetryError(err error, delay time.Duration) *ErrRetry {
	return &ErrRetry{
		Err:   err,
		Delay: delay,
	}
}
