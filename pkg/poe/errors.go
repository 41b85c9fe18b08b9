package poe

import (
	"errors"
	"fmt"
)

// BotError is returned when communicating with a bot fails in a way that a
// fresh request may fix: a network hiccup, a malformed response before any
// output, or the bot reporting a recoverable error.
type BotError struct {
	Message string
	Err     error
}

func (e *BotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BotError) Unwrap() error {
	return e.Err
}

// BotErrorNoRetry is a BotError that must not be retried: the bot declined
// retry explicitly, or its output was too malformed for a retry to help.
type BotErrorNoRetry struct {
	BotError
}

func noRetryError(message string) *BotErrorNoRetry {
	return &BotErrorNoRetry{BotError{Message: message}}
}

// IsRetryable reports whether re-issuing the request that produced err may
// succeed. Callers can branch on this without transport-specific knowledge.
func IsRetryable(err error) bool {
	var fatal *BotErrorNoRetry
	return err != nil && !errors.As(err, &fatal)
}

// InvalidSettingsError is returned when a bot's settings response fails
// schema validation.
type InvalidSettingsError struct {
	Reason string
	Err    error
}

func (e *InvalidSettingsError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid bot settings: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid bot settings: %s", e.Reason)
}

func (e *InvalidSettingsError) Unwrap() error {
	return e.Err
}
