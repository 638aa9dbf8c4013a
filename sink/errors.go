package sink

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("sink: closed")

// PublishError is a classified publish failure. Retryable failures (broker
// unavailable, leader change, timeouts) are worth another attempt; the rest
// (oversized message, invalid topic, authorization, encode) are not.
type PublishError struct {
	Retryable bool
	Err       error
}

func (e *PublishError) Error() string {
	class := "permanent"
	if e.Retryable {
		class = "retryable"
	}
	return fmt.Sprintf("publish %s: %v", class, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Class is "retryable" or "permanent".
func (e *PublishError) Class() string {
	if e.Retryable {
		return "retryable"
	}
	return "permanent"
}

func Retryable(err error) error { return &PublishError{Retryable: true, Err: err} }
func Permanent(err error) error { return &PublishError{Retryable: false, Err: err} }

// Classify wraps err with retriable's verdict unless it already is a
// *PublishError.
func Classify(err error, retriable func(error) bool) error {
	if err == nil {
		return nil
	}
	var pe *PublishError
	if errors.As(err, &pe) {
		return err
	}
	return &PublishError{Retryable: retriable(err), Err: err}
}

// IsRetryable reports whether err is a retryable *PublishError.
func IsRetryable(err error) bool {
	var pe *PublishError
	return errors.As(err, &pe) && pe.Retryable
}

// IsPermanent reports whether err is a permanent *PublishError.
func IsPermanent(err error) bool {
	var pe *PublishError
	return errors.As(err, &pe) && !pe.Retryable
}
