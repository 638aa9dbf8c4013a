package kafka

import (
	"errors"
	"fmt"
)

var errNoSession = errors.New("no active consumer group session")

// TransientBrokerError wraps a poll or commit failure that may clear up on
// its own (leader election, coordinator move, dropped connection).
type TransientBrokerError struct {
	Op  string
	Err error
}

func (e *TransientBrokerError) Error() string {
	return fmt.Sprintf("kafka %s: transient: %v", e.Op, e.Err)
}
func (e *TransientBrokerError) Unwrap() error { return e.Err }

// FatalBrokerError ends the worker. Attempts is 1 for errors that were not
// retried.
type FatalBrokerError struct {
	Op       string
	Err      error
	Attempts int
}

func (e *FatalBrokerError) Error() string {
	return fmt.Sprintf("kafka %s: fatal after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}
func (e *FatalBrokerError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientBrokerError
	return errors.As(err, &te)
}

func IsFatal(err error) bool {
	var fe *FatalBrokerError
	return errors.As(err, &fe)
}

// classify wraps err as transient when retriable reports so.
func classify(op string, err error, retriable func(error) bool) error {
	if err == nil {
		return nil
	}
	if retriable(err) {
		return &TransientBrokerError{Op: op, Err: err}
	}
	return err
}
