package pipeline

import (
	"fmt"

	"streamworker/internal/record"
)

// PanicError reports a panic recovered in a lane. It stops the worker.
type PanicError struct {
	Position record.Position
	Value    any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("pipeline: panic processing %s: %v", e.Position, e.Value)
}

// status is how a processed record affects the cursor.
type status int

const (
	statusDone      status = iota // acknowledged, or skipped and so vacuously acknowledged
	statusPermanent               // publish failed for good; policy decides
	statusFatal                   // the worker must stop
	statusAbandoned               // publish cancelled by shutdown
)

type job struct {
	id  uint64
	raw record.Raw
}

type result struct {
	id     uint64
	pos    record.Position
	status status
	err    error
}
