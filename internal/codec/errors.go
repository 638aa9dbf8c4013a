package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"streamworker/internal/record"
)

// DecodeError reports a malformed source record. It is a per-record fault:
// the record is logged and skipped, consumption continues.
type DecodeError struct {
	Reason string
	Offset int64
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failed at offset %d: %s", e.Offset, e.Reason)
}

// EncodeError reports an output record that cannot be serialised.
type EncodeError struct {
	Reason string
	Source record.Position
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode failed for %s: %s", e.Source, e.Reason)
}

// IsDecodeError reports whether err is, or wraps, a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

type fieldError string

func (e fieldError) Error() string { return string(e) }

func wireError(what string, n int) error {
	return fmt.Errorf("malformed %s: %w", what, protowire.ParseError(n))
}
