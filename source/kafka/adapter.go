// Package kafka provides the broker side of the consumer loop: drivers that
// poll source records and commit offsets for a consumer group.
package kafka

import (
	"context"
	"time"

	"streamworker/internal/config"
	"streamworker/internal/record"
)

// Source is a consumer-group member with auto-commit disabled.
//
// Poll may return records together with a nil error or no records and an
// error; a *TransientBrokerError is worth retrying, anything else is not.
// Commit receives, per partition, the highest offset that is fully
// processed; drivers commit Offset+1 as the next offset to consume.
type Source interface {
	Configure(config.Broker, config.Consumer) error
	Poll(ctx context.Context, timeout time.Duration) ([]record.Raw, error)
	Commit(ctx context.Context, cursors []record.Position) error
	Close() error
}
