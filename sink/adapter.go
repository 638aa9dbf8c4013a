// Package sink publishes encoded output records and reports, per attempt,
// whether the broker acknowledged them.
package sink

import (
	"context"
	"fmt"

	"streamworker/internal/config"
	"streamworker/internal/record"
)

// Message is one encoded output record.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string][]byte
	Source  record.Position
}

// Adapter is the common behaviour every sink exposes.
//
// Publish hands msg to the driver and returns a pending Delivery that the
// driver resolves exactly once. A non-nil error means msg was never handed
// over; it is a *PublishError or the ctx error.
type Adapter interface {
	Configure(config.Broker, config.Producer) error
	Publish(ctx context.Context, msg Message) (*Delivery, error)
	Close() error // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
