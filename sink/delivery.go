package sink

import (
	"context"
	"sync"
)

// Outcome is the result of one publish attempt. Err is nil when the broker
// acknowledged the record at Partition/Offset.
type Outcome struct {
	Partition int32
	Offset    int64
	Err       error
}

func (o Outcome) Acknowledged() bool { return o.Err == nil }

// Delivery is a pending publish. Exactly one Resolve takes effect.
type Delivery struct {
	Message Message

	once sync.Once
	done chan struct{}
	out  Outcome
}

func NewDelivery(msg Message) *Delivery {
	return &Delivery{Message: msg, done: make(chan struct{})}
}

// Resolve records o and wakes waiters. It reports whether o was the first
// outcome; later calls are ignored.
func (d *Delivery) Resolve(o Outcome) bool {
	first := false
	d.once.Do(func() {
		d.out = o
		close(d.done)
		first = true
	})
	return first
}

func (d *Delivery) Acknowledge(partition int32, offset int64) bool {
	return d.Resolve(Outcome{Partition: partition, Offset: offset})
}

func (d *Delivery) Fail(err error) bool {
	return d.Resolve(Outcome{Err: err})
}

func (d *Delivery) Done() <-chan struct{} { return d.done }

// Wait blocks until the delivery resolves or ctx ends, in which case it
// returns ctx.Err() and the delivery stays pending.
func (d *Delivery) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-d.done:
		return d.out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
