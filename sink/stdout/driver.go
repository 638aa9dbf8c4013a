// Package stdout is a debug sink: it prints each record and acknowledges
// deliveries in batches or when a flush timer fires.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"streamworker/internal/codec"
	"streamworker/internal/config"
	"streamworker/internal/telemetry"
	"streamworker/sink"
)

type driver struct {
	cfg config.Stdout
	out io.Writer

	mu      sync.Mutex // guards pending, timer, seq, closed
	pending []*sink.Delivery
	timer   *time.Timer // nil → no timer armed
	seq     int64
	closed  bool
}

func (d *driver) Configure(_ config.Broker, c config.Producer) error {
	d.cfg = c.Stdout
	if d.out == nil {
		d.out = os.Stdout
	}
	return nil
}

func (d *driver) Publish(ctx context.Context, msg sink.Message) (*sink.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	telemetry.PublishAttempts.WithLabelValues("stdout").Inc()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, sink.Permanent(sink.ErrClosed)
	}

	d.seq++
	d.print(d.seq, msg)
	del := sink.NewDelivery(msg)
	d.pending = append(d.pending, del)

	/* 1. flush on batch size */
	if d.cfg.AckBatchSize > 0 && len(d.pending) >= d.cfg.AckBatchSize {
		d.flushLocked()
		return del, nil
	}

	/* 2. (re)-arm the one-shot timer if needed */
	if d.cfg.AckFlushMS > 0 && d.timer == nil {
		d.timer = time.AfterFunc(time.Duration(d.cfg.AckFlushMS)*time.Millisecond, d.timerFlush)
	}
	return del, nil
}

func (d *driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
	d.closed = true
	return nil
}

func (d *driver) print(seq int64, msg sink.Message) {
	if !d.cfg.PrintValue {
		fmt.Fprintf(d.out, "[sink %06d] %s\n", seq, msg.Source)
		return
	}
	k, v, err := codec.DecodeSink(msg.Key, msg.Value)
	if err != nil {
		fmt.Fprintf(d.out, "[sink %06d] %s undecodable: %v\n", seq, msg.Source, err)
		return
	}
	fmt.Fprintf(d.out, "[sink %06d] %s key=%d %+v\n", seq, msg.Source, k.ID, v)
}

// called by the background timer goroutine
func (d *driver) timerFlush() {
	d.mu.Lock()
	d.flushLocked()
	d.mu.Unlock()
}

// must be called with d.mu *held*
func (d *driver) flushLocked() {
	start := d.seq - int64(len(d.pending)) + 1
	for i, del := range d.pending {
		del.Acknowledge(0, start+int64(i))
	}
	d.pending = d.pending[:0]
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
