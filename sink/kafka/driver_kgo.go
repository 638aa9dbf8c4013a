package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"

	"streamworker/internal/config"
	"streamworker/internal/kafkaclient"
	"streamworker/internal/telemetry"
	"streamworker/sink"
)

func init() { sink.Register("kgo", func() sink.Adapter { return &kgoDriver{} }) }

// kgoDriver produces through a franz-go client with one attempt per record;
// the promise resolves the Delivery.
type kgoDriver struct {
	topic string
	cl    *kgo.Client

	mu     sync.RWMutex
	closed bool
}

func (d *kgoDriver) Configure(b config.Broker, c config.Producer) error {
	opts := append(kafkaclient.KgoOpts(b),
		kgo.DefaultProduceTopic(c.Topic),
		kgo.RequiredAcks(kafkaclient.KgoAcks(c.Acks)),
		kgo.ProducerBatchCompression(kafkaclient.KgoCompression(c.Compression)),
		kgo.RecordRetries(1),
		kgo.RecordDeliveryTimeout(c.Timeout),
	)
	if c.Acks != "all" {
		opts = append(opts, kgo.DisableIdempotentWrite())
	}
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("kgo-sink: client: %w", err)
	}
	d.topic, d.cl = c.Topic, cl
	return nil
}

func (d *kgoDriver) Publish(ctx context.Context, msg sink.Message) (*sink.Delivery, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, sink.Permanent(sink.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	del := sink.NewDelivery(msg)
	telemetry.PublishAttempts.WithLabelValues("kgo").Inc()
	d.cl.Produce(ctx, toKgoRecord(d.topic, msg), func(r *kgo.Record, err error) {
		if err != nil {
			del.Fail(sink.Classify(err, kafkaclient.KgoRetriable))
			return
		}
		del.Acknowledge(r.Partition, r.Offset)
	})
	return del, nil
}

// Close flushes buffered records and closes the client.
func (d *kgoDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	err := d.cl.Flush(context.Background())
	d.cl.Close()
	return err
}

func toKgoRecord(topic string, msg sink.Message) *kgo.Record {
	r := &kgo.Record{Topic: topic, Key: msg.Key, Value: msg.Value}
	for k, v := range msg.Headers {
		r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: v})
	}
	return r
}
