// Package kafka publishes output records to the sink topic through sarama
// or franz-go.
package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/dnwe/otelsarama"
	"go.uber.org/zap"

	"streamworker/internal/config"
	"streamworker/internal/kafkaclient"
	"streamworker/internal/logging"
	"streamworker/internal/telemetry"
	"streamworker/sink"
)

func init() { sink.Register("sarama", func() sink.Adapter { return &saramaDriver{} }) }

// saramaDriver wraps an AsyncProducer. Retries inside sarama are disabled;
// every failure is reported on the Delivery and the caller decides whether
// to publish again. Each ProducerMessage carries its *sink.Delivery in
// Metadata.
type saramaDriver struct {
	topic string
	p     sarama.AsyncProducer
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func (d *saramaDriver) Configure(b config.Broker, c config.Producer) error {
	sc, err := kafkaclient.NewSaramaConfig(b)
	if err != nil {
		return err
	}
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Retry.Max = 0
	sc.Producer.RequiredAcks = kafkaclient.SaramaAcks(c.Acks)
	sc.Producer.Timeout = c.Timeout
	sc.Producer.Compression = kafkaclient.SaramaCompression(c.Compression)
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	p, err := sarama.NewAsyncProducer(b.BrokerList(), sc)
	if err != nil {
		return fmt.Errorf("sarama-sink: producer: %w", err)
	}
	if c.Traced {
		p = otelsarama.WrapAsyncProducer(sc, p)
	}
	d.start(c.Topic, p)
	return nil
}

func (d *saramaDriver) start(topic string, p sarama.AsyncProducer) {
	d.topic, d.p = topic, p
	d.wg.Add(2)
	go d.successes()
	go d.errors()
}

func (d *saramaDriver) Publish(ctx context.Context, msg sink.Message) (*sink.Delivery, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, sink.Permanent(sink.ErrClosed)
	}

	del := sink.NewDelivery(msg)
	pm := &sarama.ProducerMessage{
		Topic:    d.topic,
		Key:      sarama.ByteEncoder(msg.Key),
		Value:    sarama.ByteEncoder(msg.Value),
		Headers:  toRecordHeaders(msg.Headers),
		Metadata: del,
	}
	telemetry.PublishAttempts.WithLabelValues("sarama").Inc()
	select {
	case d.p.Input() <- pm:
		return del, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *saramaDriver) successes() {
	defer d.wg.Done()
	for pm := range d.p.Successes() {
		if del, ok := pm.Metadata.(*sink.Delivery); ok {
			del.Acknowledge(pm.Partition, pm.Offset)
		}
	}
}

func (d *saramaDriver) errors() {
	defer d.wg.Done()
	for pe := range d.p.Errors() {
		del, ok := pe.Msg.Metadata.(*sink.Delivery)
		if !ok {
			logging.L().Warn("sarama-sink: error for untracked message", zap.Error(pe.Err))
			continue
		}
		del.Fail(sink.Classify(pe.Err, kafkaclient.SaramaRetriable))
	}
}

// Close flushes buffered messages; their deliveries resolve before it
// returns.
func (d *saramaDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.p.AsyncClose()
	d.wg.Wait()
	return nil
}

func toRecordHeaders(h map[string][]byte) []sarama.RecordHeader {
	if len(h) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(h))
	for k, v := range h {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: v})
	}
	return out
}
