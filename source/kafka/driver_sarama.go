package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"streamworker/internal/config"
	"streamworker/internal/kafkaclient"
	"streamworker/internal/logging"
	"streamworker/internal/record"
)

func init() { Register("sarama", func() Source { return &SaramaDriver{} }) }

// SaramaDriver runs a sarama consumer group in the background. Claimed
// messages are handed to Poll through a buffered channel; Commit marks and
// flushes offsets on the live group session.
type SaramaDriver struct {
	cons  config.Consumer
	cl    sarama.Client
	group sarama.ConsumerGroup

	msgs chan *sarama.ConsumerMessage
	errs chan error

	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	sess sarama.ConsumerGroupSession
}

func (d *SaramaDriver) Configure(b config.Broker, c config.Consumer) error {
	d.init(c)

	sc, err := kafkaclient.NewSaramaConfig(b)
	if err != nil {
		return err
	}
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = false
	switch c.AutoOffsetReset {
	case "latest":
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	sc.ChannelBufferSize = c.MaxPollRecords

	if d.cl, err = sarama.NewClient(b.BrokerList(), sc); err != nil {
		return fmt.Errorf("sarama: client: %w", err)
	}
	if d.group, err = sarama.NewConsumerGroupFromClient(c.GroupID, d.cl); err != nil {
		_ = d.cl.Close()
		return fmt.Errorf("sarama: consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.consume(ctx)
	go d.forwardErrors(ctx)
	return nil
}

func (d *SaramaDriver) init(c config.Consumer) {
	d.cons = c
	d.msgs = make(chan *sarama.ConsumerMessage, c.MaxPollRecords)
	d.errs = make(chan error, 16)
	d.done = make(chan struct{})
}

// consume re-joins the group after every rebalance until ctx is done.
func (d *SaramaDriver) consume(ctx context.Context) {
	defer close(d.done)
	handler := &groupHandler{driver: d}
	for {
		err := d.group.Consume(ctx, []string{d.cons.Topic}, handler)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
			return
		}
		if err != nil {
			d.pushErr(err)
			select {
			case <-time.After(d.cons.Backoff.InitialInterval):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *SaramaDriver) forwardErrors(ctx context.Context) {
	for {
		select {
		case err, ok := <-d.group.Errors():
			if !ok {
				return
			}
			d.pushErr(err)
		case <-ctx.Done():
			return
		}
	}
}

// pushErr keeps the most recent errors; Poll reports one per call.
func (d *SaramaDriver) pushErr(err error) {
	select {
	case d.errs <- err:
	default:
		select {
		case <-d.errs:
		default:
		}
		select {
		case d.errs <- err:
		default:
			logging.L().Warn("sarama-driver: error channel full; dropping", zap.Error(err))
		}
	}
}

// Poll waits up to timeout for the first message, then drains whatever is
// buffered up to consumer.max_poll_records.
func (d *SaramaDriver) Poll(ctx context.Context, timeout time.Duration) ([]record.Raw, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out []record.Raw
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-d.errs:
		return nil, classify("poll", err, kafkaclient.SaramaRetriable)
	case <-timer.C:
		return nil, nil
	case m := <-d.msgs:
		out = append(out, fromSarama(m))
	}
	for len(out) < d.cons.MaxPollRecords {
		select {
		case m := <-d.msgs:
			out = append(out, fromSarama(m))
		default:
			return out, nil
		}
	}
	return out, nil
}

func (d *SaramaDriver) Commit(_ context.Context, cursors []record.Position) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess == nil {
		return &TransientBrokerError{Op: "commit", Err: errNoSession}
	}
	for _, c := range cursors {
		d.sess.MarkOffset(c.Topic, c.Partition, c.Offset+1, "")
	}
	d.sess.Commit()
	return nil
}

func (d *SaramaDriver) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	var errs []error
	if d.group != nil {
		errs = append(errs, d.group.Close())
		<-d.done
	}
	if d.cl != nil && !d.cl.Closed() {
		errs = append(errs, d.cl.Close())
	}
	return errors.Join(errs...)
}

type groupHandler struct {
	driver *SaramaDriver
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.driver.mu.Lock()
	h.driver.sess = sess
	h.driver.mu.Unlock()
	logging.L().Info("sarama-driver: session started",
		zap.String("member", sess.MemberID()),
		zap.Int32("generation", sess.GenerationID()),
		zap.Any("claims", sess.Claims()),
	)
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.driver.mu.Lock()
	if h.driver.sess == sess {
		h.driver.sess = nil
	}
	h.driver.mu.Unlock()
	logging.L().Info("sarama-driver: rebalance, session ended", zap.Int32("generation", sess.GenerationID()))
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.driver.msgs <- msg:
			case <-sess.Context().Done():
				return nil
			}
		}
	}
}

func fromSarama(m *sarama.ConsumerMessage) record.Raw {
	return record.Raw{
		Key:       m.Key,
		Value:     m.Value,
		Headers:   toHeaderMap(m.Headers),
		Timestamp: m.Timestamp,
		Position:  record.Position{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset},
	}
}

func toHeaderMap(src []*sarama.RecordHeader) map[string][]byte {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(src))
	for _, h := range src {
		out[string(h.Key)] = h.Value
	}
	return out
}
