package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"streamworker/internal/config"
	"streamworker/internal/kafkaclient"
	"streamworker/internal/logging"
	"streamworker/internal/record"
)

func init() { Register("kgo", func() Source { return &KgoDriver{} }) }

// KgoDriver is a franz-go group consumer with auto-commit disabled.
type KgoDriver struct {
	cons config.Consumer
	cl   *kgo.Client
}

func (d *KgoDriver) Configure(b config.Broker, c config.Consumer) error {
	d.cons = c
	reset := kgo.NewOffset().AtStart()
	if c.AutoOffsetReset == "latest" {
		reset = kgo.NewOffset().AtEnd()
	}
	opts := append(kafkaclient.KgoOpts(b),
		kgo.ConsumerGroup(c.GroupID),
		kgo.ConsumeTopics(c.Topic),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(reset),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			logging.L().Info("kgo-driver: partitions revoked", zap.Any("partitions", revoked))
		}),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logging.L().Info("kgo-driver: partitions assigned", zap.Any("partitions", assigned))
		}),
	)
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("kgo: client: %w", err)
	}
	d.cl = cl
	return nil
}

// Poll returns whatever records arrived within timeout. Fetch errors are
// reported only when no records came back, so records are never dropped
// because a sibling partition failed.
func (d *KgoDriver) Poll(ctx context.Context, timeout time.Duration) ([]record.Raw, error) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := d.cl.PollRecords(pctx, d.cons.MaxPollRecords)
	if fetches.IsClientClosed() {
		return nil, kgo.ErrClientClosed
	}

	var out []record.Raw
	fetches.EachRecord(func(r *kgo.Record) {
		out = append(out, fromKgo(r))
	})

	var firstErr error
	fetches.EachError(func(topic string, partition int32, err error) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		if firstErr == nil {
			firstErr = err
		}
		logging.L().Warn("kgo-driver: fetch error",
			zap.String("topic", topic), zap.Int32("partition", partition), zap.Error(err))
	})

	if len(out) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, classify("poll", firstErr, kafkaclient.KgoRetriable)
	}
	return out, nil
}

func (d *KgoDriver) Commit(ctx context.Context, cursors []record.Position) error {
	if len(cursors) == 0 {
		return nil
	}
	err := d.cl.CommitRecords(ctx, commitRecords(cursors)...)
	return classify("commit", err, kafkaclient.KgoRetriable)
}

func (d *KgoDriver) Close() error {
	if d.cl != nil {
		d.cl.Close()
	}
	return nil
}

// commitRecords builds the records CommitRecords expects; it commits
// Offset+1 of each.
func commitRecords(cursors []record.Position) []*kgo.Record {
	out := make([]*kgo.Record, 0, len(cursors))
	for _, c := range cursors {
		out = append(out, &kgo.Record{Topic: c.Topic, Partition: c.Partition, Offset: c.Offset, LeaderEpoch: -1})
	}
	return out
}

func fromKgo(r *kgo.Record) record.Raw {
	var headers map[string][]byte
	if len(r.Headers) > 0 {
		headers = make(map[string][]byte, len(r.Headers))
		for _, h := range r.Headers {
			headers[h.Key] = h.Value
		}
	}
	return record.Raw{
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
		Timestamp: r.Timestamp,
		Position:  record.Position{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset},
	}
}
