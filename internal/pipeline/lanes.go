package pipeline

import (
	"context"
	"errors"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"streamworker/internal/backoff"
	"streamworker/internal/codec"
	"streamworker/internal/logging"
	"streamworker/internal/record"
	"streamworker/internal/telemetry"
	"streamworker/internal/transform"
	"streamworker/sink"
	"streamworker/source/kafka"
)

// SourceHeader carries the originating position on every output record.
const SourceHeader = "streamworker-source"

// runLane processes jobs one at a time until in is closed, so records of a
// partition are published in offset order.
func (l *Loop) runLane(ctx context.Context, in <-chan job) {
	for j := range in {
		l.results <- l.process(ctx, j)
	}
}

func (l *Loop) process(ctx context.Context, j job) (res result) {
	pos := j.raw.Position
	res = result{id: j.id, pos: pos, status: statusDone}
	log := logging.L().With(zap.Stringer("position", pos))

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in pipeline stage", zap.Any("panic", r), zap.Stack("stack"))
			res.status, res.err = statusFatal, &PanicError{Position: pos, Value: r}
		}
	}()

	if ctx.Err() != nil {
		res.status = statusAbandoned
		return res
	}

	ctx, span := telemetry.Tracer().Start(ctx, "streamworker.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.source.name", pos.Topic),
			attribute.Int("messaging.kafka.partition", int(pos.Partition)),
			attribute.Int64("messaging.kafka.offset", pos.Offset),
		))
	defer span.End()

	dec, err := codec.Decode(j.raw)
	if err != nil {
		telemetry.DecodeFailures.WithLabelValues(pos.Topic).Inc()
		log.Warn("decode failed; record skipped", zap.Error(err))
		span.RecordError(err)
		return res
	}

	out := l.transform(dec)
	telemetry.TransformResults.WithLabelValues(out.Kind.String()).Inc()
	switch out.Kind {
	case transform.KindSkip:
		return res
	case transform.KindFailed:
		log.Warn("transform failed; record skipped",
			zap.String("kind", string(out.Error)), zap.String("reason", out.Reason))
		span.SetStatus(codes.Error, out.Reason)
		return res
	}

	key, value, err := codec.Encode(out.Output)
	if err != nil {
		telemetry.PublishFailures.WithLabelValues("permanent").Inc()
		span.RecordError(err)
		res.status, res.err = statusPermanent, sink.Permanent(err)
		return res
	}

	msg := sink.Message{
		Key:     key,
		Value:   value,
		Headers: map[string][]byte{SourceHeader: []byte(pos.String())},
		Source:  pos,
	}
	err = l.publish(ctx, msg)

	var maxErr *backoff.ErrMaxRetries
	switch {
	case err == nil:
		telemetry.DeliveriesAcked.Inc()
	case ctx.Err() != nil:
		res.status = statusAbandoned
	case errors.As(err, &maxErr):
		span.RecordError(err)
		res.status = statusFatal
		res.err = &kafka.FatalBrokerError{Op: "publish", Err: maxErr.Err, Attempts: maxErr.Attempts}
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "permanent publish failure")
		res.status, res.err = statusPermanent, err
	}
	return res
}

// publish makes one attempt per back-off step and waits for each attempt's
// delivery to resolve.
func (l *Loop) publish(ctx context.Context, msg sink.Message) error {
	return backoff.Execute(ctx, "publish", l.opts.PublishBackoff, func(ctx context.Context) error {
		del, err := l.snk.Publish(ctx, msg)
		if err == nil {
			var out sink.Outcome
			if out, err = del.Wait(ctx); err == nil {
				err = out.Err
			}
		}
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case sink.IsRetryable(err):
			telemetry.PublishFailures.WithLabelValues("retryable").Inc()
			return err
		default:
			telemetry.PublishFailures.WithLabelValues("permanent").Inc()
			logging.L().Error("permanent publish failure",
				zap.Stringer("position", msg.Source), zap.Error(err))
			return backoff.Permanent(err)
		}
	})
}

func partitionLabel(p int32) string { return strconv.Itoa(int(p)) }

// laneFor pins a partition to one lane.
func (l *Loop) laneFor(tp record.TopicPartition) int {
	return int(laneHash(tp) % uint64(len(l.lanes)))
}
