// Package pipeline runs the consumer loop: it polls the source, hands each
// record to the lane that owns its partition, and commits offsets only once
// every record at or below them was acknowledged by the sink.
package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"streamworker/internal/backoff"
	"streamworker/internal/config"
	"streamworker/internal/logging"
	"streamworker/internal/record"
	"streamworker/internal/telemetry"
	"streamworker/internal/transform"
	"streamworker/sink"
	"streamworker/source/kafka"
)

const finalCommitTimeout = 5 * time.Second

var errAlreadyRun = errors.New("pipeline: loop already run")

type Loop struct {
	src       kafka.Source
	snk       sink.Adapter
	transform transform.Func
	opts      Options

	state     atomic.Int32
	started   atomic.Bool
	obsMu     sync.Mutex
	observers []func(State)

	// owned by the goroutine running Run
	cursor  *Cursor
	bp      *Controller
	lanes   []chan job
	results chan result
	pending map[uint64]func()
	nextID  uint64
	fatal   error
	lost    int
}

func New(src kafka.Source, snk sink.Adapter, fn transform.Func, opts Options) *Loop {
	opts.applyDefaults()
	l := &Loop{
		src:       src,
		snk:       snk,
		transform: fn,
		opts:      opts,
		cursor:    NewCursor(),
		bp:        NewController(int64(opts.MaxInFlight)),
		lanes:     make([]chan job, opts.Concurrency),
		results:   make(chan result, opts.MaxInFlight),
		pending:   make(map[uint64]func()),
	}
	for i := range l.lanes {
		l.lanes[i] = make(chan job, opts.LaneBuffer)
	}
	return l
}

// Run consumes until ctx is cancelled or a fatal error occurs, then drains
// in-flight records, commits and closes the source. It returns nil on a
// graceful stop.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return errAlreadyRun
	}
	l.setState(StateIdle)
	logging.L().Info("consumer loop starting",
		zap.Int("concurrency", l.opts.Concurrency),
		zap.Int("max_in_flight", l.opts.MaxInFlight),
		zap.String("on_permanent_failure", string(l.opts.OnPermanent)),
	)

	// Publishes outlive ctx until the drain timeout.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	var lanes errgroup.Group
	for _, in := range l.lanes {
		lanes.Go(func() error {
			l.runLane(workCtx, in)
			return nil
		})
	}

	err := l.consume(ctx)
	if err != nil {
		logging.L().Error("consumer loop stopping on fatal error", zap.Error(err))
	}

	l.setState(StateDraining)
	l.drain(cancelWork, &lanes)
	if err == nil && l.fatal != nil {
		err = l.fatal
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalCommitTimeout)
	if cerr := l.commit(cctx); cerr != nil {
		logging.L().Error("final commit failed", zap.Error(cerr))
		if err == nil {
			err = cerr
		}
	}
	cancel()

	if cerr := l.src.Close(); cerr != nil {
		logging.L().Warn("source close failed", zap.Error(cerr))
	}
	l.setState(StateStopped)
	logging.L().Info("consumer loop stopped")
	return err
}

func (l *Loop) consume(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.CommitInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if l.fatal != nil {
			return l.fatal
		}

		l.setState(StatePolling)
		recs, err := l.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if len(recs) > 0 {
			l.setState(StateProcessing)
			l.dispatch(ctx, recs, ticker.C)
		}
		l.collect()

		select {
		case <-ticker.C:
			l.setState(StateCommitting)
			if err := l.commit(ctx); err != nil {
				return err
			}
		default:
		}
	}
}

// poll retries transient broker errors with back-off; exhaustion and
// errors not marked transient become a *kafka.FatalBrokerError.
func (l *Loop) poll(ctx context.Context) ([]record.Raw, error) {
	var recs []record.Raw
	attempts := 0
	err := backoff.Execute(ctx, "poll", l.opts.PollBackoff, func(ctx context.Context) error {
		attempts++
		var err error
		recs, err = l.src.Poll(ctx, l.opts.PollTimeout)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case kafka.IsTransient(err):
			telemetry.PollErrors.WithLabelValues("transient").Inc()
			return err
		default:
			telemetry.PollErrors.WithLabelValues("fatal").Inc()
			return backoff.Permanent(err)
		}
	})
	if err == nil {
		return recs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var maxErr *backoff.ErrMaxRetries
	if errors.As(err, &maxErr) {
		return nil, &kafka.FatalBrokerError{Op: "poll", Err: maxErr.Err, Attempts: maxErr.Attempts}
	}
	return nil, &kafka.FatalBrokerError{Op: "poll", Err: err, Attempts: attempts}
}

// dispatch tracks each record and queues it on its lane. While it waits for
// an in-flight slot or for room on a lane it keeps applying results and
// committing on tick, so one slow partition does not hold back the others.
func (l *Loop) dispatch(ctx context.Context, recs []record.Raw, tick <-chan time.Time) {
	for _, raw := range recs {
		telemetry.RecordsConsumed.WithLabelValues(raw.Topic).Inc()
		for !l.bp.TryAcquire(1) {
			select {
			case r := <-l.results:
				l.apply(r)
			case <-tick:
				if !l.commitTick(ctx) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
		if l.fatal != nil {
			l.bp.Release(1)
			return
		}

		j := job{id: l.nextID, raw: raw}
		l.nextID++
		lane := l.lanes[l.laneFor(raw.TopicPartition())]
		for sent := false; !sent; {
			select {
			case lane <- j:
				sent = true
			case r := <-l.results:
				l.apply(r)
			case <-tick:
				if !l.commitTick(ctx) {
					l.bp.Release(1)
					return
				}
			case <-ctx.Done():
				l.bp.Release(1)
				return
			}
		}
		resolve, tracked := l.cursor.Track(raw.Position)
		if !tracked {
			logging.L().Debug("redelivered offset; processed without tracking", zap.Stringer("position", raw.Position))
		}
		l.pending[j.id] = resolve
		telemetry.InFlight.Inc()
	}
}

// commitTick commits from inside dispatch. A fatal commit error is recorded
// and reported as false.
func (l *Loop) commitTick(ctx context.Context) bool {
	l.setState(StateCommitting)
	err := l.commit(ctx)
	l.setState(StateProcessing)
	if err != nil {
		if l.fatal == nil {
			l.fatal = err
		}
		return false
	}
	return true
}

// collect applies every result that is ready without blocking.
func (l *Loop) collect() {
	for {
		select {
		case r := <-l.results:
			l.apply(r)
		default:
			return
		}
	}
}

func (l *Loop) apply(r result) {
	resolve, ok := l.pending[r.id]
	if !ok {
		return
	}
	delete(l.pending, r.id)
	l.bp.Release(1)
	telemetry.InFlight.Dec()

	switch r.status {
	case statusDone:
		resolve()
	case statusPermanent:
		if l.opts.OnPermanent == config.PolicySkip {
			logging.L().Error("ALERT: permanent publish failure; record skipped",
				zap.Stringer("position", r.pos), zap.Error(r.err))
			resolve()
			return
		}
		if l.cursor.Withhold(r.pos) {
			telemetry.WithheldPartitions.Set(float64(l.cursor.Withheld()))
		}
		logging.L().Error("ALERT: permanent publish failure; partition commits withheld",
			zap.Stringer("position", r.pos), zap.Error(r.err))
	case statusFatal:
		if l.fatal == nil {
			l.fatal = r.err
		}
	case statusAbandoned:
		l.lost++
	}
}

// drain closes lane inputs and waits up to the drain timeout for in-flight
// records. Whatever is still pending then has its publish cancelled and is
// left uncommitted.
func (l *Loop) drain(cancelWork context.CancelFunc, lanes *errgroup.Group) {
	for _, in := range l.lanes {
		close(in)
	}
	timer := time.NewTimer(l.opts.DrainTimeout)
	defer timer.Stop()

	for len(l.pending) > 0 {
		select {
		case r := <-l.results:
			l.apply(r)
		case <-timer.C:
			logging.L().Warn("drain timeout; cancelling in-flight publishes",
				zap.Int("in_flight", len(l.pending)),
				zap.Duration("drain_timeout", l.opts.DrainTimeout))
			cancelWork()
			_ = lanes.Wait()
			l.collect()
			lost := l.lost + len(l.pending)
			telemetry.LostInShutdown.Add(float64(lost))
			logging.L().Warn("records lost in shutdown; they will be redelivered", zap.Int("count", lost))
			return
		}
	}
	cancelWork()
	_ = lanes.Wait()
	l.collect()
}

// commit hands every advanced cursor to the source. Transient failures are
// logged and retried on the next interval.
func (l *Loop) commit(ctx context.Context) error {
	positions := l.cursor.Committable()
	if len(positions) == 0 {
		return nil
	}
	if err := l.src.Commit(ctx, positions); err != nil {
		telemetry.Commits.WithLabelValues("error").Inc()
		if ctx.Err() != nil || kafka.IsTransient(err) {
			logging.L().Warn("offset commit failed; will retry", zap.Error(err))
			return nil
		}
		return &kafka.FatalBrokerError{Op: "commit", Err: err, Attempts: 1}
	}
	telemetry.Commits.WithLabelValues("ok").Inc()
	l.cursor.MarkCommitted(positions)
	for _, p := range positions {
		telemetry.CursorOffset.WithLabelValues(p.Topic, partitionLabel(p.Partition)).Set(float64(p.Offset))
	}
	logging.L().Debug("offsets committed", zap.Any("cursors", positions))
	return nil
}

func laneHash(tp record.TopicPartition) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(tp.Topic)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(tp.Partition))
	_, _ = d.Write(b[:])
	return d.Sum64()
}
