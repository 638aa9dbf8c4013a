// Package engine wires the worker together and supervises it: it owns
// startup order, the run group and shutdown.
package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"streamworker/internal/config"
	"streamworker/internal/logging"
	"streamworker/internal/pipeline"
	"streamworker/internal/telemetry"
	"streamworker/internal/transport"
	"streamworker/sink"
	"streamworker/source/kafka"
)

type Engine struct {
	cfg        config.Config
	instanceID string

	src    kafka.Source
	snk    sink.Adapter
	loop   *pipeline.Loop
	health *transport.Server

	shutdownTracer func(context.Context) error
}

func (e *Engine) InstanceID() string { return e.instanceID }

// State is the consumer loop's current state.
func (e *Engine) State() pipeline.State { return e.loop.State() }

// Run blocks until ctx is cancelled or a component fails. The loop drains
// and commits before the sink is closed. The error is nil on a graceful
// stop; the loop closes the source itself.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := e.loop.Run(gctx)
		if cerr := e.snk.Close(); cerr != nil {
			logging.L().Warn("sink close failed", zap.Error(cerr))
		}
		e.snk = nil
		if err != nil {
			return err
		}
		// the loop only stops on its own when it fails; stop the rest too
		return context.Canceled
	})

	g.Go(func() error { return telemetry.Serve(gctx, e.cfg.Metrics.Port) })

	if e.health != nil {
		g.Go(func() error {
			logging.L().Info("health service listening", zap.String("addr", e.health.Addr()))
			return e.health.Serve()
		})
		g.Go(func() error {
			<-gctx.Done()
			e.health.Stop()
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		logging.L().Error("worker terminated", zap.Error(err))
	}

	e.closeAll(context.WithoutCancel(ctx))
	return err
}

// closeAll releases whatever is still open. Safe after a partial Bootstrap.
func (e *Engine) closeAll(ctx context.Context) {
	if e.src != nil && e.loop == nil {
		_ = e.src.Close()
	}
	if e.snk != nil {
		_ = e.snk.Close()
		e.snk = nil
	}
	if e.health != nil && e.loop == nil {
		e.health.Stop()
	}
	if e.shutdownTracer != nil {
		if err := e.shutdownTracer(ctx); err != nil {
			logging.L().Warn("tracer shutdown failed", zap.Error(err))
		}
		e.shutdownTracer = nil
	}
	logging.Sync()
}
