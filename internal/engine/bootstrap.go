package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"streamworker/internal/config"
	"streamworker/internal/logging"
	"streamworker/internal/pipeline"
	"streamworker/internal/telemetry"
	"streamworker/internal/transform"
	"streamworker/internal/transport"
	"streamworker/sink"
	"streamworker/source/kafka"

	// drivers register themselves
	_ "streamworker/sink/kafka"
	_ "streamworker/sink/stdout"
)

// Bootstrap builds every component in startup order: logging, tracing,
// transform, sink, source, loop, health server. On failure the components
// already built are closed again.
func Bootstrap(ctx context.Context, cfg config.Config, version string) (_ *Engine, err error) {
	logging.Configure(logging.Options{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})

	e := &Engine{cfg: cfg, instanceID: uuid.NewString()}
	defer func() {
		if err != nil {
			e.closeAll(context.WithoutCancel(ctx))
		}
	}()
	log := logging.L().With(zap.String("instance", e.instanceID))

	// 1. tracing
	e.shutdownTracer, err = telemetry.InitTracer(ctx, telemetry.TracingConfig{
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SamplerRatio:   cfg.Tracing.SamplerRatio,
		ServiceName:    "streamworker",
		ServiceVersion: version,
		InstanceID:     e.instanceID,
	})
	if err != nil {
		return nil, err
	}

	// 2. transform
	fn, err := transform.New(transform.Options{Mode: cfg.Transform.Mode, MinAge: cfg.Transform.MinAge})
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}

	broker := cfg.Broker
	broker.ClientID = fmt.Sprintf("%s-%s", broker.ClientID, e.instanceID[:8])

	// 3. sink
	producer := cfg.Producer
	producer.Traced = cfg.Tracing.Endpoint != ""
	if e.snk, err = sink.NewAdapter(producer.Driver); err != nil {
		return nil, err
	}
	if err = e.snk.Configure(broker, producer); err != nil {
		e.snk = nil
		return nil, fmt.Errorf("sink %s: %w", producer.Driver, err)
	}

	// 4. source
	if e.src, err = kafka.NewSource(cfg.Consumer.Driver); err != nil {
		return nil, err
	}
	if err = e.src.Configure(broker, cfg.Consumer); err != nil {
		e.src = nil
		return nil, fmt.Errorf("source %s: %w", cfg.Consumer.Driver, err)
	}

	// 5. loop
	e.loop = pipeline.New(e.src, e.snk, fn, pipeline.OptionsFromConfig(cfg))

	// 6. health
	if cfg.Health.GRPCPort > 0 {
		if e.health, err = transport.StartServer(fmt.Sprintf(":%d", cfg.Health.GRPCPort)); err != nil {
			return nil, err
		}
		e.loop.OnStateChange(func(s pipeline.State) { e.health.SetServing(s.Serving()) })
	}

	log.Info("worker bootstrapped",
		zap.String("version", version),
		zap.String("source", cfg.Consumer.Driver+":"+cfg.Consumer.Topic),
		zap.String("sink", producer.Driver+":"+producer.Topic),
		zap.String("group", cfg.Consumer.GroupID),
		zap.String("transform", cfg.Transform.Mode),
	)
	return e, nil
}
