package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"streamworker/internal/logging"
)

const namespace = "streamworker"

var (
	RecordsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "records_consumed_total",
		Help: "Records returned by the source poll.",
	}, []string{"topic"})

	DecodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "decode_failures_total",
		Help: "Source records that could not be decoded and were skipped.",
	}, []string{"topic"})

	TransformResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "transform_results_total",
		Help: "Transform outcomes by kind (emit, skip, failed).",
	}, []string{"kind"})

	PublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "publish_attempts_total",
		Help: "Publish attempts by sink driver.",
	}, []string{"driver"})

	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "publish_failures_total",
		Help: "Failed publish attempts by class (retryable, permanent).",
	}, []string{"class"})

	DeliveriesAcked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "deliveries_acknowledged_total",
		Help: "Output records acknowledged by the broker.",
	})

	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "commits_total",
		Help: "Offset commits by result (ok, error).",
	}, []string{"result"})

	CursorOffset = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "cursor_offset",
		Help: "Highest offset safe to commit per partition.",
	}, []string{"topic", "partition"})

	WithheldPartitions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "withheld_partitions",
		Help: "Partitions whose cursor is blocked by a permanent publish failure.",
	})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "in_flight_records",
		Help: "Records dispatched to a lane and not yet resolved.",
	})

	LostInShutdown = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "lost_in_shutdown_total",
		Help: "Records abandoned when the drain timeout expired. They are redelivered on restart.",
	})

	PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "poll_errors_total",
		Help: "Poll errors by class (transient, fatal).",
	}, []string{"class"})

	LoopState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "loop_state",
		Help: "1 for the consumer loop's current state, 0 otherwise.",
	}, []string{"state"})

	BackoffRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "backoff_retries_total",
		Help: "Retries scheduled by back-off, by operation.",
	}, []string{"op"})

	BackoffGiveUps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "backoff_giveups_total",
		Help: "Operations abandoned after the last back-off attempt.",
	}, []string{"op"})
)

// Serve exposes /metrics on port until ctx is done. Port 0 disables it.
func Serve(ctx context.Context, port int) error {
	if port == 0 {
		<-ctx.Done()
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("metrics: listen %s: %w", srv.Addr, err)
	}
	logging.L().Info("metrics listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
