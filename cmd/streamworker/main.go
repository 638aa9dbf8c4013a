package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"streamworker/internal/config"
	"streamworker/internal/engine"
	"streamworker/internal/logging"
	"streamworker/internal/transport"
)

var version = "dev"

const (
	exitRuntime = 1
	exitStartup = 2
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	logging.InitFromEnv()

	root := &cobra.Command{
		Use:           "streamworker",
		Short:         "Kafka person-record stream worker",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), configCmd(), healthCmd())

	err := root.Execute()
	if err == nil {
		os.Exit(0)
	}
	code := exitStartup
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
	}
	logging.L().Error("streamworker exited", zap.Int("code", code), zap.Error(err))
	logging.Sync()
	os.Exit(code)
}

func runCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume, transform and republish records until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return &exitError{code: exitStartup, err: err}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := engine.Bootstrap(ctx, cfg, version)
			if err != nil {
				return &exitError{code: exitStartup, err: fmt.Errorf("bootstrap: %w", err)}
			}
			if err := e.Run(ctx); err != nil {
				return &exitError{code: exitRuntime, err: err}
			}
			logging.L().Info("streamworker stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "path to config file (optional)")
	return cmd
}

func configCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return &exitError{code: exitStartup, err: err}
			}
			return config.DumpYAML(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "path to config file (optional)")
	return cmd
}

func healthCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe a running worker's gRPC health service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st, err := transport.Check(ctx, addr, transport.ServiceName)
			if err != nil {
				return &exitError{code: exitRuntime, err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), st.String())
			if st != healthpb.HealthCheckResponse_SERVING {
				return &exitError{code: exitRuntime, err: fmt.Errorf("worker is %s", st)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:7070", "health service address")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "probe timeout")
	return cmd
}
