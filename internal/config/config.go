// Package config loads the worker configuration from an optional YAML file
// and STREAMWORKER__ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"streamworker/internal/backoff"
)

const (
	SupportedSchema = "v1"
	EnvPrefix       = "STREAMWORKER__"
)

type Broker struct {
	Brokers          string `koanf:"brokers" yaml:"brokers"` // comma-separated host:port
	SecurityProtocol string `koanf:"security_protocol" yaml:"security_protocol"`
	SASLMechanism    string `koanf:"sasl_mechanism" yaml:"sasl_mechanism"`
	SASLUser         string `koanf:"sasl_user" yaml:"sasl_user"`
	SASLPass         string `koanf:"sasl_pass" yaml:"sasl_pass"`
	ClientID         string `koanf:"client_id" yaml:"client_id"`
	Version          string `koanf:"version" yaml:"version"`
}

// BrokerList splits Brokers on commas, dropping blanks.
func (b Broker) BrokerList() []string {
	var out []string
	for _, s := range strings.Split(b.Brokers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (b Broker) TLS() bool {
	return b.SecurityProtocol == "SSL" || b.SecurityProtocol == "SASL_SSL"
}

func (b Broker) SASL() bool {
	return b.SecurityProtocol == "SASL_PLAINTEXT" || b.SecurityProtocol == "SASL_SSL"
}

type Consumer struct {
	Driver          string         `koanf:"driver" yaml:"driver"` // sarama|kgo
	GroupID         string         `koanf:"group_id" yaml:"group_id"`
	Topic           string         `koanf:"topic" yaml:"topic"`
	AutoOffsetReset string         `koanf:"auto_offset_reset" yaml:"auto_offset_reset"` // earliest|latest
	PollTimeout     time.Duration  `koanf:"poll_timeout" yaml:"poll_timeout"`
	MaxPollRecords  int            `koanf:"max_poll_records" yaml:"max_poll_records"`
	PollMaxAttempts int            `koanf:"poll_max_attempts" yaml:"poll_max_attempts"`
	CommitInterval  time.Duration  `koanf:"commit_interval" yaml:"commit_interval"`
	Backoff         backoff.Config `koanf:"backoff" yaml:"backoff"`
}

type Stdout struct {
	PrintValue   bool `koanf:"print_value" yaml:"print_value"`
	AckBatchSize int  `koanf:"ack_batch_size" yaml:"ack_batch_size"`
	AckFlushMS   int  `koanf:"ack_flush_ms" yaml:"ack_flush_ms"`
}

type PermanentFailurePolicy string

const (
	PolicyWithhold PermanentFailurePolicy = "withhold"
	PolicySkip     PermanentFailurePolicy = "skip"
)

type Producer struct {
	Driver      string         `koanf:"driver" yaml:"driver"` // sarama|kgo|stdout
	Topic       string         `koanf:"topic" yaml:"topic"`
	Acks        string         `koanf:"acks" yaml:"acks"` // all|leader|none
	Retries     *int           `koanf:"retries" yaml:"retries"` // unset means 3; 0 disables retry
	Timeout     time.Duration  `koanf:"timeout" yaml:"timeout"`
	Compression string         `koanf:"compression" yaml:"compression"`
	Backoff     backoff.Config `koanf:"backoff" yaml:"backoff"`

	OnPermanentFailure PermanentFailurePolicy `koanf:"on_permanent_failure" yaml:"on_permanent_failure"`
	Stdout             Stdout                 `koanf:"stdout" yaml:"stdout"`

	// Traced is set at startup when tracing is enabled.
	Traced bool `koanf:"-" yaml:"-"`
}

const defaultRetries = 3

// RetryCount is the configured publish retry count, or the default when unset.
func (p Producer) RetryCount() int {
	if p.Retries == nil {
		return defaultRetries
	}
	return *p.Retries
}

type Worker struct {
	Concurrency  int           `koanf:"concurrency" yaml:"concurrency"`
	LaneBuffer   int           `koanf:"lane_buffer" yaml:"lane_buffer"`
	MaxInFlight  int           `koanf:"max_in_flight" yaml:"max_in_flight"`
	DrainTimeout time.Duration `koanf:"drain_timeout" yaml:"drain_timeout"`
}

type Transform struct {
	Mode   string `koanf:"mode" yaml:"mode"`
	MinAge int32  `koanf:"min_age" yaml:"min_age"`
}

type Logging struct {
	Level string `koanf:"level" yaml:"level"`
	JSON  bool   `koanf:"json" yaml:"json"`
}

type Metrics struct {
	Port int `koanf:"port" yaml:"port"`
}

type Health struct {
	GRPCPort int `koanf:"grpc_port" yaml:"grpc_port"`
}

type Tracing struct {
	Endpoint     string  `koanf:"endpoint" yaml:"endpoint"`
	Insecure     bool    `koanf:"insecure" yaml:"insecure"`
	SamplerRatio float64 `koanf:"sampler_ratio" yaml:"sampler_ratio"`
}

type Config struct {
	SchemaVersion string    `koanf:"schema_version" yaml:"schema_version"`
	Broker        Broker    `koanf:"broker" yaml:"broker"`
	Consumer      Consumer  `koanf:"consumer" yaml:"consumer"`
	Producer      Producer  `koanf:"producer" yaml:"producer"`
	Worker        Worker    `koanf:"worker" yaml:"worker"`
	Transform     Transform `koanf:"transform" yaml:"transform"`
	Logging       Logging   `koanf:"logging" yaml:"logging"`
	Metrics       Metrics   `koanf:"metrics" yaml:"metrics"`
	Health        Health    `koanf:"health" yaml:"health"`
	Tracing       Tracing   `koanf:"tracing" yaml:"tracing"`
}

// Load merges YAML at path (if present) with env vars, applies defaults and
// validates the result. Env keys use __ for nesting:
// STREAMWORKER__CONSUMER__GROUP_ID.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return Config{}, fmt.Errorf("config: schema_version %q not supported (want %q)", sv, SupportedSchema)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("config: decode: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func (c *Config) ApplyDefaults() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = SupportedSchema
	}
	if c.Broker.SecurityProtocol == "" {
		c.Broker.SecurityProtocol = "PLAINTEXT"
	}
	if c.Broker.SASL() && c.Broker.SASLMechanism == "" {
		c.Broker.SASLMechanism = "PLAIN"
	}
	if c.Broker.ClientID == "" {
		c.Broker.ClientID = "streamworker"
	}
	if c.Broker.Version == "" {
		c.Broker.Version = "3.6.0"
	}

	if c.Consumer.Driver == "" {
		c.Consumer.Driver = "sarama"
	}
	if c.Consumer.AutoOffsetReset == "" {
		c.Consumer.AutoOffsetReset = "earliest"
	}
	if c.Consumer.PollTimeout == 0 {
		c.Consumer.PollTimeout = time.Second
	}
	if c.Consumer.MaxPollRecords == 0 {
		c.Consumer.MaxPollRecords = 500
	}
	if c.Consumer.PollMaxAttempts == 0 {
		c.Consumer.PollMaxAttempts = 5
	}
	if c.Consumer.CommitInterval == 0 {
		c.Consumer.CommitInterval = 5 * time.Second
	}
	c.Consumer.Backoff.MaxAttempts = c.Consumer.PollMaxAttempts
	c.Consumer.Backoff.ApplyDefaults()

	if c.Producer.Driver == "" {
		c.Producer.Driver = "sarama"
	}
	if c.Producer.Acks == "" {
		c.Producer.Acks = "all"
	}
	if c.Producer.Retries == nil {
		n := defaultRetries
		c.Producer.Retries = &n
	}
	if c.Producer.Timeout == 0 {
		c.Producer.Timeout = 10 * time.Second
	}
	if c.Producer.Compression == "" {
		c.Producer.Compression = "none"
	}
	if c.Producer.OnPermanentFailure == "" {
		c.Producer.OnPermanentFailure = PolicyWithhold
	}
	if c.Producer.Stdout.AckBatchSize == 0 {
		c.Producer.Stdout.AckBatchSize = 50
	}
	if c.Producer.Stdout.AckFlushMS == 0 {
		c.Producer.Stdout.AckFlushMS = 100
	}
	c.Producer.Backoff.MaxAttempts = max(c.Producer.RetryCount(), 0) + 1
	c.Producer.Backoff.ApplyDefaults()

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.LaneBuffer == 0 {
		c.Worker.LaneBuffer = 16
	}
	if c.Worker.MaxInFlight == 0 {
		c.Worker.MaxInFlight = 256
	}
	if c.Worker.DrainTimeout == 0 {
		c.Worker.DrainTimeout = 10 * time.Second
	}

	if c.Transform.Mode == "" {
		c.Transform.Mode = "enrich"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Tracing.SamplerRatio == 0 {
		c.Tracing.SamplerRatio = 1
	}
}

// Validate reports the first invalid option.
func (c Config) Validate() error {
	if c.SchemaVersion != SupportedSchema {
		return fmt.Errorf("config: schema_version %q not supported (want %q)", c.SchemaVersion, SupportedSchema)
	}
	if len(c.Broker.BrokerList()) == 0 {
		return errors.New("config: broker.brokers is required")
	}
	switch c.Broker.SecurityProtocol {
	case "PLAINTEXT", "SSL", "SASL_PLAINTEXT", "SASL_SSL":
	default:
		return fmt.Errorf("config: unknown broker.security_protocol %q", c.Broker.SecurityProtocol)
	}
	if c.Broker.SASL() {
		if c.Broker.SASLMechanism != "PLAIN" {
			return fmt.Errorf("config: unsupported broker.sasl_mechanism %q", c.Broker.SASLMechanism)
		}
		if c.Broker.SASLUser == "" {
			return errors.New("config: broker.sasl_user is required for SASL")
		}
	}

	switch c.Consumer.Driver {
	case "sarama", "kgo":
	default:
		return fmt.Errorf("config: unknown consumer.driver %q", c.Consumer.Driver)
	}
	if c.Consumer.GroupID == "" {
		return errors.New("config: consumer.group_id is required")
	}
	if c.Consumer.Topic == "" {
		return errors.New("config: consumer.topic is required")
	}
	if c.Consumer.AutoOffsetReset != "earliest" && c.Consumer.AutoOffsetReset != "latest" {
		return fmt.Errorf("config: consumer.auto_offset_reset must be earliest or latest, got %q", c.Consumer.AutoOffsetReset)
	}
	if c.Consumer.PollTimeout < 0 || c.Consumer.CommitInterval < 0 {
		return errors.New("config: consumer durations must be positive")
	}
	if c.Consumer.MaxPollRecords < 1 || c.Consumer.PollMaxAttempts < 1 {
		return errors.New("config: consumer.max_poll_records and poll_max_attempts must be >= 1")
	}
	if err := c.Consumer.Backoff.Validate(); err != nil {
		return fmt.Errorf("config: consumer.%w", err)
	}

	switch c.Producer.Driver {
	case "sarama", "kgo":
		if c.Producer.Topic == "" {
			return errors.New("config: producer.topic is required")
		}
	case "stdout":
	default:
		return fmt.Errorf("config: unknown producer.driver %q", c.Producer.Driver)
	}
	switch c.Producer.Acks {
	case "all", "leader", "none":
	default:
		return fmt.Errorf("config: producer.acks must be all, leader or none, got %q", c.Producer.Acks)
	}
	switch c.Producer.Compression {
	case "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("config: unknown producer.compression %q", c.Producer.Compression)
	}
	if c.Producer.RetryCount() < 0 {
		return errors.New("config: producer.retries must be >= 0")
	}
	if c.Producer.Stdout.AckBatchSize < 0 || c.Producer.Stdout.AckFlushMS < 0 {
		return errors.New("config: producer.stdout ack_batch_size and ack_flush_ms must be >= 0")
	}
	if c.Producer.Stdout.AckBatchSize == 0 && c.Producer.Stdout.AckFlushMS == 0 {
		return errors.New("config: producer.stdout needs ack_batch_size or ack_flush_ms")
	}
	if c.Producer.Timeout < 0 {
		return errors.New("config: producer.timeout must be positive")
	}
	if c.Producer.OnPermanentFailure != PolicyWithhold && c.Producer.OnPermanentFailure != PolicySkip {
		return fmt.Errorf("config: producer.on_permanent_failure must be withhold or skip, got %q", c.Producer.OnPermanentFailure)
	}
	if err := c.Producer.Backoff.Validate(); err != nil {
		return fmt.Errorf("config: producer.%w", err)
	}

	if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 64 {
		return fmt.Errorf("config: worker.concurrency must be in [1,64], got %d", c.Worker.Concurrency)
	}
	if c.Worker.LaneBuffer < 1 {
		return errors.New("config: worker.lane_buffer must be >= 1")
	}
	if c.Worker.MaxInFlight < 1 {
		return errors.New("config: worker.max_in_flight must be >= 1")
	}
	if c.Worker.DrainTimeout < 0 {
		return errors.New("config: worker.drain_timeout must be positive")
	}

	if c.Transform.Mode != "enrich" && c.Transform.Mode != "identity" {
		return fmt.Errorf("config: unknown transform.mode %q", c.Transform.Mode)
	}
	if c.Transform.MinAge < 0 {
		return errors.New("config: transform.min_age must be >= 0")
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("config: metrics.port out of range: %d", c.Metrics.Port)
	}
	if c.Health.GRPCPort < 0 || c.Health.GRPCPort > 65535 {
		return fmt.Errorf("config: health.grpc_port out of range: %d", c.Health.GRPCPort)
	}
	if c.Tracing.SamplerRatio < 0 || c.Tracing.SamplerRatio > 1 {
		return fmt.Errorf("config: tracing.sampler_ratio must be in [0,1], got %v", c.Tracing.SamplerRatio)
	}
	return nil
}
