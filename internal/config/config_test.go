package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimal = `schema_version: v1
broker:
  brokers: "k1:9092, k2:9092,"
consumer:
  group_id: people-worker
  topic: people
producer:
  topic: people-enriched
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streamworker.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Broker.BrokerList(); len(got) != 2 || got[1] != "k2:9092" {
		t.Fatalf("BrokerList = %v", got)
	}
	if cfg.Worker.Concurrency != 4 || cfg.Worker.MaxInFlight != 256 {
		t.Fatalf("worker defaults not applied: %+v", cfg.Worker)
	}
	if cfg.Producer.OnPermanentFailure != PolicyWithhold {
		t.Fatalf("default policy = %q", cfg.Producer.OnPermanentFailure)
	}
	if cfg.Consumer.Backoff.MaxAttempts != cfg.Consumer.PollMaxAttempts {
		t.Fatalf("poll backoff attempts = %d, want %d", cfg.Consumer.Backoff.MaxAttempts, cfg.Consumer.PollMaxAttempts)
	}
	if cfg.Producer.Backoff.MaxAttempts != cfg.Producer.RetryCount()+1 {
		t.Fatalf("publish backoff attempts = %d, want retries+1", cfg.Producer.Backoff.MaxAttempts)
	}
}

func TestLoad_ZeroRetriesMeansSingleAttempt(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal+"  retries: 0\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Producer.RetryCount(); got != 0 {
		t.Fatalf("retries = %d, want 0", got)
	}
	if cfg.Producer.Backoff.MaxAttempts != 1 {
		t.Fatalf("publish attempts = %d, want 1", cfg.Producer.Backoff.MaxAttempts)
	}

	t.Setenv("STREAMWORKER__PRODUCER__RETRIES", "5")
	cfg, err = Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Producer.Backoff.MaxAttempts != 6 {
		t.Fatalf("publish attempts = %d, want 6", cfg.Producer.Backoff.MaxAttempts)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("STREAMWORKER__CONSUMER__GROUP_ID", "from-env")
	t.Setenv("STREAMWORKER__WORKER__CONCURRENCY", "8")
	t.Setenv("STREAMWORKER__WORKER__DRAIN_TIMEOUT", "3s")

	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Consumer.GroupID != "from-env" {
		t.Fatalf("group_id = %q, want from-env", cfg.Consumer.GroupID)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Fatalf("concurrency = %d, want 8", cfg.Worker.Concurrency)
	}
	if cfg.Worker.DrainTimeout != 3*time.Second {
		t.Fatalf("drain_timeout = %v, want 3s", cfg.Worker.DrainTimeout)
	}
}

func TestLoad_MissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("STREAMWORKER__BROKER__BROKERS", "localhost:9092")
	t.Setenv("STREAMWORKER__CONSUMER__GROUP_ID", "g")
	t.Setenv("STREAMWORKER__CONSUMER__TOPIC", "in")
	t.Setenv("STREAMWORKER__PRODUCER__DRIVER", "stdout")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Producer.Driver != "stdout" {
		t.Fatalf("driver = %q", cfg.Producer.Driver)
	}
}

func TestLoad_InvalidSchema(t *testing.T) {
	body := strings.Replace(minimal, "schema_version: v1", "schema_version: v999", 1)
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for invalid schema_version")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"no brokers":        func(c *Config) { c.Broker.Brokers = " , " },
		"bad protocol":      func(c *Config) { c.Broker.SecurityProtocol = "TLS" },
		"sasl without user": func(c *Config) { c.Broker.SecurityProtocol = "SASL_SSL" },
		"no group":          func(c *Config) { c.Consumer.GroupID = "" },
		"bad offset reset":  func(c *Config) { c.Consumer.AutoOffsetReset = "oldest" },
		"bad acks":          func(c *Config) { c.Producer.Acks = "some" },
		"bad policy":        func(c *Config) { c.Producer.OnPermanentFailure = "drop" },
		"concurrency high":  func(c *Config) { c.Worker.Concurrency = 65 },
		"bad mode":          func(c *Config) { c.Transform.Mode = "shout" },
		"bad driver":        func(c *Config) { c.Producer.Driver = "confluent" },
		"negative retries":  func(c *Config) { n := -1; c.Producer.Retries = &n },
		"negative ack batch": func(c *Config) {
			c.Producer.Stdout.AckBatchSize = -1
		},
		"negative ack flush": func(c *Config) {
			c.Producer.Stdout.AckFlushMS = -1
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, minimal))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			mutate(&cfg)
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDumpYAML_RedactsSecrets(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Broker.SASLPass = "hunter2"

	var buf bytes.Buffer
	if err := DumpYAML(&buf, cfg); err != nil {
		t.Fatalf("DumpYAML: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Fatalf("secret leaked:\n%s", out)
	}
	if !strings.Contains(out, "group_id: people-worker") {
		t.Fatalf("dump missing group_id:\n%s", out)
	}
	if cfg.Broker.SASLPass != "hunter2" {
		t.Fatal("Redacted mutated the original")
	}
}
