package pipeline

import (
	"time"

	"streamworker/internal/backoff"
	"streamworker/internal/config"
)

type Options struct {
	PollTimeout    time.Duration
	CommitInterval time.Duration
	DrainTimeout   time.Duration
	Concurrency    int
	LaneBuffer     int
	MaxInFlight    int

	PollBackoff    backoff.Config
	PublishBackoff backoff.Config
	OnPermanent    config.PermanentFailurePolicy
}

func OptionsFromConfig(c config.Config) Options {
	return Options{
		PollTimeout:    c.Consumer.PollTimeout,
		CommitInterval: c.Consumer.CommitInterval,
		DrainTimeout:   c.Worker.DrainTimeout,
		Concurrency:    c.Worker.Concurrency,
		LaneBuffer:     c.Worker.LaneBuffer,
		MaxInFlight:    c.Worker.MaxInFlight,
		PollBackoff:    c.Consumer.Backoff,
		PublishBackoff: c.Producer.Backoff,
		OnPermanent:    c.Producer.OnPermanentFailure,
	}
}

func (o *Options) applyDefaults() {
	if o.PollTimeout <= 0 {
		o.PollTimeout = time.Second
	}
	if o.CommitInterval <= 0 {
		o.CommitInterval = 5 * time.Second
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 10 * time.Second
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.LaneBuffer <= 0 {
		o.LaneBuffer = 16
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 256
	}
	if o.OnPermanent == "" {
		o.OnPermanent = config.PolicyWithhold
	}
}
