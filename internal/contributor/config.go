package contributor

import (
	"io"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/drand/ceremony/common/log"
)

const (
	// DefaultPollInterval is the pause between two queue status polls.
	DefaultPollInterval = 10 * time.Second
	// DefaultHeartbeatInterval is the pause between two heartbeats.
	DefaultHeartbeatInterval = 10 * time.Second
	// DefaultSlotDuration is the expected time one queue slot takes, used to
	// estimate the wait.
	DefaultSlotDuration = 5 * time.Minute
	// DefaultMaxHeartbeatFailures is how many consecutive heartbeats may
	// fail before the contribution is abandoned.
	DefaultMaxHeartbeatFailures = 5
	// DefaultMaxAttempts is how many times an attempt that lost its chunk
	// is restarted from the queue.
	DefaultMaxAttempts = 3
)

// ConfigOption is a function that applies a specific setting to a Config.
type ConfigOption func(*Config)

// Config holds the settings of a Contributor.
type Config struct {
	clock                clockwork.Clock
	logger               log.Logger
	pollInterval         time.Duration
	heartbeatInterval    time.Duration
	slotDuration         time.Duration
	maxHeartbeatFailures int
	maxAttempts          int
	artifactsFolder      string
	computer             Computer
	reporter             Reporter
}

// NewConfig returns the default configuration updated with opts.
func NewConfig(opts ...ConfigOption) *Config {
	c := &Config{
		clock:                clockwork.NewRealClock(),
		logger:               log.DefaultLogger(),
		pollInterval:         DefaultPollInterval,
		heartbeatInterval:    DefaultHeartbeatInterval,
		slotDuration:         DefaultSlotDuration,
		maxHeartbeatFailures: DefaultMaxHeartbeatFailures,
		maxAttempts:          DefaultMaxAttempts,
		computer:             DevComputer{},
		reporter:             NewWriterReporter(io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithClock(c clockwork.Clock) ConfigOption {
	return func(conf *Config) { conf.clock = c }
}

func WithLogger(l log.Logger) ConfigOption {
	return func(conf *Config) { conf.logger = l }
}

func WithPollInterval(d time.Duration) ConfigOption {
	return func(conf *Config) { conf.pollInterval = d }
}

func WithHeartbeatInterval(d time.Duration) ConfigOption {
	return func(conf *Config) { conf.heartbeatInterval = d }
}

// WithSlotDuration sets the per position wait estimate.
func WithSlotDuration(d time.Duration) ConfigOption {
	return func(conf *Config) { conf.slotDuration = d }
}

func WithMaxHeartbeatFailures(n int) ConfigOption {
	return func(conf *Config) { conf.maxHeartbeatFailures = n }
}

// WithMaxAttempts bounds how many attempts may lose their chunk and go back
// to the queue before the contribution fails.
func WithMaxAttempts(n int) ConfigOption {
	return func(conf *Config) { conf.maxAttempts = n }
}

// WithArtifactsFolder sets where challenge snapshots and summaries are
// saved. The empty string disables saving.
func WithArtifactsFolder(folder string) ConfigOption {
	return func(conf *Config) { conf.artifactsFolder = folder }
}

func WithComputer(c Computer) ConfigOption {
	return func(conf *Config) { conf.computer = c }
}

func WithReporter(r Reporter) ConfigOption {
	return func(conf *Config) { conf.reporter = r }
}

// PollInterval returns the pause between two queue status polls.
func (c *Config) PollInterval() time.Duration {
	return c.pollInterval
}

// HeartbeatInterval returns the pause between two heartbeats.
func (c *Config) HeartbeatInterval() time.Duration {
	return c.heartbeatInterval
}
