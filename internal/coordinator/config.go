package coordinator

import (
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/blake2b"

	"github.com/drand/ceremony/common/log"
)

const (
	// DefaultChunks is the number of chunks of a round.
	DefaultChunks = 1
	// DefaultChallengeSize is the size of generated initial challenges.
	DefaultChallengeSize = 1024
	// DefaultHeartbeatTimeout is how long a contributor may stay silent
	// before it is dropped.
	DefaultHeartbeatTimeout = 2 * time.Minute
	// DefaultUpdateInterval is the pause between two liveness passes.
	DefaultUpdateInterval = 10 * time.Second
	// DefaultRoundHeight is the round the ceremony starts at.
	DefaultRoundHeight = 1
	// DefaultMaxContributors is how many contributors take part in the
	// round at the same time.
	DefaultMaxContributors = 1
	// DefaultMaxClockSkew bounds how far the timestamp of a signed request
	// may be from the coordinator's time.
	DefaultMaxClockSkew = 5 * time.Minute
)

// ConfigOption is a function that applies a specific setting to a Config.
type ConfigOption func(*Config)

// Config holds the settings of a coordinator.
type Config struct {
	clock            clockwork.Clock
	logger           log.Logger
	store            Store
	chunks           uint64
	roundHeight      uint64
	maxContributors  int
	heartbeatTimeout time.Duration
	updateInterval   time.Duration
	adminKey         string
	legacyErrors     bool
	accessLog        io.Writer
	maxClockSkew     time.Duration
	maxConnections   int
	initialChallenge func(chunkID uint64) []byte
}

// NewConfig returns the default configuration updated with opts.
func NewConfig(opts ...ConfigOption) *Config {
	c := &Config{
		clock:            clockwork.NewRealClock(),
		logger:           log.DefaultLogger(),
		chunks:           DefaultChunks,
		roundHeight:      DefaultRoundHeight,
		maxContributors:  DefaultMaxContributors,
		heartbeatTimeout: DefaultHeartbeatTimeout,
		updateInterval:   DefaultUpdateInterval,
		maxClockSkew:     DefaultMaxClockSkew,
		initialChallenge: func(chunkID uint64) []byte {
			return GenerateChallenge(chunkID, DefaultChallengeSize)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewMemStore()
	}
	return c
}

func WithClock(c clockwork.Clock) ConfigOption {
	return func(conf *Config) { conf.clock = c }
}

func WithLogger(l log.Logger) ConfigOption {
	return func(conf *Config) { conf.logger = l }
}

// WithStore sets where contributions are kept. An in memory store is used
// by default.
func WithStore(s Store) ConfigOption {
	return func(conf *Config) { conf.store = s }
}

func WithChunks(n uint64) ConfigOption {
	return func(conf *Config) { conf.chunks = n }
}

func WithRoundHeight(h uint64) ConfigOption {
	return func(conf *Config) { conf.roundHeight = h }
}

func WithMaxContributors(n int) ConfigOption {
	return func(conf *Config) { conf.maxContributors = n }
}

func WithHeartbeatTimeout(d time.Duration) ConfigOption {
	return func(conf *Config) { conf.heartbeatTimeout = d }
}

func WithUpdateInterval(d time.Duration) ConfigOption {
	return func(conf *Config) { conf.updateInterval = d }
}

// WithAdminKey sets the public key allowed to use the administrator routes.
// They are disabled when no key is set.
func WithAdminKey(pubkey string) ConfigOption {
	return func(conf *Config) { conf.adminKey = pubkey }
}

// WithLegacyErrors makes failed requests answer with the plain text bodies
// older contributors match on instead of structured errors.
func WithLegacyErrors(legacy bool) ConfigOption {
	return func(conf *Config) { conf.legacyErrors = legacy }
}

func WithMaxClockSkew(d time.Duration) ConfigOption {
	return func(conf *Config) { conf.maxClockSkew = d }
}

// WithAccessLog writes an access log line in the combined format for every
// request served.
func WithAccessLog(w io.Writer) ConfigOption {
	return func(conf *Config) { conf.accessLog = w }
}

// WithMaxConnections caps the number of simultaneously open client
// connections. Zero means no limit.
func WithMaxConnections(n int) ConfigOption {
	return func(conf *Config) { conf.maxConnections = n }
}

// WithChallengeSize makes the generated initial challenges size bytes long.
func WithChallengeSize(size int) ConfigOption {
	return func(conf *Config) {
		conf.initialChallenge = func(chunkID uint64) []byte {
			return GenerateChallenge(chunkID, size)
		}
	}
}

// WithInitialChallenge sets the challenge of contribution 0 of every chunk.
func WithInitialChallenge(f func(chunkID uint64) []byte) ConfigOption {
	return func(conf *Config) { conf.initialChallenge = f }
}

// GenerateChallenge deterministically expands the chunk id into size bytes.
func GenerateChallenge(chunkID uint64, size int) []byte {
	xof, err := blake2b.NewXOF(blake2b.OutputLengthUnknown, nil)
	if err != nil {
		panic(err)
	}
	_, _ = xof.Write([]byte("ceremony initial challenge"))
	_, _ = xof.Write(contributionKey(0, chunkID, 0))
	out := make([]byte, size)
	if _, err := io.ReadFull(xof, out); err != nil {
		panic(err)
	}
	return out
}
