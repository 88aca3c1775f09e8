package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/drand/ceremony/common/key"
	"github.com/drand/ceremony/common/log"
	"github.com/drand/ceremony/internal/coordinator"
	"github.com/drand/ceremony/internal/fs"
)

const accessLogPerm = 0600

var listenFlag = &cli.StringFlag{
	Name:    "listen",
	Value:   "127.0.0.1:8080",
	Usage:   "Address the coordinator API listens on.",
	EnvVars: []string{"CEREMONY_LISTEN"},
}

var dbFolderFlag = &cli.StringFlag{
	Name:    "db",
	Usage:   "Folder of the coordinator database. Everything is kept in memory when empty.",
	EnvVars: []string{"CEREMONY_DB"},
}

var adminKeyFlag = &cli.StringFlag{
	Name:    "admin-key",
	Usage:   "Keypair file of the administrator; only its public key is read. Administrator routes are disabled without it.",
	EnvVars: []string{"CEREMONY_ADMIN_KEY"},
}

var chunksFlag = &cli.Uint64Flag{
	Name:    "chunks",
	Value:   coordinator.DefaultChunks,
	Usage:   "Number of chunks of the round.",
	EnvVars: []string{"CEREMONY_CHUNKS"},
}

var roundFlag = &cli.Uint64Flag{
	Name:    "round",
	Value:   coordinator.DefaultRoundHeight,
	Usage:   "Height of the round.",
	EnvVars: []string{"CEREMONY_ROUND"},
}

var challengeSizeFlag = &cli.IntFlag{
	Name:    "challenge-size",
	Value:   coordinator.DefaultChallengeSize,
	Usage:   "Size in bytes of the generated initial challenges.",
	EnvVars: []string{"CEREMONY_CHALLENGE_SIZE"},
}

var maxContributorsFlag = &cli.IntFlag{
	Name:    "max-contributors",
	Value:   coordinator.DefaultMaxContributors,
	Usage:   "How many contributors take part in the round at the same time.",
	EnvVars: []string{"CEREMONY_MAX_CONTRIBUTORS"},
}

var maxConnectionsFlag = &cli.IntFlag{
	Name:    "max-connections",
	Usage:   "Maximum number of simultaneously open client connections, 0 for no limit.",
	EnvVars: []string{"CEREMONY_MAX_CONNECTIONS"},
}

var heartbeatTimeoutFlag = &cli.DurationFlag{
	Name:    "heartbeat-timeout",
	Value:   coordinator.DefaultHeartbeatTimeout,
	Usage:   "How long a contributor may stay silent before being dropped.",
	EnvVars: []string{"CEREMONY_HEARTBEAT_TIMEOUT"},
}

var updateIntervalFlag = &cli.DurationFlag{
	Name:    "update-interval",
	Value:   coordinator.DefaultUpdateInterval,
	Usage:   "Pause between two liveness passes.",
	EnvVars: []string{"CEREMONY_UPDATE_INTERVAL"},
}

var legacyErrorsFlag = &cli.BoolFlag{
	Name:    "legacy-errors",
	Usage:   "Answer failed requests with plain text bodies.",
	EnvVars: []string{"CEREMONY_LEGACY_ERRORS"},
}

var accessLogFlag = &cli.StringFlag{
	Name:    "access-log",
	Usage:   "File to write the access log to, stdout if unset.",
	EnvVars: []string{"CEREMONY_ACCESS_LOG"},
}

var coordinatorCommand = &cli.Command{
	Name:  "coordinator",
	Usage: "Run the reference coordinator.",
	Subcommands: []*cli.Command{
		{
			Name:  "start",
			Usage: "Start the coordinator and serve until interrupted.",
			Flags: toArray(listenFlag, dbFolderFlag, adminKeyFlag, chunksFlag, roundFlag,
				challengeSizeFlag, maxContributorsFlag, maxConnectionsFlag, heartbeatTimeoutFlag,
				updateIntervalFlag, legacyErrorsFlag, accessLogFlag, metricsFlag),
			Before: func(c *cli.Context) error {
				return applyConfigFile(c, "coordinator")
			},
			Action: func(c *cli.Context) error {
				banner(c.App.Writer)
				return startCoordinatorCmd(c, newLogger(c, log.InfoLevel))
			},
		},
	},
}

// coordinatorConfig translates the flags into coordinator options. The
// returned cleanup closes what the options opened.
func coordinatorConfig(c *cli.Context, l log.Logger) (*coordinator.Config, func(), error) {
	opts := []coordinator.ConfigOption{
		coordinator.WithLogger(l),
		coordinator.WithChunks(c.Uint64(chunksFlag.Name)),
		coordinator.WithRoundHeight(c.Uint64(roundFlag.Name)),
		coordinator.WithChallengeSize(c.Int(challengeSizeFlag.Name)),
		coordinator.WithMaxContributors(c.Int(maxContributorsFlag.Name)),
		coordinator.WithMaxConnections(c.Int(maxConnectionsFlag.Name)),
		coordinator.WithHeartbeatTimeout(c.Duration(heartbeatTimeoutFlag.Name)),
		coordinator.WithUpdateInterval(c.Duration(updateIntervalFlag.Name)),
		coordinator.WithLegacyErrors(c.Bool(legacyErrorsFlag.Name)),
	}
	cleanup := func() {}

	if path := c.String(adminKeyFlag.Name); path != "" {
		admin, err := key.Load(path)
		if err != nil {
			return nil, cleanup, fmt.Errorf("loading administrator key: %w", err)
		}
		opts = append(opts, coordinator.WithAdminKey(admin.PublicKey()))
	} else {
		l.Warnw("no administrator key, administrator routes are disabled")
	}

	if folder := c.String(dbFolderFlag.Name); folder != "" {
		folder, err := fs.CreateSecureFolder(folder)
		if err != nil {
			return nil, cleanup, err
		}
		store, err := coordinator.NewBoltStore(l.Named("store"), folder, nil)
		if err != nil {
			return nil, cleanup, fmt.Errorf("opening database: %w", err)
		}
		opts = append(opts, coordinator.WithStore(store))
	}

	if c.IsSet(accessLogFlag.Name) {
		logFile, err := os.OpenFile(c.String(accessLogFlag.Name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, accessLogPerm)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to open access log: %w", err)
		}
		cleanup = func() { _ = logFile.Close() }
		opts = append(opts, coordinator.WithAccessLog(logFile))
	} else {
		opts = append(opts, coordinator.WithAccessLog(c.App.Writer))
	}
	return coordinator.NewConfig(opts...), cleanup, nil
}

func startCoordinatorCmd(c *cli.Context, l log.Logger) error {
	conf, cleanup, err := coordinatorConfig(c, l)
	defer cleanup()
	if err != nil {
		return err
	}
	if err := startMetrics(c, l); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	srv, err := coordinator.NewServer(ctx, conf)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", c.String(listenFlag.Name))
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.App.Writer, "Listening at %s\n", listener.Addr())
	return srv.Serve(ctx, listener)
}
