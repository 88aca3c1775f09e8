// Package cli is the command line interface of the ceremony: the contributor
// commands, the administrator commands and the reference coordinator.
package cli

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"

	"github.com/drand/ceremony/common"
	"github.com/drand/ceremony/common/key"
	"github.com/drand/ceremony/common/log"
	"github.com/drand/ceremony/internal/metrics"
	"github.com/drand/ceremony/internal/metrics/pprof"
)

var SetVersionPrinter sync.Once

func banner(w io.Writer) {
	version := common.GetAppVersion()
	_, _ = fmt.Fprintf(w, "ceremony %s (date %v, commit %v)\n", version.String(), common.BUILDDATE, common.COMMIT)
}

var verboseFlag = &cli.BoolFlag{
	Name:    "verbose",
	Usage:   "If set, verbosity is at the debug level",
	EnvVars: []string{"CEREMONY_VERBOSE"},
}

var jsonFlag = &cli.BoolFlag{
	Name:    "json",
	Usage:   "Set the output as json format",
	EnvVars: []string{"CEREMONY_JSON"},
}

var configFlag = &cli.StringFlag{
	Name: "config",
	Usage: "TOML file supplying default flag values. Each command reads the table named " +
		"after it, e.g. [contribute] or [coordinator].",
	EnvVars: []string{"CEREMONY_CONFIG"},
}

var metricsFlag = &cli.StringFlag{
	Name:    "metrics",
	Usage:   "Launch a metrics server at the specified (host:)port.",
	EnvVars: []string{"CEREMONY_METRICS"},
}

var keyFileFlag = &cli.StringFlag{
	Name:    "key",
	Value:   key.DefaultKeyFile,
	Usage:   "TOML file holding the administrator keypair.",
	EnvVars: []string{"CEREMONY_KEY"},
}

var appCommands = []*cli.Command{
	contributeCommand,
	{
		Name:      "close-ceremony",
		Usage:     "Close the ceremony to new contributors. Administrator only.",
		ArgsUsage: "<coordinator-url>",
		Flags:     toArray(keyFileFlag),
		Before:    checkURLArg,
		Action: func(c *cli.Context) error {
			return closeCeremonyCmd(c, newLogger(c, log.ErrorLevel).Named("admin"))
		},
	},
	{
		Name:      "get-contributions",
		Usage:     "Print every contribution summary received by the coordinator. Administrator only.",
		ArgsUsage: "<coordinator-url>",
		Flags:     toArray(keyFileFlag),
		Before:    checkURLArg,
		Action: func(c *cli.Context) error {
			return getContributionsCmd(c, newLogger(c, log.ErrorLevel).Named("admin"))
		},
	},
	{
		Name:      "verify-contributions",
		Usage:     "Ask the coordinator to verify the pending contributions. Administrator only, for debugging.",
		ArgsUsage: "<coordinator-url>",
		Flags:     toArray(keyFileFlag),
		Before:    checkURLArg,
		Action: func(c *cli.Context) error {
			return verifyContributionsCmd(c, newLogger(c, log.ErrorLevel).Named("admin"))
		},
	},
	{
		Name:      "update-coordinator",
		Usage:     "Force a liveness pass on the coordinator. Administrator only, for debugging.",
		ArgsUsage: "<coordinator-url>",
		Flags:     toArray(keyFileFlag),
		Before:    checkURLArg,
		Action: func(c *cli.Context) error {
			return updateCoordinatorCmd(c, newLogger(c, log.ErrorLevel).Named("admin"))
		},
	},
	generateKeypairCommand,
	coordinatorCommand,
}

// CLI returns the ceremony app.
func CLI() *cli.App {
	version := common.GetAppVersion()

	app := cli.NewApp()
	app.Name = "ceremony"

	SetVersionPrinter.Do(func() {
		cli.VersionPrinter = func(c *cli.Context) {
			banner(c.App.Writer)
		}
	})

	app.ExitErrHandler = func(context *cli.Context, err error) {
		// override to prevent default behavior of calling OS.exit(1),
		// when tests expect to be able to run multiple commands.
	}
	app.Version = version.String()
	app.Usage = "contribute to a trusted setup ceremony"
	// the commands and flags are copied so that several apps can run at once
	appComm := make([]*cli.Command, len(appCommands))
	for i, p := range appCommands {
		v := *p
		appComm[i] = &v
	}
	app.Commands = appComm
	verbFlag := *verboseFlag
	jFlag := *jsonFlag
	confFlag := *configFlag
	app.Flags = toArray(&verbFlag, &jFlag, &confFlag)
	return app
}

func toArray(flags ...cli.Flag) []cli.Flag {
	return flags
}

// newLogger writes to stderr so that stdout only carries what the commands
// print for humans.
func newLogger(c *cli.Context, level int) log.Logger {
	if c.Bool(verboseFlag.Name) {
		level = log.DebugLevel
	}
	return log.New(os.Stderr, level, c.Bool(jsonFlag.Name))
}

func checkURLArg(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("%s expects the coordinator url as its only argument", c.Command.Name)
	}
	return nil
}

// applyConfigFile sets the flags of c that were not given on the command
// line or in the environment from the table section of the --config file.
func applyConfigFile(c *cli.Context, section string) error {
	path := c.String(configFlag.Name)
	if path == "" {
		return nil
	}
	var file map[string]map[string]interface{}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	for name, v := range file[section] {
		if c.IsSet(name) {
			continue
		}
		if err := c.Set(name, fmt.Sprint(v)); err != nil {
			return fmt.Errorf("config file %s: [%s] %s: %w", path, section, name, err)
		}
	}
	return nil
}

func startMetrics(c *cli.Context, l log.Logger) error {
	if !c.IsSet(metricsFlag.Name) {
		return nil
	}
	ml, err := metrics.Start(l.Named("metrics"), c.String(metricsFlag.Name), pprof.WithProfile())
	if err != nil {
		return fmt.Errorf("starting metrics server: %w", err)
	}
	_, _ = fmt.Fprintf(c.App.ErrWriter, "Metrics served at http://%s/metrics\n", ml.Addr())
	return nil
}
