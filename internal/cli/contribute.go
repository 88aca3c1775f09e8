package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/drand/ceremony/ceremony"
	chttp "github.com/drand/ceremony/client/http"
	"github.com/drand/ceremony/common/key"
	"github.com/drand/ceremony/common/log"
	"github.com/drand/ceremony/internal/contributor"
	"github.com/drand/ceremony/internal/entropy"
)

var nonInteractiveFlag = &cli.BoolFlag{
	Name:    "non-interactive",
	Usage:   "Do not prompt: contributor details come from flags and the key from --mnemonic-file.",
	EnvVars: []string{"CEREMONY_NON_INTERACTIVE"},
}

var mnemonicFileFlag = &cli.StringFlag{
	Name:    "mnemonic-file",
	Usage:   "File holding the 24 word mnemonic the contributor key is derived from.",
	EnvVars: []string{"CEREMONY_MNEMONIC_FILE"},
}

var nameFlag = &cli.StringFlag{
	Name:    "name",
	Usage:   "Full name reported with the contribution, for incentivised contributors.",
	EnvVars: []string{"CEREMONY_NAME"},
}

var emailFlag = &cli.StringFlag{
	Name:    "email",
	Usage:   "Email reported with the contribution, for incentivised contributors.",
	EnvVars: []string{"CEREMONY_EMAIL"},
}

var incentivizedFlag = &cli.BoolFlag{
	Name:    "incentivized",
	Usage:   "Take part in the incentivised ceremony.",
	EnvVars: []string{"CEREMONY_INCENTIVIZED"},
}

var contestFlag = &cli.BoolFlag{
	Name:    "contest",
	Usage:   "Take part in the contest.",
	EnvVars: []string{"CEREMONY_CONTEST"},
}

var pollIntervalFlag = &cli.DurationFlag{
	Name:    "poll-interval",
	Value:   contributor.DefaultPollInterval,
	Usage:   "Pause between two queue status polls.",
	EnvVars: []string{"CEREMONY_POLL_INTERVAL"},
}

var heartbeatIntervalFlag = &cli.DurationFlag{
	Name:    "heartbeat-interval",
	Value:   contributor.DefaultHeartbeatInterval,
	Usage:   "Pause between two heartbeats.",
	EnvVars: []string{"CEREMONY_HEARTBEAT_INTERVAL"},
}

var maxAttemptsFlag = &cli.IntFlag{
	Name:    "max-attempts",
	Value:   contributor.DefaultMaxAttempts,
	Usage:   "How many attempts may lose their chunk before giving up.",
	EnvVars: []string{"CEREMONY_MAX_ATTEMPTS"},
}

var artifactsFlag = &cli.StringFlag{
	Name:    "artifacts",
	Value:   ".",
	Usage:   "Folder receiving the challenge snapshots and contribution summaries. Empty disables them.",
	EnvVars: []string{"CEREMONY_ARTIFACTS"},
}

var execFlag = &cli.StringFlag{
	Name: "exec",
	Usage: "Command computing the contribution, run with the challenge on its standard input. " +
		"The built-in computer is only fit for testing.",
	EnvVars: []string{"CEREMONY_EXEC"},
}

var entropyFlag = &cli.StringFlag{
	Name: "entropy",
	Usage: "File or device whose bytes are mixed into the randomness of the built-in computer. " +
		"Ignored with --exec.",
	EnvVars: []string{"CEREMONY_ENTROPY"},
}

var contributeCommand = &cli.Command{
	Name:      "contribute",
	Usage:     "Join the queue of the coordinator and contribute once your turn comes.",
	ArgsUsage: "<coordinator-url>",
	Flags: toArray(nonInteractiveFlag, mnemonicFileFlag, nameFlag, emailFlag,
		incentivizedFlag, contestFlag, pollIntervalFlag, heartbeatIntervalFlag,
		maxAttemptsFlag, artifactsFlag, execFlag, entropyFlag, metricsFlag),
	Before: func(c *cli.Context) error {
		if err := checkURLArg(c); err != nil {
			return err
		}
		return applyConfigFile(c, "contribute")
	},
	Action: func(c *cli.Context) error {
		banner(c.App.Writer)
		return contributeCmd(c, newLogger(c, log.WarnLevel).Named("contributor"))
	},
}

var (
	yesNoRegexp = regexp.MustCompile(`^[yn]$`)
	nameRegexp  = regexp.MustCompile(`^\S.*$`)
	emailRegexp = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// prompter asks questions on the app's reader until the answer matches.
type prompter struct {
	r *bufio.Reader
	w io.Writer
}

func newPrompter(c *cli.Context) *prompter {
	return &prompter{r: bufio.NewReader(c.App.Reader), w: c.App.Writer}
}

func (p *prompter) ask(question string, valid *regexp.Regexp) (string, error) {
	for {
		_, _ = fmt.Fprintf(p.w, "%s ", question)
		line, err := p.r.ReadString('\n')
		answer := strings.TrimSpace(line)
		if valid.MatchString(answer) {
			return answer, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("no valid answer to %q", question)
			}
			return "", err
		}
		_, _ = fmt.Fprintln(p.w, "Invalid answer, please try again.")
	}
}

func (p *prompter) confirm(question string) (bool, error) {
	answer, err := p.ask(question+" [y/n]", yesNoRegexp)
	return answer == "y", err
}

// contributorDetails fills the optional identity of the summary.
func contributorDetails(c *cli.Context, p *prompter) (ceremony.ContributionInfo, error) {
	var info ceremony.ContributionInfo
	if c.Bool(nonInteractiveFlag.Name) {
		info.IsIncentivized = c.Bool(incentivizedFlag.Name)
		info.IsContestParticipant = c.Bool(contestFlag.Name)
		if info.IsIncentivized {
			info.FullName = c.String(nameFlag.Name)
			info.Email = c.String(emailFlag.Name)
			if !nameRegexp.MatchString(info.FullName) || !emailRegexp.MatchString(info.Email) {
				return info, fmt.Errorf("incentivised contributors need a valid --%s and --%s", nameFlag.Name, emailFlag.Name)
			}
		}
		return info, nil
	}

	var err error
	if info.IsIncentivized, err = p.confirm("Do you want to participate in the incentivised trusted setup?"); err != nil {
		return info, err
	}
	if info.IsIncentivized {
		if info.FullName, err = p.ask("Please enter your full name:", nameRegexp); err != nil {
			return info, err
		}
		if info.Email, err = p.ask("Please enter your email:", emailRegexp); err != nil {
			return info, err
		}
	}
	if info.IsContestParticipant, err = p.confirm("Do you want to participate in the contest?"); err != nil {
		return info, err
	}
	return info, nil
}

// keyProvider returns where the contributor key comes from: the mnemonic
// file, or a mnemonic typed in or generated on the spot.
func keyProvider(c *cli.Context, p *prompter) (key.Provider, error) {
	if path := c.String(mnemonicFileFlag.Name); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading mnemonic: %w", err)
		}
		return key.MnemonicProvider(string(b), ""), nil
	}
	if c.Bool(nonInteractiveFlag.Name) {
		return nil, fmt.Errorf("--%s is required with --%s", mnemonicFileFlag.Name, nonInteractiveFlag.Name)
	}

	generate, err := p.confirm("Do you want to generate a new key?")
	if err != nil {
		return nil, err
	}
	if generate {
		phrase, err := key.NewMnemonic()
		if err != nil {
			return nil, err
		}
		_, _ = fmt.Fprintf(c.App.Writer, "Your mnemonic is:\n\n%s\n\nWrite it down, it is the only way to prove your contribution.\n", phrase)
		return key.MnemonicProvider(phrase, ""), nil
	}
	for {
		phrase, err := p.ask(fmt.Sprintf("Please enter your %d word mnemonic:", key.MnemonicWords), nameRegexp)
		if err != nil {
			return nil, err
		}
		if _, err := key.FromMnemonic(phrase, ""); err != nil {
			_, _ = fmt.Fprintf(c.App.Writer, "%v, please try again.\n", err)
			continue
		}
		return key.MnemonicProvider(phrase, ""), nil
	}
}

func contributeCmd(c *cli.Context, l log.Logger) error {
	p := newPrompter(c)
	info, err := contributorDetails(c, p)
	if err != nil {
		return err
	}
	provider, err := keyProvider(c, p)
	if err != nil {
		return err
	}
	kp, err := provider()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.App.Writer, "Contributing as %s\n", kp.PublicKey())

	if err := startMetrics(c, l); err != nil {
		return err
	}
	coord, err := chttp.New(l, c.Args().First(), kp)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := coord.Ping(ctx); err != nil {
		return fmt.Errorf("coordinator at %s is not reachable: %w", c.Args().First(), err)
	}

	opts := []contributor.ConfigOption{
		contributor.WithLogger(l),
		contributor.WithPollInterval(c.Duration(pollIntervalFlag.Name)),
		contributor.WithHeartbeatInterval(c.Duration(heartbeatIntervalFlag.Name)),
		contributor.WithMaxAttempts(c.Int(maxAttemptsFlag.Name)),
		contributor.WithReporter(newSpinnerReporter(c.App.Writer)),
	}
	if folder := c.String(artifactsFlag.Name); folder != "" {
		opts = append(opts, contributor.WithArtifactsFolder(folder))
	}
	if command := strings.Fields(c.String(execFlag.Name)); len(command) > 0 {
		opts = append(opts, contributor.WithComputer(&contributor.ExecComputer{Path: command[0], Args: command[1:]}))
	} else if path := c.String(entropyFlag.Name); path != "" {
		source, err := entropy.FromFile(path, l)
		if err != nil {
			return err
		}
		defer source.Close()
		opts = append(opts, contributor.WithComputer(contributor.DevComputer{Rand: entropy.Mix(source)}))
	}

	summaries, err := contributor.New(coord, kp, opts...).Contribute(ctx, info)
	for _, s := range summaries {
		_, _ = fmt.Fprintf(c.App.Writer, "Contribution to round %d: hash %s\n", s.CeremonyRound, s.ContributionHash)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("contribution interrupted")
		}
		return fmt.Errorf("contribution failed: %w", err)
	}
	return nil
}
