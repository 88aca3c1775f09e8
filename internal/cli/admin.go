package cli

import (
	"fmt"

	json "github.com/nikkolasg/hexjson"
	"github.com/urfave/cli/v2"

	chttp "github.com/drand/ceremony/client/http"
	"github.com/drand/ceremony/common/key"
	"github.com/drand/ceremony/common/log"
)

// adminClient connects to the coordinator named on the command line as the
// administrator whose key is in --key.
func adminClient(c *cli.Context, l log.Logger) (*chttp.Client, error) {
	kp, err := key.FileProvider(c.String(keyFileFlag.Name))()
	if err != nil {
		return nil, fmt.Errorf("loading administrator key: %w", err)
	}
	return chttp.New(l, c.Args().First(), kp)
}

func closeCeremonyCmd(c *cli.Context, l log.Logger) error {
	admin, err := adminClient(c, l)
	if err != nil {
		return err
	}
	if err := admin.StopCoordinator(c.Context); err != nil {
		return fmt.Errorf("closing ceremony: %w", err)
	}
	_, _ = fmt.Fprintln(c.App.Writer, "Ceremony closed")
	return nil
}

func getContributionsCmd(c *cli.Context, l log.Logger) error {
	admin, err := adminClient(c, l)
	if err != nil {
		return err
	}
	infos, err := admin.Contributions(c.Context)
	if err != nil {
		return fmt.Errorf("getting contributions: %w", err)
	}
	return printJSON(c, infos)
}

func verifyContributionsCmd(c *cli.Context, l log.Logger) error {
	admin, err := adminClient(c, l)
	if err != nil {
		return err
	}
	resp, err := admin.VerifyContributions(c.Context)
	if err != nil {
		return fmt.Errorf("verifying contributions: %w", err)
	}
	if err := printJSON(c, resp); err != nil {
		return err
	}
	if len(resp.Failed) > 0 {
		return fmt.Errorf("%d contributions failed verification", len(resp.Failed))
	}
	return nil
}

func updateCoordinatorCmd(c *cli.Context, l log.Logger) error {
	admin, err := adminClient(c, l)
	if err != nil {
		return err
	}
	if err := admin.UpdateCoordinator(c.Context); err != nil {
		return fmt.Errorf("updating coordinator: %w", err)
	}
	_, _ = fmt.Fprintln(c.App.Writer, "Coordinator updated")
	return nil
}

func printJSON(c *cli.Context, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(b))
	return err
}
