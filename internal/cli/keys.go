package cli

import (
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/drand/ceremony/common/key"
	"github.com/drand/ceremony/common/log"
	"github.com/drand/ceremony/crypto"
	"github.com/drand/ceremony/internal/fs"
)

var keyOutFlag = &cli.StringFlag{
	Name:    "out",
	Value:   key.DefaultKeyFile,
	Usage:   "Where to write the keypair.",
	EnvVars: []string{"CEREMONY_KEY_OUT"},
}

var withMnemonicFlag = &cli.BoolFlag{
	Name:  "mnemonic",
	Usage: "Derive the keypair from a new 24 word mnemonic and print it.",
}

var generateKeypairCommand = &cli.Command{
	Name:  "generate-keypair",
	Usage: "Generate a keypair, e.g. the administrator keypair of a coordinator.",
	Flags: toArray(keyOutFlag, withMnemonicFlag),
	Action: func(c *cli.Context) error {
		return keygenCmd(c, newLogger(c, log.ErrorLevel).Named("keygen"))
	},
}

func keygenCmd(c *cli.Context, l log.Logger) error {
	out := c.String(keyOutFlag.Name)
	exists, err := fs.Exists(out)
	if err != nil {
		return err
	}
	if exists {
		_, _ = fmt.Fprintf(c.App.Writer, "Keypair already present in `%s`.\nRemove it before generating a new one\n", out)
		return nil
	}

	var kp *crypto.Keypair
	if c.Bool(withMnemonicFlag.Name) {
		phrase, err := key.NewMnemonic()
		if err != nil {
			return err
		}
		if kp, err = key.FromMnemonic(phrase, ""); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(c.App.Writer, "Mnemonic:\n%s\n", phrase)
	} else {
		kp = crypto.NewKeypair()
	}

	if err := key.Save(out, kp); err != nil {
		return fmt.Errorf("could not save key: %w", err)
	}
	absPath, err := filepath.Abs(out)
	if err != nil {
		return err
	}
	l.Debugw("saved keypair", "path", absPath)
	_, _ = fmt.Fprintf(c.App.Writer, "Generated keypair at %s\nPublic key: %s\n", absPath, kp.PublicKey())
	return nil
}
