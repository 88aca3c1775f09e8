package main

import (
	"fmt"
	"os"

	"github.com/drand/ceremony/internal/cli"
)

func main() {
	app := cli.CLI()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ceremony: %v\n", err)
		os.Exit(1)
	}
}
