// Command fmpcd-ctrl compiles coarse classification rules and exercises the resulting tables.
package main

import (
	"log"
	"os"
	"sort"

	"github.com/fmpcd/fmpcd/container/muram"
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/core/logging"
	"github.com/fmpcd/fmpcd/core/yamlflag"
	"github.com/urfave/cli/v2"
)

var logger = logging.New("main")

var (
	rulesFile string
	memCfg    muram.Config
	regCfg    pcddef.Config
)

var app = &cli.App{
	Usage: "Compile and exercise FMan coarse classification rules.",
	Flags: []cli.Flag{
		&cli.PathFlag{
			Name:        "rules",
			Usage:       "rule set `file` (YAML or JSON)",
			Destination: &rulesFile,
			Required:    true,
		},
		&cli.GenericFlag{
			Name:  "memory",
			Usage: "MURAM configuration (YAML, or @file)",
			Value: yamlflag.New(&memCfg),
		},
		&cli.GenericFlag{
			Name:  "registry",
			Usage: "registry configuration (YAML, or @file)",
			Value: yamlflag.New(&regCfg),
		},
	},
}

func defineCommand(command *cli.Command) {
	app.Commands = append(app.Commands, command)
}

func main() {
	sort.Sort(cli.CommandsByName(app.Commands))
	if e := app.Run(os.Args); e != nil {
		log.Fatal(e)
	}
}
