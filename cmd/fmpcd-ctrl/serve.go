package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fmpcd/fmpcd/container/pcd"
	"github.com/fmpcd/fmpcd/core/gqlserver"
	_ "github.com/fmpcd/fmpcd/core/logging/logginggql"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go4.org/must"
)

func init() {
	defineCommand(&cli.Command{
		Name:  "serve",
		Usage: "Compile rules and serve the registry over GraphQL until interrupted",
		Description: "The listen address is taken from the FMPCD_GQLSERVER_HTTP environment variable; " +
			"'0' disables the HTTP server.",
		Action: func(c *cli.Context) error {
			s, e := openSession()
			if e != nil {
				return e
			}
			defer must.Close(s)

			pcd.GqlRegistry = s.reg
			defer func() { pcd.GqlRegistry = nil }()
			gqlserver.Start()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			select {
			case <-c.Context.Done():
			case got := <-sig:
				logger.Info("stopping", zap.Stringer("signal", got))
			}
			return nil
		},
	})
}
