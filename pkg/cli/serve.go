package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/comanager/pkg/server"
	"github.com/m-mizutani/comanager/pkg/utils/logging"
	"github.com/m-mizutani/comanager/pkg/utils/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
)

func serveCommand(cfg *config) *cli.Command {
	var addr string
	storeTools := newStoreTools()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address of the HTTP server",
			Value:       ":8080",
			Sources:     cli.EnvVars("COMANAGER_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, agentFlags(cfg)...)
	flags = append(flags, identityFlags(cfg)...)
	flags = append(flags, toolFlags(storeTools)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the chat endpoints over HTTP",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			recorder := metrics.New(reg)

			id, err := cfg.newIdentity(ctx)
			if err != nil {
				return err
			}
			authz, err := cfg.newAuthorizer(ctx)
			if err != nil {
				return err
			}

			rt, err := cfg.build(ctx, storeTools, recorder)
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := server.New(rt.controller, id,
				server.WithPersona(rt.marketing),
				server.WithPersona(rt.technical),
				server.WithAuthorizer(authz),
				server.WithGatherer(reg),
			)

			err = srv.ListenAndServe(ctx, addr)
			logging.From(ctx).Info("server stopped")
			return err
		},
	}
}
