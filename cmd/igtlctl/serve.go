package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/igtlctl/internal/admin"
	"github.com/danmuck/igtlctl/internal/auth"
	"github.com/danmuck/igtlctl/internal/config"
	"github.com/danmuck/igtlctl/internal/connector"
	"github.com/danmuck/igtlctl/internal/consumer"
	"github.com/danmuck/igtlctl/internal/logging"
	"github.com/danmuck/igtlctl/internal/observability"
)

var errNoConnectors = errors.New("no connectors configured")

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the configured connectors, the polling consumer and the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().String("config", defaultConfigPath, "config file path")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		zerolog.SetGlobalLevel(lvl)
	}
	if len(cfg.Connectors) == 0 {
		return errNoConnectors
	}

	conns, err := buildConnectors(cfg)
	if err != nil {
		return err
	}
	for i, c := range conns {
		if err := c.Start(); err != nil {
			stopAll(conns[:i])
			return err
		}
	}

	sources := make([]consumer.Source, 0, len(conns))
	statuses := make([]admin.StatusSource, 0, len(conns))
	for _, c := range conns {
		sources = append(sources, c)
		statuses = append(statuses, c)
	}
	sink := consumer.NewMemorySink()
	adapter := consumer.NewAdapter(consumer.DefaultRegistryLimit(cfg.Session.Limits.MaxBodyBytes), sink, consumer.LogSink{
		Logger: observability.Component("scene"),
		Level:  zerolog.InfoLevel,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return adapter.Run(gctx, cfg.PollInterval, sources...)
	})
	if cfg.AdminAddr != "" {
		srv := admin.New(cfg.AdminAddr, statuses, sink, cfg.CorsOrigins)
		if cfg.AdminToken != "" {
			srv.SetValidator(auth.StaticToken{Token: cfg.AdminToken})
		}
		g.Go(func() error {
			return srv.Serve(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		stopAll(conns)
		return nil
	})

	log.Info().Int("connectors", len(conns)).Dur("poll_interval", cfg.PollInterval).Msg("igtlctl serving")
	err = g.Wait()
	log.Info().Msg("igtlctl stopped")
	return err
}

func buildConnectors(cfg config.Config) ([]*connector.Connector, error) {
	conns := make([]*connector.Connector, 0, len(cfg.Connectors))
	for _, cc := range cfg.Connectors {
		c := connector.New(cc.Name, cfg.Session)
		var err error
		switch cc.Role {
		case config.RoleServer:
			err = c.ConfigureAsServer(cc.Port)
		case config.RoleClient:
			err = c.ConfigureAsClient(cc.Host, cc.Port)
		}
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, nil
}

func stopAll(conns []*connector.Connector) {
	for _, c := range conns {
		c.Stop()
	}
	for _, c := range conns {
		<-c.Done()
	}
}
