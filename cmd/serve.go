package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/observability"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/server"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/store"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr   string
		engine engineFlags
	)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the explorer HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			if cmd.Flags().Changed("addr") {
				c.cfg.SetServerAddr(addr)
			}

			exp, err := c.newExplorer(cmd, &engine)
			if err != nil {
				return err
			}

			var archive server.Archive
			if archiveCfg := c.cfg.Archive(); archiveCfg.Enabled {
				pool, err := store.Connect(ctx, archiveCfg.DatabaseURL, archiveCfg.MaxConns)
				if err != nil {
					return err
				}
				defer pool.Close()

				s, err := store.New(ctx, pool, logger)
				if err != nil {
					return err
				}
				if err := s.EnsureSchema(ctx); err != nil {
					return err
				}
				logger.Info("Trace archive enabled.")
				archive = s
			}

			srv := server.New(c.cfg.Server(), exp, archive, logger)
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("server stopped: %w", err)
			}
			logger.Info("Server stopped.", zap.String("addr", c.cfg.Server().Addr))
			return nil
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	engine.register(serveCmd, true)
	return serveCmd
}
