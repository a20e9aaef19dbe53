package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/talkincode/wagate/internal/adminapi"
	"github.com/talkincode/wagate/internal/media"
	"github.com/talkincode/wagate/internal/webserver"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway and the admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gw, err := newGateway(cfg)
		if err != nil {
			return err
		}
		defer gw.close()
		if err := gw.scheduleJobs(); err != nil {
			return errors.Wrap(err, "schedule jobs")
		}

		adminapi.Init()
		opts := []webserver.Option{adminapi.WithSessions(gw.manager)}
		if local, ok := gw.storage.(*media.LocalStorage); ok {
			opts = append(opts, webserver.WithStatic("/media", local.Dir()))
		}
		server := webserver.NewAdminServer(cfg.Web, cfg.System.Debug, opts...)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(server.Start)
		g.Go(func() error {
			if err := gw.manager.Recover(gctx); err != nil && !errors.Is(err, context.Canceled) {
				zap.L().Error("session recovery failed", zap.Error(err))
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}
