package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/app"
	"github.com/talkincode/wagate/internal/media"
	"github.com/talkincode/wagate/internal/message"
	"github.com/talkincode/wagate/internal/repository"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/internal/webhook"
	"github.com/talkincode/wagate/internal/whatsapp"
	"github.com/talkincode/wagate/pkg/metrics"
	"go.uber.org/zap"
)

// gateway is the wired set of components shared by serve and pair.
type gateway struct {
	cfg     *config.AppConfig
	app     *app.Application
	storage media.Storage
	manager *session.Manager
}

func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.System.Debug = true
	}
	return cfg, nil
}

func newGateway(cfg *config.AppConfig) (*gateway, error) {
	application := app.NewApplication(cfg)
	if err := application.Init(cfg); err != nil {
		return nil, errors.Wrap(err, "init application")
	}

	wa, err := whatsapp.New(application)
	if err != nil {
		application.Release()
		return nil, err
	}
	storage, err := media.NewStorage(cfg)
	if err != nil {
		application.Release()
		return nil, errors.Wrap(err, "init media storage")
	}
	normalizer := message.NewNormalizer(media.NewPipeline(storage), cfg.Media.OnFailure == config.MediaOnFailureSuppress)

	registry := session.NewRegistry()
	dispatcher, err := webhook.NewDispatcher(registry, webhook.OptionsFromConfig(cfg.Webhook))
	if err != nil {
		application.Release()
		return nil, err
	}
	manager, err := session.NewManager(
		registry,
		repository.NewGormSessionRepository(application.DB()),
		wa, wa,
		normalizer,
		dispatcher,
		session.OptionsFromConfig(cfg.Session),
	)
	if err != nil {
		application.Release()
		return nil, err
	}
	return &gateway{cfg: cfg, app: application, storage: storage, manager: manager}, nil
}

// scheduleJobs registers the gateway's periodic housekeeping.
func (g *gateway) scheduleJobs() error {
	if err := g.app.AddJob("@every 1m", "session_gauge", func() {
		var connected int64
		for _, s := range g.manager.List() {
			if s.State == session.StateConnected {
				connected++
			}
		}
		metrics.SetGauge("sessions_connected", connected)
	}); err != nil {
		return err
	}

	local, ok := g.storage.(*media.LocalStorage)
	if !ok || g.cfg.Media.RetentionDays <= 0 {
		return nil
	}
	retention := time.Duration(g.cfg.Media.RetentionDays) * 24 * time.Hour
	return g.app.AddJob("@daily", "media_prune", func() {
		n, err := local.Prune(retention)
		if err != nil {
			zap.L().Warn("media prune failed", zap.Error(err))
			return
		}
		zap.L().Info("media pruned", zap.Int("files", n))
	})
}

func (g *gateway) close() {
	g.manager.Shutdown()
	g.app.Release()
}
