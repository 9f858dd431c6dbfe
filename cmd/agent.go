package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"capture-uploader/config"
	"capture-uploader/pkg/broker"
	"capture-uploader/pkg/localstore"
	"capture-uploader/pkg/rabbitmq"
	"capture-uploader/pkg/thumbnail"
	"capture-uploader/pkg/transfer"
	"capture-uploader/repository"
	"capture-uploader/service"
)

// agent is the device side: the local queue plus everything that moves
// videos out of it.
type agent struct {
	cfg     *config.Config
	fs      afero.Fs
	store   *localstore.Store
	repo    repository.VideoRepository
	closers []func()
}

// openAgent opens the local store. The metadata database is attached when it
// is configured and reachable; without it the agent still captures offline.
func openAgent(ctx context.Context, cfg *config.Config) (*agent, error) {
	a := &agent{cfg: cfg, fs: afero.NewOsFs()}

	var registrar localstore.SessionRegistrar
	if cfg.Postgres.Dsn != "" {
		db, err := config.NewPostgres(cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })

		repo, err := repository.NewRepo(db, config.GormLogLevel(cfg.Postgres.LogLevel))
		if err != nil {
			// offline: sessions stay local until the next sync
			zerolog.Ctx(ctx).Warn().Err(err).Msg("metadata database unavailable")
		} else {
			a.repo = repo
			registrar = repo
		}
	}

	store, err := localstore.Open(ctx, a.fs, cfg.Agent.DataDir, registrar)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	return a, nil
}

func (a *agent) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *agent) requireRemote() error {
	if err := a.cfg.ValidateAgent(); err != nil {
		return err
	}
	if a.repo == nil {
		return fmt.Errorf("metadata database unavailable")
	}
	return nil
}

func (a *agent) broker() *broker.Client {
	return broker.NewClient(a.cfg.Agent.BrokerUrl, a.cfg.Agent.Token, &http.Client{Timeout: 30 * time.Second})
}

func (a *agent) uploader(ctx context.Context) service.UploadService {
	return service.NewUploadService(service.UploadDependencies{
		Broker:          a.broker(),
		Transfer:        transfer.NewUploader(nil),
		Metadata:        a.repo,
		Queue:           a.store,
		Thumbnails:      thumbnail.NewFFmpeg(a.fs, a.cfg.Agent.FfmpegPath, a.cfg.Agent.ThumbnailDir),
		Notifier:        a.notifier(ctx),
		Fs:              a.fs,
		ThumbnailOffset: a.cfg.Agent.ThumbnailOffset,
	})
}

// notifier returns nil when events are disabled or RabbitMQ is unreachable;
// uploads do not depend on it.
func (a *agent) notifier(ctx context.Context) service.UploadNotifier {
	if !a.cfg.Queue.Enabled {
		return nil
	}
	conn, err := config.NewRabbitMQConn(ctx, a.cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("upload events disabled")
		return nil
	}
	publisher, err := rabbitmq.NewPublisher(conn, a.cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("upload events disabled")
		_ = conn.Close()
		return nil
	}
	a.closers = append(a.closers, func() {
		_ = publisher.Close()
		_ = conn.Close()
	})
	return publisher
}

func (a *agent) syncService(ctx context.Context) service.SyncService {
	policy := service.RetryPolicy{
		MaxAttempts:     a.cfg.Agent.Retry.MaxAttempts,
		InitialInterval: a.cfg.Agent.Retry.InitialInterval,
		MaxInterval:     a.cfg.Agent.Retry.MaxInterval,
	}
	batch := service.NewBatchService(a.uploader(ctx), policy, a.cfg.Agent.UploadConcurrency)
	return service.NewSyncService(a.store, batch)
}

func (a *agent) deleteService() service.DeleteService {
	return service.NewDeleteService(a.store, a.broker(), a.repo, a.fs)
}
