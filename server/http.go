package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"capture-uploader/config"
	"capture-uploader/constant"
	jobHandler "capture-uploader/handler"
	"capture-uploader/pkg/rabbitmq"
	"capture-uploader/repository"
	"capture-uploader/service"
)

// RunHttp serves the upload broker and, when RabbitMQ is enabled, verifies
// upload events until SIGINT or SIGTERM.
func RunHttp(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(SetupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	storage, err := config.NewMinioClient(cfg.MinIO)
	if err != nil {
		return fmt.Errorf("minio client: %w", err)
	}
	db, err := config.NewPostgres(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()

	repo, err := repository.NewRepo(db, config.GormLogLevel(cfg.Postgres.LogLevel))
	if err != nil {
		return fmt.Errorf("gorm: %w", err)
	}
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	grantService := service.NewGrantService(storage, service.GrantConfig{
		Bucket:        cfg.MinIO.Bucket,
		PublicBaseUrl: cfg.MinIO.PublicUrl,
		Expiry:        cfg.Broker.GrantExpiry,
	})

	if cfg.Queue.Enabled {
		startVerifyConsumer(ctx, cfg, service.NewVerifyService(storage, repo, cfg.MinIO.Bucket))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := NewRouter(RouterDependencies{
		Grants:    grantService,
		JwtSecret: cfg.Broker.JwtSecret,
		Logger:    *zerolog.Ctx(ctx),
		Registry:  registry,
	})

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("port", cfg.Server.HttpPort).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
			cancel()
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer done()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
	return nil
}

func startVerifyConsumer(ctx context.Context, cfg *config.Config, verify service.VerifyService) {
	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		// uploads keep working without verification
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
		return
	}

	deps := jobHandler.ServiceDependencies{VerifyService: verify}
	consumer := rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.VideoUploadedTopology(cfg.Queue.ExchangeName), cfg.Server.Workers, jobHandler.VideoUploadedHandler)
	go func() {
		if err := consumer.Consume(ctx, deps); err != nil && !errors.Is(err, context.Canceled) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("upload verification consumer error")
		}
	}()
}

func SetupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
