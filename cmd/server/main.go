package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	sloggorm "github.com/orandin/slog-gorm"
	"github.com/sethvargo/go-retry"
	otellib "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"

	servermiddleware "github.com/algoclash/judge-api/judge-api/cmd/server/internal/middleware"
	"github.com/algoclash/judge-api/judge-api/cmd/server/internal/outbox"
	"github.com/algoclash/judge-api/judge-api/cmd/server/internal/pipeline"
	"github.com/algoclash/judge-api/judge-api/cmd/server/internal/routes"
	routesv1 "github.com/algoclash/judge-api/judge-api/cmd/server/internal/routes/v1"
	"github.com/algoclash/judge-api/judge-api/cmd/server/internal/scheduler"
	"github.com/algoclash/judge-api/judge-api/cmd/server/internal/taskrunner"
	"github.com/algoclash/judge-api/judge-api/internal/config"
	"github.com/algoclash/judge-api/judge-api/internal/logger"
	"github.com/algoclash/judge-api/judge-api/internal/migrations"
	"github.com/algoclash/judge-api/judge-api/internal/models"
	"github.com/algoclash/judge-api/judge-api/internal/otel"
	"github.com/algoclash/judge-api/judge-api/internal/sandbox"
	"github.com/algoclash/judge-api/judge-api/internal/types"
)

const name string = "github.com/algoclash/judge-api/judge-api/server"

var tracer = otellib.Tracer(name)

type server struct {
	router          *echo.Echo
	config          *config.Config
	db              *gorm.DB
	taskRunner      *taskrunner.Client
	otelShutdown    func(context.Context) error
	scheduler       *scheduler.Scheduler
	schedulerCancel func()
}

func buildJobs(cfg *config.Config, orchestrator *pipeline.Orchestrator) []scheduler.Job {
	stages := []struct {
		run   func(ctx context.Context) error
		stage types.OutboxStage
	}{
		{orchestrator.HandleInitialized, types.OutboxStageInitialized},
		{orchestrator.HandlePollInitialization, types.OutboxStagePollInitialization},
		{orchestrator.HandleExecuteSubmission, types.OutboxStageExecuteSubmission},
		{orchestrator.HandlePollJudge0Result, types.OutboxStagePollJudge0Result},
	}

	jobs := make([]scheduler.Job, 0, len(stages))
	for _, entry := range stages {
		gate := cfg.JobFor(entry.stage.String())

		jobs = append(jobs, scheduler.Job{
			Name:     entry.stage.String(),
			Interval: time.Duration(gate.IntervalSeconds) * time.Second,
			Enabled:  gate.Enabled,
			Run:      entry.run,
		})
	}

	return jobs
}

func initServer(ctx context.Context) (*server, error) {
	server := new(server)

	cfg, err := config.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize server config: %w", err)
	}
	server.config = cfg

	shutdownOTel, err := otel.SetupOTelSDK(ctx, cfg.Logging.UseOTLP)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OTEL SDK: %w", err)
	}
	defer func() {
		// Something failed to initialize, make sure everything gets flushed to the server
		if server.otelShutdown == nil {
			otelShutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				time.Second*time.Duration(cfg.GracefulShutdownSecs),
			)
			defer cancel()

			if err = shutdownOTel(otelShutdownCtx); err != nil {
				logger.Logger.Error("failed to flush otel data", "error", err)
			}
		}
	}()

	ctx, span := tracer.Start(ctx, "initServer")
	defer span.End()

	logger.LogLevel.Set(slog.Level(cfg.Logging.App.Level))
	gormLogger := slog.New(logger.Handler)

	sg := sloggorm.New(
		sloggorm.WithHandler(gormLogger.Handler()),
		sloggorm.SetLogLevel(sloggorm.DefaultLogType, slog.Level(cfg.Logging.Gorm.Level)),
	)
	if cfg.Logging.Gorm.TraceQueries {
		sg = sloggorm.New(
			sloggorm.WithHandler(gormLogger.Handler()),
			sloggorm.WithTraceAll(),
			sloggorm.SetLogLevel(sloggorm.DefaultLogType, slog.Level(cfg.Logging.Gorm.Level)),
		)
	}

	span.AddEvent("initialized gorm logging")

	db, err := gorm.Open(
		postgres.Open(cfg.PostgresDSN()),
		&gorm.Config{Logger: sg, TranslateError: true},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire underlying database connection")
		return nil, fmt.Errorf("failed to acquire underlying database connection: %w", err)
	}

	// Configure db connection pool
	sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConnections)
	sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConnections)
	sqlDB.SetConnMaxLifetime(cfg.Postgres.ConnectionTTL)

	span.AddEvent("initialized database connection")

	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := sqlDB.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "database did not become ready")
		return nil, fmt.Errorf("database did not become ready: %w", err)
	}

	span.AddEvent("database is ready")

	err = db.Use(gormtracing.NewPlugin())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to add otel plugin to gorm")
		return nil, fmt.Errorf("failed to add otel plugin to gorm: %w", err)
	}

	span.AddEvent("added the otel plugin to gorm")

	err = migrations.Up(ctx, db)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to perform database migrations")
		return nil, fmt.Errorf("failed to perform database migrations: %w", err)
	}

	span.AddEvent("migrated database to latest version")

	if err = models.LoadAPIKeysFromConfig(ctx, db, cfg.Accounts); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load API keys from config")
		return nil, fmt.Errorf("failed to load API keys from config: %w", err)
	}

	span.AddEvent("loaded api keys from config")

	outboxStore := outbox.NewStore(db)
	sandboxClient := sandbox.NewJudge0Client(cfg.Sandbox)
	orchestrator := pipeline.NewOrchestrator(
		db,
		outboxStore,
		sandboxClient,
		cfg.Pipeline.MaxAttempts,
		cfg.Pipeline.ClaimBatchLimit,
	)

	server.scheduler = scheduler.New(
		time.Duration(cfg.Pipeline.TickSeconds)*time.Second,
		buildJobs(cfg, orchestrator),
	)

	span.AddEvent("initialized pipeline")

	taskRunnerClient := taskrunner.Create()

	v1Handler := routesv1.NewHandler(db, outboxStore, cfg)
	middlewareHandler := servermiddleware.Handler{DB: db}

	e, err := routes.BuildEcho(logger.Logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "error building router")
		return nil, fmt.Errorf("error building router: %w", err)
	}

	span.AddEvent("created echo router")

	v1Handler.AddRoutes(e, &middlewareHandler)

	server.otelShutdown = shutdownOTel
	server.router = e
	server.db = db
	server.taskRunner = taskRunnerClient

	return server, nil
}

func (s *server) Start(ctx context.Context) error {
	schedulerCtx, schedulerCancel := context.WithCancel(ctx)
	s.schedulerCancel = schedulerCancel

	s.taskRunner.Run(ctx, func(context.Context) {
		s.scheduler.Start(schedulerCtx)
	})

	logger.Logger.Info("Starting services...")

	err := s.router.Start(s.config.ListenAddress)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *server) Shutdown() error {
	var errs error

	ctx, cancelTimeout := context.WithTimeout(
		context.Background(),
		time.Second*time.Duration(s.config.GracefulShutdownSecs),
	)
	defer cancelTimeout()

	s.schedulerCancel()

	if err := s.router.Shutdown(ctx); err != nil {
		errs = errors.Join(errs, err)
	}

	if err := s.taskRunner.Shutdown(ctx); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to shutdown taskRunner gracefully: %w", err))
	}

	if s.otelShutdown != nil {
		errs = errors.Join(errs, s.otelShutdown(ctx))
	}

	return errs
}

func main() {
	ctx, cancelSignal := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)

	logger.InitSlog()

	server, err := initServer(ctx)
	if err != nil {
		logger.Logger.Error(err.Error())
		cancelSignal()
		os.Exit(1)
	}

	errch := make(chan error, 1)
	go func() {
		<-ctx.Done()
		logger.Logger.Info("Got shutdown signal!")
		errch <- server.Shutdown()
		close(errch)
	}()

	if err := server.Start(ctx); err != nil {
		logger.Logger.Error(err.Error())
		cancelSignal()
		os.Exit(1)
	}

	if err := <-errch; err != nil {
		logger.Logger.Error("Error shutting down server", "error", err)
	}

	cancelSignal()
}
