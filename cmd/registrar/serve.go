package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/registrar-api/api/swagger"
	"github.com/noah-isme/registrar-api/internal/handler"
	"github.com/noah-isme/registrar-api/internal/middleware"
	"github.com/noah-isme/registrar-api/internal/service"
	"github.com/noah-isme/registrar-api/pkg/config"
	"github.com/noah-isme/registrar-api/pkg/logger"
	"github.com/noah-isme/registrar-api/pkg/middleware/cors"
	"github.com/noah-isme/registrar-api/pkg/middleware/requestid"
	"github.com/noah-isme/registrar-api/pkg/tracing"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logr, err := bootstrap()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck
			if port > 0 {
				cfg.Port = port
			}
			return serve(cmd.Context(), cfg, logr)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides PORT)")
	return cmd
}

func serve(parent context.Context, cfg *config.Config, logr *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	a, err := newApp(cfg, logr)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.restore(ctx); err != nil {
		return err
	}

	maintenance, err := service.NewMaintenanceService(a.periods, a.audit, a.exports, service.MaintenanceConfig{
		AuditSchedule:   cfg.Ledger.AuditSchedule,
		CleanupSchedule: cfg.Exports.CleanupSchedule,
	}, logr)
	if err != nil {
		return err
	}

	// Workers are stopped explicitly after the server drains.
	a.exportQueue.Start(context.WithoutCancel(ctx))
	maintenance.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, a, logr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logr.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		maintenance.Stop(shutdownCtx)
		a.exportQueue.Stop()
		return err
	})
	return g.Wait()
}

func newRouter(cfg *config.Config, a *app, logr *zap.Logger) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestid.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(cors.New(cfg.CORS))
	r.Use(middleware.Metrics(a.metrics))

	checks := map[string]handler.ReadinessCheck{
		"postgres": a.db.PingContext,
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	metrics := handler.NewMetricsHandler(a.metrics, checks)
	r.GET("/health", metrics.Health)
	r.GET("/ready", metrics.Ready)
	r.GET("/metrics", metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handler.Handlers{
		Period:          handler.NewPeriodHandler(a.periods, a.transitions, a.audit),
		Subjects:        handler.NewSubjectHandler(a.catalog, a.periods),
		PreRegistration: handler.NewPreRegistrationHandler(a.prereg),
		Enrollments:     handler.NewEnrollmentHandler(a.enrollments),
		Advising:        handler.NewAdvisingHandler(a.advising, a.advisors),
		Exports:         handler.NewExportHandler(a.exports),
	}, a.auth, a.auditLogs, logr)

	return r
}
