package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-checkin-api/internal/handler"
	"github.com/noah-isme/classroom-checkin-api/internal/repository"
	"github.com/noah-isme/classroom-checkin-api/internal/service"
	"github.com/noah-isme/classroom-checkin-api/pkg/cache"
	"github.com/noah-isme/classroom-checkin-api/pkg/config"
	"github.com/noah-isme/classroom-checkin-api/pkg/database"
	"github.com/noah-isme/classroom-checkin-api/pkg/docstore"
	"github.com/noah-isme/classroom-checkin-api/pkg/firebaseapp"
	"github.com/noah-isme/classroom-checkin-api/pkg/logger"
)

// @title Classroom Check-in API
// @version 1.0.0
// @description Classroom view, roster and attendance check-in sessions over a document store
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	metrics := service.NewMetricsService()
	checks := map[string]handler.ReadinessCheck{}
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logr.Warn("close failed", zap.Error(err))
			}
		}
	}()

	var app *firebase.App
	firebaseApp := func() (*firebase.App, error) {
		if app != nil {
			return app, nil
		}
		var err error
		app, err = firebaseapp.New(ctx, cfg.Firebase)
		return app, err
	}

	store, err := openStore(ctx, cfg, firebaseApp, checks, &closers)
	if err != nil {
		return err
	}
	logr.Info("document store ready", zap.String("backend", cfg.Store.Backend))

	verifier, err := openVerifier(ctx, cfg, firebaseApp, logr)
	if err != nil {
		return err
	}

	cacheSvc := openViewCache(ctx, cfg, metrics, logr, checks, &closers)

	validate := validator.New()
	classroomRepo := repository.NewClassroomRepository(store, metrics)
	attendance := service.NewAttendanceService(classroomRepo, cacheSvc, metrics, validate, logr, service.AttendanceConfig{
		PlaceholderCode:     cfg.Checkin.PlaceholderCode,
		SnapshotConcurrency: cfg.Checkin.SnapshotConcurrency,
		ViewCacheTTL:        cfg.Checkin.ViewCacheTTL,
	})

	router := newRouter(cfg, logr, routerDeps{
		classrooms: handler.NewClassroomHandler(attendance, service.NewExportService(logr, nil, nil), service.NewQRCodeService(cfg.QRCode.Size), validate),
		ops:        handler.NewMetricsHandler(metrics, checks),
		metrics:    metrics,
		verifier:   verifier,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, firebaseApp func() (*firebase.App, error), checks map[string]handler.ReadinessCheck, closers *[]func() error) (docstore.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreFirestore:
		app, err := firebaseApp()
		if err != nil {
			return nil, err
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("init firestore: %w", err)
		}
		store := docstore.NewFirestoreStore(client)
		*closers = append(*closers, store.Close)
		checks["store"] = func(ctx context.Context) error {
			_, err := store.Get(ctx, "classrooms", "_readiness")
			return err
		}
		return store, nil
	case config.StorePostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, db.Close)
		store := docstore.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		checks["store"] = db.PingContext
		return store, nil
	case config.StoreMemory, "":
		return docstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func openVerifier(ctx context.Context, cfg *config.Config, firebaseApp func() (*firebase.App, error), logr *zap.Logger) (service.IdentityVerifier, error) {
	switch cfg.Auth.Provider {
	case config.AuthFirebase:
		app, err := firebaseApp()
		if err != nil {
			return nil, err
		}
		client, err := app.Auth(ctx)
		if err != nil {
			return nil, fmt.Errorf("init firebase auth: %w", err)
		}
		return service.NewFirebaseIdentityService(client, logr), nil
	case config.AuthJWT, "":
		if cfg.Env == config.EnvProduction && cfg.JWT.Secret == "dev_secret" {
			return nil, errors.New("JWT_SECRET must be set in production")
		}
		return service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer}), nil
	default:
		return nil, fmt.Errorf("unknown auth provider %q", cfg.Auth.Provider)
	}
}

// openViewCache connects Redis when the view cache is enabled. An unreachable
// Redis disables the cache instead of failing startup.
func openViewCache(ctx context.Context, cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger, checks map[string]handler.ReadinessCheck, closers *[]func() error) *service.CacheService {
	if !cfg.Checkin.ViewCacheEnabled {
		return service.NewCacheService(nil, metrics, cfg.Checkin.ViewCacheTTL, logr, false)
	}
	client, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("view cache disabled", zap.Error(err))
		return service.NewCacheService(nil, metrics, cfg.Checkin.ViewCacheTTL, logr, false)
	}
	repo := repository.NewCacheRepository(client)
	*closers = append(*closers, repo.Close)
	checks["cache"] = func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
	return service.NewCacheService(repo, metrics, cfg.Checkin.ViewCacheTTL, logr, true)
}
