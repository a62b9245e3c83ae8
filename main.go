package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"effect-service/config"
	"effect-service/controller"
	"effect-service/dao"
	"effect-service/db"
	"effect-service/pkg/gateway"
	"effect-service/pkg/imagestore"
	"effect-service/usecase"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		config.Exitf("load config: %v", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		config.Exitf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("effect service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}

	instance := cfg.InstanceID
	if instance == "" {
		instance, _ = os.Hostname()
	}
	return logger.With(zap.String("service", "effect-service"), zap.String("instance", instance)), nil
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	// 1. Store
	sqlDB, store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	// 2. Dependency Injection
	images, err := imagestore.New(cfg.ImagePath)
	if err != nil {
		return err
	}
	lifecycle := usecase.NewEffectUsecase(store, logger)
	query := usecase.NewEffectQuery(store, logger)
	auctions := usecase.NewAuctionUsecase(query, lifecycle, gateway.NewClient(cfg.GatewayURL), logger)
	effects := controller.NewEffectController(lifecycle, query, auctions, images, logger)

	// 3. Routing
	auth := controller.AuthConfig{
		Disabled: cfg.Auth.Disabled,
		Secret:   []byte(cfg.Auth.Secret),
		Issuer:   cfg.Auth.Issuer,
	}
	if auth.Disabled {
		logger.Warn("admin authentication disabled")
	}
	handler := controller.NewRouter(effects, images.Handler(), imagestore.URLPrefix, auth, cfg.CORSOrigin, logger)

	// 4. Start Server
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("driver", cfg.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*sql.DB, dao.EffectStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		sqlDB, err := dao.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to sqlite", zap.String("path", cfg.SQLitePath))
		return sqlDB, dao.NewSQLiteRepository(sqlDB), nil
	default:
		sqlDB, err := dao.OpenMySQL(ctx, dao.MySQLConfig{
			User:     cfg.MySQL.User,
			Password: cfg.MySQL.Password,
			Addr:     cfg.MySQL.Addr,
			Database: cfg.MySQL.Database,
		})
		if err != nil {
			return nil, nil, err
		}
		applied, err := db.ApplyMigrations(ctx, sqlDB)
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("connected to mysql",
			zap.String("addr", cfg.MySQL.Addr),
			zap.String("database", cfg.MySQL.Database),
			zap.Strings("migrations_applied", applied),
		)
		return sqlDB, dao.NewMySQLRepository(sqlDB), nil
	}
}
