package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/parking-anpr/internal/anpr"
	"github.com/example/parking-anpr/internal/auth"
	"github.com/example/parking-anpr/internal/config"
	"github.com/example/parking-anpr/internal/handlers"
	"github.com/example/parking-anpr/internal/logging"
	"github.com/example/parking-anpr/internal/repository"
	"github.com/example/parking-anpr/internal/telemetry"
	"github.com/example/parking-anpr/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "parking-anpr", cfg.OTelEndpoint)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)
	vehicles := repository.NewVehicleRepository(db, logger)
	if err := vehicles.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
	defer redisClient.Close()

	recognizer, err := anpr.NewClient(anpr.Config{
		BaseURL:        cfg.ANPR.BaseURL,
		ProcessTimeout: cfg.ANPR.ProcessTimeout,
		HealthTimeout:  cfg.ANPR.HealthTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("invalid anpr configuration", zap.Error(err))
	}
	if !recognizer.Healthy(ctx) {
		logger.Warn("anpr service not available at startup", zap.String("base_url", recognizer.BaseURL()))
	}

	cache := usecase.NewRedisVehicleCache(redisClient, cfg.VehicleCacheTTL)
	scans := usecase.NewScanUseCase(recognizer, vehicles, cache, logger)

	r := gin.Default()
	handlers.RegisterRoutes(r, scans, auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience), auth.RequireApproved())

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("parking anpr api listening", zap.String("addr", cfg.HTTPAddr), zap.String("anpr_service", recognizer.BaseURL()))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger, nil, nil); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

// serveHTTPServer runs server until it fails or a shutdown signal arrives,
// then drains in-flight requests for at most shutdownTimeout. A nil listener
// means ListenAndServe; a nil signalCh subscribes to SIGINT and SIGTERM.
func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	if signalCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		signalCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-signalCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
