package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ericfitz/sketchroom/api"
	"github.com/ericfitz/sketchroom/auth"
	"github.com/ericfitz/sketchroom/internal/config"
	"github.com/ericfitz/sketchroom/internal/db"
	"github.com/ericfitz/sketchroom/internal/slogging"
	"github.com/ericfitz/sketchroom/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// version is set at build time
var version = "dev"

func main() {
	configFile, envFile := config.ParseFlags()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load env file %s: %v\n", envFile, err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := slogging.Initialize(loggerConfig(cfg)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger := slogging.Get()
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("Server exited with error: %v", err)
		os.Exit(1)
	}
	logger.Info("Server gracefully stopped")
}

func loggerConfig(cfg *config.Config) slogging.Config {
	return slogging.Config{
		Level:            cfg.GetLogLevel(),
		IsDev:            cfg.Logging.IsDev,
		LogDir:           cfg.Logging.LogDir,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		AlsoLogToConsole: cfg.Logging.AlsoLogToConsole,
	}
}

// services holds everything run builds, so shutdown can release it in order
type services struct {
	telemetry *telemetry.Service
	redis     *db.RedisDB
	database  *db.GormDB
	hub       *api.Hub
	router    *gin.Engine
}

func (s *services) close(ctx context.Context) {
	logger := slogging.Get()
	if s.database != nil {
		if err := s.database.Close(); err != nil {
			logger.Warn("Error closing database: %v", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logger.Warn("Error closing Redis: %v", err)
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down telemetry: %v", err)
		}
	}
}

// build wires the relay from configuration
func build(ctx context.Context, cfg *config.Config) (*services, error) {
	logger := slogging.Get()
	s := &services{}

	tel, err := telemetry.NewService(telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
		TracingStdout:  cfg.Telemetry.TracingStdout,
	})
	if err != nil {
		return nil, err
	}
	s.telemetry = tel

	metrics, err := telemetry.NewRelayMetrics(tel.Meter())
	if err != nil {
		s.close(ctx)
		return nil, err
	}

	if cfg.Redis.Enabled {
		s.redis, err = db.NewRedisDB(db.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			s.close(ctx)
			return nil, err
		}
		if err := tel.InstrumentRedis(s.redis.GetClient()); err != nil {
			logger.Warn("Redis instrumentation disabled: %v", err)
		}
	}

	keys, err := auth.NewJWTKeyManager(auth.JWTConfig{
		SigningMethod: cfg.Auth.JWT.SigningMethod,
		Secret:        cfg.Auth.JWT.Secret,
		PublicKey:     cfg.Auth.JWT.PublicKey,
		PublicKeyPath: cfg.Auth.JWT.PublicKeyPath,
		Issuer:        cfg.Auth.JWT.Issuer,
		Leeway:        cfg.GetJWTLeeway(),
	})
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	var revocations auth.RevocationChecker
	if cfg.Auth.BlacklistEnabled {
		revocations = auth.NewTokenBlacklist(s.redis.GetClient(), keys)
	}

	var roomStore api.RoomStore
	if cfg.Database.Enabled {
		s.database, err = db.NewGormDB(gormConfig(cfg))
		if err != nil {
			s.close(ctx)
			return nil, err
		}
		if err := s.database.AutoMigrate(&api.Room{}); err != nil {
			s.close(ctx)
			return nil, err
		}
		rooms := api.NewGormRoomStore(s.database.DB())
		for _, id := range cfg.Rooms.Seed {
			if err := rooms.Ensure(ctx, id, id); err != nil {
				s.close(ctx)
				return nil, fmt.Errorf("failed to seed room %q: %w", id, err)
			}
		}
		roomStore = rooms
	}

	snapshots := newSnapshotStore(cfg, s.redis)
	registry := api.NewRegistry(snapshots, roomStore, cfg.Rooms.AutoCreate, metrics)
	s.hub = api.NewHub(hubConfig(cfg), registry, snapshots, auth.NewAuthenticator(keys, revocations), metrics)

	health := api.NewHealthChecker(2*time.Second, s.hub)
	if s.redis != nil {
		health.AddComponent("redis", s.redis)
	}
	if s.database != nil {
		health.AddComponent("database", s.database)
	}

	routerCfg := api.RouterConfig{ServiceName: cfg.Telemetry.ServiceName}
	if cfg.Telemetry.TracingStdout {
		routerCfg.TracerProvider = tel.TracerProvider()
	}
	if cfg.Telemetry.MetricsEnabled {
		routerCfg.Metrics = tel.MetricsHandler()
	}
	s.router = api.NewRouter(routerCfg, s.hub, health)

	return s, nil
}

func hubConfig(cfg *config.Config) api.HubConfig {
	return api.HubConfig{
		SendQueueSize:    cfg.WebSocket.SendQueueSize,
		MaxMessageBytes:  cfg.WebSocket.MaxMessageBytes,
		PingInterval:     cfg.WebSocket.PingInterval,
		PongWait:         cfg.WebSocket.PongWait,
		WriteWait:        cfg.WebSocket.WriteWait,
		MaxSnapshotBytes: cfg.Snapshot.MaxBytes,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		LogMessages:      cfg.Logging.LogWebSocketMessages,
	}
}

func gormConfig(cfg *config.Config) db.GormConfig {
	return db.GormConfig{
		Type:       db.DatabaseType(cfg.Database.Type),
		Host:       cfg.Database.Host,
		Port:       cfg.Database.Port,
		User:       cfg.Database.User,
		Password:   cfg.Database.Password,
		Database:   cfg.Database.Name,
		SSLMode:    cfg.Database.SSLMode,
		SQLitePath: cfg.Database.Path,
	}
}

func newSnapshotStore(cfg *config.Config, redisDB *db.RedisDB) api.SnapshotStore {
	if cfg.Snapshot.Backend == "redis" && redisDB != nil {
		return api.NewRedisSnapshotStore(redisDB.GetClient(), cfg.Snapshot.Retention)
	}
	return api.NewMemorySnapshotStore()
}

// run serves until ctx is cancelled, then drains connections
func run(ctx context.Context, cfg *config.Config) error {
	logger := slogging.Get()

	if cfg.IsTestMode() || cfg.GetLogLevel() != slogging.LogLevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	s, err := build(ctx, cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting relay on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.hub.RunSnapshotJanitor(gctx, cfg.Snapshot.JanitorInterval, cfg.Snapshot.Retention)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// WebSocket connections are hijacked, so the hub closes them itself
		if err := s.hub.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Hub shutdown incomplete: %v", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.close(closeCtx)

	return err
}
