package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fourinarow/fourinarow-server-go/internal/auth"
	"github.com/fourinarow/fourinarow-server-go/internal/config"
	"github.com/fourinarow/fourinarow-server-go/internal/game"
	"github.com/fourinarow/fourinarow-server-go/internal/matchmaking"
	"github.com/fourinarow/fourinarow-server-go/internal/repository"
	"github.com/fourinarow/fourinarow-server-go/internal/server"
	"github.com/fourinarow/fourinarow-server-go/internal/session"
	"github.com/fourinarow/fourinarow-server-go/internal/user"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, level, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting four-in-a-row server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	if cfg.Auth.JWTSecret == config.DevJWTSecret {
		logger.Warn("using built-in development JWT secret; set FOURINAROW_AUTH_JWT_SECRET in production")
	}

	// Only the log level is applied live; everything else needs a restart.
	if _, err := config.Watch(*configPath, logger, func(next *config.Config) {
		level.SetLevel(parseLevel(next.Logging.Level))
	}); err != nil {
		logger.Warn("config watch disabled", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize player store
	store, err := repository.Open(ctx, cfg.Database, logger.Named("repository"))
	if err != nil {
		logger.Fatal("failed to open player store", zap.Error(err))
	}
	defer store.Close()

	if pg, ok := store.(*repository.PostgresStore); ok {
		stats := pg.Stats()
		logger.Info("database connection pool initialized",
			zap.Int32("total_conns", stats.TotalConns()),
			zap.Int32("idle_conns", stats.IdleConns()),
		)
	}

	// Initialize user manager
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	userMgr := user.NewManager(store, tokens, cfg.Auth.BcryptCost, logger.Named("user"))
	logger.Info("user manager initialized", zap.Duration("token_ttl", cfg.Auth.TokenTTL))

	// Initialize replay recorder
	replays := game.NewReplayRecorder(logger.Named("replay"), cfg.Replay.Dir())
	logger.Info("replay recorder initialized",
		zap.Bool("enabled", replays.Enabled()),
		zap.String("directory", cfg.Replay.Dir()),
	)

	// Initialize session registry
	registry := session.NewRegistry(session.Options{
		BotName:     cfg.Bot.Name,
		BotMinDelay: cfg.Bot.MinDelay,
		BotMaxDelay: cfg.Bot.MaxDelay,
		WinPoints:   cfg.Scoring.WinPoints,
	}, store, replays, logger.Named("session"))
	logger.Info("session registry initialized", zap.String("bot_name", cfg.Bot.Name))

	// Initialize matchmaking queue
	queue := matchmaking.NewQueue(registry, cfg.Matchmaking.Timeout, logger.Named("matchmaking"))
	logger.Info("matchmaking queue initialized", zap.Duration("timeout", cfg.Matchmaking.Timeout))

	ws := server.NewWebSocketHandler(cfg.Server, userMgr, queue, registry, logger)
	api := server.NewAPI(userMgr, registry, queue, store, version, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           server.NewRouter(api, ws, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer, healthServer := server.NewGRPCServer(cfg.Server.GRPC, logger)

	g, gctx := errgroup.WithContext(ctx)

	// Start HTTP/WebSocket server
	g.Go(func() error {
		logger.Info("starting HTTP server", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Start gRPC server
	g.Go(func() error {
		if err := server.ServeGRPC(grpcServer, cfg.Server.GRPC.Address, logger); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		healthServer.Shutdown()
		queue.Close()
		ws.Shutdown()

		if err := registry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("pending score updates abandoned", zap.Error(err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", zap.Error(err))
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return nil
	})

	logger.Info("four-in-a-row server initialized",
		zap.String("version", version),
		zap.String("http_address", cfg.Server.Address),
		zap.String("grpc_address", cfg.Server.GRPC.Address),
	)

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
	}

	logger.Info("four-in-a-row server stopped")
}

// initLogger builds the zap logger and returns its adjustable level.
func initLogger(cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zapCfg.Level = level

	logger, err := zapCfg.Build()
	return logger, level, err
}

func parseLevel(name string) zapcore.Level {
	switch name {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
