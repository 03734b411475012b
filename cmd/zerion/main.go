package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leozinhoszg/zerion/internal/auth"
	"github.com/leozinhoszg/zerion/internal/chat"
	"github.com/leozinhoszg/zerion/internal/config"
	"github.com/leozinhoszg/zerion/internal/db"
	"github.com/leozinhoszg/zerion/internal/gameserver"
	"github.com/leozinhoszg/zerion/internal/persistence"
	"github.com/leozinhoszg/zerion/internal/sim"
	"github.com/leozinhoszg/zerion/internal/tilemap"
)

const (
	throttleSweepInterval = time.Minute
	ticketCleanupInterval = time.Minute
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := config.Path()
	cfg, err := config.LoadGameServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("zerion server starting",
		"config", cfgPath,
		"log_level", cfg.LogLevel,
		"bind", cfg.BindAddress,
		"port", cfg.Port,
		"tick_hz", cfg.TickHz)

	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	slog.Info("database connected")

	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database migrations applied")

	maps := tilemap.NewRegistry()
	if err := maps.LoadFile(cfg.MapPath, cfg.MapID); err != nil {
		// Without a map movement is unconstrained; the server still runs.
		slog.Warn("map not loaded, collision disabled", "path", cfg.MapPath, "error", err)
	}

	scheduler := sim.NewScheduler(sim.Config{
		TickHz:     cfg.TickHz,
		Speed:      cfg.MoveSpeed,
		HalfSize:   cfg.PlayerHalfSize,
		CellSize:   cfg.AOICellSize,
		ViewRadius: cfg.AOIRadius,
		MaxQueue:   cfg.InputQueueSize,
	}, maps)

	charRepo := db.NewCharacterRepository(database.Pool())
	ticketRepo := db.NewTicketRepository(database.Pool(), cfg.TicketTTL)

	buffer := persistence.New(charRepo, cfg.PersistInterval)
	// The buffer outlives the errgroup so that it flushes after every session closed.
	buffer.Start(context.WithoutCancel(ctx))
	defer buffer.Stop()

	throttle := auth.NewThrottle(cfg.RateMovePerSecond, cfg.RateChatPerMinute)

	g, gctx := errgroup.WithContext(ctx)

	var broker chat.Broker
	switch cfg.ChatBackend {
	case config.ChatBackendPostgres:
		pg := chat.NewPGBroker(database.Pool(), chat.DefaultSubscriberBuffer)
		g.Go(func() error {
			slog.Info("starting chat listener", "backend", cfg.ChatBackend)
			if err := pg.Run(gctx); err != nil {
				return fmt.Errorf("chat listener: %w", err)
			}
			return nil
		})
		broker = pg
	default:
		broker = chat.NewHub(chat.DefaultSubscriberBuffer)
	}

	gameServer, err := gameserver.NewServer(gameserver.Deps{
		Config:     cfg,
		Scheduler:  scheduler,
		Maps:       maps,
		Persister:  buffer,
		Tickets:    ticketRepo,
		Characters: charRepo,
		Throttle:   throttle,
		Broker:     broker,
	})
	if err != nil {
		return fmt.Errorf("creating game server: %w", err)
	}

	g.Go(func() error {
		slog.Info("starting tick scheduler", "tick_hz", cfg.TickHz)
		if err := scheduler.Run(gctx); err != nil {
			return fmt.Errorf("tick scheduler: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("starting throttle sweeper", "interval", throttleSweepInterval)
		if err := throttle.Run(gctx, throttleSweepInterval); err != nil {
			return fmt.Errorf("throttle sweeper: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("starting ticket cleanup", "interval", ticketCleanupInterval)
		if err := ticketRepo.RunCleanup(gctx, ticketCleanupInterval); err != nil {
			return fmt.Errorf("ticket cleanup: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("starting game server", "address", cfg.Addr())
		if err := gameServer.Run(gctx); err != nil {
			return fmt.Errorf("game server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("zerion server stopped")
	return nil
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
