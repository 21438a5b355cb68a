package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lox/chunkrun/internal/engine"
	"github.com/lox/chunkrun/internal/identity"
	"github.com/lox/chunkrun/internal/rewardpool"
	"github.com/lox/chunkrun/internal/room"
	"github.com/lox/chunkrun/internal/server"
	"github.com/lox/chunkrun/internal/settlement"
)

// ServerCmd runs the websocket game server
type ServerCmd struct {
	Config string `kong:"default='chunkrun.hcl',help='Path to HCL config file'"`
	Addr   string `kong:"help='Override the listen address from config'"`
	Debug  bool   `kong:"help='Enable debug logging'"`
}

func (c *ServerCmd) Run() error {
	cfg, err := server.LoadServerConfig(c.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := setupLogger(cfg.Server.LogLevel, c.Debug)

	addr := cfg.GetServerAddress()
	if c.Addr != "" {
		addr = c.Addr
	}

	pool := rewardpool.New(nil)
	registry := room.NewRegistry(pool, logger, nil)

	var settle settlement.Client = settlement.Noop{}
	if cfg.Settlement.URL != "" {
		settle = settlement.NewHTTPClient(cfg.Settlement.URL, cfg.SettlementTimeout())
		logger.Info("Settlement enabled", "url", cfg.Settlement.URL)
	} else {
		logger.Warn("No settlement URL configured, sessions will not be settled externally")
	}

	var admin, operator identity.Address
	if cfg.Server.AdminAddress != "" {
		admin, _ = identity.Parse(cfg.Server.AdminAddress)
	}
	if cfg.Server.OperatorAddress != "" {
		operator, _ = identity.Parse(cfg.Server.OperatorAddress)
	}

	gameService := server.NewGameService(registry, pool, settle, logger, nil, server.GameServiceConfig{
		CloseDelay:        cfg.CloseDelay(),
		Operator:          operator,
		Admin:             admin,
		DefaultDeposit:    decimal.RequireFromString(cfg.Game.DefaultDeposit),
		DefaultDifficulty: engine.Difficulty(cfg.Game.DefaultDifficulty),
		SettlementTimeout: cfg.SettlementTimeout(),
	})

	srv := server.NewServer(addr, logger)
	srv.SetGameService(gameService)

	logger.Info("Starting chunkrun server",
		"addr", addr,
		"default_deposit", cfg.Game.DefaultDeposit,
		"default_difficulty", cfg.Game.DefaultDifficulty,
		"close_delay", cfg.CloseDelay())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func setupLogger(level string, debug bool) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})

	if debug {
		logger.SetLevel(log.DebugLevel)
		return logger
	}

	if parsed, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(parsed)
	}
	return logger
}
