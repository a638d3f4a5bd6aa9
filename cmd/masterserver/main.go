// Package main provides the master server binary: the TCP session gateway,
// the UDP match relay, and the UDP rendezvous directory in one process.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/tank2d/masterserver/internal/config"
	"github.com/tank2d/masterserver/internal/events"
	"github.com/tank2d/masterserver/internal/gateway"
	"github.com/tank2d/masterserver/internal/lobby"
	"github.com/tank2d/masterserver/internal/observability"
	"github.com/tank2d/masterserver/internal/relay"
	"github.com/tank2d/masterserver/internal/rendezvous"
	"github.com/tank2d/masterserver/internal/server"
	"github.com/tank2d/masterserver/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting master server",
		zap.String("gateway_addr", cfg.Gateway.Addr()),
		zap.String("relay_addr", cfg.Relay.Addr()),
		zap.String("rendezvous_addr", cfg.Rendezvous.Addr()),
	)

	// Connect to PostgreSQL
	ctx := context.Background()
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Name),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	// Build services
	accounts := postgres.NewAccountRepository(pool.DB())
	shop := postgres.NewShopRepository(pool.DB())
	tanks := postgres.NewTankRepository(pool.DB())
	inventory := postgres.NewInventoryRepository(pool.DB())

	sink := events.NewSink(256)
	go events.LogConsumer(sink, logger.Named("events"))

	rooms := lobby.NewDirectory(sink, logger)
	handler := gateway.NewHandler(
		accounts, shop, tanks, inventory, rooms,
		cfg.Relay.AdvertisedAddr(), cfg.Gateway.WriteTimeout,
		sink, logger,
	)
	acceptor := gateway.NewAcceptor(cfg.Gateway, handler, sink, logger)
	matchRelay := relay.NewRelay(cfg.Relay, logger)
	rendezvousSrv := rendezvous.NewServer(cfg.Rendezvous, logger)

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			for {
				time.Sleep(30 * time.Second)
				if err := pool.Health(ctx, 5*time.Second); err != nil {
					logger.Warn("database health check failed", zap.Error(err))
				}
			}
		},
		StopFn: func() {
			pool.Close()
		},
	})

	lifecycle.Add("relay", matchRelay)
	lifecycle.Add("rendezvous", rendezvousSrv)

	lifecycle.Add("gateway", &server.FuncService{
		StartFn: func() error {
			return acceptor.ListenAndServe()
		},
		StopFn: func() {
			acceptor.Stop()
		},
	})

	logger.Info("master server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	sink.Close()
}
