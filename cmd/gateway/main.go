package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/freshmart/gateway"
	"github.com/example/freshmart/pkg/auth"
	"github.com/example/freshmart/pkg/config"
	"github.com/example/freshmart/pkg/discovery"
	"github.com/example/freshmart/pkg/grpc"
	"github.com/example/freshmart/pkg/repository"
	"github.com/example/freshmart/pkg/session"
	"github.com/example/freshmart/pkg/store"
)

// persistence is the product/order store with a way to release it.
type persistence interface {
	store.Persistence
	Close() error
}

type memoryPersistence struct {
	*repository.MemoryRepository
}

func (memoryPersistence) Close() error { return nil }

func openPersistence(cfg *config.DatabaseConfig, logger *zap.Logger) (persistence, error) {
	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory product and order store")
		return memoryPersistence{repository.NewMemoryRepository()}, nil
	}
	return repository.OpenSQL(cfg, logger)
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Setup logger
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting API Gateway",
		zap.Int("port", cfg.Gateway.Port),
		zap.String("host", cfg.Gateway.Host),
		zap.String("order_service", cfg.Gateway.OrderService))

	fee, err := cfg.Store.Fee()
	if err != nil {
		logger.Fatal("Invalid store config", zap.Error(err))
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		logger.Fatal("Failed to create token verifier", zap.Error(err))
	}

	db, err := openPersistence(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()

	// Carts survive restarts when redis is configured
	var carts store.CartStorage = repository.NewMemoryCartStorage()
	if cfg.Redis.Enabled {
		rdb := repository.NewRedisRepository(&cfg.Redis)
		if err := rdb.Ping(ctx); err != nil {
			logger.Fatal("Redis connection failed", zap.Error(err))
		}
		defer rdb.Close()
		carts = rdb
		logger.Info("Redis connected successfully", zap.String("addr", cfg.Redis.Addr))
	}

	var (
		sink  store.AuditSink
		trail gateway.AuditReader
	)
	if cfg.MongoDB.Enabled {
		mongo, err := repository.NewMongoRepository(&cfg.MongoDB, "gateway", logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer mongo.Close(context.Background())
		sink, trail = mongo, mongo
	}

	catalog := store.NewCatalog(db, sink, logger)
	orders := store.NewOrders(db, sink, logger, fee)
	sessions := store.NewSessions(catalog, orders, carts, logger)
	manager := session.NewManager(sessions, cfg.Session.IdleTimeout, cfg.Session.RequestTimeout, logger)

	var admin gateway.OrderAdmin = orders
	if cfg.Gateway.OrderService == "remote" {
		var sd *discovery.ServiceDiscovery
		if cfg.Etcd.Enabled {
			sd, err = discovery.NewServiceDiscovery(&cfg.Etcd, logger)
			if err != nil {
				logger.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
				sd = nil
			} else {
				defer sd.Close()
			}
		}

		clients := grpc.NewClientManager(&cfg.Gateway, logger, sd, verifier)
		if err := clients.Connect(ctx); err != nil {
			logger.Fatal("Failed to connect to order service", zap.Error(err))
		}
		defer clients.Close()
		admin = clients
	}

	// Create gateway
	gw := gateway.NewGateway(cfg, gateway.Deps{
		Catalog:  catalog,
		Carts:    manager,
		History:  orders,
		Orders:   admin,
		Audit:    trail,
		Verifier: verifier,
	}, logger)
	gw.SetupRoutes()

	// Start gateway in goroutine
	gwErr := make(chan error, 1)
	go func() {
		if err := gw.Start(); err != nil {
			gwErr <- err
		}
	}()

	logger.Info("Gateway started successfully")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case err := <-gwErr:
		logger.Error("Gateway error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}
	manager.Shutdown()

	logger.Info("Gateway stopped")
}
