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

	"github.com/example/freshmart/pkg/auth"
	"github.com/example/freshmart/pkg/config"
	"github.com/example/freshmart/pkg/discovery"
	"github.com/example/freshmart/pkg/grpc"
	"github.com/example/freshmart/pkg/repository"
	"github.com/example/freshmart/pkg/store"
)

func main() {
	configPath := flag.String("config", "config/order-config.yaml", "path to the config file")
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

	logger.Info("Starting order service",
		zap.String("name", cfg.Server.Name),
		zap.Int("port", cfg.Server.Port))

	fee, err := cfg.Store.Fee()
	if err != nil {
		logger.Fatal("Invalid store config", zap.Error(err))
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		logger.Fatal("Failed to create token verifier", zap.Error(err))
	}

	db, err := repository.OpenSQL(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()

	var sink store.AuditSink
	if cfg.MongoDB.Enabled {
		mongo, err := repository.NewMongoRepository(&cfg.MongoDB, cfg.Server.Name, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer mongo.Close(context.Background())
		if err := mongo.Ping(ctx); err != nil {
			logger.Warn("MongoDB ping failed", zap.Error(err))
		}
		sink = mongo
	}

	// Create server
	orders := store.NewOrders(db, sink, logger, fee)
	server := grpc.NewOrderServer(orders, verifier, logger)

	// Start server in goroutine
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(addr); err != nil {
			serverErr <- err
		}
	}()

	// Register service
	instance := &discovery.ServiceInstance{
		Name: cfg.Server.Name,
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}
	var sd *discovery.ServiceDiscovery
	if cfg.Etcd.Enabled {
		sd, err = discovery.NewServiceDiscovery(&cfg.Etcd, logger)
		if err != nil {
			logger.Fatal("Failed to connect to etcd", zap.Error(err))
		}
		defer sd.Close()

		if err := sd.Register(ctx, instance); err != nil {
			logger.Fatal("Failed to register service", zap.Error(err))
		}
		logger.Info("Service registered in etcd",
			zap.String("name", instance.Name),
			zap.String("address", instance.Addr()))
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case err := <-serverErr:
		logger.Error("Server error", zap.Error(err))
	}

	// Deregister service
	if sd != nil {
		deregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sd.Deregister(deregCtx, instance); err != nil {
			logger.Error("Failed to deregister service", zap.Error(err))
		}
		cancel()
	}
	server.Stop()

	logger.Info("Service stopped")
}
