package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/clinical-trial-matcher/internal/api"
	"github.com/clinical-trial-matcher/internal/app"
	"github.com/clinical-trial-matcher/internal/config"
)

func main() {
	configFile := pflag.String("config", "", "path to a config.yaml")
	pflag.Int("port", 8080, "HTTP listen port")
	pflag.Parse()

	// Load configuration
	configManager, err := config.NewManager(config.Options{
		ConfigFile: *configFile,
		Flags:      pflag.CommandLine,
		FlagKeys:   map[string]string{"server.port": "port"},
	})
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := app.NewLogger(cfg.Logging, os.Stdout)
	logger.Infof("Starting clinical trial matcher API on %s:%d", cfg.Server.Host, cfg.Server.Port)

	a, err := app.Build(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize matcher: %v", err)
	}
	defer a.Close()

	// Create server
	server := api.NewServer(configManager, a.Matcher, logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		a.Close()
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
