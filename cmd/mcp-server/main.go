package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/clinical-trial-matcher/internal/app"
	"github.com/clinical-trial-matcher/internal/config"
	"github.com/clinical-trial-matcher/internal/mcp"
	"github.com/clinical-trial-matcher/internal/setup"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := setup.NewCLI(os.Stdin, os.Stdout).Run(os.Args[2:]); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	configFile := pflag.String("config", "", "path to a config.yaml")
	pflag.Parse()

	// Load configuration
	configManager, err := config.NewManager(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()

	// stdout carries the MCP protocol, so logs go to stderr
	logger := app.NewLogger(cfg.Logging, os.Stderr)
	logger.WithField("server", cfg.MCP.ServerName).Info("Starting clinical trial matcher MCP server")

	a, err := app.Build(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize matcher: %v", err)
	}
	defer a.Close()

	// Create MCP server
	mcpServer, err := mcp.NewServer(*cfg, a.Matcher, logger)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down MCP server...")
		cancel()
	}()

	// Start MCP server
	if err := mcpServer.Start(ctx); err != nil {
		logger.WithError(err).Error("MCP server failed")
		a.Close()
		os.Exit(1)
	}

	logger.Info("MCP server stopped")
}
