// Package app assembles the matcher service and its collaborators from configuration.
// Every binary builds its dependencies through Build so that the CLI, the HTTP API and
// the MCP server behave the same for the same config.
package app

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/runlog"
	"github.com/clinical-trial-matcher/internal/service"
	"github.com/clinical-trial-matcher/pkg/external"
)

// NewLogger creates a logger from the logging config writing to out.
func NewLogger(cfg domain.LoggingConfig, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	return logger
}

// App holds the wired matcher and the resources that must be released on exit.
type App struct {
	Matcher *service.MatcherService

	closers []io.Closer
	logger  *logrus.Logger
}

// Build wires the matcher service from cfg. The rule translator is only created when
// an API key is configured; without one, runs must supply a rule document.
func Build(cfg *domain.Config, logger *logrus.Logger) (*App, error) {
	a := &App{logger: logger}

	translator, err := a.buildTranslator(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	policy, err := domain.ParseOtherRulePolicy(cfg.Engine.OtherRulePolicy)
	if err != nil {
		a.Close()
		return nil, domain.NewValidationError("engine.other_rule_policy", err.Error(), cfg.Engine.OtherRulePolicy)
	}
	engine := service.NewEngine(logger, service.EngineOptions{
		OtherRulePolicy: policy,
		Workers:         cfg.Engine.Workers,
	})

	var runLog domain.RunLogWriter
	if cfg.Logging.RunLogs {
		runLog = runlog.NewWriter(cfg.Logging.Dir)
	}

	a.Matcher = service.NewMatcherService(logger, translator, engine, runLog)

	logger.WithFields(logrus.Fields{
		"translator": translator != nil,
		"run_logs":   runLog != nil,
		"workers":    cfg.Engine.Workers,
	}).Info("Matcher service initialized")

	return a, nil
}

func (a *App) buildTranslator(cfg *domain.Config) (domain.RuleTranslator, error) {
	if cfg.Translator.APIKey == "" {
		a.logger.Warn("No translator API key configured, only rule documents are accepted")
		return nil, nil
	}

	client, err := external.NewAnthropicClient(cfg.Translator, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule translator: %w", err)
	}

	layers := []domain.RuleCache{
		external.NewMemoryRuleCache(cfg.Translator.CacheSize, cfg.Translator.CacheTTL),
	}
	if cfg.Cache.RedisURL != "" {
		redisCache, err := external.NewRedisRuleCache(cfg.Cache)
		if err != nil {
			// Redis only shares translations between processes; carry on without it.
			a.logger.WithError(err).Warn("Redis rule cache unavailable, using in-memory cache only")
		} else {
			layers = append(layers, redisCache)
			a.closers = append(a.closers, redisCache)
		}
	}

	return external.NewResilientTranslator(client, external.NewLayeredRuleCache(layers...), external.DefaultBreakerSettings, a.logger), nil
}

// Close releases the cache connections.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close resource")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.closers = nil
	return firstErr
}
