// Package main provides the command-line entry point of the clinical trial matcher.
// It ranks one patient table against one trial per invocation and prints the included
// patients followed by the inclusion summary.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/clinical-trial-matcher/internal/app"
	"github.com/clinical-trial-matcher/internal/config"
	"github.com/clinical-trial-matcher/internal/database"
	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/patients"
	"github.com/clinical-trial-matcher/internal/service"
)

const usage = `Usage:
  matcher [flags]            rank patients against a trial
  matcher migrate [flags]    apply or roll back the Postgres schema
  matcher import [flags]     copy a patient CSV into the Postgres patient table
`

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			if err := runMigrate(os.Args[2:]); err != nil {
				log.Fatalf("Migration failed: %v", err)
			}
			return
		case "import":
			if err := runImport(os.Args[2:]); err != nil {
				log.Fatalf("Import failed: %v", err)
			}
			return
		}
	}

	if err := runMatch(os.Args[1:]); err != nil {
		log.Fatalf("Run failed: %v", err)
	}
}

// loadConfig parses args into fs and loads the configuration with the flags bound
// over file and environment values.
func loadConfig(fs *pflag.FlagSet, args []string, keys map[string]string) (*config.Manager, error) {
	configFile := fs.String("config", "", "path to a config.yaml")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	configManager, err := config.NewManager(config.Options{
		ConfigFile: *configFile,
		Flags:      fs,
		FlagKeys:   keys,
	})
	if err != nil {
		return nil, err
	}
	return configManager, nil
}

func runMatch(args []string) error {
	fs := pflag.NewFlagSet("matcher", pflag.ExitOnError)
	fs.String("patients", "", "patient table: CSV or SQLite file path")
	fs.String("source", domain.SourceCSV, "patient source: csv, sqlite or postgres")
	fs.String("table", "patients", "patient table name for sqlite and postgres sources")
	rulesText := fs.String("rules-text", "", "free-text trial description to translate")
	rulesFile := fs.String("rules-file", "", "file holding a rule document")
	rulesJSON := fs.String("rules-json", "", "inline rule document")
	fs.String("log-dir", "", "directory for run logs")
	noLogs := fs.Bool("no-logs", false, "do not write run logs")
	fs.Int("workers", 1, "goroutines scoring patients")
	fs.String("other-rule-policy", string(domain.OtherRuleWarn), "handling of unsupported rules: ignore, warn or error")
	fs.String("log-level", "info", "log level")

	configManager, err := loadConfig(fs, args, map[string]string{
		"patients.path":            "patients",
		"patients.source":          "source",
		"patients.table":           "table",
		"logging.dir":              "log-dir",
		"engine.workers":           "workers",
		"engine.other_rule_policy": "other-rule-policy",
		"logging.level":            "log-level",
	})
	if err != nil {
		return err
	}

	cfg := configManager.GetConfig()
	if *noLogs {
		cfg.Logging.RunLogs = false
	}
	if err := configManager.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	req := service.RunRequest{Description: *rulesText}
	switch {
	case *rulesFile != "" && *rulesJSON != "":
		return domain.ErrRuleSourceAmbiguous
	case *rulesFile != "":
		raw, err := os.ReadFile(*rulesFile)
		if err != nil {
			return fmt.Errorf("reading rules file: %w", err)
		}
		req.RulesJSON = raw
	case *rulesJSON != "":
		req.RulesJSON = []byte(*rulesJSON)
	}

	// Results go to stdout; logs stay on stderr.
	logger := app.NewLogger(cfg.Logging, os.Stderr)

	a, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	source, err := patients.Open(ctx, cfg.Patients, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer source.Close()
	req.Source = source

	run, err := a.Matcher.Run(ctx, req)
	var persistErr *domain.PersistError
	if err != nil && !errors.As(err, &persistErr) {
		return err
	}

	for _, p := range run.Result.Included() {
		fmt.Println(p.DisplayLine())
	}
	fmt.Println(run.Summary.String())

	if persistErr != nil {
		return fmt.Errorf("ranking completed but run logs were not written: %w", persistErr)
	}
	return nil
}

func runMigrate(args []string) error {
	fs := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	down := fs.Int("down", 0, "roll back this many migrations instead of applying them")
	fs.String("migrations", "migrations", "directory holding the migration files")

	configManager, err := loadConfig(fs, args, map[string]string{
		"database.migrations_path": "migrations",
	})
	if err != nil {
		return err
	}

	cfg := configManager.GetConfig()
	logger := app.NewLogger(cfg.Logging, os.Stderr)

	runner, err := database.NewMigrationRunner(configManager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	if *down > 0 {
		err = runner.Down(*down)
	} else {
		err = runner.Up()
	}
	if err != nil {
		return err
	}

	version, dirty, err := runner.Version()
	if err != nil {
		return err
	}
	fmt.Printf("Schema version %d (dirty: %t)\n", version, dirty)
	return nil
}

func runImport(args []string) error {
	fs := pflag.NewFlagSet("import", pflag.ExitOnError)
	fs.String("patients", "", "patient CSV file to import")
	fs.String("table", "patients", "destination table")

	configManager, err := loadConfig(fs, args, map[string]string{
		"patients.path":  "patients",
		"patients.table": "table",
	})
	if err != nil {
		return err
	}

	cfg := configManager.GetConfig()
	if cfg.Patients.Path == "" {
		return domain.ErrNoPatientSource
	}
	logger := app.NewLogger(cfg.Logging, os.Stderr)

	ctx, cancel := signalContext()
	defer cancel()

	rows, err := patients.NewCSVSource(cfg.Patients.Path).LoadPatients(ctx)
	if err != nil {
		return err
	}

	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	dest, err := patients.NewPostgresSource(db.Pool, cfg.Patients.Table)
	if err != nil {
		return err
	}
	n, err := dest.Insert(ctx, rows)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d patients into %s\n", n, dest.Describe())
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			log.Println("Shutdown signal received, cancelling run...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
