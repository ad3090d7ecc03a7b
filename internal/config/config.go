package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/clinical-trial-matcher/internal/database"
	"github.com/clinical-trial-matcher/internal/domain"
)

// EnvPrefix is the prefix of every environment override, e.g. TRIAL_MATCHER_TRANSLATOR_API_KEY.
const EnvPrefix = "TRIAL_MATCHER"

// Options controls where configuration is read from.
type Options struct {
	// ConfigFile, when set, replaces the config.yaml search.
	ConfigFile string

	// Flags are bound over file and environment values. FlagKeys maps a config key
	// such as "patients.path" to the flag that overrides it.
	Flags    *pflag.FlagSet
	FlagKeys map[string]string
}

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	opts   Options
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager(opts Options) (*Manager, error) {
	m := &Manager{opts: opts}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.opts.ConfigFile != "" {
		v.SetConfigFile(m.opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/trial-matcher/")
	}

	// Set environment variable prefix and enable automatic env binding
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || m.opts.ConfigFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if m.opts.Flags != nil {
		for key, name := range m.opts.FlagKeys {
			flag := m.opts.Flags.Lookup(name)
			if flag == nil {
				return fmt.Errorf("unknown flag %q for key %s", name, key)
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return fmt.Errorf("binding flag %q: %w", name, err)
			}
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// DefaultDataDir is where run logs are written unless configured otherwise.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".trial-matcher"
	}
	return filepath.Join(homeDir, ".trial-matcher")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	dataDir := DefaultDataDir()

	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "90s")
	v.SetDefault("server.max_upload_bytes", 32<<20)

	// Translator defaults
	v.SetDefault("translator.base_url", "https://api.anthropic.com")
	v.SetDefault("translator.api_key", "")
	v.SetDefault("translator.api_version", "2023-06-01")
	v.SetDefault("translator.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("translator.max_tokens", 1000)
	v.SetDefault("translator.temperature", 0.2)
	v.SetDefault("translator.timeout", "60s")
	v.SetDefault("translator.retry_count", 3)
	v.SetDefault("translator.rate_limit", 1)
	v.SetDefault("translator.cache_size", 256)
	v.SetDefault("translator.cache_ttl", "24h")

	// Cache defaults; an empty Redis URL keeps translations in memory only
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Patient source defaults
	v.SetDefault("patients.source", domain.SourceCSV)
	v.SetDefault("patients.path", "")
	v.SetDefault("patients.table", "patients")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "trial_matcher")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	// Engine defaults
	v.SetDefault("engine.other_rule_policy", string(domain.OtherRuleWarn))
	v.SetDefault("engine.workers", 1)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.run_logs", true)
	v.SetDefault("logging.dir", filepath.Join(dataDir, "logs"))

	// MCP defaults
	v.SetDefault("mcp.server_name", "clinical-trial-matcher")
	v.SetDefault("mcp.server_version", "1.0.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetTranslatorConfig returns translator configuration
func (m *Manager) GetTranslatorConfig() *domain.TranslatorConfig {
	return &m.config.Translator
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration. The translator API key is not required
// here because runs that supply a rule document never call the translator.
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return domain.NewValidationError("server.port", "must be between 1 and 65535", config.Server.Port)
	}

	if config.Translator.MaxTokens <= 0 {
		return domain.NewValidationError("translator.max_tokens", "must be positive", config.Translator.MaxTokens)
	}
	if config.Translator.Temperature < 0 || config.Translator.Temperature > 1 {
		return domain.NewValidationError("translator.temperature", "must be between 0 and 1", config.Translator.Temperature)
	}
	if config.Translator.RetryCount < 0 {
		return domain.NewValidationError("translator.retry_count", "must not be negative", config.Translator.RetryCount)
	}

	switch config.Patients.Source {
	case "", domain.SourceCSV, domain.SourceSQLite, domain.SourcePostgres:
	default:
		return domain.NewValidationError("patients.source", "must be csv, sqlite or postgres", config.Patients.Source)
	}

	if config.Patients.Source == domain.SourcePostgres {
		if config.Database.Host == "" {
			return domain.NewValidationError("database.host", "is required", "")
		}
		if config.Database.Database == "" {
			return domain.NewValidationError("database.database", "is required", "")
		}
		if config.Database.Username == "" {
			return domain.NewValidationError("database.username", "is required", "")
		}
	}

	if _, err := domain.ParseOtherRulePolicy(config.Engine.OtherRulePolicy); err != nil {
		return domain.NewValidationError("engine.other_rule_policy", err.Error(), config.Engine.OtherRulePolicy)
	}
	if config.Engine.Workers < 1 {
		return domain.NewValidationError("engine.workers", "must be at least 1", config.Engine.Workers)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return domain.NewValidationError("logging.level", "invalid log level", config.Logging.Level)
	}
	if config.Logging.RunLogs && config.Logging.Dir == "" {
		return domain.NewValidationError("logging.dir", "is required when run logs are enabled", "")
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	return database.DSN(m.config.Database)
}

// GetDatabaseURL returns the database URL used by migrations
func (m *Manager) GetDatabaseURL() string {
	return database.URL(m.config.Database)
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
