package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	Translator  TranslatorConfig `mapstructure:"translator"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Patients    PatientsConfig   `mapstructure:"patients"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Engine      EngineConfig     `mapstructure:"engine"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	MCP         MCPConfig        `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// TranslatorConfig configures the language-model rule translator. It is passed
// explicitly to the translator; no credential is read from ambient process state.
type TranslatorConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	APIVersion  string        `mapstructure:"api_version"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RetryCount  int           `mapstructure:"retry_count"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	CacheSize   int           `mapstructure:"cache_size"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// CacheConfig represents the distributed translation cache. An empty RedisURL
// disables it and only the in-memory cache is used.
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// Patient source kinds.
const (
	SourceCSV      = "csv"
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
)

// PatientsConfig selects where patient records are loaded from.
type PatientsConfig struct {
	Source string `mapstructure:"source"`
	Path   string `mapstructure:"path"`
	Table  string `mapstructure:"table"`
}

// DatabaseConfig represents the Postgres patient database connection
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// EngineConfig tunes the scoring engine.
type EngineConfig struct {
	OtherRulePolicy string `mapstructure:"other_rule_policy"`
	Workers         int    `mapstructure:"workers"`
}

// LoggingConfig represents logging configuration. Dir is where run logs
// (parsed rules, scores, exclusion reasons) are written when RunLogs is set.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	RunLogs bool   `mapstructure:"run_logs"`
	Dir     string `mapstructure:"dir"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
}
