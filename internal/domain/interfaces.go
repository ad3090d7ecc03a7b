package domain

import (
	"context"
)

// RuleTranslator turns a free-text trial description into a rule document.
type RuleTranslator interface {
	Translate(ctx context.Context, description string) (*RuleDocument, error)
}

// PatientSource loads the patient table for a run. Patients are returned in
// ingestion order with Index set to their position.
type PatientSource interface {
	LoadPatients(ctx context.Context) ([]Patient, error)
	Describe() string
}

// RuleCache stores raw rule documents keyed by a normalized description hash.
type RuleCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, raw []byte) error
}

// RunLogWriter persists the artifacts of a run.
type RunLogWriter interface {
	Persist(rawRules []byte, result *RankResult) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetTranslatorConfig() *TranslatorConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	IsProduction() bool
	IsDevelopment() bool
}
