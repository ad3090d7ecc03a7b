package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/patients"
	"github.com/clinical-trial-matcher/internal/runlog"
	"github.com/clinical-trial-matcher/internal/service"
)

const testRules = `{
	"response": "rules",
	"inclusion_criterium": [{"rule": {"type": "age", "min": 50}, "weight": 1.0}],
	"exclusion_criterium": []
}`

const testPatientsCSV = `subject_id,first_name,last_name,age,gender,prescriptions,prescriptions_poe,prescriptions_generic,icd9_codes
100,Ada,Byron,60,F,[],[],[],[]
101,Alan,Turing,35,M,[],[],[],[]
`

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress logs during testing
	return logger
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(domain.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	logger.Info("hello")
	assert.Contains(t, buf.String(), `"message":"hello"`)

	buf.Reset()
	logger = NewLogger(domain.LoggingConfig{Level: "bogus", Format: "text"}, &buf)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	logger.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestBuild_WithoutTranslator(t *testing.T) {
	dir := t.TempDir()
	cfg := &domain.Config{
		Engine:  domain.EngineConfig{OtherRulePolicy: "warn", Workers: 2},
		Logging: domain.LoggingConfig{RunLogs: true, Dir: filepath.Join(dir, "logs")},
	}

	a, err := Build(cfg, testLogger())
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()

	_, err = a.Matcher.Translate(ctx, "adults over 50")
	assert.ErrorIs(t, err, service.ErrNoTranslator)

	run, err := a.Matcher.Run(ctx, service.RunRequest{
		RulesJSON: []byte(testRules),
		Source:    patients.NewBytesSource("test", []byte(testPatientsCSV)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Summary.Included)

	_, err = os.Stat(filepath.Join(dir, "logs", runlog.ScoresFile))
	assert.NoError(t, err)

	assert.NoError(t, a.Close())
}

func TestBuild_BadPolicy(t *testing.T) {
	cfg := &domain.Config{Engine: domain.EngineConfig{OtherRulePolicy: "panic"}}
	_, err := Build(cfg, testLogger())

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "engine.other_rule_policy", ve.Field)
}

func TestBuild_WithoutRunLogs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	cfg := &domain.Config{Logging: domain.LoggingConfig{RunLogs: false, Dir: dir}}

	a, err := Build(cfg, testLogger())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Matcher.Run(context.Background(), service.RunRequest{
		RulesJSON: []byte(testRules),
		Source:    patients.NewBytesSource("test", []byte(testPatientsCSV)),
	})
	require.NoError(t, err)
	assert.NoDirExists(t, dir)
}

func TestBuild_WithTranslator(t *testing.T) {
	cfg := &domain.Config{
		Translator: domain.TranslatorConfig{APIKey: "test-key", CacheSize: 8},
		// Unreachable Redis degrades to the in-memory cache.
		Cache: domain.CacheConfig{RedisURL: "redis://127.0.0.1:1/0"},
	}

	a, err := Build(cfg, testLogger())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Matcher.Translate(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrEmptyDescription)
}
