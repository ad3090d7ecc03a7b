package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clinical-trial-matcher/internal/domain"
)

// ErrNoTranslator is returned when a run needs translation but no translator is configured.
var ErrNoTranslator = errors.New("no rule translator configured")

// RunRequest describes one matching run. Exactly one of Description and RulesJSON
// must be set.
type RunRequest struct {
	Description string
	RulesJSON   []byte
	Source      domain.PatientSource
}

// RunResult is the outcome of a matching run.
type RunResult struct {
	Rules   *domain.RuleDocument
	Result  *domain.RankResult
	Summary domain.RunSummary
}

// MatcherService ties rule translation, patient loading, ranking and run logs together.
type MatcherService struct {
	logger     *logrus.Logger
	translator domain.RuleTranslator
	engine     *Engine
	runLog     domain.RunLogWriter
}

// NewMatcherService creates a new matcher service. translator may be nil when only
// pre-built rule documents are submitted; runLog may be nil to skip run logs.
func NewMatcherService(
	logger *logrus.Logger,
	translator domain.RuleTranslator,
	engine *Engine,
	runLog domain.RunLogWriter,
) *MatcherService {
	return &MatcherService{
		logger:     logger,
		translator: translator,
		engine:     engine,
		runLog:     runLog,
	}
}

// Translate converts a free-text trial description into a rule document.
func (m *MatcherService) Translate(ctx context.Context, description string) (*domain.RuleDocument, error) {
	if strings.TrimSpace(description) == "" {
		return nil, domain.ErrEmptyDescription
	}
	if m.translator == nil {
		return nil, ErrNoTranslator
	}

	m.logger.WithField("description_length", len(description)).Debug("Translating trial description")

	doc, err := m.translator.Translate(ctx, description)
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"inclusion":   len(doc.Inclusion),
		"exclusion":   len(doc.Exclusion),
		"unsupported": len(doc.OtherRules()),
	}).Info("Trial description translated")

	return doc, nil
}

// Run translates or parses the rules, loads the patients, ranks them and persists the
// run logs. Translator, rule and patient source failures abort before any scoring.
// A run log failure returns the complete result together with a *domain.PersistError.
func (m *MatcherService) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if err := validateRunRequest(req); err != nil {
		return nil, err
	}

	// Step 1: obtain the rule document
	doc, err := m.resolveRules(ctx, req)
	if err != nil {
		return nil, err
	}

	// Step 2: load patients
	patients, err := req.Source.LoadPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load patients from %s: %w", req.Source.Describe(), err)
	}

	// Step 3: rank
	ranked, err := m.engine.Rank(ctx, doc, patients)
	if err != nil {
		return nil, fmt.Errorf("failed to rank patients: %w", err)
	}

	run := &RunResult{
		Rules:   doc,
		Result:  ranked,
		Summary: ranked.Summary(),
	}

	// Step 4: persist run logs
	if m.runLog != nil {
		if err := m.runLog.Persist(rawRules(doc), ranked); err != nil {
			m.logger.WithError(err).WithField("run_id", ranked.RunID).Warn("Failed to write run logs")
			var pe *domain.PersistError
			if !errors.As(err, &pe) {
				err = &domain.PersistError{Err: err}
			}
			return run, err
		}
	}

	return run, nil
}

func validateRunRequest(req RunRequest) error {
	hasText := strings.TrimSpace(req.Description) != ""
	hasJSON := len(req.RulesJSON) > 0
	if hasText == hasJSON {
		return domain.ErrRuleSourceAmbiguous
	}
	if req.Source == nil {
		return domain.ErrNoPatientSource
	}
	return nil
}

func (m *MatcherService) resolveRules(ctx context.Context, req RunRequest) (*domain.RuleDocument, error) {
	if len(req.RulesJSON) > 0 {
		doc, err := domain.ParseRuleDocument(req.RulesJSON)
		if err != nil {
			return nil, fmt.Errorf("invalid rule document: %w", err)
		}
		return doc, nil
	}
	return m.Translate(ctx, req.Description)
}

// rawRules returns the payload to persist as parsed_rules.json.
func rawRules(doc *domain.RuleDocument) []byte {
	if len(doc.Raw) > 0 {
		return doc.Raw
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	return raw
}
