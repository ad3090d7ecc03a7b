package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/clinical-trial-matcher/internal/domain"
)

// EngineOptions tunes the scoring engine.
type EngineOptions struct {
	OtherRulePolicy domain.OtherRulePolicy
	// Workers is the number of goroutines scoring patients. Values below 1 mean 1.
	Workers int
}

// Engine scores a patient table against a rule document and ranks it.
// An Engine holds no per-run state and may be reused.
type Engine struct {
	logger *logrus.Logger
	opts   EngineOptions
}

// NewEngine creates a new scoring engine
func NewEngine(logger *logrus.Logger, opts EngineOptions) *Engine {
	if !opts.OtherRulePolicy.IsValid() {
		opts.OtherRulePolicy = domain.OtherRuleWarn
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Engine{logger: logger, opts: opts}
}

type patientOutcome struct {
	score     float64
	exclusion *domain.ExclusionLogEntry
}

// Rank scores every patient, applies the exclusion criteria and returns the patients
// ordered by descending score. Ties keep ingestion order. The caller's slice is left
// untouched; scores are written on the returned copies.
func (e *Engine) Rank(ctx context.Context, doc *domain.RuleDocument, patients []domain.Patient) (*domain.RankResult, error) {
	if doc == nil {
		return nil, errors.New("rule document is nil")
	}
	startTime := time.Now()
	runID := uuid.New().String()
	log := e.logger.WithField("run_id", runID)

	warnings, err := e.checkOtherRules(log, doc)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"patients":  len(patients),
		"inclusion": len(doc.Inclusion),
		"exclusion": len(doc.Exclusion),
		"workers":   e.opts.Workers,
	}).Info("Starting patient ranking")

	// Step 1: score every patient, merging outcomes by index
	outcomes := make([]patientOutcome, len(patients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i := range patients {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = scorePatient(doc, &patients[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ranking cancelled: %w", err)
	}

	// Step 2: assemble logs in ingestion order
	result := &domain.RankResult{
		RunID:        runID,
		Patients:     make([]domain.Patient, len(patients)),
		ScoreLog:     make([]domain.ScoreAuditEntry, 0, len(patients)),
		ExclusionLog: make([]domain.ExclusionLogEntry, 0),
		Warnings:     warnings,
	}
	for i, p := range patients {
		p.Score = outcomes[i].score
		result.Patients[i] = p
		result.ScoreLog = append(result.ScoreLog, domain.ScoreAuditEntry{
			PatientIndex: p.Index,
			SubjectID:    p.SubjectID,
			FirstName:    p.FirstName,
			LastName:     p.LastName,
			Score:        p.Score,
		})
		if ex := outcomes[i].exclusion; ex != nil {
			result.ExclusionLog = append(result.ExclusionLog, *ex)
		}

		log.WithFields(logrus.Fields{
			"patient_index": p.Index,
			"score":         p.Score,
			"excluded":      outcomes[i].exclusion != nil,
		}).Debug("Scored patient")
	}

	// Step 3: rank
	sort.SliceStable(result.Patients, func(a, b int) bool {
		return result.Patients[a].Score > result.Patients[b].Score
	})

	result.CompletedAt = time.Now().UTC()
	result.Duration = time.Since(startTime)

	summary := result.Summary()
	log.WithFields(logrus.Fields{
		"patients":        summary.Total,
		"included":        summary.Included,
		"excluded":        summary.Excluded,
		"processing_time": result.Duration,
	}).Info("Patient ranking completed")

	return result, nil
}

// checkOtherRules applies the configured policy to rules without an evaluator.
func (e *Engine) checkOtherRules(log *logrus.Entry, doc *domain.RuleDocument) ([]string, error) {
	others := doc.OtherRules()
	if len(others) == 0 {
		return nil, nil
	}

	switch e.opts.OtherRulePolicy {
	case domain.OtherRuleError:
		return nil, &domain.UnsupportedRuleError{Rules: others}
	case domain.OtherRuleIgnore:
		return nil, nil
	}

	warnings := make([]string, 0, len(others))
	for _, r := range others {
		msg := fmt.Sprintf("rule %s is not supported and contributes nothing", r.Criterion())
		log.WithField("rule_type", r.DeclaredType).Warn("Unsupported rule in rule document")
		warnings = append(warnings, msg)
	}
	return warnings, nil
}

// scorePatient sums the weighted inclusion scores, then applies the exclusion rules in
// order. The first violated rule zeroes the score and is the only one recorded.
func scorePatient(doc *domain.RuleDocument, p *domain.Patient) patientOutcome {
	var score float64
	for _, c := range doc.Inclusion {
		if v, ok := Evaluate(c.Rule, p); ok {
			score += v * c.Weight
		}
	}

	for _, c := range doc.Exclusion {
		if violates(c.Rule, p) {
			entry := newExclusionEntry(c.Rule, p)
			return patientOutcome{score: 0, exclusion: &entry}
		}
	}
	return patientOutcome{score: score}
}

func newExclusionEntry(rule domain.RuleSpec, p *domain.Patient) domain.ExclusionLogEntry {
	var value, requirement string
	switch r := rule.(type) {
	case domain.AgeRule:
		value = strconv.Itoa(p.Age)
		requirement = "needed " + r.Criterion()
	case domain.GenderRule:
		value = p.Gender
		requirement = "needed to be " + r.Criterion()
	case domain.MedicationsRule:
		value = domain.FormatList(p.Prescriptions)
		requirement = "but couldn't have " + r.Criterion()
	case domain.PreexistingConditionsRule:
		value = p.ICD9Codes
		requirement = "but couldn't have " + r.Criterion()
	default:
		requirement = rule.Criterion()
	}

	return domain.ExclusionLogEntry{
		PatientIndex: p.Index,
		SubjectID:    p.SubjectID,
		RuleType:     rule.Type(),
		Value:        value,
		Criterion:    rule.Criterion(),
		Reason: fmt.Sprintf("Patient %d excluded due to %s (%s, %s)",
			p.Index, rule.Type().Label(), value, requirement),
	}
}
