package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/patients"
	"github.com/clinical-trial-matcher/internal/service"
)

// TranslateCriteriaParams defines parameters for the translate_trial_criteria tool
type TranslateCriteriaParams struct {
	Description string `json:"description" jsonschema:"free-text clinical trial description"`
}

// RankPatientsParams defines parameters for the rank_patients tool. Exactly one of
// Description and RulesJSON must be given.
type RankPatientsParams struct {
	PatientsPath string `json:"patients_path" jsonschema:"path to the patient table (CSV file or SQLite database)"`
	Source       string `json:"source,omitempty" jsonschema:"csv or sqlite; inferred from the file extension when empty"`
	Table        string `json:"table,omitempty" jsonschema:"table name for SQLite sources, default patients"`
	Description  string `json:"description,omitempty" jsonschema:"free-text clinical trial description"`
	RulesJSON    string `json:"rules_json,omitempty" jsonschema:"rule document as produced by translate_trial_criteria"`
}

// RankPatientsResult is the structured result of the rank_patients tool
type RankPatientsResult struct {
	RunID      string            `json:"run_id"`
	Summary    domain.RunSummary `json:"summary"`
	Patients   []domain.Patient  `json:"patients"`
	Exclusions []string          `json:"exclusions"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// handleTranslateCriteria handles the translate_trial_criteria tool invocation
func (s *Server) handleTranslateCriteria(ctx context.Context, req *mcp.CallToolRequest, params TranslateCriteriaParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolTranslateCriteria).Info("Tool invoked")

	doc, err := s.matcher.Translate(ctx, params.Description)
	if err != nil {
		return s.createErrorResult("Translation failed", err), nil, nil
	}

	raw := doc.Raw
	if len(raw) == 0 {
		if raw, err = json.Marshal(doc); err != nil {
			return s.createErrorResult("Translation failed", err), nil, nil
		}
	}

	text := fmt.Sprintf("Translated into %d inclusion and %d exclusion rule(s):\n%s",
		len(doc.Inclusion), len(doc.Exclusion), raw)
	if other := doc.OtherRules(); len(other) > 0 {
		text += fmt.Sprintf("\n%d rule(s) cannot be evaluated and will score 0.", len(other))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, raw, nil
}

// handleRankPatients handles the rank_patients tool invocation
func (s *Server) handleRankPatients(ctx context.Context, req *mcp.CallToolRequest, params RankPatientsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolRankPatients).Info("Tool invoked")

	if params.PatientsPath == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("patients_path is required")), nil, nil
	}

	source, err := patients.Open(ctx, domain.PatientsConfig{
		Source: sourceKind(params),
		Path:   params.PatientsPath,
		Table:  params.Table,
	}, s.config.Database, s.logger)
	if err != nil {
		return s.createErrorResult("Cannot open patient source", err), nil, nil
	}
	defer source.Close()

	run, err := s.matcher.Run(ctx, service.RunRequest{
		Description: params.Description,
		RulesJSON:   []byte(params.RulesJSON),
		Source:      source,
	})
	var persistErr *domain.PersistError
	if err != nil && !errors.As(err, &persistErr) {
		return s.createErrorResult("Ranking failed", err), nil, nil
	}

	result := RankPatientsResult{
		RunID:    run.Result.RunID,
		Summary:  run.Summary,
		Patients: run.Result.Included(),
		Warnings: run.Result.Warnings,
	}
	for _, e := range run.Result.ExclusionLog {
		result.Exclusions = append(result.Exclusions, e.Reason)
	}

	var b strings.Builder
	for _, p := range result.Patients {
		b.WriteString(p.DisplayLine())
		b.WriteByte('\n')
	}
	b.WriteString(run.Summary.String())
	for _, w := range result.Warnings {
		fmt.Fprintf(&b, "\nWarning: %s", w)
	}
	if persistErr != nil {
		fmt.Fprintf(&b, "\nWarning: run logs were not written: %v", persistErr)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: b.String()}},
	}, result, nil
}

// sourceKind picks the patient source from the explicit parameter or the file extension.
func sourceKind(params RankPatientsParams) string {
	if params.Source != "" {
		return params.Source
	}
	switch strings.ToLower(filepath.Ext(params.PatientsPath)) {
	case ".db", ".sqlite", ".sqlite3":
		return domain.SourceSQLite
	default:
		return domain.SourceCSV
	}
}

// createErrorResult creates an error result for tool responses
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("%s [%s]: %v", message, domain.ErrorCode(err), err)
	s.logger.WithError(err).WithField("code", domain.ErrorCode(err)).Warn(message)

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
