package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/middleware"
	"github.com/clinical-trial-matcher/internal/patients"
	"github.com/clinical-trial-matcher/internal/service"
)

// TranslateRequest is the body of POST /api/v1/rules/translate.
type TranslateRequest struct {
	Description string `json:"description"`
}

// TranslateResponse returns the rule document built from a description.
type TranslateResponse struct {
	Rules *domain.RuleDocument `json:"rules"`
}

// RankRequest is the body of POST /api/v1/rank. Exactly one of Description and Rules
// must be set. PatientsCSV holds the patient table with its header row.
type RankRequest struct {
	Description string          `json:"description,omitempty"`
	Rules       json.RawMessage `json:"rules,omitempty"`
	PatientsCSV string          `json:"patients_csv"`
}

// RankedPatient is one included patient in a rank response.
type RankedPatient struct {
	Rank         int     `json:"rank"`
	PatientIndex int     `json:"patient_index"`
	SubjectID    string  `json:"subject_id"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Score        float64 `json:"score"`
}

// RankResponse is the outcome of POST /api/v1/rank.
type RankResponse struct {
	RunID        string                     `json:"run_id"`
	Summary      domain.RunSummary          `json:"summary"`
	SummaryText  string                     `json:"summary_text"`
	Patients     []RankedPatient            `json:"patients"`
	Exclusions   []domain.ExclusionLogEntry `json:"exclusions"`
	Warnings     []string                   `json:"warnings,omitempty"`
	PersistError string                     `json:"persist_error,omitempty"`
}

func (s *Server) handleTranslate(c *gin.Context) {
	var req TranslateRequest
	if !s.bindJSON(c, &req) {
		return
	}

	doc, err := s.matcher.Translate(c.Request.Context(), req.Description)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, TranslateResponse{Rules: doc})
}

func (s *Server) handleRank(c *gin.Context) {
	var req RankRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if req.PatientsCSV == "" {
		s.respondError(c, domain.ErrNoPatientSource)
		return
	}

	run, err := s.matcher.Run(c.Request.Context(), service.RunRequest{
		Description: req.Description,
		RulesJSON:   req.Rules,
		Source:      patients.NewBytesSource("upload", []byte(req.PatientsCSV)),
	})

	var persistErr *domain.PersistError
	if err != nil && !errors.As(err, &persistErr) {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newRankResponse(run, persistErr))
}

func newRankResponse(run *service.RunResult, persistErr *domain.PersistError) RankResponse {
	included := run.Result.Included()
	resp := RankResponse{
		RunID:       run.Result.RunID,
		Summary:     run.Summary,
		SummaryText: run.Summary.String(),
		Patients:    make([]RankedPatient, len(included)),
		Exclusions:  run.Result.ExclusionLog,
		Warnings:    run.Result.Warnings,
	}
	if resp.Exclusions == nil {
		resp.Exclusions = []domain.ExclusionLogEntry{}
	}
	for i, p := range included {
		resp.Patients[i] = RankedPatient{
			Rank:         i + 1,
			PatientIndex: p.Index,
			SubjectID:    p.SubjectID,
			FirstName:    p.FirstName,
			LastName:     p.LastName,
			Score:        p.Score,
		}
	}
	if persistErr != nil {
		resp.PersistError = persistErr.Error()
	}
	return resp
}

func (s *Server) bindJSON(c *gin.Context, dst interface{}) bool {
	if limit := s.configManager.GetServerConfig().MaxUploadBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	if err := json.NewDecoder(c.Request.Body).Decode(dst); err != nil {
		c.JSON(http.StatusBadRequest, domain.NewMatcherError(
			domain.ErrInvalidInput, "invalid request body", err.Error(), c.GetString(middleware.CorrelationIDKey)))
		return false
	}
	return true
}

func (s *Server) respondError(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	if errors.Is(err, service.ErrNoTranslator) {
		code = domain.ErrTranslator
	}
	status := statusFor(code, err)

	entry := s.logger.WithError(err).WithField("correlation_id", c.GetString(middleware.CorrelationIDKey))
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	c.JSON(status, domain.NewMatcherError(code, message, "", c.GetString(middleware.CorrelationIDKey)))
}

func statusFor(code string, err error) int {
	var te *domain.TranslatorError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, service.ErrNoTranslator):
		return http.StatusServiceUnavailable
	case errors.As(err, &te) && te.Kind == domain.TranslatorTransport:
		return http.StatusBadGateway
	}

	switch code {
	case domain.ErrInvalidInput, domain.ErrValidation, domain.ErrTranslator,
		domain.ErrRuleParse, domain.ErrPatientSource:
		return http.StatusBadRequest
	case domain.ErrUnsupportedRule:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
