package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Patient is one row of the patient table. Index is the 0-based position of the row
// in its source and is stable for the duration of a run.
type Patient struct {
	Index     int    `json:"patient_index"`
	SubjectID string `json:"subject_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Age       int    `json:"age"`
	Gender    string `json:"gender"`

	Prescriptions        []string `json:"prescriptions"`
	PrescriptionsPOE     []string `json:"prescriptions_poe"`
	PrescriptionsGeneric []string `json:"prescriptions_generic"`

	// ICD9Codes is the raw list encoding from the source; ICD9CodeSet is its parsed form.
	ICD9Codes   string   `json:"icd9_codes"`
	ICD9CodeSet []string `json:"-"`

	// Score is written by the scoring engine, once per run.
	Score float64 `json:"score"`
}

// MedicationLists returns the three medication columns in evaluation order.
func (p *Patient) MedicationLists() [3][]string {
	return [3][]string{p.Prescriptions, p.PrescriptionsPOE, p.PrescriptionsGeneric}
}

// DisplayName returns "First Last".
func (p *Patient) DisplayName() string {
	return fmt.Sprintf("%s %s", p.FirstName, p.LastName)
}

// DisplayLine formats the patient the way ranked results are listed.
func (p *Patient) DisplayLine() string {
	return fmt.Sprintf("%s, ID: %s. Score: %s", p.DisplayName(), p.SubjectID, FormatScore(p.Score))
}

// FormatScore renders a score the way spreadsheet tooling prints floats: integral
// values keep one decimal ("1.0"), others use the shortest exact representation.
func FormatScore(s float64) string {
	if s == math.Trunc(s) && !math.IsInf(s, 0) {
		return strconv.FormatFloat(s, 'f', 1, 64)
	}
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// ScoreAuditEntry is one row of the per-run score log.
type ScoreAuditEntry struct {
	PatientIndex int     `json:"patient_index"`
	SubjectID    string  `json:"subject_id"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Score        float64 `json:"score"`
}

// ExclusionLogEntry records the first exclusion rule a patient violated.
type ExclusionLogEntry struct {
	PatientIndex int      `json:"patient_index"`
	SubjectID    string   `json:"subject_id"`
	RuleType     RuleType `json:"rule_type"`
	Value        string   `json:"value"`
	Criterion    string   `json:"criterion"`
	Reason       string   `json:"reason"`
}

// RankResult is the outcome of scoring one rule document against one patient table.
type RankResult struct {
	RunID string `json:"run_id"`

	// Patients is ordered by descending score; ties keep ingestion order.
	Patients []Patient `json:"patients"`

	// ScoreLog and ExclusionLog are in ingestion order.
	ScoreLog     []ScoreAuditEntry   `json:"score_log"`
	ExclusionLog []ExclusionLogEntry `json:"exclusion_log"`

	Warnings    []string      `json:"warnings,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// Included returns the ranked patients with a positive score.
func (r *RankResult) Included() []Patient {
	out := make([]Patient, 0, len(r.Patients))
	for _, p := range r.Patients {
		if p.Score > 0 {
			out = append(out, p)
		}
	}
	return out
}

// Summary counts the included patients of the run.
func (r *RankResult) Summary() RunSummary {
	s := RunSummary{Total: len(r.Patients), Excluded: len(r.ExclusionLog)}
	for _, p := range r.Patients {
		if p.Score > 0 {
			s.Included++
		}
	}
	if s.Total > 0 {
		s.Percentage = float64(s.Included) / float64(s.Total) * 100
	}
	return s
}

// RunSummary is the headline figure shown to the operator after a run.
type RunSummary struct {
	Total      int     `json:"total"`
	Included   int     `json:"included"`
	Excluded   int     `json:"excluded"`
	Percentage float64 `json:"percentage_included"`
}

// String formats the summary the way it is shown after a run.
func (s RunSummary) String() string {
	return fmt.Sprintf("Processed patients. Percentage included: %.2f%%", s.Percentage)
}
