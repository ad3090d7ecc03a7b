package service

import (
	"strings"

	"github.com/clinical-trial-matcher/internal/domain"
)

// EvaluateAge returns 1 when the patient's age lies within the rule's inclusive bounds.
// An absent bound is not checked.
func EvaluateAge(rule domain.AgeRule, p *domain.Patient) float64 {
	if rule.Min != nil && p.Age < *rule.Min {
		return 0
	}
	if rule.Max != nil && p.Age > *rule.Max {
		return 0
	}
	return 1
}

// EvaluateGender returns 1 when the patient's gender code satisfies the rule.
// An unrecognized gender parameter never matches.
func EvaluateGender(rule domain.GenderRule, p *domain.Patient) float64 {
	code := strings.ToUpper(strings.TrimSpace(p.Gender))
	switch rule.Gender {
	case domain.GenderEither:
		return 1
	case domain.GenderMale:
		if code == domain.MaleCode {
			return 1
		}
	case domain.GenderFemale:
		if code == domain.FemaleCode {
			return 1
		}
	}
	return 0
}

// EvaluateMedications counts, for every target medication, the entries across the
// three prescription lists that contain it as a substring, and divides the total by
// the number of targets. The ratio is not clamped: a patient with the same drug in
// several lists scores above 1.
func EvaluateMedications(rule domain.MedicationsRule, p *domain.Patient) float64 {
	targets := normalizeSet(rule.Medications)
	if len(targets) == 0 {
		return 0
	}

	matches := 0
	lists := p.MedicationLists()
	for _, target := range targets {
		for _, list := range lists {
			for _, entry := range list {
				if strings.Contains(normalize(entry), target) {
					matches++
				}
			}
		}
	}
	return float64(matches) / float64(len(targets))
}

// EvaluatePreexistingConditions returns the fraction of target codes present in the
// patient's ICD-9 codes.
func EvaluatePreexistingConditions(rule domain.PreexistingConditionsRule, p *domain.Patient) float64 {
	targets := normalizeSet(rule.Codes)
	if len(targets) == 0 {
		return 0
	}

	have := make(map[string]struct{}, len(p.ICD9CodeSet))
	for _, code := range p.ICD9CodeSet {
		have[normalize(code)] = struct{}{}
	}

	matches := 0
	for _, target := range targets {
		if _, ok := have[target]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(targets))
}

// Evaluate dispatches on the rule variant. The second result is false for rules
// the engine has no evaluator for.
func Evaluate(rule domain.RuleSpec, p *domain.Patient) (float64, bool) {
	switch r := rule.(type) {
	case domain.AgeRule:
		return EvaluateAge(r, p), true
	case domain.GenderRule:
		return EvaluateGender(r, p), true
	case domain.MedicationsRule:
		return EvaluateMedications(r, p), true
	case domain.PreexistingConditionsRule:
		return EvaluatePreexistingConditions(r, p), true
	default:
		return 0, false
	}
}

// violates reports whether the patient breaks a mandatory rule. Age and gender rules
// are broken when they do not match; medication and condition rules when they do.
func violates(rule domain.RuleSpec, p *domain.Patient) bool {
	v, ok := Evaluate(rule, p)
	if !ok {
		return false
	}
	switch rule.(type) {
	case domain.AgeRule, domain.GenderRule:
		return v == 0
	default:
		return v > 0
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeSet(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		s := normalize(item)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
