// Package domain contains the core entities for matching patients against clinical-trial
// eligibility criteria: the rule document produced by the rule translator, the patient record
// consumed by the scoring engine, and the audit entries produced by a ranking run.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// RuleType identifies the kind of eligibility check a rule performs.
type RuleType string

const (
	RuleTypeAge                   RuleType = "age"
	RuleTypeGender                RuleType = "gender"
	RuleTypeMedications           RuleType = "medications"
	RuleTypePreexistingConditions RuleType = "preexisting_conditions"
	RuleTypeOther                 RuleType = "other"
)

// Gender is the gender parameter of a gender rule.
// The numeric values match the encoding used by the rule translator.
type Gender int

const (
	GenderUnrecognized Gender = -1
	GenderMale         Gender = 0
	GenderFemale       Gender = 1
	GenderEither       Gender = 2
)

// Patient gender codes as they appear in the patient table.
const (
	MaleCode   = "M"
	FemaleCode = "F"
)

// OtherRulePolicy controls how the engine treats rules it has no evaluator for.
type OtherRulePolicy string

const (
	OtherRuleIgnore OtherRulePolicy = "ignore"
	OtherRuleWarn   OtherRulePolicy = "warn"
	OtherRuleError  OtherRulePolicy = "error"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidRuleType     = errors.New("invalid rule type")
	ErrInvalidGender       = errors.New("invalid gender")
	ErrInvalidOtherPolicy  = errors.New("invalid other-rule policy")
	ErrEmptyDescription    = errors.New("trial description is empty")
	ErrNoPatientSource     = errors.New("no patient source given")
	ErrRuleSourceAmbiguous = errors.New("exactly one of description or rules must be given")
)

// IsValid reports whether the rule type is one the engine knows by name.
func (t RuleType) IsValid() bool {
	switch t {
	case RuleTypeAge, RuleTypeGender, RuleTypeMedications, RuleTypePreexistingConditions, RuleTypeOther:
		return true
	default:
		return false
	}
}

// String returns the rule type name.
func (t RuleType) String() string {
	return string(t)
}

// Label returns the human readable name used in exclusion reasons.
func (t RuleType) Label() string {
	return strings.ReplaceAll(string(t), "_", " ")
}

// IsValid reports whether g is one of the recognized gender parameters.
func (g Gender) IsValid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderEither:
		return true
	default:
		return false
	}
}

// String returns the name of the gender parameter.
func (g Gender) String() string {
	switch g {
	case GenderMale:
		return "male"
	case GenderFemale:
		return "female"
	case GenderEither:
		return "either"
	default:
		return "unrecognized"
	}
}

// Code returns the patient gender code a rule requires, or the parameter name when
// the rule does not map to a single code.
func (g Gender) Code() string {
	switch g {
	case GenderMale:
		return MaleCode
	case GenderFemale:
		return FemaleCode
	default:
		return g.String()
	}
}

// ParseGender converts a gender name or code into a Gender.
func ParseGender(s string) (Gender, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "m", "male":
		return GenderMale, nil
	case "1", "f", "female":
		return GenderFemale, nil
	case "2", "either", "any", "both":
		return GenderEither, nil
	default:
		return GenderUnrecognized, fmt.Errorf("%w: %q", ErrInvalidGender, s)
	}
}

// IsValid reports whether the policy is a known value.
func (p OtherRulePolicy) IsValid() bool {
	switch p {
	case OtherRuleIgnore, OtherRuleWarn, OtherRuleError:
		return true
	default:
		return false
	}
}

// ParseOtherRulePolicy parses a policy name, defaulting to warn for an empty string.
func ParseOtherRulePolicy(s string) (OtherRulePolicy, error) {
	if strings.TrimSpace(s) == "" {
		return OtherRuleWarn, nil
	}
	p := OtherRulePolicy(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidOtherPolicy, s)
	}
	return p, nil
}
