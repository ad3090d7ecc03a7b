package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RuleSpec is implemented by every rule variant of a rule document.
type RuleSpec interface {
	// Type returns the rule's type tag.
	Type() RuleType
	// Criterion describes what the rule requires, for exclusion reasons and logs.
	Criterion() string
}

// AgeRule requires the patient age to fall within the optional inclusive bounds.
type AgeRule struct {
	Min *int
	Max *int
}

// GenderRule requires the patient to be of the given gender.
type GenderRule struct {
	Gender Gender
}

// MedicationsRule matches patients prescribed any of the listed medications.
// Medications are lowercase, trimmed and unique.
type MedicationsRule struct {
	Medications []string
}

// PreexistingConditionsRule matches patients diagnosed with any of the listed ICD-9 codes.
// Codes are lowercase, trimmed and unique.
type PreexistingConditionsRule struct {
	Codes []string
}

// OtherRule is a criterion the engine has no evaluator for. It keeps the declared type
// and the remaining parameters so the gap can be reported.
type OtherRule struct {
	DeclaredType string
	Params       map[string]any
}

func (AgeRule) Type() RuleType                   { return RuleTypeAge }
func (GenderRule) Type() RuleType                { return RuleTypeGender }
func (MedicationsRule) Type() RuleType           { return RuleTypeMedications }
func (PreexistingConditionsRule) Type() RuleType { return RuleTypePreexistingConditions }
func (OtherRule) Type() RuleType                 { return RuleTypeOther }

// Criterion implements RuleSpec.
func (r AgeRule) Criterion() string {
	return fmt.Sprintf("between %s and %s", boundString(r.Min), boundString(r.Max))
}

// Criterion implements RuleSpec.
func (r GenderRule) Criterion() string {
	return r.Gender.Code()
}

// Criterion implements RuleSpec.
func (r MedicationsRule) Criterion() string {
	return FormatList(r.Medications)
}

// Criterion implements RuleSpec.
func (r PreexistingConditionsRule) Criterion() string {
	return FormatList(r.Codes)
}

// Criterion implements RuleSpec.
func (r OtherRule) Criterion() string {
	if len(r.Params) == 0 {
		return r.DeclaredType
	}
	keys := make([]string, 0, len(r.Params))
	for k := range r.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, r.Params[k]))
	}
	return fmt.Sprintf("%s(%s)", r.DeclaredType, strings.Join(parts, ", "))
}

// InclusionCriterion is a weighted rule that adds to a patient's score.
type InclusionCriterion struct {
	Rule   RuleSpec
	Weight float64
}

// ExclusionCriterion is a mandatory rule. A violation zeroes the patient's score.
type ExclusionCriterion struct {
	Rule RuleSpec
}

// RuleDocument is the structured form of a trial's eligibility criteria.
type RuleDocument struct {
	Inclusion []InclusionCriterion
	Exclusion []ExclusionCriterion

	// Raw is the payload the document was parsed from, if any.
	Raw json.RawMessage
}

// OtherRules returns every rule in the document that has no evaluator, inclusion first.
func (d *RuleDocument) OtherRules() []OtherRule {
	var out []OtherRule
	for _, c := range d.Inclusion {
		if r, ok := c.Rule.(OtherRule); ok {
			out = append(out, r)
		}
	}
	for _, c := range d.Exclusion {
		if r, ok := c.Rule.(OtherRule); ok {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the total number of criteria in the document.
func (d *RuleDocument) Len() int {
	return len(d.Inclusion) + len(d.Exclusion)
}

// MarshalJSON encodes the document in the rule translator's response shape.
func (d RuleDocument) MarshalJSON() ([]byte, error) {
	type entry struct {
		Rule   map[string]any `json:"rule"`
		Weight *float64       `json:"weight,omitempty"`
	}
	inclusion := make([]entry, 0, len(d.Inclusion))
	for _, c := range d.Inclusion {
		w := c.Weight
		inclusion = append(inclusion, entry{Rule: ruleFields(c.Rule), Weight: &w})
	}
	exclusion := make([]entry, 0, len(d.Exclusion))
	for _, c := range d.Exclusion {
		exclusion = append(exclusion, entry{Rule: ruleFields(c.Rule)})
	}
	return json.Marshal(struct {
		Response  string  `json:"response"`
		Inclusion []entry `json:"inclusion_criterium"`
		Exclusion []entry `json:"exclusion_criterium"`
	}{
		Response:  ResponseRules,
		Inclusion: inclusion,
		Exclusion: exclusion,
	})
}

func ruleFields(r RuleSpec) map[string]any {
	fields := map[string]any{"type": string(r.Type())}
	switch rule := r.(type) {
	case AgeRule:
		if rule.Min != nil {
			fields["min"] = *rule.Min
		}
		if rule.Max != nil {
			fields["max"] = *rule.Max
		}
	case GenderRule:
		fields["gender"] = int(rule.Gender)
	case MedicationsRule:
		fields["medications"] = nonNil(rule.Medications)
	case PreexistingConditionsRule:
		fields["icd9_codes"] = nonNil(rule.Codes)
	case OtherRule:
		for k, v := range rule.Params {
			fields[k] = v
		}
		fields["type"] = rule.DeclaredType
	}
	return fields
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boundString(b *int) string {
	if b == nil {
		return "any"
	}
	return fmt.Sprintf("%d", *b)
}

// FormatList renders a string list as ['a', 'b'], the way list cells and rule
// targets appear in exclusion reasons.
func FormatList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = quoteItem(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// quoteItem single-quotes s, switching to double quotes when s holds a single quote
// and no double quote. Remaining quote characters are backslash-escaped.
func quoteItem(s string) string {
	q := "'"
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		q = `"`
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, q, `\`+q)
	return q + s + q
}
