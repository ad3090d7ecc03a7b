package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Translator response tags.
const (
	ResponseRules = "rules"
	ResponseError = "error"
)

// Top-level keys of a rule document.
const (
	keyResponse  = "response"
	keyMessage   = "message"
	keyInclusion = "inclusion_criterium"
	keyExclusion = "exclusion_criterium"
)

// ParseRuleDocument validates a translator payload and converts it into a RuleDocument.
// Contract violations are reported as *TranslatorError, bad rule objects as *RuleParseError.
func ParseRuleDocument(data []byte) (*RuleDocument, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, NewTranslatorError(TranslatorMalformed, "rule document is not a JSON object", err)
	}
	if top == nil {
		return nil, NewTranslatorError(TranslatorMalformed, "rule document is null", nil)
	}

	rawResponse, ok := top[keyResponse]
	if !ok {
		return nil, NewTranslatorError(TranslatorMissingKeys, fmt.Sprintf("missing %q key", keyResponse), nil)
	}
	var response string
	if err := json.Unmarshal(rawResponse, &response); err != nil {
		return nil, NewTranslatorError(TranslatorMalformed, fmt.Sprintf("%q must be a string", keyResponse), err)
	}

	switch response {
	case ResponseRules:
	case ResponseError:
		var message string
		if raw, ok := top[keyMessage]; ok {
			_ = json.Unmarshal(raw, &message)
		}
		if message == "" {
			message = "trial description was not recognized"
		}
		return nil, NewTranslatorError(TranslatorRejected, message, nil)
	default:
		return nil, NewTranslatorError(TranslatorMalformed, fmt.Sprintf("unexpected response %q", response), nil)
	}

	var missing []string
	for _, key := range []string{keyInclusion, keyExclusion} {
		if _, ok := top[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, NewTranslatorError(TranslatorMissingKeys, "missing "+strings.Join(missing, ", "), nil)
	}

	inclusion, err := decodeEntries(top[keyInclusion], keyInclusion)
	if err != nil {
		return nil, err
	}
	exclusion, err := decodeEntries(top[keyExclusion], keyExclusion)
	if err != nil {
		return nil, err
	}

	doc := &RuleDocument{
		Inclusion: make([]InclusionCriterion, 0, len(inclusion)),
		Exclusion: make([]ExclusionCriterion, 0, len(exclusion)),
		Raw:       append(json.RawMessage(nil), data...),
	}

	for i, entry := range inclusion {
		path := fmt.Sprintf("%s[%d]", keyInclusion, i)
		rule, err := parseEntryRule(entry, path)
		if err != nil {
			return nil, err
		}
		weight, err := parseWeight(entry, path)
		if err != nil {
			return nil, err
		}
		doc.Inclusion = append(doc.Inclusion, InclusionCriterion{Rule: rule, Weight: weight})
	}

	for i, entry := range exclusion {
		path := fmt.Sprintf("%s[%d]", keyExclusion, i)
		rule, err := parseEntryRule(entry, path)
		if err != nil {
			return nil, err
		}
		doc.Exclusion = append(doc.Exclusion, ExclusionCriterion{Rule: rule})
	}

	return doc, nil
}

// decodeEntries decodes a criteria array keeping numbers as json.Number.
func decodeEntries(raw json.RawMessage, key string) ([]map[string]any, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, &RuleParseError{Path: key, Message: "must be an array"}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, &RuleParseError{Path: key, Message: "must be an array of objects"}
	}

	entries := make([]map[string]any, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, &RuleParseError{Path: fmt.Sprintf("%s[%d]", key, i), Message: "must be an object"}
		}
		entries = append(entries, obj)
	}
	return entries, nil
}

func parseEntryRule(entry map[string]any, path string) (RuleSpec, error) {
	raw, ok := entry["rule"]
	if !ok {
		return nil, &RuleParseError{Path: path + ".rule", Message: "is required"}
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, &RuleParseError{Path: path + ".rule", Message: "must be an object"}
	}
	return parseRule(obj, path+".rule")
}

func parseRule(obj map[string]any, path string) (RuleSpec, error) {
	typ, ok := obj["type"].(string)
	if !ok || strings.TrimSpace(typ) == "" {
		return nil, &RuleParseError{Path: path + ".type", Message: "must be a non-empty string"}
	}

	switch RuleType(strings.ToLower(strings.TrimSpace(typ))) {
	case RuleTypeAge:
		minAge, err := optionalInt(obj, "min", path)
		if err != nil {
			return nil, err
		}
		maxAge, err := optionalInt(obj, "max", path)
		if err != nil {
			return nil, err
		}
		if minAge != nil && maxAge != nil && *minAge > *maxAge {
			return nil, &RuleParseError{Path: path, Message: fmt.Sprintf("min %d is greater than max %d", *minAge, *maxAge)}
		}
		return AgeRule{Min: minAge, Max: maxAge}, nil

	case RuleTypeGender:
		raw, ok := obj["gender"]
		if !ok || raw == nil {
			return nil, &RuleParseError{Path: path + ".gender", Message: "is required"}
		}
		return GenderRule{Gender: genderParam(raw)}, nil

	case RuleTypeMedications:
		meds, err := stringSet(obj, "medications", path)
		if err != nil {
			return nil, err
		}
		return MedicationsRule{Medications: meds}, nil

	case RuleTypePreexistingConditions:
		codes, err := stringSet(obj, "icd9_codes", path)
		if err != nil {
			return nil, err
		}
		return PreexistingConditionsRule{Codes: codes}, nil

	default:
		params := make(map[string]any, len(obj))
		for k, v := range obj {
			if k != "type" {
				params[k] = v
			}
		}
		return OtherRule{DeclaredType: typ, Params: params}, nil
	}
}

func parseWeight(entry map[string]any, path string) (float64, error) {
	raw, ok := entry["weight"]
	if !ok || raw == nil {
		return 0, &RuleParseError{Path: path + ".weight", Message: "is required"}
	}
	num, ok := raw.(json.Number)
	if !ok {
		return 0, &RuleParseError{Path: path + ".weight", Message: "must be a number"}
	}
	w, err := num.Float64()
	if err != nil || math.IsNaN(w) || w < 0 || w > 1 {
		return 0, &RuleParseError{Path: path + ".weight", Message: fmt.Sprintf("must be between 0.0 and 1.0, got %s", num)}
	}
	return w, nil
}

func optionalInt(obj map[string]any, key, path string) (*int, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return nil, nil
	}
	num, ok := raw.(json.Number)
	if !ok {
		return nil, &RuleParseError{Path: path + "." + key, Message: "must be an integer"}
	}
	if i, err := num.Int64(); err == nil {
		v := int(i)
		return &v, nil
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) {
		return nil, &RuleParseError{Path: path + "." + key, Message: fmt.Sprintf("must be an integer, got %s", num)}
	}
	v := int(f)
	return &v, nil
}

// genderParam maps a translator gender value onto a Gender. Values that are present
// but not recognized are kept as GenderUnrecognized, which never matches.
func genderParam(raw any) Gender {
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil || f != math.Trunc(f) {
			return GenderUnrecognized
		}
		g := Gender(int(f))
		if !g.IsValid() {
			return GenderUnrecognized
		}
		return g
	case string:
		g, err := ParseGender(v)
		if err != nil {
			return GenderUnrecognized
		}
		return g
	default:
		return GenderUnrecognized
	}
}

// stringSet reads a required list of strings, normalizing to lowercase trimmed unique values.
func stringSet(obj map[string]any, key, path string) ([]string, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return nil, &RuleParseError{Path: path + "." + key, Message: "is required"}
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, &RuleParseError{Path: path + "." + key, Message: "must be an array of strings"}
	}

	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for i, item := range items {
		var s string
		switch v := item.(type) {
		case string:
			s = v
		case json.Number:
			s = v.String()
		default:
			return nil, &RuleParseError{Path: fmt.Sprintf("%s.%s[%d]", path, key, i), Message: "must be a string"}
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}
