package domain

import (
	"errors"
	"fmt"
	"time"
)

// MatcherError represents a standardized error response
type MatcherError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *MatcherError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput    = "INVALID_INPUT"
	ErrTranslator      = "TRANSLATOR_ERROR"
	ErrRuleParse       = "RULE_PARSE_ERROR"
	ErrPatientSource   = "PATIENT_SOURCE_ERROR"
	ErrUnsupportedRule = "UNSUPPORTED_RULE"
	ErrPersistence     = "PERSISTENCE_ERROR"
	ErrInternalServer  = "INTERNAL_SERVER_ERROR"
	ErrValidation      = "VALIDATION_ERROR"
)

// NewMatcherError creates a new MatcherError with timestamp
func NewMatcherError(code, message, details, requestID string) *MatcherError {
	return &MatcherError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// TranslatorErrorKind classifies a rule translator contract violation.
type TranslatorErrorKind string

const (
	TranslatorTransport   TranslatorErrorKind = "transport"
	TranslatorMalformed   TranslatorErrorKind = "malformed"
	TranslatorMissingKeys TranslatorErrorKind = "missing_keys"
	TranslatorRejected    TranslatorErrorKind = "rejected"
)

// TranslatorError is returned when the rule translator fails or its response
// does not honor the rule document contract. No scoring is attempted after one.
type TranslatorError struct {
	Kind    TranslatorErrorKind
	Message string
	Err     error
}

func (e *TranslatorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rule translator %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("rule translator %s: %s", e.Kind, e.Message)
}

func (e *TranslatorError) Unwrap() error { return e.Err }

// NewTranslatorError creates a TranslatorError.
func NewTranslatorError(kind TranslatorErrorKind, message string, err error) *TranslatorError {
	return &TranslatorError{Kind: kind, Message: message, Err: err}
}

// RuleParseError reports a rule object that is missing or has malformed fields
// for its declared type. Path is the JSON path of the offending value.
type RuleParseError struct {
	Path    string
	Message string
}

func (e *RuleParseError) Error() string {
	return fmt.Sprintf("invalid rule at %s: %s", e.Path, e.Message)
}

// PatientSourceError reports a malformed patient source. Row is the 0-based data row
// (-1 for header or source-level problems).
type PatientSourceError struct {
	Source  string
	Row     int
	Column  string
	Message string
	Err     error
}

func (e *PatientSourceError) Error() string {
	loc := e.Source
	if e.Row >= 0 {
		loc = fmt.Sprintf("%s row %d", loc, e.Row)
	}
	if e.Column != "" {
		loc = fmt.Sprintf("%s column %q", loc, e.Column)
	}
	if e.Err != nil {
		return fmt.Sprintf("patient source %s: %s: %v", loc, e.Message, e.Err)
	}
	return fmt.Sprintf("patient source %s: %s", loc, e.Message)
}

func (e *PatientSourceError) Unwrap() error { return e.Err }

// UnsupportedRuleError is returned under the error policy when a rule document
// contains criteria the engine cannot evaluate.
type UnsupportedRuleError struct {
	Rules []OtherRule
}

func (e *UnsupportedRuleError) Error() string {
	names := make([]string, len(e.Rules))
	for i, r := range e.Rules {
		names[i] = r.Criterion()
	}
	return fmt.Sprintf("%d unsupported rule(s): %v", len(e.Rules), names)
}

// PersistError wraps a failure to write run logs. The ranking it accompanies is complete.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("writing run log %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// ErrorCode maps an error returned by a run to its MatcherError code.
func ErrorCode(err error) string {
	var (
		me  *MatcherError
		ve  *ValidationError
		te  *TranslatorError
		rpe *RuleParseError
		pse *PatientSourceError
		ure *UnsupportedRuleError
		pe  *PersistError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &me):
		return me.Code
	case errors.As(err, &ve):
		return ErrValidation
	case errors.As(err, &rpe):
		return ErrRuleParse
	case errors.As(err, &te):
		return ErrTranslator
	case errors.As(err, &pse):
		return ErrPatientSource
	case errors.As(err, &ure):
		return ErrUnsupportedRule
	case errors.As(err, &pe):
		return ErrPersistence
	case errors.Is(err, ErrEmptyDescription),
		errors.Is(err, ErrRuleSourceAmbiguous),
		errors.Is(err, ErrNoPatientSource),
		errors.Is(err, ErrInvalidGender),
		errors.Is(err, ErrInvalidRuleType),
		errors.Is(err, ErrInvalidOtherPolicy):
		return ErrInvalidInput
	default:
		return ErrInternalServer
	}
}
