package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clinical-trial-matcher/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestEvaluateAge(t *testing.T) {
	bounded := domain.AgeRule{Min: intPtr(58), Max: intPtr(70)}

	tests := []struct {
		name     string
		rule     domain.AgeRule
		age      int
		expected float64
	}{
		{"Below min", bounded, 57, 0},
		{"At min", bounded, 58, 1},
		{"At max", bounded, 70, 1},
		{"Above max", bounded, 71, 0},
		{"No bounds young", domain.AgeRule{}, 1, 1},
		{"No bounds old", domain.AgeRule{}, 120, 1},
		{"Min only", domain.AgeRule{Min: intPtr(50)}, 49, 0},
		{"Max only", domain.AgeRule{Max: intPtr(50)}, 49, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &domain.Patient{Age: tt.age}
			assert.Equal(t, tt.expected, EvaluateAge(tt.rule, p))
		})
	}
}

func TestEvaluateGender(t *testing.T) {
	tests := []struct {
		name     string
		gender   domain.Gender
		code     string
		expected float64
	}{
		{"Male matches M", domain.GenderMale, "M", 1},
		{"Male rejects F", domain.GenderMale, "F", 0},
		{"Female matches F", domain.GenderFemale, "F", 1},
		{"Female matches lowercase f", domain.GenderFemale, " f ", 1},
		{"Female rejects M", domain.GenderFemale, "M", 0},
		{"Either matches M", domain.GenderEither, "M", 1},
		{"Either matches F", domain.GenderEither, "F", 1},
		{"Unrecognized never matches M", domain.GenderUnrecognized, "M", 0},
		{"Unrecognized never matches F", domain.GenderUnrecognized, "F", 0},
		{"Out of range never matches", domain.Gender(5), "F", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &domain.Patient{Gender: tt.code}
			assert.Equal(t, tt.expected, EvaluateGender(domain.GenderRule{Gender: tt.gender}, p))
		})
	}
}

func TestEvaluateMedications(t *testing.T) {
	t.Run("Ratio is not clamped", func(t *testing.T) {
		p := &domain.Patient{
			Prescriptions:        []string{"Furosemide", "Furosemide IV"},
			PrescriptionsGeneric: []string{"insulin furosemide"},
		}
		rule := domain.MedicationsRule{Medications: []string{"furosemide"}}
		assert.Equal(t, 3.0, EvaluateMedications(rule, p))
	})

	t.Run("Divides by target count", func(t *testing.T) {
		p := &domain.Patient{
			Prescriptions:    []string{"Aspirin 81mg"},
			PrescriptionsPOE: []string{"metformin"},
		}
		rule := domain.MedicationsRule{Medications: []string{"aspirin", "warfarin", "heparin", "insulin"}}
		assert.Equal(t, 0.25, EvaluateMedications(rule, p))
	})

	t.Run("Targets are normalized and deduplicated", func(t *testing.T) {
		p := &domain.Patient{Prescriptions: []string{"aspirin"}}
		rule := domain.MedicationsRule{Medications: []string{" Aspirin ", "aspirin", ""}}
		assert.Equal(t, 1.0, EvaluateMedications(rule, p))
	})

	t.Run("No targets", func(t *testing.T) {
		p := &domain.Patient{Prescriptions: []string{"aspirin"}}
		assert.Equal(t, 0.0, EvaluateMedications(domain.MedicationsRule{}, p))
	})

	t.Run("No prescriptions", func(t *testing.T) {
		p := &domain.Patient{}
		assert.Equal(t, 0.0, EvaluateMedications(domain.MedicationsRule{Medications: []string{"aspirin"}}, p))
	})
}

func TestEvaluatePreexistingConditions(t *testing.T) {
	tests := []struct {
		name     string
		codes    []string
		targets  []string
		expected float64
	}{
		{"Half matched", []string{"401.9", "272.4"}, []string{"401.9", "250.0"}, 0.5},
		{"All matched", []string{"401.9", "250.0", "272.4"}, []string{"401.9", "250.0"}, 1},
		{"None matched", []string{"272.4"}, []string{"401.9"}, 0},
		{"Duplicate patient codes", []string{"401.9", "401.9"}, []string{"401.9", "250.0"}, 0.5},
		{"Case and whitespace", []string{" V58.67 "}, []string{"v58.67"}, 1},
		{"No targets", []string{"401.9"}, nil, 0},
		{"No patient codes", nil, []string{"401.9"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &domain.Patient{ICD9CodeSet: tt.codes}
			got := EvaluatePreexistingConditions(domain.PreexistingConditionsRule{Codes: tt.targets}, p)
			assert.Equal(t, tt.expected, got)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestEvaluate_Dispatch(t *testing.T) {
	p := &domain.Patient{Age: 60, Gender: "F"}

	v, ok := Evaluate(domain.AgeRule{Min: intPtr(50)}, p)
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	v, ok = Evaluate(domain.OtherRule{DeclaredType: "lab_value"}, p)
	assert.False(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestViolates(t *testing.T) {
	p := &domain.Patient{Age: 60, Gender: "F", Prescriptions: []string{"aspirin 81mg"}, ICD9CodeSet: []string{"401.9"}}

	assert.False(t, violates(domain.AgeRule{Min: intPtr(50)}, p))
	assert.True(t, violates(domain.AgeRule{Max: intPtr(50)}, p))
	assert.False(t, violates(domain.GenderRule{Gender: domain.GenderFemale}, p))
	assert.True(t, violates(domain.GenderRule{Gender: domain.GenderMale}, p))
	assert.True(t, violates(domain.MedicationsRule{Medications: []string{"aspirin"}}, p))
	assert.False(t, violates(domain.MedicationsRule{Medications: []string{"warfarin"}}, p))
	assert.True(t, violates(domain.PreexistingConditionsRule{Codes: []string{"401.9"}}, p))
	assert.False(t, violates(domain.OtherRule{DeclaredType: "pregnant"}, p))
}
