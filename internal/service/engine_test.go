package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-trial-matcher/internal/domain"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress logs during testing
	return logger
}

// endToEndFixture builds the three-patient aspirin scenario.
func endToEndFixture() (*domain.RuleDocument, []domain.Patient) {
	doc := &domain.RuleDocument{
		Inclusion: []domain.InclusionCriterion{
			{Rule: domain.AgeRule{Min: intPtr(50)}, Weight: 0.5},
			{Rule: domain.GenderRule{Gender: domain.GenderFemale}, Weight: 0.5},
		},
		Exclusion: []domain.ExclusionCriterion{
			{Rule: domain.MedicationsRule{Medications: []string{"aspirin"}}},
		},
	}
	patients := []domain.Patient{
		{Index: 0, SubjectID: "100", FirstName: "Ada", LastName: "Byron", Age: 60, Gender: "F", Prescriptions: []string{"metformin"}},
		{Index: 1, SubjectID: "101", FirstName: "Grace", LastName: "Hopper", Age: 40, Gender: "F"},
		{Index: 2, SubjectID: "102", FirstName: "Mary", LastName: "Jackson", Age: 60, Gender: "F", Prescriptions: []string{"aspirin 81mg"}},
	}
	return doc, patients
}

func TestEngine_Rank_EndToEnd(t *testing.T) {
	engine := NewEngine(newTestLogger(), EngineOptions{})
	doc, patients := endToEndFixture()

	result, err := engine.Rank(context.Background(), doc, patients)
	require.NoError(t, err)

	require.Len(t, result.Patients, 3)
	assert.Equal(t, 0, result.Patients[0].Index)
	assert.Equal(t, 1.0, result.Patients[0].Score)
	assert.Equal(t, 1, result.Patients[1].Index)
	assert.Equal(t, 0.5, result.Patients[1].Score)
	assert.Equal(t, 2, result.Patients[2].Index)
	assert.Equal(t, 0.0, result.Patients[2].Score)

	require.Len(t, result.ExclusionLog, 1)
	entry := result.ExclusionLog[0]
	assert.Equal(t, 2, entry.PatientIndex)
	assert.Equal(t, domain.RuleTypeMedications, entry.RuleType)
	assert.Equal(t, "Patient 2 excluded due to medications (['aspirin 81mg'], but couldn't have ['aspirin'])", entry.Reason)

	require.Len(t, result.ScoreLog, 3)
	for i, e := range result.ScoreLog {
		assert.Equal(t, i, e.PatientIndex, "score log keeps ingestion order")
	}

	summary := result.Summary()
	assert.Equal(t, 2, summary.Included)
	assert.Equal(t, "Processed patients. Percentage included: 66.67%", summary.String())
	assert.NotEmpty(t, result.RunID)

	// Caller's slice is not modified
	assert.Equal(t, 0.0, patients[0].Score)
	assert.Equal(t, 2, patients[2].Index)
}

func TestEngine_Rank_ExclusionShortCircuit(t *testing.T) {
	engine := NewEngine(newTestLogger(), EngineOptions{})
	doc := &domain.RuleDocument{
		Inclusion: []domain.InclusionCriterion{
			{Rule: domain.AgeRule{}, Weight: 1.0},
			{Rule: domain.MedicationsRule{Medications: []string{"aspirin"}}, Weight: 1.0},
		},
		Exclusion: []domain.ExclusionCriterion{
			{Rule: domain.PreexistingConditionsRule{Codes: []string{"401.9"}}},
			{Rule: domain.GenderRule{Gender: domain.GenderMale}},
		},
	}
	patients := []domain.Patient{
		{Index: 0, SubjectID: "7", Age: 45, Gender: "F", Prescriptions: []string{"aspirin"}, ICD9Codes: "['401.9']", ICD9CodeSet: []string{"401.9"}},
	}

	result, err := engine.Rank(context.Background(), doc, patients)
	require.NoError(t, err)

	assert.Equal(t, 0.0, result.Patients[0].Score)
	require.Len(t, result.ExclusionLog, 1)
	assert.Equal(t, domain.RuleTypePreexistingConditions, result.ExclusionLog[0].RuleType)
	assert.Equal(t, "Patient 0 excluded due to preexisting conditions (['401.9'], but couldn't have ['401.9'])", result.ExclusionLog[0].Reason)
}

func TestEngine_Rank_ExclusionReasons(t *testing.T) {
	engine := NewEngine(newTestLogger(), EngineOptions{})
	doc := &domain.RuleDocument{
		Exclusion: []domain.ExclusionCriterion{
			{Rule: domain.AgeRule{Min: intPtr(18), Max: intPtr(65)}},
			{Rule: domain.GenderRule{Gender: domain.GenderMale}},
			{Rule: domain.AgeRule{Min: intPtr(30)}},
		},
	}
	patients := []domain.Patient{
		{Index: 0, Age: 70, Gender: "M"},
		{Index: 1, Age: 40, Gender: "F"},
		{Index: 2, Age: 20, Gender: "M"},
	}

	result, err := engine.Rank(context.Background(), doc, patients)
	require.NoError(t, err)

	reasons := make([]string, len(result.ExclusionLog))
	for i, e := range result.ExclusionLog {
		reasons[i] = e.Reason
	}
	assert.Equal(t, []string{
		"Patient 0 excluded due to age (70, needed between 18 and 65)",
		"Patient 1 excluded due to gender (F, needed to be M)",
		"Patient 2 excluded due to age (20, needed between 30 and any)",
	}, reasons)
}

func TestEngine_Rank_StableTies(t *testing.T) {
	engine := NewEngine(newTestLogger(), EngineOptions{Workers: 4})
	doc := &domain.RuleDocument{
		Inclusion: []domain.InclusionCriterion{
			{Rule: domain.GenderRule{Gender: domain.GenderFemale}, Weight: 0.7},
		},
	}

	var patients []domain.Patient
	for i := 0; i < 20; i++ {
		gender := "M"
		if i%3 == 0 {
			gender = "F"
		}
		patients = append(patients, domain.Patient{Index: i, SubjectID: fmt.Sprint(i), Gender: gender})
	}

	result, err := engine.Rank(context.Background(), doc, patients)
	require.NoError(t, err)

	var order []int
	for _, p := range result.Patients {
		order = append(order, p.Index)
	}
	assert.Equal(t, []int{0, 3, 6, 9, 12, 15, 18, 1, 2, 4, 5, 7, 8, 10, 11, 13, 14, 16, 17, 19}, order)

	for i, e := range result.ScoreLog {
		assert.Equal(t, i, e.PatientIndex)
	}
}

func TestEngine_Rank_OtherRulePolicy(t *testing.T) {
	doc := &domain.RuleDocument{
		Inclusion: []domain.InclusionCriterion{
			{Rule: domain.OtherRule{DeclaredType: "lab_value"}, Weight: 1.0},
			{Rule: domain.AgeRule{}, Weight: 0.5},
		},
		Exclusion: []domain.ExclusionCriterion{
			{Rule: domain.OtherRule{DeclaredType: "pregnant"}},
		},
	}
	patients := []domain.Patient{{Index: 0, Age: 30, Gender: "F"}}

	t.Run("Warn", func(t *testing.T) {
		logger, hook := test.NewNullLogger()
		engine := NewEngine(logger, EngineOptions{OtherRulePolicy: domain.OtherRuleWarn})

		result, err := engine.Rank(context.Background(), doc, patients)
		require.NoError(t, err)
		assert.Equal(t, 0.5, result.Patients[0].Score)
		assert.Empty(t, result.ExclusionLog)
		assert.Len(t, result.Warnings, 2)

		warned := 0
		for _, e := range hook.AllEntries() {
			if e.Level == logrus.WarnLevel {
				warned++
			}
		}
		assert.Equal(t, 2, warned)
	})

	t.Run("Ignore", func(t *testing.T) {
		engine := NewEngine(newTestLogger(), EngineOptions{OtherRulePolicy: domain.OtherRuleIgnore})

		result, err := engine.Rank(context.Background(), doc, patients)
		require.NoError(t, err)
		assert.Equal(t, 0.5, result.Patients[0].Score)
		assert.Empty(t, result.Warnings)
	})

	t.Run("Error", func(t *testing.T) {
		engine := NewEngine(newTestLogger(), EngineOptions{OtherRulePolicy: domain.OtherRuleError})

		result, err := engine.Rank(context.Background(), doc, patients)
		assert.Nil(t, result)
		var ue *domain.UnsupportedRuleError
		require.ErrorAs(t, err, &ue)
		assert.Len(t, ue.Rules, 2)
	})

	t.Run("Invalid policy defaults to warn", func(t *testing.T) {
		engine := NewEngine(newTestLogger(), EngineOptions{OtherRulePolicy: "loud"})
		result, err := engine.Rank(context.Background(), doc, patients)
		require.NoError(t, err)
		assert.Len(t, result.Warnings, 2)
	})
}

func TestEngine_Rank_Reusable(t *testing.T) {
	engine := NewEngine(newTestLogger(), EngineOptions{})
	doc, patients := endToEndFixture()

	first, err := engine.Rank(context.Background(), doc, patients)
	require.NoError(t, err)
	second, err := engine.Rank(context.Background(), doc, patients)
	require.NoError(t, err)

	assert.Len(t, second.ExclusionLog, len(first.ExclusionLog))
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestEngine_Rank_Cancelled(t *testing.T) {
	engine := NewEngine(newTestLogger(), EngineOptions{})
	doc, patients := endToEndFixture()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Rank(ctx, doc, patients)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEngine_Rank_NilDocument(t *testing.T) {
	engine := NewEngine(newTestLogger(), EngineOptions{})
	_, err := engine.Rank(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestEngine_Rank_NoPatients(t *testing.T) {
	engine := NewEngine(newTestLogger(), EngineOptions{})
	doc, _ := endToEndFixture()

	result, err := engine.Rank(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Patients)
	assert.Equal(t, 0.0, result.Summary().Percentage)
}
