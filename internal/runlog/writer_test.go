package runlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-trial-matcher/internal/domain"
)

func sampleResult() *domain.RankResult {
	return &domain.RankResult{
		RunID: "run-1",
		ScoreLog: []domain.ScoreAuditEntry{
			{PatientIndex: 0, SubjectID: "10006", FirstName: "Ann", LastName: "Lee", Score: 1},
			{PatientIndex: 1, SubjectID: "10011", FirstName: "Bob", LastName: "Ray", Score: 0},
			{PatientIndex: 2, SubjectID: "10013", FirstName: "Cy", LastName: "Diaz, Jr", Score: 0.5},
		},
		ExclusionLog: []domain.ExclusionLogEntry{
			{
				PatientIndex: 1,
				SubjectID:    "10011",
				RuleType:     domain.RuleTypeAge,
				Reason:       "Patient 1 excluded due to age (17, needed between 18 and any)",
			},
		},
	}
}

func TestWriter_Persist(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs", "nested")
	w := NewWriter(dir)

	err := w.Persist([]byte(`{"response":"rules","inclusion_criterium":[],"exclusion_criterium":[]}`), sampleResult())
	require.NoError(t, err)

	rules, err := os.ReadFile(filepath.Join(dir, RulesFile))
	require.NoError(t, err)
	assert.Equal(t, "{\n    \"response\": \"rules\",\n    \"inclusion_criterium\": [],\n    \"exclusion_criterium\": []\n}\n", string(rules))

	scores, err := os.ReadFile(filepath.Join(dir, ScoresFile))
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"patient_index,subject_id,first_name,last_name,score",
		"0,10006,Ann,Lee,1.0",
		"1,10011,Bob,Ray,0.0",
		`2,10013,Cy,"Diaz, Jr",0.5`,
		"",
	}, "\n"), string(scores))

	exclusions, err := os.ReadFile(filepath.Join(dir, ExclusionsFile))
	require.NoError(t, err)
	assert.Equal(t, "Patient 1 excluded due to age (17, needed between 18 and any)\n", string(exclusions))
}

func TestWriter_TruncatesPreviousRun(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	raw := []byte(`{"response":"rules"}`)

	require.NoError(t, w.Persist(raw, sampleResult()))
	require.NoError(t, w.Persist(raw, &domain.RankResult{}))

	exclusions, err := os.ReadFile(filepath.Join(dir, ExclusionsFile))
	require.NoError(t, err)
	assert.Empty(t, exclusions)

	scores, err := os.ReadFile(filepath.Join(dir, ScoresFile))
	require.NoError(t, err)
	assert.Equal(t, "patient_index,subject_id,first_name,last_name,score\n", string(scores))
}

func TestWriter_Errors(t *testing.T) {
	t.Run("Directory is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "taken")
		require.NoError(t, os.WriteFile(file, nil, 0644))

		err := NewWriter(file).Persist([]byte(`{}`), sampleResult())
		var pe *domain.PersistError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, file, pe.Path)
	})

	t.Run("Invalid rule JSON", func(t *testing.T) {
		dir := t.TempDir()
		err := NewWriter(dir).Persist([]byte(`not json`), sampleResult())
		var pe *domain.PersistError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, filepath.Join(dir, RulesFile), pe.Path)
	})
}
