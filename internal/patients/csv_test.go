package patients

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-trial-matcher/internal/domain"
)

const sampleCSV = `subject_id,first_name,last_name,age,gender,prescriptions,prescriptions_poe,prescriptions_generic,icd9_codes
100,Ada,Byron,60,F,"['Metformin', 'Lisinopril']",[],"['metformin']","['401.9', '250.00']"
101,Alan,Turing,41.0,M,[],[],[],[]
`

func TestReadCSV(t *testing.T) {
	patients, err := ReadCSV(context.Background(), strings.NewReader(sampleCSV), "sample.csv")
	require.NoError(t, err)
	require.Len(t, patients, 2)

	ada := patients[0]
	assert.Equal(t, 0, ada.Index)
	assert.Equal(t, "100", ada.SubjectID)
	assert.Equal(t, "Ada Byron", ada.DisplayName())
	assert.Equal(t, 60, ada.Age)
	assert.Equal(t, "F", ada.Gender)
	assert.Equal(t, []string{"Metformin", "Lisinopril"}, ada.Prescriptions)
	assert.Equal(t, []string{}, ada.PrescriptionsPOE)
	assert.Equal(t, []string{"metformin"}, ada.PrescriptionsGeneric)
	assert.Equal(t, "['401.9', '250.00']", ada.ICD9Codes)
	assert.Equal(t, []string{"401.9", "250.00"}, ada.ICD9CodeSet)
	assert.Equal(t, 0.0, ada.Score)

	alan := patients[1]
	assert.Equal(t, 1, alan.Index)
	assert.Equal(t, 41, alan.Age)
	assert.Empty(t, alan.ICD9CodeSet)
}

func TestReadCSV_ColumnOrderAndExtras(t *testing.T) {
	data := `,icd9_codes,gender,age,last_name,first_name,subject_id,prescriptions_generic,prescriptions_poe,prescriptions,hadm_id
0,['272.4'],m,33,Hopper,Grace,7,[],[],['Aspirin'],999
`
	patients, err := ReadCSV(context.Background(), strings.NewReader(data), "reordered.csv")
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, "7", patients[0].SubjectID)
	assert.Equal(t, "M", patients[0].Gender)
	assert.Equal(t, []string{"Aspirin"}, patients[0].Prescriptions)
	assert.Equal(t, []string{"272.4"}, patients[0].ICD9CodeSet)
}

func TestReadCSV_Malformed(t *testing.T) {
	header := strings.Join(Columns, ",")

	tests := []struct {
		name   string
		data   string
		row    int
		column string
	}{
		{
			name:   "Missing column",
			data:   "subject_id,first_name,last_name,age,gender,prescriptions,prescriptions_poe,prescriptions_generic\n1,a,b,3,M,[],[],[]\n",
			row:    -1,
			column: "icd9_codes",
		},
		{
			name:   "Empty input",
			data:   "",
			row:    -1,
			column: "",
		},
		{
			name:   "ICD-9 not list-like",
			data:   header + "\n1,a,b,30,M,[],[],[],401.9\n",
			row:    0,
			column: "icd9_codes",
		},
		{
			name:   "Bad age",
			data:   header + "\n1,a,b,30,M,[],[],[],[]\n2,c,d,thirty,F,[],[],[],[]\n",
			row:    1,
			column: "age",
		},
		{
			name:   "Fractional age",
			data:   header + "\n1,a,b,30.5,M,[],[],[],[]\n",
			row:    0,
			column: "age",
		},
		{
			name:   "Short row",
			data:   header + "\n1,a,b\n",
			row:    0,
			column: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patients, err := ReadCSV(context.Background(), strings.NewReader(tt.data), "bad.csv")
			assert.Nil(t, patients, "no partial results")

			var pe *domain.PatientSourceError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.row, pe.Row)
			assert.Equal(t, tt.column, pe.Column)
		})
	}
}

func TestCSVSource_LoadPatients(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patients.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	src := NewCSVSource(path)
	assert.Equal(t, "csv:"+path, src.Describe())

	patients, err := src.LoadPatients(context.Background())
	require.NoError(t, err)
	assert.Len(t, patients, 2)
	assert.NoError(t, src.Close())
}

func TestBytesSource_LoadPatients(t *testing.T) {
	src := NewBytesSource("upload", []byte(sampleCSV))
	assert.Equal(t, "csv:upload", src.Describe())

	patients, err := src.LoadPatients(context.Background())
	require.NoError(t, err)
	require.Len(t, patients, 2)
	assert.Equal(t, "Turing", patients[1].LastName)

	// Loading twice yields the same table
	again, err := src.LoadPatients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, patients, again)
}

func TestCSVSource_MissingFile(t *testing.T) {
	src := NewCSVSource(filepath.Join(t.TempDir(), "nope.csv"))

	_, err := src.LoadPatients(context.Background())
	var pe *domain.PatientSourceError
	require.ErrorAs(t, err, &pe)
	assert.True(t, os.IsNotExist(pe.Err))
}

func TestReadCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ReadCSV(ctx, strings.NewReader(sampleCSV), "sample.csv")
	assert.ErrorIs(t, err, context.Canceled)
}
