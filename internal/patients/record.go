// Package patients loads patient tables from CSV files and SQL databases into
// domain.Patient records. Every source reads the same columns and list encoding,
// and any malformed row aborts the whole load.
package patients

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/clinical-trial-matcher/internal/domain"
)

// Column names of the patient table.
const (
	ColSubjectID            = "subject_id"
	ColFirstName            = "first_name"
	ColLastName             = "last_name"
	ColAge                  = "age"
	ColGender               = "gender"
	ColPrescriptions        = "prescriptions"
	ColPrescriptionsPOE     = "prescriptions_poe"
	ColPrescriptionsGeneric = "prescriptions_generic"
	ColICD9Codes            = "icd9_codes"
)

// Columns lists the required columns in the order sources read them.
var Columns = []string{
	ColSubjectID,
	ColFirstName,
	ColLastName,
	ColAge,
	ColGender,
	ColPrescriptions,
	ColPrescriptionsPOE,
	ColPrescriptionsGeneric,
	ColICD9Codes,
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateTableName rejects table names that are not plain identifiers.
func ValidateTableName(table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// decodeRecord converts one row, given in Columns order, into a patient.
func decodeRecord(source string, row int, values []string) (domain.Patient, error) {
	cellErr := func(col, msg string, err error) error {
		return &domain.PatientSourceError{Source: source, Row: row, Column: col, Message: msg, Err: err}
	}

	p := domain.Patient{
		Index:     row,
		SubjectID: strings.TrimSpace(values[0]),
		FirstName: strings.TrimSpace(values[1]),
		LastName:  strings.TrimSpace(values[2]),
		Gender:    strings.ToUpper(strings.TrimSpace(values[4])),
	}

	age, err := parseAge(values[3])
	if err != nil {
		return p, cellErr(ColAge, "invalid age", err)
	}
	p.Age = age

	lists := []struct {
		col string
		dst *[]string
	}{
		{ColPrescriptions, &p.Prescriptions},
		{ColPrescriptionsPOE, &p.PrescriptionsPOE},
		{ColPrescriptionsGeneric, &p.PrescriptionsGeneric},
		{ColICD9Codes, &p.ICD9CodeSet},
	}
	for i, l := range lists {
		items, err := ParseListLiteral(values[5+i])
		if err != nil {
			return p, cellErr(l.col, "not a list", err)
		}
		*l.dst = items
	}
	p.ICD9Codes = strings.TrimSpace(values[8])

	return p, nil
}

// parseAge accepts integers and integral floats such as "60.0".
func parseAge(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("age is empty")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("age %q is not a whole number", s)
	}
	return int(f), nil
}
