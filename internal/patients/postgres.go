package patients

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinical-trial-matcher/internal/domain"
)

// PostgresSource reads patients from the migrated patients table ordered by
// patient_index.
type PostgresSource struct {
	Pool  *pgxpool.Pool
	Table string
}

// NewPostgresSource creates a Postgres patient source
func NewPostgresSource(pool *pgxpool.Pool, table string) (*PostgresSource, error) {
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	return &PostgresSource{Pool: pool, Table: table}, nil
}

// Describe implements domain.PatientSource.
func (s *PostgresSource) Describe() string {
	return "postgres:" + s.Table
}

// LoadPatients implements domain.PatientSource.
func (s *PostgresSource) LoadPatients(ctx context.Context) ([]domain.Patient, error) {
	rows, err := s.Pool.Query(ctx, selectQuery(s.Table, "patient_index"))
	if err != nil {
		return nil, &domain.PatientSourceError{Source: s.Describe(), Row: -1, Message: "query failed", Err: err}
	}

	row := 0
	patients, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Patient, error) {
		values := make([]string, len(Columns))
		dest := make([]any, len(values))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := r.Scan(dest...); err != nil {
			return domain.Patient{}, &domain.PatientSourceError{Source: s.Describe(), Row: row, Message: "cannot scan row", Err: err}
		}
		p, err := decodeRecord(s.Describe(), row, values)
		row++
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading patients: %w", err)
	}
	return patients, nil
}

// Insert stores patients in the table, encoding list columns the same way the CSV
// source reads them. It is used to import a CSV table into Postgres.
func (s *PostgresSource) Insert(ctx context.Context, patients []domain.Patient) (int64, error) {
	rows := make([][]any, len(patients))
	for i, p := range patients {
		rows[i] = []any{
			p.SubjectID, p.FirstName, p.LastName, p.Age, p.Gender,
			domain.FormatList(p.Prescriptions),
			domain.FormatList(p.PrescriptionsPOE),
			domain.FormatList(p.PrescriptionsGeneric),
			domain.FormatList(p.ICD9CodeSet),
		}
	}
	n, err := s.Pool.CopyFrom(ctx, pgx.Identifier{s.Table}, Columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copying patients into %s: %w", s.Table, err)
	}
	return n, nil
}
