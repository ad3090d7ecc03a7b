package patients

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/clinical-trial-matcher/internal/domain"
)

// SQLSource reads patients from a table through database/sql. It is used with the
// pure-Go SQLite driver; rows are returned in insertion order.
type SQLSource struct {
	DB      *sql.DB
	Table   string
	OrderBy string
	name    string
	owned   bool
}

// NewSQLSource creates a source over an existing handle. orderBy defaults to rowid.
func NewSQLSource(db *sql.DB, table, orderBy string) (*SQLSource, error) {
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	if orderBy == "" {
		orderBy = "rowid"
	}
	if err := ValidateTableName(orderBy); err != nil {
		return nil, fmt.Errorf("invalid order column: %w", err)
	}
	return &SQLSource{DB: db, Table: table, OrderBy: orderBy, name: "sql:" + table}, nil
}

// OpenSQLite opens a SQLite database file and returns a source that closes it.
func OpenSQLite(path, table string) (*SQLSource, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &domain.PatientSourceError{Source: path, Row: -1, Message: "cannot open database", Err: err}
	}
	src, err := NewSQLSource(db, table, "")
	if err != nil {
		db.Close()
		return nil, err
	}
	src.name = fmt.Sprintf("sqlite:%s/%s", path, table)
	src.owned = true
	return src, nil
}

// Describe implements domain.PatientSource.
func (s *SQLSource) Describe() string {
	return s.name
}

// Close closes the database if the source opened it.
func (s *SQLSource) Close() error {
	if s.owned {
		return s.DB.Close()
	}
	return nil
}

// LoadPatients implements domain.PatientSource.
func (s *SQLSource) LoadPatients(ctx context.Context) ([]domain.Patient, error) {
	query := selectQuery(s.Table, s.OrderBy)
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, &domain.PatientSourceError{Source: s.name, Row: -1, Message: "query failed", Err: err}
	}
	defer rows.Close()

	var patients []domain.Patient
	values := make([]string, len(Columns))
	dest := make([]any, len(Columns))
	for i := range values {
		dest[i] = &values[i]
	}

	for row := 0; rows.Next(); row++ {
		if err := rows.Scan(dest...); err != nil {
			return nil, &domain.PatientSourceError{Source: s.name, Row: row, Message: "cannot scan row", Err: err}
		}
		p, err := decodeRecord(s.name, row, values)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PatientSourceError{Source: s.name, Row: -1, Message: "reading rows", Err: err}
	}

	return patients, nil
}

// selectQuery reads every column as text with NULL mapped to the empty string.
// table and orderBy must already be validated identifiers.
func selectQuery(table, orderBy string) string {
	cols := make([]string, len(Columns))
	for i, c := range Columns {
		cols[i] = fmt.Sprintf("COALESCE(CAST(%s AS TEXT), '')", c)
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(cols, ", "), table, orderBy)
}
