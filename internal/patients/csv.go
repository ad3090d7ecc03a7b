package patients

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/clinical-trial-matcher/internal/domain"
)

// CSVSource reads patients from a CSV file with a header row. Columns may appear in
// any order and extra columns are ignored.
type CSVSource struct {
	Path string
}

// NewCSVSource creates a CSV patient source
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: path}
}

// Describe implements domain.PatientSource.
func (s *CSVSource) Describe() string {
	return "csv:" + s.Path
}

// LoadPatients implements domain.PatientSource.
func (s *CSVSource) LoadPatients(ctx context.Context) ([]domain.Patient, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, &domain.PatientSourceError{Source: s.Path, Row: -1, Message: "cannot open file", Err: err}
	}
	defer f.Close()

	return ReadCSV(ctx, f, s.Path)
}

// Close is a no-op; the file is closed after each load.
func (s *CSVSource) Close() error { return nil }

// BytesSource serves a CSV patient table held in memory, such as an uploaded file.
type BytesSource struct {
	Name string
	Data []byte
}

// NewBytesSource creates a patient source over data.
func NewBytesSource(name string, data []byte) *BytesSource {
	return &BytesSource{Name: name, Data: data}
}

// Describe implements domain.PatientSource.
func (s *BytesSource) Describe() string {
	return "csv:" + s.Name
}

// LoadPatients implements domain.PatientSource.
func (s *BytesSource) LoadPatients(ctx context.Context) ([]domain.Patient, error) {
	return ReadCSV(ctx, bytes.NewReader(s.Data), s.Name)
}

// ReadCSV parses a patient table from r. name identifies the source in errors.
func ReadCSV(ctx context.Context, r io.Reader, name string) ([]domain.Patient, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &domain.PatientSourceError{Source: name, Row: -1, Message: "missing header row"}
		}
		return nil, &domain.PatientSourceError{Source: name, Row: -1, Message: "unreadable header row", Err: err}
	}

	positions, err := columnPositions(name, header)
	if err != nil {
		return nil, err
	}

	var (
		patients []domain.Patient
		values   = make([]string, len(Columns))
	)
	for row := 0; ; row++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return patients, nil
			}
			return nil, &domain.PatientSourceError{Source: name, Row: row, Message: "malformed CSV row", Err: err}
		}

		for i, pos := range positions {
			values[i] = record[pos]
		}
		p, err := decodeRecord(name, row, values)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
}

// columnPositions maps each required column to its index in the header.
func columnPositions(name string, header []string) ([]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	positions := make([]int, len(Columns))
	var missing []string
	for i, col := range Columns {
		pos, ok := index[col]
		if !ok {
			missing = append(missing, col)
			continue
		}
		positions[i] = pos
	}
	if len(missing) > 0 {
		return nil, &domain.PatientSourceError{
			Source:  name,
			Row:     -1,
			Column:  strings.Join(missing, ","),
			Message: fmt.Sprintf("missing required column(s): %s", strings.Join(missing, ", ")),
		}
	}
	return positions, nil
}
