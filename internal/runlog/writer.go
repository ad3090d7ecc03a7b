// Package runlog writes the artifacts of a matching run to a log folder: the parsed
// rule document, the score of every patient and the reason each excluded patient
// was dropped.
package runlog

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/clinical-trial-matcher/internal/domain"
)

// File names inside the log folder.
const (
	RulesFile      = "parsed_rules.json"
	ScoresFile     = "patient_scores.csv"
	ExclusionsFile = "exclusion_reasons.txt"
)

// ScoreHeader is the header row of the scores file.
var ScoreHeader = []string{"patient_index", "subject_id", "first_name", "last_name", "score"}

// Writer persists run logs under Dir. Every run overwrites the previous files.
type Writer struct {
	Dir string
}

// NewWriter creates a run log writer for dir.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// Persist implements domain.RunLogWriter. The folder is created when missing. The
// first failing file stops the write and is reported as a *domain.PersistError.
func (w *Writer) Persist(rawRules []byte, result *domain.RankResult) error {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return &domain.PersistError{Path: w.Dir, Err: err}
	}

	if err := w.WriteRules(rawRules); err != nil {
		return err
	}
	if err := w.WriteScores(result.ScoreLog); err != nil {
		return err
	}
	return w.WriteExclusions(result.ExclusionLog)
}

// WriteRules writes the rule document indented by four spaces.
func (w *Writer) WriteRules(raw []byte) error {
	path := filepath.Join(w.Dir, RulesFile)

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "    "); err != nil {
		return &domain.PersistError{Path: path, Err: fmt.Errorf("rule document is not valid JSON: %w", err)}
	}
	buf.WriteByte('\n')

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return &domain.PersistError{Path: path, Err: err}
	}
	return nil
}

// WriteScores writes one CSV row per scored patient in ingestion order.
func (w *Writer) WriteScores(entries []domain.ScoreAuditEntry) error {
	path := filepath.Join(w.Dir, ScoresFile)
	return writeFile(path, func(f *os.File) error {
		cw := csv.NewWriter(f)
		if err := cw.Write(ScoreHeader); err != nil {
			return err
		}
		for _, e := range entries {
			row := []string{
				strconv.Itoa(e.PatientIndex),
				e.SubjectID,
				e.FirstName,
				e.LastName,
				domain.FormatScore(e.Score),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// WriteExclusions writes one reason per line.
func (w *Writer) WriteExclusions(entries []domain.ExclusionLogEntry) error {
	path := filepath.Join(w.Dir, ExclusionsFile)
	return writeFile(path, func(f *os.File) error {
		bw := bufio.NewWriter(f)
		for _, e := range entries {
			if _, err := bw.WriteString(e.Reason + "\n"); err != nil {
				return err
			}
		}
		return bw.Flush()
	})
}

func writeFile(path string, fill func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return &domain.PersistError{Path: path, Err: err}
	}
	if err := fill(f); err != nil {
		f.Close()
		return &domain.PersistError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &domain.PersistError{Path: path, Err: err}
	}
	return nil
}
