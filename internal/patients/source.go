package patients

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/clinical-trial-matcher/internal/database"
	"github.com/clinical-trial-matcher/internal/domain"
)

// Source is a patient source that may hold resources.
type Source interface {
	domain.PatientSource
	Close() error
}

// Open creates the patient source selected by cfg. The Postgres source uses dbCfg
// for its connection; the other kinds read from cfg.Path.
func Open(ctx context.Context, cfg domain.PatientsConfig, dbCfg domain.DatabaseConfig, logger *logrus.Logger) (Source, error) {
	table := cfg.Table
	if table == "" {
		table = "patients"
	}

	switch cfg.Source {
	case domain.SourceCSV, "":
		if cfg.Path == "" {
			return nil, domain.ErrNoPatientSource
		}
		return NewCSVSource(cfg.Path), nil

	case domain.SourceSQLite:
		if cfg.Path == "" {
			return nil, domain.ErrNoPatientSource
		}
		src, err := OpenSQLite(cfg.Path, table)
		if err != nil {
			return nil, err
		}
		return src, nil

	case domain.SourcePostgres:
		db, err := database.NewConnection(ctx, dbCfg, logger)
		if err != nil {
			return nil, &domain.PatientSourceError{Source: "postgres", Row: -1, Message: "cannot connect", Err: err}
		}
		src, err := NewPostgresSource(db.Pool, table)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &pooledSource{PostgresSource: src, db: db}, nil

	default:
		return nil, fmt.Errorf("unknown patient source %q", cfg.Source)
	}
}

// pooledSource owns the connection pool behind a PostgresSource.
type pooledSource struct {
	*PostgresSource
	db *database.DB
}

func (s *pooledSource) Close() error {
	s.db.Close()
	return nil
}
