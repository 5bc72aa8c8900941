package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/registrar-api/internal/models"
)

// TransitionReportRepository persists migration reports, one per term.
type TransitionReportRepository struct {
	db *sqlx.DB
}

// NewTransitionReportRepository constructs the repository.
func NewTransitionReportRepository(db *sqlx.DB) *TransitionReportRepository {
	return &TransitionReportRepository{db: db}
}

type transitionReportRow struct {
	Year       int            `db:"year"`
	Half       int            `db:"half"`
	StartedAt  time.Time      `db:"started_at"`
	FinishedAt time.Time      `db:"finished_at"`
	Entries    types.JSONText `db:"entries"`
}

// Save stores report, replacing an earlier report for the same term.
func (r *TransitionReportRepository) Save(ctx context.Context, report *models.TransitionReport) error {
	entries, err := json.Marshal(report.Entries)
	if err != nil {
		return fmt.Errorf("marshal transition entries: %w", err)
	}
	const query = `INSERT INTO transition_reports (year, half, started_at, finished_at, entries)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (year, half) DO UPDATE SET started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at, entries = EXCLUDED.entries`
	if _, err := r.db.ExecContext(ctx, query, report.Term.Year, report.Term.Half, report.StartedAt, report.FinishedAt, types.JSONText(entries)); err != nil {
		return fmt.Errorf("save transition report: %w", err)
	}
	return nil
}

// Get returns the report for term or sql.ErrNoRows.
func (r *TransitionReportRepository) Get(ctx context.Context, term models.Term) (*models.TransitionReport, error) {
	const query = `SELECT year, half, started_at, finished_at, entries FROM transition_reports WHERE year = $1 AND half = $2`
	var row transitionReportRow
	if err := r.db.GetContext(ctx, &row, query, term.Year, term.Half); err != nil {
		return nil, err
	}
	report := &models.TransitionReport{
		Term:       models.Term{Year: row.Year, Half: row.Half},
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
	}
	if err := row.Entries.Unmarshal(&report.Entries); err != nil {
		return nil, fmt.Errorf("decode transition entries: %w", err)
	}
	report.Summarize()
	return report, nil
}
