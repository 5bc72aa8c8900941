package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
)

// PeriodRepository persists the registration period state.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository constructs the repository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

// Current returns the most recently opened term. sql.ErrNoRows means no term was ever opened.
func (r *PeriodRepository) Current(ctx context.Context) (*models.PeriodState, error) {
	const query = `SELECT year, half, phase, opened_at, updated_at FROM enrollment_periods
ORDER BY year DESC, half DESC LIMIT 1`
	var state models.PeriodState
	if err := r.db.GetContext(ctx, &state, query); err != nil {
		return nil, err
	}
	return &state, nil
}

// Create inserts a newly opened term.
func (r *PeriodRepository) Create(ctx context.Context, state *models.PeriodState) error {
	const query = `INSERT INTO enrollment_periods (year, half, phase, opened_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`
	now := time.Now().UTC()
	state.OpenedAt = now
	state.UpdatedAt = now
	if _, err := r.db.ExecContext(ctx, query, state.Year, state.Half, state.Phase, state.OpenedAt, state.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create enrollment period: %w", err)
	}
	return nil
}

// UpdatePhase writes a phase change for term.
func (r *PeriodRepository) UpdatePhase(ctx context.Context, term models.Term, phase models.Phase) (time.Time, error) {
	const query = `UPDATE enrollment_periods SET phase = $3, updated_at = $4 WHERE year = $1 AND half = $2`
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query, term.Year, term.Half, phase, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("update enrollment period phase: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return time.Time{}, fmt.Errorf("update enrollment period phase: term %s not found", term.Label())
	}
	return now, nil
}
