package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
)

// StandingRepository reads the academic standing and leave data owned by the
// student records system.
type StandingRepository struct {
	db *sqlx.DB
}

// NewStandingRepository constructs the repository.
func NewStandingRepository(db *sqlx.DB) *StandingRepository {
	return &StandingRepository{db: db}
}

// GetStanding returns the student's standing for term or sql.ErrNoRows.
func (r *StandingRepository) GetStanding(ctx context.Context, studentID int64, term models.Term) (*models.AcademicStanding, error) {
	const query = `SELECT student_id, year, half, status, updated_at FROM academic_standings
WHERE student_id = $1 AND year = $2 AND half = $3`
	var standing models.AcademicStanding
	if err := r.db.GetContext(ctx, &standing, query, studentID, term.Year, term.Half); err != nil {
		return nil, err
	}
	return &standing, nil
}

// ListBlockingLeaves returns pending or approved leave applications covering term.
func (r *StandingRepository) ListBlockingLeaves(ctx context.Context, studentID int64, term models.Term) ([]models.LeaveApplication, error) {
	const query = `SELECT id, student_id, start_year, start_half, end_year, end_half, status, created_at
FROM leave_applications
WHERE student_id = $1
  AND status IN ('PENDING', 'APPROVED')
  AND start_year * 2 + start_half - 1 <= $2
  AND end_year * 2 + end_half - 1 >= $2
ORDER BY created_at ASC`
	var leaves []models.LeaveApplication
	if err := r.db.SelectContext(ctx, &leaves, query, studentID, term.Ordinal()); err != nil {
		return nil, fmt.Errorf("list leave applications: %w", err)
	}
	return leaves, nil
}
