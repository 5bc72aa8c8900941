package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/registrar-api/internal/models"
)

// AdvisorAssignmentRepository stores advisor assignments per term.
type AdvisorAssignmentRepository struct {
	db *sqlx.DB
}

// NewAdvisorAssignmentRepository constructs the repository.
func NewAdvisorAssignmentRepository(db *sqlx.DB) *AdvisorAssignmentRepository {
	return &AdvisorAssignmentRepository{db: db}
}

// Find returns the student's assignment or sql.ErrNoRows.
func (r *AdvisorAssignmentRepository) Find(ctx context.Context, studentID int64, term models.Term) (*models.AdvisorAssignment, error) {
	const query = `SELECT student_id, year, half, professor_id, assigned_at FROM advisor_assignments
WHERE student_id = $1 AND year = $2 AND half = $3`
	var a models.AdvisorAssignment
	if err := r.db.GetContext(ctx, &a, query, studentID, term.Year, term.Half); err != nil {
		return nil, err
	}
	return &a, nil
}

// Loads returns the advisee count of each candidate professor, including zeros.
func (r *AdvisorAssignmentRepository) Loads(ctx context.Context, term models.Term, professorIDs []int64) ([]models.AdvisorLoad, error) {
	if len(professorIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT p.professor_id, COUNT(a.student_id) AS advisees
FROM UNNEST($1::BIGINT[]) AS p(professor_id)
LEFT JOIN advisor_assignments a ON a.professor_id = p.professor_id AND a.year = $2 AND a.half = $3
GROUP BY p.professor_id
ORDER BY p.professor_id`
	var loads []models.AdvisorLoad
	if err := r.db.SelectContext(ctx, &loads, query, pq.Array(professorIDs), term.Year, term.Half); err != nil {
		return nil, fmt.Errorf("advisor loads: %w", err)
	}
	return loads, nil
}

// Insert stores an assignment. ErrDuplicate means the student already has one.
func (r *AdvisorAssignmentRepository) Insert(ctx context.Context, a *models.AdvisorAssignment) error {
	const query = `INSERT INTO advisor_assignments (student_id, year, half, professor_id, assigned_at)
VALUES ($1, $2, $3, $4, $5)`
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now().UTC()
	}
	if _, err := r.db.ExecContext(ctx, query, a.StudentID, a.Year, a.Half, a.ProfessorID, a.AssignedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert advisor assignment: %w", err)
	}
	return nil
}
