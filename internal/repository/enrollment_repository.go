package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
)

// EnrollmentRepository handles persistence of binding enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, subject_id, year, half, credits, source, enrolled_at`

// Insert stores a new enrollment. ErrDuplicate means the key is already enrolled.
func (r *EnrollmentRepository) Insert(ctx context.Context, e *models.Enrollment) error {
	const query = `INSERT INTO enrollments (id, student_id, subject_id, year, half, credits, source, enrolled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.EnrolledAt.IsZero() {
		e.EnrolledAt = time.Now().UTC()
	}
	if _, err := r.db.ExecContext(ctx, query, e.ID, e.StudentID, e.SubjectID, e.Year, e.Half, e.Credits, e.Source, e.EnrolledAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

// Find returns one enrollment or sql.ErrNoRows.
func (r *EnrollmentRepository) Find(ctx context.Context, studentID, subjectID int64, term models.Term) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments
WHERE student_id = $1 AND subject_id = $2 AND year = $3 AND half = $4`
	var e models.Enrollment
	if err := r.db.GetContext(ctx, &e, query, studentID, subjectID, term.Year, term.Half); err != nil {
		return nil, err
	}
	return &e, nil
}

// Delete removes an enrollment and returns the removed row, or sql.ErrNoRows.
func (r *EnrollmentRepository) Delete(ctx context.Context, studentID, subjectID int64, term models.Term) (*models.Enrollment, error) {
	query := `DELETE FROM enrollments
WHERE student_id = $1 AND subject_id = $2 AND year = $3 AND half = $4
RETURNING ` + enrollmentColumns
	var e models.Enrollment
	if err := r.db.GetContext(ctx, &e, query, studentID, subjectID, term.Year, term.Half); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListByStudent returns a student's enrollments for term.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID int64, term models.Term) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments
WHERE student_id = $1 AND year = $2 AND half = $3
ORDER BY enrolled_at ASC, subject_id ASC`
	var items []models.Enrollment
	if err := r.db.SelectContext(ctx, &items, query, studentID, term.Year, term.Half); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return items, nil
}

// SumCredits returns the student's enrolled credit total for term.
func (r *EnrollmentRepository) SumCredits(ctx context.Context, studentID int64, term models.Term) (int, error) {
	const query = `SELECT COALESCE(SUM(credits), 0) FROM enrollments WHERE student_id = $1 AND year = $2 AND half = $3`
	var total int
	if err := r.db.GetContext(ctx, &total, query, studentID, term.Year, term.Half); err != nil {
		return 0, fmt.Errorf("sum enrollment credits: %w", err)
	}
	return total, nil
}

// CountBySubject returns live enrollment counts per subject of term.
func (r *EnrollmentRepository) CountBySubject(ctx context.Context, term models.Term) ([]models.EnrollmentCount, error) {
	const query = `SELECT subject_id, COUNT(*) AS count FROM enrollments
WHERE year = $1 AND half = $2 GROUP BY subject_id ORDER BY subject_id`
	var counts []models.EnrollmentCount
	if err := r.db.SelectContext(ctx, &counts, query, term.Year, term.Half); err != nil {
		return nil, fmt.Errorf("count enrollments: %w", err)
	}
	return counts, nil
}

// CreditTotals returns each enrolled student's credit total for term.
func (r *EnrollmentRepository) CreditTotals(ctx context.Context, term models.Term) ([]models.StudentCredits, error) {
	const query = `SELECT student_id, SUM(credits) AS credits FROM enrollments
WHERE year = $1 AND half = $2 GROUP BY student_id ORDER BY student_id`
	var totals []models.StudentCredits
	if err := r.db.SelectContext(ctx, &totals, query, term.Year, term.Half); err != nil {
		return nil, fmt.Errorf("enrollment credit totals: %w", err)
	}
	return totals, nil
}
