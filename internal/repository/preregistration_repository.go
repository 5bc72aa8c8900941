package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
)

// PreRegistrationRepository stores non-binding declarations.
type PreRegistrationRepository struct {
	db *sqlx.DB
}

// NewPreRegistrationRepository constructs the repository.
func NewPreRegistrationRepository(db *sqlx.DB) *PreRegistrationRepository {
	return &PreRegistrationRepository{db: db}
}

// Insert stores rec unless the key already exists. The first declaration time wins.
func (r *PreRegistrationRepository) Insert(ctx context.Context, rec *models.PreRegistration) (bool, error) {
	const query = `INSERT INTO preregistrations (student_id, subject_id, year, half, declared_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (student_id, subject_id, year, half) DO NOTHING`
	if rec.DeclaredAt.IsZero() {
		rec.DeclaredAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, query, rec.StudentID, rec.SubjectID, rec.Year, rec.Half, rec.DeclaredAt)
	if err != nil {
		return false, fmt.Errorf("insert preregistration: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

// Delete removes one declaration and reports whether it existed.
func (r *PreRegistrationRepository) Delete(ctx context.Context, studentID, subjectID int64, term models.Term) (bool, error) {
	const query = `DELETE FROM preregistrations WHERE student_id = $1 AND subject_id = $2 AND year = $3 AND half = $4`
	res, err := r.db.ExecContext(ctx, query, studentID, subjectID, term.Year, term.Half)
	if err != nil {
		return false, fmt.Errorf("delete preregistration: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// ListByStudent returns a student's declarations in declaration order.
func (r *PreRegistrationRepository) ListByStudent(ctx context.Context, studentID int64, term models.Term) ([]models.PreRegistration, error) {
	const query = `SELECT student_id, subject_id, year, half, declared_at FROM preregistrations
WHERE student_id = $1 AND year = $2 AND half = $3
ORDER BY declared_at ASC, subject_id ASC`
	var records []models.PreRegistration
	if err := r.db.SelectContext(ctx, &records, query, studentID, term.Year, term.Half); err != nil {
		return nil, fmt.Errorf("list preregistrations: %w", err)
	}
	return records, nil
}

// ListByTerm returns every declaration of term, first declared first.
func (r *PreRegistrationRepository) ListByTerm(ctx context.Context, term models.Term) ([]models.PreRegistration, error) {
	const query = `SELECT student_id, subject_id, year, half, declared_at FROM preregistrations
WHERE year = $1 AND half = $2
ORDER BY declared_at ASC, student_id ASC, subject_id ASC`
	var records []models.PreRegistration
	if err := r.db.SelectContext(ctx, &records, query, term.Year, term.Half); err != nil {
		return nil, fmt.Errorf("list term preregistrations: %w", err)
	}
	return records, nil
}

// DeleteByTerm clears every declaration of term.
func (r *PreRegistrationRepository) DeleteByTerm(ctx context.Context, term models.Term) (int64, error) {
	const query = `DELETE FROM preregistrations WHERE year = $1 AND half = $2`
	res, err := r.db.ExecContext(ctx, query, term.Year, term.Half)
	if err != nil {
		return 0, fmt.Errorf("clear preregistrations: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// Demand counts declarations per subject of term.
func (r *PreRegistrationRepository) Demand(ctx context.Context, term models.Term) ([]models.SubjectDemand, error) {
	const query = `SELECT s.id AS subject_id, COUNT(p.student_id) AS declared, s.capacity
FROM subjects s
LEFT JOIN preregistrations p ON p.subject_id = s.id AND p.year = s.year AND p.half = s.half
WHERE s.year = $1 AND s.half = $2
GROUP BY s.id, s.capacity
ORDER BY declared DESC, s.id ASC`
	var demand []models.SubjectDemand
	if err := r.db.SelectContext(ctx, &demand, query, term.Year, term.Half); err != nil {
		return nil, fmt.Errorf("preregistration demand: %w", err)
	}
	return demand, nil
}
