package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
)

// AdvisingRepository stores advising slots and their reservations.
type AdvisingRepository struct {
	db *sqlx.DB
}

// NewAdvisingRepository constructs the repository.
func NewAdvisingRepository(db *sqlx.DB) *AdvisingRepository {
	return &AdvisingRepository{db: db}
}

const slotSelect = `SELECT s.id, s.professor_id, s.year, s.half, s.starts_at, s.duration_minutes, s.created_at,
	CASE WHEN r.id IS NULL THEN 'OPEN' ELSE 'RESERVED' END AS occupancy
FROM advising_slots s
LEFT JOIN slot_reservations r ON r.slot_id = s.id`

// CreateSlot publishes a slot. ErrDuplicate means the professor already has a slot at that time.
func (r *AdvisingRepository) CreateSlot(ctx context.Context, slot *models.AdvisingSlot) error {
	const query = `INSERT INTO advising_slots (professor_id, year, half, starts_at, duration_minutes)
VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	row := r.db.QueryRowxContext(ctx, query, slot.ProfessorID, slot.Year, slot.Half, slot.StartsAt, slot.DurationMinutes)
	if err := row.Scan(&slot.ID, &slot.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create advising slot: %w", err)
	}
	slot.Occupancy = models.SlotOpen
	return nil
}

// FindSlot returns a slot with derived occupancy, or sql.ErrNoRows.
func (r *AdvisingRepository) FindSlot(ctx context.Context, id int64) (*models.AdvisingSlot, error) {
	query := slotSelect + ` WHERE s.id = $1`
	var slot models.AdvisingSlot
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// ListSlots returns slots matching filter ordered by start time.
func (r *AdvisingRepository) ListSlots(ctx context.Context, filter models.SlotFilter) ([]models.AdvisingSlot, error) {
	conditions := []string{"s.year = $1", "s.half = $2"}
	args := []interface{}{filter.Term.Year, filter.Term.Half}
	if filter.ProfessorID > 0 {
		args = append(args, filter.ProfessorID)
		conditions = append(conditions, fmt.Sprintf("s.professor_id = $%d", len(args)))
	}
	if filter.OnlyOpen {
		conditions = append(conditions, "r.id IS NULL")
	}
	query := slotSelect + ` WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY s.starts_at ASC, s.id ASC`
	var slots []models.AdvisingSlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list advising slots: %w", err)
	}
	return slots, nil
}

// ListReservedSlots returns every slot holding a reservation, in any term.
func (r *AdvisingRepository) ListReservedSlots(ctx context.Context) ([]models.AdvisingSlot, error) {
	query := slotSelect + ` WHERE r.id IS NOT NULL ORDER BY s.id ASC`
	var slots []models.AdvisingSlot
	if err := r.db.SelectContext(ctx, &slots, query); err != nil {
		return nil, fmt.Errorf("list reserved slots: %w", err)
	}
	return slots, nil
}

// InsertReservation records a reservation. ErrDuplicate means the slot is already taken.
func (r *AdvisingRepository) InsertReservation(ctx context.Context, res *models.SlotReservation) error {
	const query = `INSERT INTO slot_reservations (id, slot_id, student_id, reserved_at) VALUES ($1, $2, $3, $4)`
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.ReservedAt.IsZero() {
		res.ReservedAt = time.Now().UTC()
	}
	if _, err := r.db.ExecContext(ctx, query, res.ID, res.SlotID, res.StudentID, res.ReservedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert slot reservation: %w", err)
	}
	return nil
}

// FindReservation returns a reservation or sql.ErrNoRows.
func (r *AdvisingRepository) FindReservation(ctx context.Context, id string) (*models.SlotReservation, error) {
	const query = `SELECT id, slot_id, student_id, reserved_at FROM slot_reservations WHERE id = $1`
	var res models.SlotReservation
	if err := r.db.GetContext(ctx, &res, query, id); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteReservation removes a reservation and returns it, or sql.ErrNoRows.
func (r *AdvisingRepository) DeleteReservation(ctx context.Context, id string) (*models.SlotReservation, error) {
	const query = `DELETE FROM slot_reservations WHERE id = $1 RETURNING id, slot_id, student_id, reserved_at`
	var res models.SlotReservation
	if err := r.db.GetContext(ctx, &res, query, id); err != nil {
		return nil, err
	}
	return &res, nil
}
