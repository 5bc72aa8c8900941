package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/tracing"
)

type advisingRepository interface {
	CreateSlot(ctx context.Context, slot *models.AdvisingSlot) error
	FindSlot(ctx context.Context, id int64) (*models.AdvisingSlot, error)
	ListSlots(ctx context.Context, filter models.SlotFilter) ([]models.AdvisingSlot, error)
	InsertReservation(ctx context.Context, res *models.SlotReservation) error
	FindReservation(ctx context.Context, id string) (*models.SlotReservation, error)
	DeleteReservation(ctx context.Context, id string) (*models.SlotReservation, error)
}

type termReader interface {
	Current() models.PeriodState
}

// AdvisingService books professors' advising slots. Each slot is a ledger
// entry of capacity one.
type AdvisingService struct {
	repo      advisingRepository
	periods   termReader
	ledger    *LedgerService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAdvisingService constructs an AdvisingService.
func NewAdvisingService(repo advisingRepository, periods termReader, ledger *LedgerService, validate *validator.Validate, logger *zap.Logger) *AdvisingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdvisingService{
		repo:      repo,
		periods:   periods,
		ledger:    ledger,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateSlot publishes a slot for professorID in the active term.
func (s *AdvisingService) CreateSlot(ctx context.Context, professorID int64, req dto.CreateSlotRequest) (*models.AdvisingSlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
	}
	state := s.periods.Current()
	if !state.Active() || state.Phase == models.PhaseClosed {
		return nil, appErrors.Clone(appErrors.ErrWrongPhase, "advising slots need an open term")
	}

	slot := &models.AdvisingSlot{
		ProfessorID:     professorID,
		Term:            state.Term,
		StartsAt:        req.StartsAt.UTC(),
		DurationMinutes: req.DurationMinutes,
		Occupancy:       models.SlotOpen,
	}
	if err := s.repo.CreateSlot(ctx, slot); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a slot already starts at that time")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create slot")
	}
	if err := s.ledger.Open(ctx, models.SlotKey(slot.ID, slot.Term), 1); err != nil {
		return nil, err
	}
	return slot, nil
}

// ListSlots lists slots of the active term unless filter names one.
func (s *AdvisingService) ListSlots(ctx context.Context, filter models.SlotFilter) ([]models.AdvisingSlot, error) {
	if filter.Term.IsZero() {
		state := s.periods.Current()
		if !state.Active() {
			return []models.AdvisingSlot{}, nil
		}
		filter.Term = state.Term
	}
	slots, err := s.repo.ListSlots(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list slots")
	}
	return slots, nil
}

// Reserve books a slot for the student. Of several students racing for the
// same slot exactly one succeeds.
func (s *AdvisingService) Reserve(ctx context.Context, slotID, studentID int64) (*models.SlotReservation, error) {
	ctx, span := tracing.Start(ctx, tracing.SpanReserve,
		attribute.Int64("slot.id", slotID),
		attribute.Int64("student.id", studentID),
	)
	defer span.End()

	slot, err := s.findSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	key := models.SlotKey(slot.ID, slot.Term)
	if err := s.ledger.Open(ctx, key, 1); err != nil {
		return nil, err
	}
	if err := s.ledger.Commit(ctx, key); err != nil {
		return nil, err
	}

	reservation := &models.SlotReservation{ID: uuid.NewString(), SlotID: slot.ID, StudentID: studentID, ReservedAt: s.now()}
	if err := s.repo.InsertReservation(ctx, reservation); err != nil {
		s.logger.Warn("releasing slot after failed reservation write", zap.String("key", key.String()), zap.Error(err))
		if releaseErr := s.ledger.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
			s.logger.Error("compensating release failed", zap.String("key", key.String()), zap.Error(releaseErr))
		}
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.ErrSeatUnavailable
		}
		tracing.RecordError(span, err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write reservation")
	}

	s.logger.Info("advising slot reserved", zap.Int64("slot_id", slot.ID), zap.Int64("student_id", studentID))
	return reservation, nil
}

// Cancel removes a reservation and reopens its slot. The owning student, the
// slot's professor and registrar staff may cancel.
func (s *AdvisingService) Cancel(ctx context.Context, reservationID string, actor models.Actor) error {
	reservation, err := s.repo.FindReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "reservation not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reservation")
	}
	slot, err := s.findSlot(ctx, reservation.SlotID)
	if err != nil {
		return err
	}
	if !mayCancel(actor, reservation, slot) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the student, the professor or staff may cancel this reservation")
	}

	removed, err := s.repo.DeleteReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "reservation not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete reservation")
	}

	key := models.SlotKey(slot.ID, slot.Term)
	if err := s.ledger.Release(context.WithoutCancel(ctx), key); err != nil {
		if restoreErr := s.repo.InsertReservation(context.WithoutCancel(ctx), removed); restoreErr != nil {
			s.logger.Error("reservation lost after failed release",
				zap.String("reservation_id", removed.ID),
				zap.NamedError("release_error", err),
				zap.NamedError("restore_error", restoreErr),
			)
		}
		return err
	}

	s.logger.Info("advising reservation cancelled",
		zap.String("reservation_id", reservationID),
		zap.Int64("actor_id", actor.UserID),
		zap.String("actor_role", string(actor.Role)),
	)
	return nil
}

func (s *AdvisingService) findSlot(ctx context.Context, id int64) (*models.AdvisingSlot, error) {
	slot, err := s.repo.FindSlot(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("slot %d not found", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot")
	}
	return slot, nil
}

func mayCancel(actor models.Actor, reservation *models.SlotReservation, slot *models.AdvisingSlot) bool {
	switch {
	case actor.Role.Administrative():
		return true
	case actor.Role == models.RoleStudent:
		return actor.UserID == reservation.StudentID
	case actor.Role == models.RoleProfessor:
		return actor.UserID == slot.ProfessorID
	default:
		return false
	}
}
