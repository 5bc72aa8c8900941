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

type enrollmentRepository interface {
	Insert(ctx context.Context, e *models.Enrollment) error
	Find(ctx context.Context, studentID, subjectID int64, term models.Term) (*models.Enrollment, error)
	Delete(ctx context.Context, studentID, subjectID int64, term models.Term) (*models.Enrollment, error)
	ListByStudent(ctx context.Context, studentID int64, term models.Term) ([]models.Enrollment, error)
	SumCredits(ctx context.Context, studentID int64, term models.Term) (int, error)
}

// KeyLocker serialises work per key. keylock.Locker and cache.RedisLocker satisfy it.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// EnrollmentConfig carries the registration policy.
type EnrollmentConfig struct {
	MaxCreditsPerTerm int
	LockTimeout       time.Duration
}

// EnrollmentService creates and removes binding enrollments. Every record
// written is paired with a ledger commit and every record removed with a release.
type EnrollmentService struct {
	repo        enrollmentRepository
	periods     phaseGuard
	eligibility eligibilityChecker
	subjects    termSubjectFinder
	ledger      *LedgerService
	locks       KeyLocker
	cfg         EnrollmentConfig
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, periods phaseGuard, eligibility eligibilityChecker, subjects termSubjectFinder, ledger *LedgerService, locks KeyLocker, cfg EnrollmentConfig, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if cfg.MaxCreditsPerTerm <= 0 {
		cfg.MaxCreditsPerTerm = 18
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:        repo,
		periods:     periods,
		eligibility: eligibility,
		subjects:    subjects,
		ledger:      ledger,
		locks:       locks,
		cfg:         cfg,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreditCap returns the per-term credit limit.
func (s *EnrollmentService) CreditCap() int {
	return s.cfg.MaxCreditsPerTerm
}

// Enroll gives the student a binding seat in a subject of the active term.
func (s *EnrollmentService) Enroll(ctx context.Context, studentID int64, req dto.EnrollRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	ctx, span := tracing.Start(ctx, tracing.SpanEnroll,
		attribute.Int64("student.id", studentID),
		attribute.Int64("subject.id", req.SubjectID),
	)
	defer span.End()

	term, release, err := s.periods.Guard(ctx, models.PhaseRegistration)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.eligibility.Check(ctx, studentID, term); err != nil {
		return nil, err
	}
	subject, err := s.subjects.GetInTerm(ctx, req.SubjectID, term)
	if err != nil {
		return nil, err
	}
	enrollment, err := s.admit(ctx, studentID, subject, term, models.EnrollmentSourceDirect)
	if err != nil {
		if appErrors.FromError(err).Status >= 500 {
			tracing.RecordError(span, err)
		}
		return nil, err
	}
	return enrollment, nil
}

// admit runs the seat and credit checks for an eligible student. Callers hold
// the period guard, or run inside a transition.
func (s *EnrollmentService) admit(ctx context.Context, studentID int64, subject *models.Subject, term models.Term, source models.EnrollmentSource) (*models.Enrollment, error) {
	unlock, err := s.lockStudent(ctx, studentID, term)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.repo.Find(ctx, studentID, subject.ID, term); err == nil {
		return nil, appErrors.ErrAlreadyEnrolled
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}

	credits, err := s.repo.SumCredits(ctx, studentID, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum credits")
	}
	if credits+subject.Credits > s.cfg.MaxCreditsPerTerm {
		return nil, appErrors.Clone(appErrors.ErrCreditCapExceeded,
			fmt.Sprintf("%d enrolled + %d would exceed the cap of %d credits", credits, subject.Credits, s.cfg.MaxCreditsPerTerm))
	}

	key := models.SubjectKey(subject.ID, term)
	if err := s.ledger.Open(ctx, key, subject.Capacity); err != nil {
		return nil, err
	}
	if err := s.ledger.Commit(ctx, key); err != nil {
		return nil, err
	}

	enrollment := &models.Enrollment{
		ID:         uuid.NewString(),
		StudentID:  studentID,
		SubjectID:  subject.ID,
		Term:       term,
		Credits:    subject.Credits,
		Source:     source,
		EnrolledAt: s.now(),
	}
	if err := s.repo.Insert(ctx, enrollment); err != nil {
		s.compensate(ctx, key, studentID, err)
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.ErrAlreadyEnrolled
		}
		if ctx.Err() != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, "enrollment was not written in time")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write enrollment")
	}

	s.logger.Info("student enrolled",
		zap.Int64("student_id", studentID),
		zap.Int64("subject_id", subject.ID),
		zap.String("term", term.Label()),
		zap.String("source", string(source)),
	)
	return enrollment, nil
}

// compensate gives back a seat whose record was never written.
func (s *EnrollmentService) compensate(ctx context.Context, key models.LedgerKey, studentID int64, cause error) {
	s.logger.Warn("releasing seat after failed enrollment write",
		zap.String("key", key.String()),
		zap.Int64("student_id", studentID),
		zap.Error(cause),
	)
	if err := s.ledger.Release(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Error("compensating release failed", zap.String("key", key.String()), zap.Error(err))
	}
}

// Drop removes the student's enrollment and frees its seat.
func (s *EnrollmentService) Drop(ctx context.Context, studentID, subjectID int64) error {
	ctx, span := tracing.Start(ctx, tracing.SpanDrop,
		attribute.Int64("student.id", studentID),
		attribute.Int64("subject.id", subjectID),
	)
	defer span.End()

	term, release, err := s.periods.Guard(ctx, models.PhaseRegistration)
	if err != nil {
		return err
	}
	defer release()

	return s.drop(ctx, studentID, subjectID, term)
}

// OverrideDrop is Drop performed by registrar staff on a student's behalf. It is
// allowed in every phase of the active term.
func (s *EnrollmentService) OverrideDrop(ctx context.Context, actor models.Actor, studentID, subjectID int64) error {
	if !actor.Role.Administrative() {
		return appErrors.ErrForbidden
	}
	term, release, err := s.periods.GuardActive(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := s.drop(ctx, studentID, subjectID, term); err != nil {
		return err
	}
	s.logger.Info("enrollment dropped by staff",
		zap.Int64("actor_id", actor.UserID),
		zap.Int64("student_id", studentID),
		zap.Int64("subject_id", subjectID),
	)
	return nil
}

func (s *EnrollmentService) drop(ctx context.Context, studentID, subjectID int64, term models.Term) error {
	unlock, err := s.lockStudent(ctx, studentID, term)
	if err != nil {
		return err
	}
	defer unlock()

	removed, err := s.repo.Delete(ctx, studentID, subjectID, term)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("not enrolled in subject %d", subjectID))
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}

	key := models.SubjectKey(subjectID, term)
	if err := s.ledger.Release(context.WithoutCancel(ctx), key); err != nil {
		if restoreErr := s.repo.Insert(context.WithoutCancel(ctx), removed); restoreErr != nil {
			s.logger.Error("enrollment lost after failed release",
				zap.String("enrollment_id", removed.ID),
				zap.String("key", key.String()),
				zap.NamedError("release_error", err),
				zap.NamedError("restore_error", restoreErr),
			)
		}
		return err
	}

	s.logger.Info("enrollment dropped", zap.Int64("student_id", studentID), zap.Int64("subject_id", subjectID), zap.String("term", term.Label()))
	return nil
}

// List returns the student's enrollments in the active term with their credit total.
func (s *EnrollmentService) List(ctx context.Context, studentID int64) (*dto.EnrollmentSummary, error) {
	summary := &dto.EnrollmentSummary{Items: []models.Enrollment{}, CreditCap: s.cfg.MaxCreditsPerTerm}
	state := s.periods.Current()
	if !state.Active() {
		return summary, nil
	}
	items, err := s.repo.ListByStudent(ctx, studentID, state.Term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	for _, item := range items {
		summary.TotalCredits += item.Credits
	}
	summary.Items = items
	return summary, nil
}

func (s *EnrollmentService) lockStudent(ctx context.Context, studentID int64, term models.Term) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	defer cancel()
	unlock, err := s.locks.Lock(lockCtx, fmt.Sprintf("student:%d:%s", studentID, term.Label()))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, appErrors.ErrTimeout.Message)
	}
	return unlock, nil
}
