package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/tracing"
)

type preRegistrationRepository interface {
	Insert(ctx context.Context, rec *models.PreRegistration) (bool, error)
	Delete(ctx context.Context, studentID, subjectID int64, term models.Term) (bool, error)
	ListByStudent(ctx context.Context, studentID int64, term models.Term) ([]models.PreRegistration, error)
	Demand(ctx context.Context, term models.Term) ([]models.SubjectDemand, error)
}

type termSubjectFinder interface {
	GetInTerm(ctx context.Context, id int64, term models.Term) (*models.Subject, error)
}

// PreRegistrationService records non-binding declarations of intent. It never
// touches the capacity ledger.
type PreRegistrationService struct {
	repo        preRegistrationRepository
	periods     phaseGuard
	eligibility eligibilityChecker
	subjects    termSubjectFinder
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewPreRegistrationService constructs a PreRegistrationService.
func NewPreRegistrationService(repo preRegistrationRepository, periods phaseGuard, eligibility eligibilityChecker, subjects termSubjectFinder, validate *validator.Validate, logger *zap.Logger) *PreRegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreRegistrationService{
		repo:        repo,
		periods:     periods,
		eligibility: eligibility,
		subjects:    subjects,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Declare records the student's intent to take a subject. Declaring twice keeps
// the first declaration and its timestamp.
func (s *PreRegistrationService) Declare(ctx context.Context, studentID int64, req dto.DeclareRequest) (*models.PreRegistration, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid declaration payload")
	}
	ctx, span := tracing.Start(ctx, tracing.SpanDeclare,
		attribute.Int64("student.id", studentID),
		attribute.Int64("subject.id", req.SubjectID),
	)
	defer span.End()

	term, release, err := s.periods.Guard(ctx, models.PhasePreRegistration)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.eligibility.Check(ctx, studentID, term); err != nil {
		return nil, err
	}
	if _, err := s.subjects.GetInTerm(ctx, req.SubjectID, term); err != nil {
		return nil, err
	}

	rec := &models.PreRegistration{StudentID: studentID, SubjectID: req.SubjectID, Term: term, DeclaredAt: s.now()}
	inserted, err := s.repo.Insert(ctx, rec)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record declaration")
	}
	if inserted {
		s.logger.Info("pre-registration declared", zap.Int64("student_id", studentID), zap.Int64("subject_id", req.SubjectID), zap.String("term", term.Label()))
		return rec, nil
	}

	existing, err := s.repo.ListByStudent(ctx, studentID, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load declarations")
	}
	for i := range existing {
		if existing[i].SubjectID == req.SubjectID {
			return &existing[i], nil
		}
	}
	// Withdrawn between the insert and the read.
	return rec, nil
}

// Withdraw removes a declaration.
func (s *PreRegistrationService) Withdraw(ctx context.Context, studentID, subjectID int64) error {
	term, release, err := s.periods.Guard(ctx, models.PhasePreRegistration)
	if err != nil {
		return err
	}
	defer release()

	deleted, err := s.repo.Delete(ctx, studentID, subjectID, term)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to withdraw declaration")
	}
	if !deleted {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no declaration for subject %d", subjectID))
	}
	s.logger.Info("pre-registration withdrawn", zap.Int64("student_id", studentID), zap.Int64("subject_id", subjectID), zap.String("term", term.Label()))
	return nil
}

// List returns the student's declarations for the active term.
func (s *PreRegistrationService) List(ctx context.Context, studentID int64) ([]models.PreRegistration, error) {
	state := s.periods.Current()
	if !state.Active() {
		return []models.PreRegistration{}, nil
	}
	items, err := s.repo.ListByStudent(ctx, studentID, state.Term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list declarations")
	}
	return items, nil
}

// Demand reports declarations per subject against capacity for the active term.
func (s *PreRegistrationService) Demand(ctx context.Context) ([]models.SubjectDemand, error) {
	state := s.periods.Current()
	if !state.Active() {
		return []models.SubjectDemand{}, nil
	}
	demand, err := s.repo.Demand(ctx, state.Term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load demand")
	}
	return demand, nil
}
