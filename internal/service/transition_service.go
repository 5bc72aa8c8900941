package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/tracing"
)

type declarationStore interface {
	ListByTerm(ctx context.Context, term models.Term) ([]models.PreRegistration, error)
	DeleteByTerm(ctx context.Context, term models.Term) (int64, error)
}

type transitionReportStore interface {
	Save(ctx context.Context, report *models.TransitionReport) error
	Get(ctx context.Context, term models.Term) (*models.TransitionReport, error)
}

// TransitionService migrates declarations into enrollments when a term enters
// REGISTRATION. Earlier declarations are served first.
type TransitionService struct {
	declarations declarationStore
	reports      transitionReportStore
	eligibility  eligibilityChecker
	subjects     termSubjectFinder
	enrollments  *EnrollmentService
	workers      int
	metrics      *MetricsService
	logger       *zap.Logger
	now          func() time.Time
}

// NewTransitionService constructs a TransitionService.
func NewTransitionService(declarations declarationStore, reports transitionReportStore, eligibility eligibilityChecker, subjects termSubjectFinder, enrollments *EnrollmentService, workers int, metrics *MetricsService, logger *zap.Logger) *TransitionService {
	if workers <= 0 {
		workers = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransitionService{
		declarations: declarations,
		reports:      reports,
		eligibility:  eligibility,
		subjects:     subjects,
		enrollments:  enrollments,
		workers:      workers,
		metrics:      metrics,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Run migrates every declaration of term, clears the declarations and stores
// the report. Individual failures become report entries.
func (s *TransitionService) Run(ctx context.Context, term models.Term) (*models.TransitionReport, error) {
	ctx, span := tracing.Start(ctx, tracing.SpanTransition, attribute.String("term", term.Label()))
	defer span.End()

	report := &models.TransitionReport{Term: term, StartedAt: s.now(), Entries: []models.TransitionEntry{}}

	records, err := s.declarations.ListByTerm(ctx, term)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load declarations")
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.DeclaredAt.Equal(b.DeclaredAt) {
			return a.DeclaredAt.Before(b.DeclaredAt)
		}
		if a.StudentID != b.StudentID {
			return a.StudentID < b.StudentID
		}
		return a.SubjectID < b.SubjectID
	})

	eligibility, err := s.resolveEligibility(ctx, term, records)
	if err != nil {
		return nil, err
	}

	subjects := make(map[int64]*models.Subject)
	for _, rec := range records {
		entry := models.TransitionEntry{StudentID: rec.StudentID, SubjectID: rec.SubjectID, DeclaredAt: rec.DeclaredAt}
		if err := eligibility[rec.StudentID]; err != nil {
			entry.Outcome, entry.Detail = outcomeFor(err)
			report.Entries = append(report.Entries, entry)
			continue
		}

		subject, ok := subjects[rec.SubjectID]
		if !ok {
			subject, err = s.subjects.GetInTerm(ctx, rec.SubjectID, term)
			if err != nil {
				entry.Outcome, entry.Detail = outcomeFor(err)
				report.Entries = append(report.Entries, entry)
				continue
			}
			subjects[rec.SubjectID] = subject
		}

		if _, err := s.enrollments.admit(ctx, rec.StudentID, subject, term, models.EnrollmentSourceMigrated); err != nil {
			entry.Outcome, entry.Detail = outcomeFor(err)
		} else {
			entry.Outcome = models.OutcomeMigrated
		}
		report.Entries = append(report.Entries, entry)
	}

	cleared, err := s.declarations.DeleteByTerm(ctx, term)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear declarations")
	}

	report.FinishedAt = s.now()
	report.Summarize()
	if err := s.reports.Save(ctx, report); err != nil {
		s.logger.Error("failed to store transition report", zap.String("term", term.Label()), zap.Error(err))
	}
	s.metrics.RecordTransition(report)

	s.logger.Info("pre-registrations migrated",
		zap.String("term", term.Label()),
		zap.Int("declarations", len(records)),
		zap.Int64("cleared", cleared),
		zap.Int("migrated", report.Summary[models.OutcomeMigrated]),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// Report returns the stored report for term.
func (s *TransitionService) Report(ctx context.Context, term models.Term) (*models.TransitionReport, error) {
	report, err := s.reports.Get(ctx, term)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no transition report for "+term.Label())
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load transition report")
	}
	return report, nil
}

// resolveEligibility checks each distinct student once. Per-student results,
// including lookup failures, are kept rather than aborting the batch.
func (s *TransitionService) resolveEligibility(ctx context.Context, term models.Term, records []models.PreRegistration) (map[int64]error, error) {
	results := make(map[int64]error)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	seen := make(map[int64]struct{})
	for _, rec := range records {
		studentID := rec.StudentID
		if _, ok := seen[studentID]; ok {
			continue
		}
		seen[studentID] = struct{}{}
		g.Go(func() error {
			err := s.eligibility.Check(gctx, studentID, term)
			mu.Lock()
			results[studentID] = err
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func outcomeFor(err error) (models.TransitionOutcome, string) {
	switch {
	case errors.Is(err, appErrors.ErrCreditCapExceeded):
		return models.OutcomeCreditCapExceeded, appErrors.FromError(err).Message
	case errors.Is(err, appErrors.ErrSeatUnavailable):
		return models.OutcomeSeatUnavailable, ""
	case errors.Is(err, appErrors.ErrNotActiveStanding):
		return models.OutcomeNotActiveStanding, appErrors.FromError(err).Message
	case errors.Is(err, appErrors.ErrPendingLeaveConflict):
		return models.OutcomePendingLeaveConflict, appErrors.FromError(err).Message
	case errors.Is(err, appErrors.ErrAlreadyEnrolled):
		return models.OutcomeAlreadyEnrolled, ""
	default:
		return models.OutcomeError, err.Error()
	}
}
