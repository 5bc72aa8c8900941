package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

type standingReader interface {
	GetStanding(ctx context.Context, studentID int64, term models.Term) (*models.AcademicStanding, error)
	ListBlockingLeaves(ctx context.Context, studentID int64, term models.Term) ([]models.LeaveApplication, error)
}

type eligibilityChecker interface {
	Check(ctx context.Context, studentID int64, term models.Term) error
}

// EligibilityService decides whether a student may hold registrations in a term.
type EligibilityService struct {
	repo   standingReader
	logger *zap.Logger
}

// NewEligibilityService constructs an EligibilityService.
func NewEligibilityService(repo standingReader, logger *zap.Logger) *EligibilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EligibilityService{repo: repo, logger: logger}
}

// Check returns nil when the student is in active standing for term and has no
// pending or approved leave covering it.
func (s *EligibilityService) Check(ctx context.Context, studentID int64, term models.Term) error {
	standing, err := s.repo.GetStanding(ctx, studentID, term)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotActiveStanding, fmt.Sprintf("no academic standing recorded for %s", term.Label()))
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic standing")
	}
	if standing.Status != models.StandingActive {
		return appErrors.Clone(appErrors.ErrNotActiveStanding, fmt.Sprintf("academic standing is %s", standing.Status))
	}

	leaves, err := s.repo.ListBlockingLeaves(ctx, studentID, term)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load leave applications")
	}
	for _, leave := range leaves {
		if leave.Blocking() && leave.Overlaps(term) {
			s.logger.Debug("leave blocks registration", zap.Int64("student_id", studentID), zap.Int64("leave_id", leave.ID), zap.String("term", term.Label()))
			return appErrors.Clone(appErrors.ErrPendingLeaveConflict, fmt.Sprintf("leave application %d (%s) overlaps %s", leave.ID, leave.Status, term.Label()))
		}
	}
	return nil
}
