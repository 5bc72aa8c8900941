package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/keylock"
)

type advisorAssignmentRepository interface {
	Find(ctx context.Context, studentID int64, term models.Term) (*models.AdvisorAssignment, error)
	Loads(ctx context.Context, term models.Term, professorIDs []int64) ([]models.AdvisorLoad, error)
	Insert(ctx context.Context, a *models.AdvisorAssignment) error
}

// AdvisorService assigns each student one advisor per term, spreading advisees
// evenly across the candidate professors.
type AdvisorService struct {
	repo      advisorAssignmentRepository
	periods   termReader
	locks     *keylock.Locker[models.Term]
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAdvisorService constructs an AdvisorService.
func NewAdvisorService(repo advisorAssignmentRepository, periods termReader, validate *validator.Validate, logger *zap.Logger) *AdvisorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdvisorService{
		repo:      repo,
		periods:   periods,
		locks:     keylock.New[models.Term](),
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Assign picks the candidate with the fewest advisees, lowest id on ties. A
// student who already has an advisor for the term keeps it.
func (s *AdvisorService) Assign(ctx context.Context, req dto.AssignAdvisorRequest) (*models.AdvisorAssignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	state := s.periods.Current()
	if !state.Active() {
		return nil, appErrors.Clone(appErrors.ErrWrongPhase, "no registration term is open")
	}
	term := state.Term

	unlock, err := s.locks.Lock(ctx, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, appErrors.ErrTimeout.Message)
	}
	defer unlock()

	existing, err := s.repo.Find(ctx, req.StudentID, term)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}

	candidates := uniqueSorted(req.ProfessorIDs)
	loads, err := s.repo.Loads(ctx, term, candidates)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load advisor loads")
	}
	advisees := make(map[int64]int, len(loads))
	for _, load := range loads {
		advisees[load.ProfessorID] = load.Advisees
	}
	chosen := candidates[0]
	for _, id := range candidates[1:] {
		if advisees[id] < advisees[chosen] {
			chosen = id
		}
	}

	assignment := &models.AdvisorAssignment{StudentID: req.StudentID, Term: term, ProfessorID: chosen, AssignedAt: s.now()}
	if err := s.repo.Insert(ctx, assignment); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Assigned concurrently by another instance.
			if winner, findErr := s.repo.Find(ctx, req.StudentID, term); findErr == nil {
				return winner, nil
			}
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign advisor")
	}
	s.logger.Info("advisor assigned",
		zap.Int64("student_id", req.StudentID),
		zap.Int64("professor_id", chosen),
		zap.Int("advisees", advisees[chosen]+1),
	)
	return assignment, nil
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
