package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

// guardWeight is the semaphore size; readers take 1, a transition takes all of it.
const guardWeight = 1 << 30

type periodRepository interface {
	Current(ctx context.Context) (*models.PeriodState, error)
	Create(ctx context.Context, state *models.PeriodState) error
	UpdatePhase(ctx context.Context, term models.Term, phase models.Phase) (time.Time, error)
}

type subjectLister interface {
	ListByTerm(ctx context.Context, term models.Term) ([]models.Subject, error)
}

// TransitionEngine migrates a term's declarations into enrollments.
type TransitionEngine interface {
	Run(ctx context.Context, term models.Term) (*models.TransitionReport, error)
}

type phaseGuard interface {
	Guard(ctx context.Context, phase models.Phase) (models.Term, func(), error)
	GuardActive(ctx context.Context) (models.Term, func(), error)
	Current() models.PeriodState
}

// PeriodService owns the active term and its phase. Phase-gated requests hold
// a shared guard for their whole duration; transitions hold it exclusively, so
// no request sees a phase change halfway through.
type PeriodService struct {
	guard *semaphore.Weighted
	mu    sync.RWMutex
	state models.PeriodState

	repo     periodRepository
	subjects subjectLister
	ledger   *LedgerService
	engine   TransitionEngine
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
}

// NewPeriodService constructs a PeriodService. Load must run before serving traffic.
func NewPeriodService(repo periodRepository, subjects subjectLister, ledger *LedgerService, metrics *MetricsService, logger *zap.Logger) *PeriodService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodService{
		guard:    semaphore.NewWeighted(guardWeight),
		repo:     repo,
		subjects: subjects,
		ledger:   ledger,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetTransitionEngine installs the engine run when entering REGISTRATION.
func (s *PeriodService) SetTransitionEngine(engine TransitionEngine) {
	s.engine = engine
}

// Load reads the persisted state into memory.
func (s *PeriodService) Load(ctx context.Context) (models.PeriodState, error) {
	if err := s.guard.Acquire(ctx, guardWeight); err != nil {
		return models.PeriodState{}, err
	}
	defer s.guard.Release(guardWeight)

	state, err := s.repo.Current(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.setState(models.PeriodState{})
			return models.PeriodState{}, nil
		}
		return models.PeriodState{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment period")
	}
	s.setState(*state)
	s.metrics.SetPhase(state.Phase)
	return *state, nil
}

// Current returns the active term and phase. A zero Term means none was opened.
// It does not wait for a running transition.
func (s *PeriodService) Current() models.PeriodState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Phase returns the current phase, empty when no term is active.
func (s *PeriodService) Phase() models.Phase {
	return s.Current().Phase
}

// Guard admits a request that requires phase. The returned func must be called
// once the request has finished its writes.
func (s *PeriodService) Guard(ctx context.Context, phase models.Phase) (models.Term, func(), error) {
	return s.admit(ctx, phase)
}

// GuardActive admits a request that only needs an open term, in any phase. It
// still waits for a running transition.
func (s *PeriodService) GuardActive(ctx context.Context) (models.Term, func(), error) {
	return s.admit(ctx, "")
}

func (s *PeriodService) admit(ctx context.Context, phase models.Phase) (models.Term, func(), error) {
	if err := s.guard.Acquire(ctx, 1); err != nil {
		return models.Term{}, nil, appErrors.Wrap(err, appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, "timed out waiting for a phase transition")
	}
	release := func() { s.guard.Release(1) }

	if !s.state.Active() {
		release()
		return models.Term{}, nil, appErrors.Clone(appErrors.ErrWrongPhase, "no registration term is open")
	}
	if phase != "" && s.state.Phase != phase {
		current := s.state.Phase
		release()
		return models.Term{}, nil, appErrors.Clone(appErrors.ErrWrongPhase, fmt.Sprintf("requires %s, term is in %s", phase, current))
	}
	return s.state.Term, release, nil
}

// Open starts term at PRE_REGISTRATION and publishes its subjects into the
// capacity ledger. Only allowed when no term is active or the active one is closed.
func (s *PeriodService) Open(ctx context.Context, term models.Term) (models.PeriodState, error) {
	if !term.Valid() {
		return models.PeriodState{}, appErrors.Clone(appErrors.ErrValidation, "term must have a year and a half of 1 or 2")
	}
	if err := s.guard.Acquire(ctx, guardWeight); err != nil {
		return models.PeriodState{}, appErrors.Wrap(err, appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, "timed out waiting for in-flight requests")
	}
	defer s.guard.Release(guardWeight)

	if s.state.Active() && s.state.Phase != models.PhaseClosed {
		return models.PeriodState{}, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("term %s is still %s", s.state.Term.Label(), s.state.Phase))
	}
	if s.state.Active() && s.state.Term.Ordinal() >= term.Ordinal() {
		return models.PeriodState{}, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("term %s does not follow %s", term.Label(), s.state.Term.Label()))
	}

	subjects, err := s.subjects.ListByTerm(ctx, term)
	if err != nil {
		return models.PeriodState{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	for _, subject := range subjects {
		if err := s.ledger.Open(ctx, models.SubjectKey(subject.ID, term), subject.Capacity); err != nil {
			return models.PeriodState{}, err
		}
	}

	now := s.now()
	state := models.PeriodState{Term: term, Phase: models.PhasePreRegistration, OpenedAt: now, UpdatedAt: now}
	if err := s.repo.Create(ctx, &state); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return models.PeriodState{}, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("term %s was already opened", term.Label()))
		}
		return models.PeriodState{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open term")
	}
	s.setState(state)
	s.metrics.SetPhase(state.Phase)
	s.logger.Info("registration term opened", zap.String("term", term.Label()), zap.Int("subjects", len(subjects)))
	return state, nil
}

// TransitionTo advances the active term to next, which must be the immediate
// successor of the current phase. Entering REGISTRATION migrates every
// declaration before the new phase becomes visible.
func (s *PeriodService) TransitionTo(ctx context.Context, next models.Phase) (models.PeriodState, *models.TransitionReport, error) {
	if err := s.guard.Acquire(ctx, guardWeight); err != nil {
		return models.PeriodState{}, nil, appErrors.Wrap(err, appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, "timed out waiting for in-flight requests")
	}
	defer s.guard.Release(guardWeight)

	if !s.state.Active() {
		return models.PeriodState{}, nil, appErrors.Clone(appErrors.ErrInvalidTransition, "no registration term is open")
	}
	expected, ok := s.state.Phase.Next()
	if !ok || next != expected {
		return models.PeriodState{}, nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move from %s to %s", s.state.Phase, next))
	}

	var report *models.TransitionReport
	if next == models.PhaseRegistration && s.engine != nil {
		var err error
		// Migration must finish even if the caller goes away.
		report, err = s.engine.Run(context.WithoutCancel(ctx), s.state.Term)
		if err != nil {
			return models.PeriodState{}, nil, err
		}
	}

	updatedAt, err := s.repo.UpdatePhase(context.WithoutCancel(ctx), s.state.Term, next)
	if err != nil {
		return models.PeriodState{}, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist phase")
	}
	previous := s.state.Phase
	state := s.state
	state.Phase = next
	state.UpdatedAt = updatedAt
	s.setState(state)
	s.metrics.SetPhase(next)
	s.logger.Info("registration phase changed",
		zap.String("term", s.state.Term.Label()),
		zap.String("from", string(previous)),
		zap.String("to", string(next)),
	)
	return state, report, nil
}

// setState is called with the guard held exclusively.
func (s *PeriodService) setState(state models.PeriodState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
