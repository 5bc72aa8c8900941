package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/ledger"
)

type stubEngine struct {
	run func(ctx context.Context, term models.Term) (*models.TransitionReport, error)
}

func (s stubEngine) Run(ctx context.Context, term models.Term) (*models.TransitionReport, error) {
	return s.run(ctx, term)
}

func TestPeriodServiceOpenPublishesSubjects(t *testing.T) {
	r := newRegistrar(t, 18)
	r.addSubject(1, 3, 30)
	r.addSubject(2, 4, 10)

	state, err := r.periods.Open(context.Background(), testTerm)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePreRegistration, state.Phase)
	assert.Equal(t, models.PhasePreRegistration, r.periods.Phase())

	entry, err := r.memLedger.Entry(context.Background(), models.SubjectKey(2, testTerm))
	require.NoError(t, err)
	assert.Equal(t, ledger.Entry{Capacity: 10}, entry)

	_, err = r.periods.Open(context.Background(), models.Term{Year: 2025, Half: 2})
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	_, err = r.periods.Open(context.Background(), models.Term{Year: 2025, Half: 3})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestPeriodServiceTransitionsForwardOnly(t *testing.T) {
	r := newRegistrar(t, 18)
	ctx := context.Background()

	_, _, err := r.periods.TransitionTo(ctx, models.PhaseRegistration)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition, "no term open")

	r.open(t)
	for _, phase := range []models.Phase{models.PhasePreRegistration, models.PhaseClosed} {
		_, _, err := r.periods.TransitionTo(ctx, phase)
		require.ErrorIs(t, err, appErrors.ErrInvalidTransition, "PRE_REGISTRATION -> %s", phase)
	}

	state, report, err := r.periods.TransitionTo(ctx, models.PhaseRegistration)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseRegistration, state.Phase)
	require.NotNil(t, report)

	_, _, err = r.periods.TransitionTo(ctx, models.PhasePreRegistration)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	state, report, err = r.periods.TransitionTo(ctx, models.PhaseClosed)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseClosed, state.Phase)
	assert.Nil(t, report)

	_, _, err = r.periods.TransitionTo(ctx, models.PhaseClosed)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	assert.Equal(t, []models.Phase{models.PhaseRegistration, models.PhaseClosed}, r.periodRepo.updates)

	next, err := r.periods.Open(ctx, models.Term{Year: 2025, Half: 2})
	require.NoError(t, err)
	assert.Equal(t, models.PhasePreRegistration, next.Phase)
}

func TestPeriodServiceGuardsRequestsDuringTransition(t *testing.T) {
	r := newRegistrar(t, 18)
	r.open(t)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	r.periods.SetTransitionEngine(stubEngine{run: func(ctx context.Context, term models.Term) (*models.TransitionReport, error) {
		close(entered)
		<-proceed
		return &models.TransitionReport{Term: term}, nil
	}})

	done := make(chan error, 1)
	go func() {
		_, _, err := r.periods.TransitionTo(context.Background(), models.PhaseRegistration)
		done <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := r.periods.Guard(ctx, models.PhasePreRegistration)
	require.ErrorIs(t, err, appErrors.ErrTimeout, "declarations cannot slip in during migration")
	assert.Equal(t, models.PhasePreRegistration, r.periods.Current().Phase)

	close(proceed)
	require.NoError(t, <-done)

	term, release, err := r.periods.Guard(context.Background(), models.PhaseRegistration)
	require.NoError(t, err)
	release()
	assert.Equal(t, testTerm, term)
}

func TestPeriodServiceTransitionWaitsForInFlightRequests(t *testing.T) {
	r := newRegistrar(t, 18)
	r.open(t)

	_, release, err := r.periods.Guard(context.Background(), models.PhasePreRegistration)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = r.periods.TransitionTo(ctx, models.PhaseRegistration)
	require.ErrorIs(t, err, appErrors.ErrTimeout)
	release()

	_, _, err = r.periods.TransitionTo(context.Background(), models.PhaseRegistration)
	require.NoError(t, err)
}

func TestPeriodServiceEngineFailureKeepsPhase(t *testing.T) {
	r := newRegistrar(t, 18)
	r.open(t)
	r.periods.SetTransitionEngine(stubEngine{run: func(ctx context.Context, term models.Term) (*models.TransitionReport, error) {
		return nil, errors.New("boom")
	}})

	_, _, err := r.periods.TransitionTo(context.Background(), models.PhaseRegistration)
	require.Error(t, err)
	assert.Equal(t, models.PhasePreRegistration, r.periods.Phase())
	assert.Empty(t, r.periodRepo.updates)
}

func TestPeriodServiceGuardRejectsWrongPhase(t *testing.T) {
	r := newRegistrar(t, 18)
	_, _, err := r.periods.Guard(context.Background(), models.PhaseRegistration)
	require.ErrorIs(t, err, appErrors.ErrWrongPhase)

	r.open(t)
	_, _, err = r.periods.Guard(context.Background(), models.PhaseRegistration)
	require.ErrorIs(t, err, appErrors.ErrWrongPhase)
}

func TestPeriodServiceLoad(t *testing.T) {
	r := newRegistrar(t, 18)
	state, err := r.periods.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, state.Active())

	r.periodRepo.state = &models.PeriodState{Term: testTerm, Phase: models.PhaseRegistration}
	state, err = r.periods.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.PhaseRegistration, state.Phase)
	assert.Equal(t, testTerm, r.periods.Current().Term)
}
