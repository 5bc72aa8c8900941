package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/ledger"
)

func TestEnrollThenDropRestoresLedger(t *testing.T) {
	r := newRegistrar(t, 18)
	r.addSubject(1, 3, 2)
	r.activate(10)
	r.openRegistration(t)
	ctx := context.Background()

	before := r.committed(t, 1)
	enrollment, err := r.enrollments.Enroll(ctx, 10, dto.EnrollRequest{SubjectID: 1})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentSourceDirect, enrollment.Source)
	assert.Equal(t, 3, enrollment.Credits)
	assert.Equal(t, before+1, r.committed(t, 1))

	summary, err := r.enrollments.List(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalCredits)
	assert.Equal(t, 18, summary.CreditCap)

	require.NoError(t, r.enrollments.Drop(ctx, 10, 1))
	assert.Equal(t, before, r.committed(t, 1))
	assert.False(t, r.enrollRepo.has(10, 1))

	require.ErrorIs(t, r.enrollments.Drop(ctx, 10, 1), appErrors.ErrNotFound)
	assert.Equal(t, before, r.committed(t, 1))
}

func TestEnrollDuringPreRegistrationHasNoLedgerEffect(t *testing.T) {
	r := newRegistrar(t, 18)
	r.addSubject(1, 3, 2)
	r.activate(10)
	r.open(t)

	_, err := r.enrollments.Enroll(context.Background(), 10, dto.EnrollRequest{SubjectID: 1})
	require.ErrorIs(t, err, appErrors.ErrWrongPhase)
	assert.Zero(t, r.committed(t, 1))
	assert.Zero(t, r.enrollRepo.count())

	require.ErrorIs(t, r.enrollments.Drop(context.Background(), 10, 1), appErrors.ErrWrongPhase)
}

func TestEnrollLastSeatRace(t *testing.T) {
	r := newRegistrar(t, 18)
	r.addSubject(1, 3, 1)
	const students = 32
	for id := int64(1); id <= students; id++ {
		r.activate(id)
	}
	r.openRegistration(t)

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		successes   int
		unavailable int
	)
	start := make(chan struct{})
	for id := int64(1); id <= students; id++ {
		wg.Add(1)
		go func(studentID int64) {
			defer wg.Done()
			<-start
			_, err := r.enrollments.Enroll(context.Background(), studentID, dto.EnrollRequest{SubjectID: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case appErrors.Code(err) == appErrors.ErrSeatUnavailable.Code:
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, students-1, unavailable)
	assert.Equal(t, 1, r.committed(t, 1))
	assert.Equal(t, 1, r.enrollRepo.count())
}

func TestEnrollCreditCapLeavesSeat(t *testing.T) {
	r := newRegistrar(t, 5)
	r.addSubject(1, 3, 10)
	r.addSubject(2, 4, 10)
	r.activate(10)
	r.openRegistration(t)
	ctx := context.Background()

	_, err := r.enrollments.Enroll(ctx, 10, dto.EnrollRequest{SubjectID: 1})
	require.NoError(t, err)
	_, err = r.enrollments.Enroll(ctx, 10, dto.EnrollRequest{SubjectID: 2})
	require.ErrorIs(t, err, appErrors.ErrCreditCapExceeded)
	assert.Zero(t, r.committed(t, 2), "a rejected student never holds a seat")

	_, err = r.enrollments.Enroll(ctx, 10, dto.EnrollRequest{SubjectID: 1})
	require.ErrorIs(t, err, appErrors.ErrAlreadyEnrolled)
	assert.Equal(t, 1, r.committed(t, 1))
}

func TestEnrollChecksEligibility(t *testing.T) {
	r := newRegistrar(t, 18)
	r.addSubject(1, 3, 10)
	r.standings.set(10, models.StandingActive)
	r.standings.leaves[10] = []models.LeaveApplication{{ID: 1, StartYear: 2025, StartHalf: 1, EndYear: 2025, EndHalf: 1, Status: models.LeaveApproved}}
	r.openRegistration(t)

	_, err := r.enrollments.Enroll(context.Background(), 10, dto.EnrollRequest{SubjectID: 1})
	require.ErrorIs(t, err, appErrors.ErrPendingLeaveConflict)
	assert.Zero(t, r.committed(t, 1))
}

func TestEnrollReleasesSeatWhenWriteFails(t *testing.T) {
	r := newRegistrar(t, 18)
	r.addSubject(1, 3, 1)
	r.activate(10, 11)
	r.openRegistration(t)
	r.enrollRepo.failInserts = 1

	_, err := r.enrollments.Enroll(context.Background(), 10, dto.EnrollRequest{SubjectID: 1})
	require.ErrorIs(t, err, appErrors.ErrInternal)
	assert.Zero(t, r.committed(t, 1))

	_, err = r.enrollments.Enroll(context.Background(), 11, dto.EnrollRequest{SubjectID: 1})
	require.NoError(t, err, "the compensated seat is available again")
}

func TestDropRestoresRecordWhenReleaseFails(t *testing.T) {
	flaky := &flakyLedger{Ledger: ledger.New[models.LedgerKey]()}
	r := newRegistrarWithLedger(t, 18, flaky)
	r.memLedger = flaky.Ledger
	r.addSubject(1, 3, 2)
	r.activate(10)
	r.openRegistration(t)
	ctx := context.Background()

	_, err := r.enrollments.Enroll(ctx, 10, dto.EnrollRequest{SubjectID: 1})
	require.NoError(t, err)

	flaky.failRelease = true
	require.Error(t, r.enrollments.Drop(ctx, 10, 1))
	assert.True(t, r.enrollRepo.has(10, 1), "record and seat stay paired")
	assert.Equal(t, 1, r.committed(t, 1))
}

func TestOverrideDrop(t *testing.T) {
	r := newRegistrar(t, 18)
	r.addSubject(1, 3, 2)
	r.activate(10)
	r.openRegistration(t)
	ctx := context.Background()

	_, err := r.enrollments.Enroll(ctx, 10, dto.EnrollRequest{SubjectID: 1})
	require.NoError(t, err)

	err = r.enrollments.OverrideDrop(ctx, models.Actor{UserID: 10, Role: models.RoleStudent}, 10, 1)
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	require.NoError(t, r.enrollments.OverrideDrop(ctx, models.Actor{UserID: 1, Role: models.RoleStaff}, 10, 1))
	assert.Zero(t, r.committed(t, 1))
}

func TestOverrideDropAfterRegistrationCloses(t *testing.T) {
	r := newRegistrar(t, 18)
	r.addSubject(1, 3, 2)
	r.activate(10)
	r.openRegistration(t)
	ctx := context.Background()

	_, err := r.enrollments.Enroll(ctx, 10, dto.EnrollRequest{SubjectID: 1})
	require.NoError(t, err)
	_, _, err = r.periods.TransitionTo(ctx, models.PhaseClosed)
	require.NoError(t, err)

	err = r.enrollments.Drop(ctx, 10, 1)
	require.ErrorIs(t, err, appErrors.ErrWrongPhase)
	assert.Equal(t, 1, r.committed(t, 1))

	require.NoError(t, r.enrollments.OverrideDrop(ctx, models.Actor{UserID: 1, Role: models.RoleAdmin}, 10, 1))
	assert.Zero(t, r.committed(t, 1))
	assert.False(t, r.enrollRepo.has(10, 1))
}
