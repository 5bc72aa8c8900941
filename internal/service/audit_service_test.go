package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
)

func TestReconcileHealthyAfterTraffic(t *testing.T) {
	r := newRegistrar(t, 6)
	r.addSubject(1, 3, 2)
	r.addSubject(2, 3, 2)
	r.activate(1, 2, 3)
	r.openRegistration(t)
	ctx := context.Background()

	for _, studentID := range []int64{1, 2, 3} {
		_, _ = r.enrollments.Enroll(ctx, studentID, dto.EnrollRequest{SubjectID: 1})
	}
	_, err := r.enrollments.Enroll(ctx, 3, dto.EnrollRequest{SubjectID: 2})
	require.NoError(t, err)
	require.NoError(t, r.enrollments.Drop(ctx, 1, 1))

	report, err := r.audit.Reconcile(ctx, testTerm)
	require.NoError(t, err)
	assert.True(t, report.Healthy(), "discrepancies: %+v", report.Discrepancies)
	assert.Equal(t, 2, report.EntriesChecked)
}

func TestReconcileFindsDrift(t *testing.T) {
	r := newRegistrar(t, 3)
	r.addSubject(1, 3, 1)
	r.activate(1)
	r.openRegistration(t)
	ctx := context.Background()

	require.NoError(t, r.memLedger.TryCommit(ctx, models.SubjectKey(1, testTerm)))
	require.NoError(t, r.enrollRepo.Insert(ctx, &models.Enrollment{ID: "a", StudentID: 1, SubjectID: 1, Term: testTerm, Credits: 3}))
	require.NoError(t, r.enrollRepo.Insert(ctx, &models.Enrollment{ID: "b", StudentID: 2, SubjectID: 1, Term: testTerm, Credits: 3}))
	require.NoError(t, r.enrollRepo.Insert(ctx, &models.Enrollment{ID: "c", StudentID: 2, SubjectID: 9, Term: testTerm, Credits: 4}))

	report, err := r.audit.Reconcile(ctx, testTerm)
	require.NoError(t, err)

	kinds := map[models.DiscrepancyKind]models.Discrepancy{}
	for _, d := range report.Discrepancies {
		kinds[d.Kind] = d
	}
	require.Contains(t, kinds, models.DiscrepancyOverCapacity)
	require.Contains(t, kinds, models.DiscrepancyCountMismatch)
	require.Contains(t, kinds, models.DiscrepancyCreditCap)
	assert.Equal(t, 2, kinds[models.DiscrepancyCountMismatch].Expected)
	assert.Equal(t, 1, kinds[models.DiscrepancyCountMismatch].Actual)
	assert.Equal(t, "student:2:2025-1", kinds[models.DiscrepancyCreditCap].Key)
	assert.Equal(t, 7, kinds[models.DiscrepancyCreditCap].Actual)
}

func TestHydrateRebuildsCounters(t *testing.T) {
	r := newRegistrar(t, 18)
	r.addSubject(1, 3, 5)
	r.addSubject(2, 3, 5)
	ctx := context.Background()

	require.NoError(t, r.enrollRepo.Insert(ctx, &models.Enrollment{ID: "a", StudentID: 1, SubjectID: 1, Term: testTerm, Credits: 3}))
	require.NoError(t, r.enrollRepo.Insert(ctx, &models.Enrollment{ID: "b", StudentID: 2, SubjectID: 1, Term: testTerm, Credits: 3}))
	slot := &models.AdvisingSlot{ProfessorID: 500, Term: testTerm, StartsAt: time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC), DurationMinutes: 30}
	require.NoError(t, r.advisingRepo.CreateSlot(ctx, slot))
	require.NoError(t, r.advisingRepo.InsertReservation(ctx, &models.SlotReservation{ID: "res-1", SlotID: slot.ID, StudentID: 1}))

	n, err := r.audit.Hydrate(ctx, testTerm)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, r.committed(t, 1))
	assert.Zero(t, r.committed(t, 2))

	entry, err := r.memLedger.Entry(ctx, models.SlotKey(slot.ID, testTerm))
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Committed)
	assert.Zero(t, entry.Available())

	report, err := r.audit.Reconcile(ctx, testTerm)
	require.NoError(t, err)
	assert.True(t, report.Healthy())
}
