package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

func TestEligibilityCheck(t *testing.T) {
	repo := newFakeStandingRepo()
	repo.set(1, models.StandingActive)
	repo.set(2, models.StandingSuspended)
	repo.set(3, models.StandingActive)
	repo.leaves[3] = []models.LeaveApplication{{ID: 9, StudentID: 3, StartYear: 2024, StartHalf: 2, EndYear: 2025, EndHalf: 1, Status: models.LeavePending}}
	repo.set(4, models.StandingActive)
	repo.leaves[4] = []models.LeaveApplication{{ID: 10, StudentID: 4, StartYear: 2025, StartHalf: 2, EndYear: 2026, EndHalf: 1, Status: models.LeaveApproved}}

	svc := NewEligibilityService(repo, nil)
	ctx := context.Background()

	assert.NoError(t, svc.Check(ctx, 1, testTerm))
	require.ErrorIs(t, svc.Check(ctx, 2, testTerm), appErrors.ErrNotActiveStanding)
	require.ErrorIs(t, svc.Check(ctx, 3, testTerm), appErrors.ErrPendingLeaveConflict)
	assert.NoError(t, svc.Check(ctx, 4, testTerm), "leave starting next term does not block")
	require.ErrorIs(t, svc.Check(ctx, 99, testTerm), appErrors.ErrNotActiveStanding)
}
