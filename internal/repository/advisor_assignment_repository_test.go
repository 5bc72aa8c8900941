package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
)

func TestAdvisorAssignmentRepositoryLoads(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAdvisorAssignmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM UNNEST($1::BIGINT[]) AS p(professor_id)")).
		WithArgs(pq.Array([]int64{50, 51}), 2025, 1).
		WillReturnRows(sqlmock.NewRows([]string{"professor_id", "advisees"}).AddRow(50, 3).AddRow(51, 0))

	loads, err := repo.Loads(context.Background(), term20251, []int64{50, 51})
	require.NoError(t, err)
	assert.Equal(t, []models.AdvisorLoad{{ProfessorID: 50, Advisees: 3}, {ProfessorID: 51, Advisees: 0}}, loads)

	empty, err := repo.Loads(context.Background(), term20251, nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestAdvisorAssignmentRepositoryInsertAndFind(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAdvisorAssignmentRepository(db)

	mock.ExpectExec("INSERT INTO advisor_assignments").
		WithArgs(int64(1), 2025, 1, int64(51), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Insert(context.Background(), &models.AdvisorAssignment{StudentID: 1, Term: term20251, ProfessorID: 51}))

	mock.ExpectExec("INSERT INTO advisor_assignments").WillReturnError(&pq.Error{Code: "23505"})
	require.ErrorIs(t, repo.Insert(context.Background(), &models.AdvisorAssignment{StudentID: 1, Term: term20251, ProfessorID: 50}), ErrDuplicate)

	mock.ExpectQuery("FROM advisor_assignments").
		WithArgs(int64(1), 2025, 1).
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "year", "half", "professor_id", "assigned_at"}).AddRow(1, 2025, 1, 51, time.Now()))
	a, err := repo.Find(context.Background(), 1, term20251)
	require.NoError(t, err)
	assert.Equal(t, int64(51), a.ProfessorID)
}
