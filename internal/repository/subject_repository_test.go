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

var subjectCols = []string{"id", "year", "half", "code", "title", "credits", "capacity", "created_at"}

func TestSubjectRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubjectRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subjects WHERE id = $1")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(subjectCols).AddRow(10, 2025, 1, "CS101", "Intro", 3, 40, time.Now()))

	subject, err := repo.FindByID(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "CS101", subject.Code)
	assert.Equal(t, 3, subject.Credits)
	assert.Equal(t, 40, subject.Capacity)
	assert.Equal(t, models.Term{Year: 2025, Half: 1}, subject.Term)
}

func TestSubjectRepositoryListByTerm(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubjectRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subjects WHERE year = $1 AND half = $2")).
		WithArgs(2025, 1).
		WillReturnRows(sqlmock.NewRows(subjectCols).
			AddRow(10, 2025, 1, "CS101", "Intro", 3, 40, time.Now()).
			AddRow(11, 2025, 1, "CS102", "Data", 4, 30, time.Now()))

	subjects, err := repo.ListByTerm(context.Background(), models.Term{Year: 2025, Half: 1})
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, int64(11), subjects[1].ID)
}

func TestSubjectRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubjectRepository(db)

	mock.ExpectQuery("INSERT INTO subjects").
		WithArgs(2025, 1, "CS101", "Intro", 3, 40).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(10, time.Now()))
	subject := &models.Subject{Term: models.Term{Year: 2025, Half: 1}, Code: "CS101", Title: "Intro", Credits: 3, Capacity: 40}
	require.NoError(t, repo.Create(context.Background(), subject))
	assert.Equal(t, int64(10), subject.ID)

	mock.ExpectQuery("INSERT INTO subjects").WillReturnError(&pq.Error{Code: "23505"})
	require.ErrorIs(t, repo.Create(context.Background(), subject), ErrDuplicate)
}
