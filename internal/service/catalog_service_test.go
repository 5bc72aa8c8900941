package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

// gatedSubjectRepo holds FindByID until gate is closed.
type gatedSubjectRepo struct {
	*fakeSubjectRepo
	started chan struct{}
	gate    chan struct{}
}

func (g *gatedSubjectRepo) FindByID(ctx context.Context, id int64) (*models.Subject, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.fakeSubjectRepo.FindByID(ctx, id)
}

type memoryCacheRepo struct {
	mu    sync.Mutex
	items map[string][]byte
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.items[key]
	if !ok {
		return nil, appErrors.ErrCacheMiss
	}
	return raw, nil
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = payload
	return nil
}

func (m *memoryCacheRepo) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

func TestCacheServiceDropsUndecodableEntries(t *testing.T) {
	repo := &memoryCacheRepo{items: map[string][]byte{"subject:1": []byte("{broken")}}
	cache := NewCacheService(repo, NewMetricsService(), time.Minute, nil, true)

	var subject models.Subject
	hit, err := cache.Get(context.Background(), "subject:1", &subject)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotContains(t, repo.items, "subject:1")

	require.NoError(t, cache.Set(context.Background(), "subject:1", models.Subject{ID: 1, Code: "CS101"}, 0))
	hit, err = cache.Get(context.Background(), "subject:1", &subject)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "CS101", subject.Code)
}

func TestCatalogGetCollapsesLookups(t *testing.T) {
	r := newRegistrar(t, 18)
	r.addSubject(1, 3, 10)
	metrics := NewMetricsService()
	cache := NewCacheService(&memoryCacheRepo{items: map[string][]byte{}}, metrics, time.Minute, nil, true)
	catalog := NewSubjectCatalog(r.subjectRepo, cache, r.ledger, SubjectCatalogConfig{Size: 8, TTL: time.Minute}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subject, err := catalog.Get(context.Background(), 1)
			if assert.NoError(t, err) {
				assert.Equal(t, 3, subject.Credits)
			}
		}()
	}
	wg.Wait()
	first := r.subjectRepo.finds
	assert.LessOrEqual(t, first, 16)
	assert.GreaterOrEqual(t, first, 1)

	_, err := catalog.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, first, r.subjectRepo.finds, "served from the local cache")

	other := NewSubjectCatalog(r.subjectRepo, cache, r.ledger, SubjectCatalogConfig{}, nil, nil)
	subject, err := other.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, testTerm, subject.Term)
	assert.Equal(t, first, r.subjectRepo.finds, "served from the shared cache")

	_, err = catalog.Get(context.Background(), 404)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCatalogGetInTermRejectsOtherTerms(t *testing.T) {
	r := newRegistrar(t, 18)
	r.addSubject(1, 3, 10)

	_, err := r.catalog.GetInTerm(context.Background(), 1, models.Term{Year: 2025, Half: 2})
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	subject, err := r.catalog.GetInTerm(context.Background(), 1, testTerm)
	require.NoError(t, err)
	assert.Equal(t, int64(1), subject.ID)
}

func TestCatalogPublishSkipsDuplicatesAndOpensSeats(t *testing.T) {
	r := newRegistrar(t, 18)
	ctx := context.Background()
	file := dto.SubjectCatalogFile{
		Term: "2025-1",
		Subjects: []dto.SubjectImport{
			{Code: "cs101", Title: "Programming", Credits: 3, Capacity: 40},
			{Code: "MA201", Title: "Linear Algebra", Credits: 4, Capacity: 25},
		},
	}

	published, skipped, err := r.catalog.Publish(ctx, file)
	require.NoError(t, err)
	require.Len(t, published, 2)
	assert.Empty(t, skipped)
	assert.Equal(t, "CS101", published[0].Code)

	again, skipped, err := r.catalog.Publish(ctx, file)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, []string{"CS101", "MA201"}, skipped)

	seats, err := r.catalog.Seats(ctx, published[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.SeatStatus{SubjectID: published[1].ID, Capacity: 25, Available: 25}, *seats)

	_, _, err = r.catalog.Publish(ctx, dto.SubjectCatalogFile{Term: "2025-3", Subjects: file.Subjects})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCatalogSeatsBeforeLedgerEntry(t *testing.T) {
	r := newRegistrar(t, 18)
	r.addSubject(7, 2, 12)

	seats, err := r.catalog.Seats(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 12, seats.Available)
	assert.Zero(t, seats.Committed)
}

func TestCatalogGetOutlivesCancelledFirstCaller(t *testing.T) {
	r := newRegistrar(t, 18)
	r.addSubject(1, 3, 10)
	repo := &gatedSubjectRepo{fakeSubjectRepo: r.subjectRepo, started: make(chan struct{}, 1), gate: make(chan struct{})}
	catalog := NewSubjectCatalog(repo, nil, r.ledger, SubjectCatalogConfig{}, nil, nil)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := catalog.Get(firstCtx, 1)
		firstErr <- err
	}()
	<-repo.started

	type result struct {
		subject *models.Subject
		err     error
	}
	second := make(chan result, 1)
	go func() {
		subject, err := catalog.Get(context.Background(), 1)
		second <- result{subject, err}
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, appErrors.ErrTimeout)
	close(repo.gate)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, 3, got.subject.Credits)
}

func TestCatalogPublishReportsSubjectSavedBeforeLedgerFailure(t *testing.T) {
	r := newRegistrar(t, 18)
	ctx := context.Background()
	// The next subject id already has an entry with another capacity.
	require.NoError(t, r.memLedger.Open(ctx, models.SubjectKey(101, testTerm), 5))

	published, skipped, err := r.catalog.Publish(ctx, dto.SubjectCatalogFile{
		Term:     "2025-1",
		Subjects: []dto.SubjectImport{{Code: "CS101", Title: "Programming", Credits: 3, Capacity: 40}},
	})
	require.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Empty(t, skipped)
	require.Len(t, published, 1)
	assert.Equal(t, int64(101), published[0].ID)
}
