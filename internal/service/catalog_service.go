package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

const (
	subjectCachePrefix = "registrar:subjects:"
	// sharedLookupTimeout bounds a lookup that several callers may be waiting on.
	sharedLookupTimeout = 5 * time.Second
)

type subjectRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Subject, error)
	ListByTerm(ctx context.Context, term models.Term) ([]models.Subject, error)
	Create(ctx context.Context, subject *models.Subject) error
}

type subjectFinder interface {
	Get(ctx context.Context, id int64) (*models.Subject, error)
}

// SubjectCatalogConfig sizes the in-process subject cache.
type SubjectCatalogConfig struct {
	Size int
	TTL  time.Duration
}

// SubjectCatalog serves subject metadata. Subjects do not change once a term is
// open, so lookups go through an in-process LRU, then Redis, then Postgres.
type SubjectCatalog struct {
	repo      subjectRepository
	cache     *CacheService
	local     *expirable.LRU[int64, models.Subject]
	group     singleflight.Group
	ledger    *LedgerService
	ttl       time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSubjectCatalog constructs a SubjectCatalog.
func NewSubjectCatalog(repo subjectRepository, cache *CacheService, ledger *LedgerService, cfg SubjectCatalogConfig, validate *validator.Validate, logger *zap.Logger) *SubjectCatalog {
	if cfg.Size <= 0 {
		cfg.Size = 2048
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubjectCatalog{
		repo:      repo,
		cache:     cache,
		local:     expirable.NewLRU[int64, models.Subject](cfg.Size, nil, cfg.TTL),
		ledger:    ledger,
		ttl:       cfg.TTL,
		validator: validate,
		logger:    logger,
	}
}

// Get returns a published subject.
func (c *SubjectCatalog) Get(ctx context.Context, id int64) (*models.Subject, error) {
	if subject, ok := c.local.Get(id); ok {
		return &subject, nil
	}

	// The lookup is shared, so it must not end when the caller that started it does.
	results := c.group.DoChan(strconv.FormatInt(id, 10), func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()

		var cached models.Subject
		if hit, _ := c.cache.Get(lookupCtx, subjectCacheKey(id), &cached); hit {
			return cached, nil
		}
		subject, err := c.repo.FindByID(lookupCtx, id)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(lookupCtx, subjectCacheKey(id), subject, c.ttl); err != nil {
			c.logger.Debug("subject not written to shared cache", zap.Int64("subject_id", id), zap.Error(err))
		}
		return *subject, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, appErrors.Wrap(ctx.Err(), appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, "gave up waiting for subject lookup")
	case res = <-results:
	}
	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("subject %d not found", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	subject := v.(models.Subject)
	c.local.Add(id, subject)
	return &subject, nil
}

// GetInTerm returns a subject only when it is offered in term.
func (c *SubjectCatalog) GetInTerm(ctx context.Context, id int64, term models.Term) (*models.Subject, error) {
	subject, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if subject.Term != term {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("subject %d is not offered in %s", id, term.Label()))
	}
	return subject, nil
}

// ListByTerm lists the subjects published for term.
func (c *SubjectCatalog) ListByTerm(ctx context.Context, term models.Term) ([]models.Subject, error) {
	subjects, err := c.repo.ListByTerm(ctx, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	return subjects, nil
}

// Publish creates the subjects of a catalog file and opens their ledger entries.
// Subjects already published for the term are skipped and reported by code. On
// error the returned slice still holds every subject that was saved, including
// one whose ledger entry failed to open; that entry is opened on first use.
func (c *SubjectCatalog) Publish(ctx context.Context, file dto.SubjectCatalogFile) ([]models.Subject, []string, error) {
	if err := c.validator.Struct(file); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject catalog")
	}
	term, err := models.ParseTerm(file.Term)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	published := make([]models.Subject, 0, len(file.Subjects))
	var skipped []string
	for _, item := range file.Subjects {
		subject := models.Subject{
			Term:     term,
			Code:     strings.ToUpper(strings.TrimSpace(item.Code)),
			Title:    strings.TrimSpace(item.Title),
			Credits:  item.Credits,
			Capacity: item.Capacity,
		}
		if err := c.repo.Create(ctx, &subject); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				skipped = append(skipped, subject.Code)
				continue
			}
			return published, skipped, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish subject "+subject.Code)
		}
		published = append(published, subject)
		if err := c.ledger.Open(ctx, models.SubjectKey(subject.ID, term), subject.Capacity); err != nil {
			return published, skipped, err
		}
	}

	c.logger.Info("subject catalog published",
		zap.String("term", term.Label()),
		zap.Int("published", len(published)),
		zap.Strings("skipped", skipped),
	)
	return published, skipped, nil
}

// Seats reports a subject's ledger occupancy.
func (c *SubjectCatalog) Seats(ctx context.Context, id int64) (*models.SeatStatus, error) {
	subject, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	entry, err := c.ledger.Entry(ctx, models.SubjectKey(subject.ID, subject.Term))
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			// Published but not yet opened: nothing has been committed.
			return &models.SeatStatus{SubjectID: id, Capacity: subject.Capacity, Available: subject.Capacity}, nil
		}
		return nil, err
	}
	return &models.SeatStatus{
		SubjectID: id,
		Capacity:  entry.Capacity,
		Committed: entry.Committed,
		Available: entry.Available(),
	}, nil
}

func subjectCacheKey(id int64) string {
	return subjectCachePrefix + strconv.FormatInt(id, 10)
}
