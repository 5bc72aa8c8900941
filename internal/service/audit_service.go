package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/tracing"
)

type enrollmentCounter interface {
	CountBySubject(ctx context.Context, term models.Term) ([]models.EnrollmentCount, error)
	CreditTotals(ctx context.Context, term models.Term) ([]models.StudentCredits, error)
}

type slotLister interface {
	ListSlots(ctx context.Context, filter models.SlotFilter) ([]models.AdvisingSlot, error)
	ListReservedSlots(ctx context.Context) ([]models.AdvisingSlot, error)
}

// AuditService compares ledger counters with the records that back them and
// rebuilds in-memory counters from those records at start-up.
type AuditService struct {
	subjects    subjectLister
	enrollments enrollmentCounter
	slots       slotLister
	ledger      *LedgerService
	maxCredits  int
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
}

// NewAuditService constructs an AuditService.
func NewAuditService(subjects subjectLister, enrollments enrollmentCounter, slots slotLister, ledger *LedgerService, maxCredits int, metrics *MetricsService, logger *zap.Logger) *AuditService {
	if maxCredits <= 0 {
		maxCredits = 18
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		subjects:    subjects,
		enrollments: enrollments,
		slots:       slots,
		ledger:      ledger,
		maxCredits:  maxCredits,
		metrics:     metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type ledgerBacking struct {
	key      models.LedgerKey
	capacity int
	records  int
}

// Reconcile reports every ledger entry of term whose counter disagrees with
// its records, any resource holding more records than capacity, and any
// student above the credit cap. Counters are read while traffic continues, so
// a finding that does not repeat on the next run was an in-flight request.
func (s *AuditService) Reconcile(ctx context.Context, term models.Term) (*models.ReconciliationReport, error) {
	ctx, span := tracing.Start(ctx, tracing.SpanReconcile, attribute.String("term", term.Label()))
	defer span.End()

	backings, err := s.backings(ctx, term)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	report := &models.ReconciliationReport{Term: term, CheckedAt: s.now(), Discrepancies: []models.Discrepancy{}}
	for _, b := range backings {
		key := b.key.String()
		if b.records > b.capacity {
			report.Discrepancies = append(report.Discrepancies, models.Discrepancy{Kind: models.DiscrepancyOverCapacity, Key: key, Expected: b.capacity, Actual: b.records})
		}
		entry, err := s.ledger.Entry(ctx, b.key)
		if err != nil {
			if errors.Is(err, appErrors.ErrNotFound) {
				if b.records > 0 {
					report.Discrepancies = append(report.Discrepancies, models.Discrepancy{Kind: models.DiscrepancyMissingEntry, Key: key, Expected: b.records})
				}
				continue
			}
			return nil, err
		}
		report.EntriesChecked++
		if entry.Committed != b.records {
			report.Discrepancies = append(report.Discrepancies, models.Discrepancy{Kind: models.DiscrepancyCountMismatch, Key: key, Expected: b.records, Actual: entry.Committed})
		}
	}

	totals, err := s.enrollments.CreditTotals(ctx, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credit totals")
	}
	for _, total := range totals {
		if total.Credits > s.maxCredits {
			report.Discrepancies = append(report.Discrepancies, models.Discrepancy{
				Kind:     models.DiscrepancyCreditCap,
				Key:      fmt.Sprintf("student:%d:%s", total.StudentID, term.Label()),
				Expected: s.maxCredits,
				Actual:   total.Credits,
			})
		}
	}

	for _, d := range report.Discrepancies {
		s.metrics.RecordDiscrepancy(d.Kind)
		s.logger.Error("ledger reconciliation discrepancy",
			zap.String("kind", string(d.Kind)),
			zap.String("key", d.Key),
			zap.Int("expected", d.Expected),
			zap.Int("actual", d.Actual),
		)
	}
	s.logger.Info("ledger reconciled",
		zap.String("term", term.Label()),
		zap.Int("entries", report.EntriesChecked),
		zap.Int("discrepancies", len(report.Discrepancies)),
	)
	return report, nil
}

// Hydrate rebuilds the counters of term from live records. Reserved slots of
// other terms are restored as well so their reservations can still be
// cancelled. Run it before the server accepts requests.
func (s *AuditService) Hydrate(ctx context.Context, term models.Term) (int, error) {
	backings, err := s.backings(ctx, term)
	if err != nil {
		return 0, err
	}
	reserved, err := s.slots.ListReservedSlots(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reserved slots")
	}
	for _, slot := range reserved {
		if slot.Term == term {
			continue
		}
		backings = append(backings, ledgerBacking{key: models.SlotKey(slot.ID, slot.Term), capacity: 1, records: 1})
	}

	for _, b := range backings {
		if err := s.ledger.Restore(ctx, b.key, b.capacity, b.records); err != nil {
			return 0, err
		}
	}
	s.logger.Info("capacity ledger hydrated",
		zap.String("term", term.Label()),
		zap.Int("entries", len(backings)),
		zap.Bool("durable", s.ledger.Durable()),
	)
	return len(backings), nil
}

func (s *AuditService) backings(ctx context.Context, term models.Term) ([]ledgerBacking, error) {
	subjects, err := s.subjects.ListByTerm(ctx, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	counts, err := s.enrollments.CountBySubject(ctx, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	bySubject := make(map[int64]int, len(counts))
	for _, c := range counts {
		bySubject[c.SubjectID] = c.Count
	}

	slots, err := s.slots.ListSlots(ctx, models.SlotFilter{Term: term})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list slots")
	}

	backings := make([]ledgerBacking, 0, len(subjects)+len(slots))
	for _, subject := range subjects {
		backings = append(backings, ledgerBacking{
			key:      models.SubjectKey(subject.ID, term),
			capacity: subject.Capacity,
			records:  bySubject[subject.ID],
		})
	}
	for _, slot := range slots {
		reserved := 0
		if slot.Occupancy == models.SlotReserved {
			reserved = 1
		}
		backings = append(backings, ledgerBacking{key: models.SlotKey(slot.ID, term), capacity: 1, records: reserved})
	}
	return backings, nil
}
