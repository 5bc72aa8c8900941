package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/ledger"
	"github.com/noah-isme/registrar-api/pkg/tracing"
)

// CapacityLedger is the bounded counter store behind seats and advising slots.
// Both the in-memory ledger and the Postgres repository satisfy it.
type CapacityLedger interface {
	Open(ctx context.Context, key models.LedgerKey, capacity int) error
	TryCommit(ctx context.Context, key models.LedgerKey) error
	Release(ctx context.Context, key models.LedgerKey) error
	Entry(ctx context.Context, key models.LedgerKey) (ledger.Entry, error)
}

type ledgerRestorer interface {
	Restore(key models.LedgerKey, capacity, committed int) error
}

// LedgerService translates ledger results into registration errors and records
// ledger metrics.
type LedgerService struct {
	ledger  CapacityLedger
	metrics *MetricsService
	logger  *zap.Logger
}

// NewLedgerService constructs a LedgerService.
func NewLedgerService(l CapacityLedger, metrics *MetricsService, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{ledger: l, metrics: metrics, logger: logger}
}

// Open creates the entry for key. Re-opening with the same capacity is a no-op.
func (s *LedgerService) Open(ctx context.Context, key models.LedgerKey, capacity int) error {
	err := s.ledger.Open(ctx, key, capacity)
	s.metrics.RecordLedgerOp(key.Kind, "open", ledgerResult(err))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrInvalidCapacity):
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "capacity must be positive")
	case errors.Is(err, ledger.ErrCapacityMismatch):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "ledger entry already open with a different capacity")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open ledger entry")
	}
}

// Commit takes one unit of capacity from key.
func (s *LedgerService) Commit(ctx context.Context, key models.LedgerKey) error {
	ctx, span := tracing.Start(ctx, tracing.SpanLedgerCommit, attribute.String("ledger.key", key.String()))
	defer span.End()

	start := time.Now()
	err := s.ledger.TryCommit(ctx, key)
	s.metrics.ObserveLedgerCommit(key.Kind, time.Since(start))
	s.metrics.RecordLedgerOp(key.Kind, "commit", ledgerResult(err))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrFull):
		return appErrors.ErrSeatUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return appErrors.Wrap(err, appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, "timed out waiting for the ledger entry")
	case errors.Is(err, ledger.ErrUnknownEntry):
		return appErrors.Clone(appErrors.ErrNotFound, "no seats published for "+key.String())
	default:
		tracing.RecordError(span, err)
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit ledger entry")
	}
}

// Release returns one unit of capacity to key. A release that has no matching
// commit means records and counters have diverged.
func (s *LedgerService) Release(ctx context.Context, key models.LedgerKey) error {
	err := s.ledger.Release(ctx, key)
	s.metrics.RecordLedgerOp(key.Kind, "release", ledgerResult(err))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrNotCommitted), errors.Is(err, ledger.ErrUnknownEntry):
		s.logger.Error("capacity ledger invariant violated", zap.String("key", key.String()), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrLedgerInvariant.Code, appErrors.ErrLedgerInvariant.Status, appErrors.ErrLedgerInvariant.Message)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return appErrors.Wrap(err, appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, "timed out waiting for the ledger entry")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release ledger entry")
	}
}

// Entry reports the counter for key.
func (s *LedgerService) Entry(ctx context.Context, key models.LedgerKey) (ledger.Entry, error) {
	entry, err := s.ledger.Entry(ctx, key)
	if err != nil {
		if errors.Is(err, ledger.ErrUnknownEntry) {
			return ledger.Entry{}, appErrors.Clone(appErrors.ErrNotFound, "ledger entry not found")
		}
		return ledger.Entry{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read ledger entry")
	}
	return entry, nil
}

// Durable reports whether the backing ledger survives restarts on its own.
func (s *LedgerService) Durable() bool {
	_, ok := s.ledger.(ledgerRestorer)
	return !ok
}

// Restore overwrites an in-memory entry from the records that back it. Durable
// ledgers only get the entry opened.
func (s *LedgerService) Restore(ctx context.Context, key models.LedgerKey, capacity, committed int) error {
	restorer, ok := s.ledger.(ledgerRestorer)
	if !ok {
		return s.Open(ctx, key, capacity)
	}
	if err := restorer.Restore(key, capacity, committed); err != nil {
		s.logger.Error("ledger restore rejected", zap.String("key", key.String()), zap.Int("capacity", capacity), zap.Int("committed", committed), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrLedgerInvariant.Code, appErrors.ErrLedgerInvariant.Status, "records exceed ledger capacity")
	}
	s.metrics.RecordLedgerOp(key.Kind, "restore", "ok")
	return nil
}

func ledgerResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrFull):
		return "full"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, ledger.ErrNotCommitted), errors.Is(err, ledger.ErrUnknownEntry):
		return "invariant"
	default:
		return "error"
	}
}
