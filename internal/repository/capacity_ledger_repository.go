package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/pkg/ledger"
)

// CapacityLedgerRepository is the durable capacity ledger. Each commit is one
// conditional UPDATE, so Postgres row locking makes check-and-increment atomic
// across every API instance sharing the database.
type CapacityLedgerRepository struct {
	db *sqlx.DB
}

// NewCapacityLedgerRepository constructs the repository.
func NewCapacityLedgerRepository(db *sqlx.DB) *CapacityLedgerRepository {
	return &CapacityLedgerRepository{db: db}
}

// Open creates the entry for key. Re-opening with the same capacity is a no-op.
func (r *CapacityLedgerRepository) Open(ctx context.Context, key models.LedgerKey, capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("%w: %d", ledger.ErrInvalidCapacity, capacity)
	}
	const insert = `INSERT INTO capacity_ledger (kind, resource_id, year, half, capacity, committed_count)
VALUES ($1, $2, $3, $4, $5, 0)
ON CONFLICT (kind, resource_id, year, half) DO NOTHING`
	res, err := r.db.ExecContext(ctx, insert, key.Kind, key.ResourceID, key.Term.Year, key.Term.Half, capacity)
	if err != nil {
		return fmt.Errorf("open ledger entry %s: %w", key, err)
	}
	if affected, _ := res.RowsAffected(); affected == 1 {
		return nil
	}
	existing, err := r.Entry(ctx, key)
	if err != nil {
		return err
	}
	if existing.Capacity != capacity {
		return fmt.Errorf("%w: have %d, got %d", ledger.ErrCapacityMismatch, existing.Capacity, capacity)
	}
	return nil
}

// TryCommit consumes one unit of capacity for key.
func (r *CapacityLedgerRepository) TryCommit(ctx context.Context, key models.LedgerKey) error {
	const query = `UPDATE capacity_ledger SET committed_count = committed_count + 1
WHERE kind = $1 AND resource_id = $2 AND year = $3 AND half = $4 AND committed_count < capacity`
	res, err := r.db.ExecContext(ctx, query, key.Kind, key.ResourceID, key.Term.Year, key.Term.Half)
	if err != nil {
		return fmt.Errorf("commit ledger entry %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit ledger entry %s: %w", key, err)
	}
	if affected == 1 {
		return nil
	}
	if _, err := r.Entry(ctx, key); err != nil {
		return err
	}
	return ledger.ErrFull
}

// Release returns one unit of capacity for key.
func (r *CapacityLedgerRepository) Release(ctx context.Context, key models.LedgerKey) error {
	const query = `UPDATE capacity_ledger SET committed_count = committed_count - 1
WHERE kind = $1 AND resource_id = $2 AND year = $3 AND half = $4 AND committed_count > 0`
	res, err := r.db.ExecContext(ctx, query, key.Kind, key.ResourceID, key.Term.Year, key.Term.Half)
	if err != nil {
		return fmt.Errorf("release ledger entry %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release ledger entry %s: %w", key, err)
	}
	if affected == 1 {
		return nil
	}
	if _, err := r.Entry(ctx, key); err != nil {
		return err
	}
	return ledger.ErrNotCommitted
}

// Entry returns the counter for key. ledger.ErrUnknownEntry means it was never opened.
func (r *CapacityLedgerRepository) Entry(ctx context.Context, key models.LedgerKey) (ledger.Entry, error) {
	const query = `SELECT capacity, committed_count FROM capacity_ledger
WHERE kind = $1 AND resource_id = $2 AND year = $3 AND half = $4`
	var row struct {
		Capacity  int `db:"capacity"`
		Committed int `db:"committed_count"`
	}
	if err := r.db.GetContext(ctx, &row, query, key.Kind, key.ResourceID, key.Term.Year, key.Term.Half); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Entry{}, ledger.ErrUnknownEntry
		}
		return ledger.Entry{}, fmt.Errorf("get ledger entry %s: %w", key, err)
	}
	return ledger.Entry{Capacity: row.Capacity, Committed: row.Committed}, nil
}
