package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx, so callers can issue
// numbers inside the same transaction that creates the document.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxStore persists counters in the document_counters table.
type PgxStore struct {
	q Querier
}

// NewPgxStore constructs PgxStore over a pool or open transaction.
func NewPgxStore(q Querier) *PgxStore {
	return &PgxStore{q: q}
}

// Increment atomically advances the counter, initialising unseen
// (tenant, key) pairs at 1. The row lock taken by the upsert serialises
// concurrent callers on the same counter.
func (s *PgxStore) Increment(ctx context.Context, tenantID int64, key string) (Counter, error) {
	if s == nil || s.q == nil {
		return Counter{}, fmt.Errorf("sequence store not initialised")
	}
	counter := Counter{TenantID: tenantID, Key: key}
	err := s.q.QueryRow(ctx, `
		INSERT INTO document_counters (tenant_id, key, next_number, prefix, padding)
		VALUES ($1, $2, 1, '', 0)
		ON CONFLICT (tenant_id, key)
		DO UPDATE SET next_number = document_counters.next_number + 1, updated_at = NOW()
		RETURNING next_number, prefix, padding`, tenantID, key).
		Scan(&counter.NextNumber, &counter.Prefix, &counter.Padding)
	if err != nil {
		if translated := db.TranslateError(err); errors.Is(translated, shared.ErrConcurrencyConflict) {
			return Counter{}, translated
		}
		// An increment that cannot be confirmed as applied exactly once
		// must fail loudly rather than risk reusing a number.
		return Counter{}, fmt.Errorf("%w: counter %s: %w", shared.ErrDuplicateNumber, key, err)
	}
	return counter, nil
}
