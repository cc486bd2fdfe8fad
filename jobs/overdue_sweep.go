package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const (
	overdueSweepLockKey = "meridian:jobs:overdue_sweep"
	overdueSweepLockTTL = 2 * time.Minute
)

// OverdueInvoice is an issued or partially paid invoice past its due
// date. Overdue is derived from stored facts; the sweep observes and
// reports, it never rewrites invoice status.
type OverdueInvoice struct {
	ID              int64
	TenantID        int64
	Number          string
	ClientID        int64
	DueDate         time.Time
	BalanceDueCents int64
}

// OverdueSource lists invoices overdue at a point in time.
type OverdueSource interface {
	ListOverdue(ctx context.Context, now time.Time) ([]OverdueInvoice, error)
}

// PgxOverdueSource reads overdue invoices from PostgreSQL.
type PgxOverdueSource struct {
	pool *pgxpool.Pool
}

// NewPgxOverdueSource returns a source backed by pool.
func NewPgxOverdueSource(pool *pgxpool.Pool) *PgxOverdueSource {
	return &PgxOverdueSource{pool: pool}
}

// ListOverdue implements OverdueSource.
func (s *PgxOverdueSource) ListOverdue(ctx context.Context, now time.Time) ([]OverdueInvoice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, COALESCE(number, ''), client_id, due_date, balance_due_cents
		FROM sales_invoices
		WHERE status IN ('ISSUED', 'PARTIALLY_PAID') AND due_date < $1
		ORDER BY tenant_id, due_date`, now)
	if err != nil {
		return nil, fmt.Errorf("jobs: list overdue: %w", err)
	}
	defer rows.Close()

	var invoices []OverdueInvoice
	for rows.Next() {
		var inv OverdueInvoice
		if err := rows.Scan(&inv.ID, &inv.TenantID, &inv.Number, &inv.ClientID, &inv.DueDate, &inv.BalanceDueCents); err != nil {
			return nil, fmt.Errorf("jobs: scan overdue: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// SweepAuditPort abstracts audit logging.
type SweepAuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SweepMetricsPort records the observed overdue count.
type SweepMetricsPort interface {
	OverdueObserved(count int)
}

// OverdueSweeper periodically reports invoices past their due date. A
// redis lock keeps the sweep a singleton when several workers run.
type OverdueSweeper struct {
	source     OverdueSource
	locker     *redislock.Client
	audit      SweepAuditPort
	metrics    SweepMetricsPort
	jobMetrics *jobmetrics.Metrics
	logger     *slog.Logger
}

// NewOverdueSweeper builds OverdueSweeper. The redis client may be nil,
// in which case the sweep runs unlocked.
func NewOverdueSweeper(source OverdueSource, rdb redis.UniversalClient, audit SweepAuditPort, metrics SweepMetricsPort, jobMetrics *jobmetrics.Metrics, logger *slog.Logger) *OverdueSweeper {
	sweeper := &OverdueSweeper{source: source, audit: audit, metrics: metrics, jobMetrics: jobMetrics, logger: logger}
	if rdb != nil {
		sweeper.locker = redislock.New(rdb)
	}
	return sweeper
}

// Handle processes TaskOverdueSweep tasks.
func (s *OverdueSweeper) Handle(ctx context.Context, t *asynq.Task) error {
	var payload OverdueSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := s.jobMetrics.Track(TaskOverdueSweep)
	return tracker.End(s.Sweep(ctx, time.Now().UTC()))
}

// Sweep lists invoices overdue at now, records one audit entry per
// newly observed invoice and publishes the count. Another worker holding
// the lock is not an error; that sweep's results stand.
func (s *OverdueSweeper) Sweep(ctx context.Context, now time.Time) error {
	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, overdueSweepLockKey, overdueSweepLockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			s.logger.Debug("overdue sweep already running elsewhere")
			return nil
		}
		if err != nil {
			return fmt.Errorf("jobs: obtain sweep lock: %w", err)
		}
		defer func() {
			_ = lock.Release(ctx)
		}()
	}

	invoices, err := s.source.ListOverdue(ctx, now)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.OverdueObserved(len(invoices))
	}
	perTenant := make(map[int64]int)
	for _, inv := range invoices {
		perTenant[inv.TenantID]++
	}
	for tenantID, count := range perTenant {
		s.jobMetrics.AddOverdue(tenantID, count)
	}
	for _, inv := range invoices {
		if s.audit == nil {
			continue
		}
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: inv.TenantID,
			Action:   "jobs:invoice_overdue",
			Entity:   "sales_invoice",
			EntityID: fmt.Sprintf("%d", inv.ID),
			Meta: map[string]any{
				"number":            inv.Number,
				"due_date":          inv.DueDate.Format(time.RFC3339),
				"balance_due_cents": inv.BalanceDueCents,
			},
		})
	}
	s.logger.Info("overdue sweep finished", slog.Int("overdue", len(invoices)))
	return nil
}
