package jobs

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type fakeSource struct {
	invoices []OverdueInvoice
	calls    int
}

func (s *fakeSource) ListOverdue(ctx context.Context, now time.Time) ([]OverdueInvoice, error) {
	s.calls++
	return s.invoices, nil
}

type fakeAudit struct {
	logs []shared.AuditLog
}

func (a *fakeAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type fakeMetrics struct {
	observed int
}

func (m *fakeMetrics) OverdueObserved(count int) { m.observed = count }

func TestSweepReportsOverdueInvoices(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	due := time.Now().Add(-48 * time.Hour)
	source := &fakeSource{invoices: []OverdueInvoice{
		{ID: 1, TenantID: 1, Number: "INV-00001", ClientID: 7, DueDate: due, BalanceDueCents: 5000},
		{ID: 2, TenantID: 2, Number: "INV-00004", ClientID: 8, DueDate: due, BalanceDueCents: 200},
	}}
	audit := &fakeAudit{}
	metrics := &fakeMetrics{}
	sweeper := NewOverdueSweeper(source, rdb, audit, metrics, nil, slog.Default())

	require.NoError(t, sweeper.Sweep(context.Background(), time.Now().UTC()))
	require.Equal(t, 2, metrics.observed)
	require.Len(t, audit.logs, 2)
	require.Equal(t, "jobs:invoice_overdue", audit.logs[0].Action)
	require.Equal(t, int64(1), audit.logs[0].TenantID)
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	// Simulate another worker holding the lock.
	require.NoError(t, rdb.Set(context.Background(), overdueSweepLockKey, "other", time.Minute).Err())

	source := &fakeSource{invoices: []OverdueInvoice{{ID: 1, TenantID: 1}}}
	metrics := &fakeMetrics{}
	sweeper := NewOverdueSweeper(source, rdb, nil, metrics, nil, slog.Default())

	require.NoError(t, sweeper.Sweep(context.Background(), time.Now().UTC()))
	require.Zero(t, source.calls)
	require.Zero(t, metrics.observed)
}

func TestSweepWithoutRedisRunsUnlocked(t *testing.T) {
	source := &fakeSource{}
	sweeper := NewOverdueSweeper(source, nil, nil, nil, nil, slog.Default())
	require.NoError(t, sweeper.Sweep(context.Background(), time.Now().UTC()))
	require.Equal(t, 1, source.calls)
}
