package perf

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/observability"
)

type staticTimeline struct {
	rows []audit.TimelineRow
}

func (s staticTimeline) TimelineWindow(_ context.Context, _ int64, _ audit.TimelineFilters, offset, limit int) ([]audit.TimelineRow, error) {
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}

func newPerfRouter() http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rows := make([]audit.TimelineRow, 0, 40)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 40; i++ {
		rows = append(rows, audit.TimelineRow{
			At:       at.Add(time.Duration(i) * time.Minute),
			ActorID:  9,
			Action:   "sales:invoice_issue",
			Entity:   "sales_invoice",
			EntityID: "42",
		})
	}
	return app.NewRouter(app.RouterParams{
		Logger:       logger,
		Metrics:      observability.NewMetrics(),
		AuditHandler: audit.NewHandler(logger, audit.NewService(staticTimeline{rows: rows})),
	})
}

// Latency targets for the in-process router: no database, so the budget
// covers routing, the middleware chain and JSON encoding only.
func TestRouterLatencyTargets(t *testing.T) {
	router := newPerfRouter()

	scenarios := []struct {
		name       string
		path       string
		tenant     string
		wantStatus int
		threshold  time.Duration
	}{
		{name: "healthz", path: "/healthz", wantStatus: http.StatusOK, threshold: 100 * time.Millisecond},
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK, threshold: 250 * time.Millisecond},
		{name: "audit_timeline", path: "/api/v1/audit?page=1&page_size=20", tenant: "1", wantStatus: http.StatusOK, threshold: 250 * time.Millisecond},
		{name: "missing_tenant", path: "/api/v1/audit", wantStatus: http.StatusBadRequest, threshold: 100 * time.Millisecond},
	}

	const samplesPerScenario = 50
	for _, scenario := range scenarios {
		samples := make([]time.Duration, 0, samplesPerScenario)
		for i := 0; i < samplesPerScenario; i++ {
			req := httptest.NewRequest(http.MethodGet, scenario.path, nil)
			if scenario.tenant != "" {
				req.Header.Set(app.TenantHeader, scenario.tenant)
			}
			rec := httptest.NewRecorder()

			start := time.Now()
			router.ServeHTTP(rec, req)
			samples = append(samples, time.Since(start))

			if rec.Code != scenario.wantStatus {
				t.Fatalf("%s: status=%d want=%d", scenario.name, rec.Code, scenario.wantStatus)
			}
		}
		if p95 := percentile95(samples); p95 > scenario.threshold {
			t.Fatalf("%s latency regression: p95=%s threshold=%s", scenario.name, p95, scenario.threshold)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	return sorted[index]
}
