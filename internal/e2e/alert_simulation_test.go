package e2e

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/jobs"
)

// alertRule mirrors an alerting expression: it fires when the counter
// increase inside an evaluation window exceeds the threshold.
type alertRule struct {
	name      string
	metric    string
	labels    map[string]string
	threshold float64
}

func TestAlertRulesFireAndResolveFromJobMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	rules := []alertRule{
		{
			name:      "OverdueSweepFailures",
			metric:    "meridian_jobs_failures_total",
			labels:    map[string]string{"job": jobs.TaskOverdueSweep},
			threshold: 2,
		},
		{
			name:      "OverdueBacklog",
			metric:    "meridian_overdue_invoices_observed_total",
			labels:    map[string]string{"tenant": "1"},
			threshold: 3,
		},
	}

	before := gatherRuleValues(t, reg, rules)

	// Unhealthy window: three failed sweeps and a five invoice backlog.
	for i := 0; i < 3; i++ {
		_ = metrics.Track(jobs.TaskOverdueSweep).End(errors.New("invoice source unavailable"))
	}
	metrics.AddOverdue(1, 5)

	after := gatherRuleValues(t, reg, rules)
	for i, rule := range rules {
		delta := after[i] - before[i]
		if delta <= rule.threshold {
			t.Fatalf("%s should fire: window delta %.0f <= threshold %.0f", rule.name, delta, rule.threshold)
		}
	}

	// Recovery window: sweeps succeed and no new overdue invoices land,
	// so every rule drops back below its threshold.
	before = after
	for i := 0; i < 3; i++ {
		_ = metrics.Track(jobs.TaskOverdueSweep).End(nil)
	}

	after = gatherRuleValues(t, reg, rules)
	for i, rule := range rules {
		delta := after[i] - before[i]
		if delta > rule.threshold {
			t.Fatalf("%s should resolve: window delta %.0f > threshold %.0f", rule.name, delta, rule.threshold)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if !assertCounter(t, families, "meridian_jobs_total", map[string]string{"job": jobs.TaskOverdueSweep, "status": "failure"}, 3) {
		t.Fatalf("expected three failed sweep executions")
	}
	if !assertCounter(t, families, "meridian_jobs_total", map[string]string{"job": jobs.TaskOverdueSweep, "status": "success"}, 3) {
		t.Fatalf("expected three recovered sweep executions")
	}
}

func gatherRuleValues(t *testing.T, gatherer prometheus.Gatherer, rules []alertRule) []float64 {
	t.Helper()
	families, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	values := make([]float64, len(rules))
	for i, rule := range rules {
		values[i] = counterValue(families, rule.metric, rule.labels)
	}
	return values
}

// counterValue returns the current counter value, or zero when the series
// has not been observed yet.
func counterValue(families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) && metric.GetCounter() != nil {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
