package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value returns the counter or gauge value of the series matching labels.
func value(t *testing.T, c *Collector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue series
				}
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("no series %s %v", name, labels)
	return 0
}

func TestCollector_Counts(t *testing.T) {
	c := NewCollector("cg")

	c.JobStarted()
	assert.Equal(t, 1.0, value(t, c, "cg_discovery_jobs_running", nil))
	c.JobFinished("completed", 2*time.Second)
	assert.Equal(t, 0.0, value(t, c, "cg_discovery_jobs_running", nil))
	assert.Equal(t, 1.0, value(t, c, "cg_discovery_jobs_total", map[string]string{"status": "completed"}))

	c.Candidates("medium", 3)
	c.Candidates("low", 0)
	assert.Equal(t, 3.0, value(t, c, "cg_discovery_candidates_total", map[string]string{"tier": "medium"}))

	c.Commit("edge", false)
	assert.Equal(t, 1.0, value(t, c, "cg_graph_commits_total", map[string]string{"kind": "edge", "outcome": "failed"}))

	c.Review("approve", false)
	assert.Equal(t, 1.0, value(t, c, "cg_review_actions_total", map[string]string{"action": "approve", "result": "noop"}))

	c.Suppressed(2)
	assert.Equal(t, 2.0, value(t, c, "cg_review_duplicates_suppressed_total", nil))
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.JobStarted()
		c.JobFinished("failed", time.Second)
		c.Candidates("high", 1)
		c.Commit("node", true)
		c.Suppressed(2)
		c.Review("reject", true)
		c.ObserveHTTP("GET", "/health", "200", time.Millisecond)
	})
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("contactgraph")
	c.ObserveHTTP("GET", "/api/v1/stats", "200", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "contactgraph_http_requests_total"))
}
