package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkgrab/pkg/downloader"
	"bulkgrab/pkg/logger"
	"bulkgrab/pkg/orchestrator"
	"bulkgrab/pkg/ratelimit"
)

func newOrchestrator(t *testing.T, c *Collector) *orchestrator.Orchestrator {
	t.Helper()
	cfg := orchestrator.DefaultConfig()
	cfg.DefaultLimits = ratelimit.Limits{MaxPerWindow: 1000}
	o := orchestrator.New(cfg, orchestrator.WithLogger(logger.NewNopLogger()), orchestrator.WithRecorder(c))

	require.NoError(t, o.Register("alpha", downloader.Func(func(target string, _ downloader.Options, _ downloader.ProgressFunc) downloader.Result {
		if strings.HasPrefix(target, "bad") {
			return downloader.Failed("nope")
		}
		return downloader.Succeeded(1, 10)
	})))
	return o
}

func TestCollectorCountsOutcomes(t *testing.T) {
	c := NewCollector()
	o := newOrchestrator(t, c)
	c.Watch(o)

	o.SubmitBulk([]string{"a", "b", "bad"}, "alpha", nil)

	require.NoError(t, o.Run(context.Background(), 2))

	assert.Equal(t, float64(2), testutil.ToFloat64(c.completed))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.failed))
	assert.Equal(t, float64(20), testutil.ToFloat64(c.bytes))
}

func TestRouterEndpoints(t *testing.T) {
	c := NewCollector()
	o := newOrchestrator(t, c)
	c.Watch(o)

	id := o.SubmitOne("a", "alpha", nil)
	srv := httptest.NewServer(NewRouter(c, o, logger.NewNopLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	var st status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, 1, st.Queued)
	assert.Equal(t, int64(1), st.Stats.TotalRequested)

	resp, err = http.Get(srv.URL + "/tasks/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/tasks/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "bulkgrab_tasks_queued 1")
	assert.Contains(t, string(body), "bulkgrab_tasks_completed_total 0")
}
