package obs

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RegisterAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.CacheRequests.WithLabelValues("hit").Inc()
	m.GuardLoopBreaks.Inc()
	require.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("hit")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	require.True(t, strings.Contains(string(body), "claims_cache_requests_total"))
	require.True(t, strings.Contains(string(body), "guard_redirect_loops_total 1"))
}

func TestMetrics_Unregistered(t *testing.T) {
	m := NewMetrics(nil)
	m.VerificationPolls.WithLabelValues("timeout").Inc()
	require.Equal(t, 1.0, testutil.ToFloat64(m.VerificationPolls.WithLabelValues("timeout")))
}
