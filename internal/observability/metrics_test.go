package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveRun(t *testing.T) {
	before := testutil.ToFloat64(RunsTotal.WithLabelValues("succeeded"))
	ObserveRun("succeeded", time.Now().Add(-time.Second))
	require.Equal(t, before+1, testutil.ToFloat64(RunsTotal.WithLabelValues("succeeded")))
}

func TestHandlerServesMetrics(t *testing.T) {
	ObserveRequest("", http.StatusNotFound)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `timetable_http_requests_total{code="404",route="unmatched"}`)
}
