package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsUsesReportedRoute(t *testing.T) {
	reqDuration.Reset()
	h := HTTPMetrics(Labeled("/users/:id", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))

	for _, p := range []string{"/users/1", "/users/2", "/users/3"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, p, nil))
	}

	assert.Equal(t, 1, testutil.CollectAndCount(reqDuration))
	hist, err := reqDuration.GetMetricWithLabelValues("/users/:id", http.MethodPost, "201")
	require.NoError(t, err)
	assert.NotNil(t, hist)
}

func TestHTTPMetricsUnmatched(t *testing.T) {
	reqDuration.Reset()
	h := HTTPMetrics(http.NotFoundHandler())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/1", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/2", nil))

	assert.Equal(t, 1, testutil.CollectAndCount(reqDuration))
	assert.Equal(t, 0.0, testutil.ToFloat64(inFlight))
}

func TestSetRouteWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.NotPanics(t, func() { SetRoute(req.Context(), "/x") })
}

func TestCronRunAndWSClients(t *testing.T) {
	cronRuns.Reset()
	CronRun("cleanup", nil)
	CronRun("cleanup", errors.New("boom"))
	CronRun("cleanup", nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(cronRuns.WithLabelValues("cleanup", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cronRuns.WithLabelValues("cleanup", "failure")))

	wsClients.Reset()
	WSClientConnected("/chat")
	WSClientConnected("/chat")
	WSClientDisconnected("/chat")
	assert.Equal(t, 1.0, testutil.ToFloat64(wsClients.WithLabelValues("/chat")))
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	RegisterDefault(nil)
	RegisterDefault(nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "http_requests_in_flight"))
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "abc", truncateUTF8("abc", 10))
	assert.Equal(t, "", truncateUTF8("abc", 0))
	assert.Equal(t, "a", truncateUTF8("aé", 2))
}
