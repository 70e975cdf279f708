package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(Submissions().WithLabelValues("flagged"))
	Submissions().WithLabelValues("flagged").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(Submissions().WithLabelValues("flagged")))

	before = testutil.ToFloat64(QuestionsImported())
	QuestionsImported().Add(3)
	require.Equal(t, before+3, testutil.ToFloat64(QuestionsImported()))
}

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	Register()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/exams/{examID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/exams/{examID}", "418")
	before := testutil.ToFloat64(counter)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/exams/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/exams/def", nil))

	require.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestHandlerExposesCollectors(t *testing.T) {
	Violations().WithLabelValues("tab_switch").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `examshield_violations_total{type="tab_switch"}`)
}
