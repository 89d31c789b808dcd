package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesRegisteredSeries(t *testing.T) {
	StageOutcomes.WithLabelValues("concept", "ok").Inc()
	BreakerState.WithLabelValues("image").Set(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`mealgen_stage_outcome_total{stage="concept",status="ok"}`,
		`mealgen_breaker_state{adapter="image"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
