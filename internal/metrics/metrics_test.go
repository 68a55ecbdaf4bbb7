package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStep(t *testing.T) {
	before := testutil.ToFloat64(metricSteps.WithLabelValues("click", OutcomeSuccess))
	RecordStep("click", OutcomeSuccess, 120*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(metricSteps.WithLabelValues("click", OutcomeSuccess)))
}

func TestRecordTierAndCache(t *testing.T) {
	RecordTier("hover", "forced")
	RecordCache("hit")
	assert.GreaterOrEqual(t, testutil.ToFloat64(metricTiers.WithLabelValues("hover", "forced")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metricPlanCache.WithLabelValues("hit")), 1.0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordPlanning(time.Second)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "stepflow_planning_duration_seconds")
}
