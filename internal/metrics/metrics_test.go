package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTransition_SkipsNoop(t *testing.T) {
	m := New("test")
	m.RecordTransition("PENDING", "IN_TRANSIT")
	m.RecordTransition("IN_TRANSIT", "IN_TRANSIT")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusTransitions.WithLabelValues("PENDING", "IN_TRANSIT")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StatusTransitions.WithLabelValues("IN_TRANSIT", "IN_TRANSIT")))
}

func TestHandler_ExposesCounters(t *testing.T) {
	m := New("test")
	m.RecordHTTPRequest(http.MethodGet, "/v1/consignments/lookup/:trackingNumber", 200, 5*time.Millisecond)
	m.RecordCacheLookup(true)
	m.RecordOutboxPublish("ConsignmentCreated", false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "test_http_requests_total")
	assert.Contains(t, body, `test_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, body, `test_outbox_events_published_total{event_type="ConsignmentCreated",status="failure"} 1`)
}
