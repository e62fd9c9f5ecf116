package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceRecordsCheckins(t *testing.T) {
	m := NewMetricsService()

	m.RecordCheckin(CheckinOutcomeCreated, checkinModeBatch)
	m.RecordCheckin(CheckinOutcomeCreated, checkinModeBatch)
	m.RecordCheckin(CheckinOutcomeIncomplete, checkinModeTwoPhase)
	m.RecordSnapshotWrites(3, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.checkinsTotal.WithLabelValues(CheckinOutcomeCreated, checkinModeBatch)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkinsTotal.WithLabelValues(CheckinOutcomeIncomplete, checkinModeTwoPhase)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.snapshotWrites.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.snapshotWrites.WithLabelValues("error")))
}

func TestMetricsServiceHandlerExposesCollectors(t *testing.T) {
	m := NewMetricsService()
	m.ObserveStoreOperation("list_students", 5*time.Millisecond)
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/classrooms/:cid", http.StatusOK, time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "docstore_operation_duration_seconds")
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	m.RecordCheckin(CheckinOutcomeFailed, checkinModeBatch)
	m.ObserveStoreOperation("get_classroom", time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
