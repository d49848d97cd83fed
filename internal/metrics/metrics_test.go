package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/lean-prover/internal/models"
)

func TestRecordRunLabels(t *testing.T) {
	m := New(false)
	m.RecordRun(&models.Report{Success: true})
	m.RecordRun(&models.Report{FailureReason: models.VerificationExhausted})
	m.RecordRun(&models.Report{FailureReason: models.VerificationExhausted})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues("VerificationExhausted")))
}

func TestRecordAttemptAndRetry(t *testing.T) {
	m := New(false)
	m.RecordAttempt(models.VerificationOutcome{Accepted: true, Elapsed: time.Second})
	m.RecordAttempt(models.VerificationOutcome{Failure: models.VerificationTimeout, Elapsed: 30 * time.Second})
	m.RecordRetry("rateLimit", 1, 10*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("VerificationTimeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("rateLimit")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.verifyDuration))
}

func TestStreamGauge(t *testing.T) {
	m := New(false)
	done := m.StreamOpened()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeStreams))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeStreams))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRun(&models.Report{Success: true})
		m.RecordAttempt(models.VerificationOutcome{})
		m.RecordRetry("connection", 1, time.Second)
		m.RecordEvent(models.EventStatus)
		m.RecordDisconnect()
		m.StreamOpened()()
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(false)
	m.RecordEvent(models.EventComplete)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `lean_prover_stream_events_total{type="complete"} 1`)
}
