package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch(time.Second, 3, nil)
		m.ObserveMerge(1, 2, 3, 4)
		m.ObserveCovered(1, 2, true)
		m.ObserveRound("progress", time.Now())
	})
}

func TestMetrics_Fetch(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveFetch(10*time.Millisecond, 3, nil)
	m.ObserveFetch(5*time.Millisecond, 0, errors.New("down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchTotal.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.recordsTotal.WithLabelValues("fetched")))
}

func TestMetrics_MergeAndCovered(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveMerge(4, 1, 2, 2048)
	m.ObserveCovered(10, 20, true)
	m.ObserveCovered(0, 0, false)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.recordsTotal.WithLabelValues("inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordsTotal.WithLabelValues("skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordsTotal.WithLabelValues("evicted")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.storeSize))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.coveredBlock.WithLabelValues("oldest")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.coveredBlock.WithLabelValues("newest")))
}

func TestMetrics_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveRound("progress", time.Unix(1700000000, 0))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `contractsync_rounds_total{outcome="progress"} 1`), body)
	assert.Contains(t, body, "contractsync_last_round_timestamp_seconds")
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
