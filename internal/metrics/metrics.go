// Package metrics exposes sync outcomes as Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so library code can take an
// optional *Metrics without checks at every call site.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sync collectors.
type Metrics struct {
	fetchTotal     *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	recordsTotal   *prometheus.CounterVec
	roundsTotal    *prometheus.CounterVec
	storeSize      prometheus.Gauge
	coveredBlock   *prometheus.GaugeVec
	lastRoundEpoch prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "contractsync_fetch_total", Help: "Source fetch calls"},
			[]string{"status"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "contractsync_fetch_duration_seconds", Help: "Source fetch latency", Buckets: prometheus.DefBuckets},
			[]string{"status"},
		),
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "contractsync_records_total", Help: "Records by merge outcome"},
			[]string{"outcome"},
		),
		roundsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "contractsync_rounds_total", Help: "Scheduler rounds by outcome"},
			[]string{"outcome"},
		),
		storeSize: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "contractsync_store_size_bytes", Help: "Store size after the last merge"},
		),
		coveredBlock: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "contractsync_covered_block", Help: "Covered block range after the last merge"},
			[]string{"edge"},
		),
		lastRoundEpoch: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "contractsync_last_round_timestamp_seconds", Help: "Unix time the last round finished"},
		),
	}
	reg.MustRegister(m.fetchTotal, m.fetchDuration, m.recordsTotal, m.roundsTotal,
		m.storeSize, m.coveredBlock, m.lastRoundEpoch)
	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveFetch records one source fetch.
func (m *Metrics) ObserveFetch(d time.Duration, records int, err error) {
	if m == nil {
		return
	}
	s := status(err)
	m.fetchTotal.WithLabelValues(s).Inc()
	m.fetchDuration.WithLabelValues(s).Observe(d.Seconds())
	if err == nil {
		m.recordsTotal.WithLabelValues("fetched").Add(float64(records))
	}
}

// ObserveMerge records one committed merge.
func (m *Metrics) ObserveMerge(inserted, skipped, evicted int, size int64) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues("inserted").Add(float64(inserted))
	m.recordsTotal.WithLabelValues("skipped").Add(float64(skipped))
	m.recordsTotal.WithLabelValues("evicted").Add(float64(evicted))
	m.storeSize.Set(float64(size))
}

// ObserveCovered records the covered extent. ok=false clears nothing; the
// gauges keep their last value.
func (m *Metrics) ObserveCovered(oldest, newest uint64, ok bool) {
	if m == nil || !ok {
		return
	}
	m.coveredBlock.WithLabelValues("oldest").Set(float64(oldest))
	m.coveredBlock.WithLabelValues("newest").Set(float64(newest))
}

// ObserveRound records a finished scheduler round.
func (m *Metrics) ObserveRound(outcome string, at time.Time) {
	if m == nil {
		return
	}
	m.roundsTotal.WithLabelValues(outcome).Inc()
	m.lastRoundEpoch.Set(float64(at.Unix()))
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
