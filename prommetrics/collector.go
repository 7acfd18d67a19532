// Package prommetrics exports tasm metrics to Prometheus.
//
//	c := prommetrics.New(prometheus.DefaultRegisterer)
//	db, _ := tasm.Open(ctx, tasm.WithMetricsCollector(c))
//	http.Handle("/metrics", promhttp.Handler())
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/tasm"
)

var _ tasm.MetricsCollector = (*Collector)(nil)

// Collector implements tasm.MetricsCollector with Prometheus metrics.
type Collector struct {
	opLatency    *prometheus.HistogramVec
	tilesEncoded prometheus.Counter
	results      *prometheus.CounterVec
	decoded      *prometheus.CounterVec
	retiles      *prometheus.CounterVec
	regret       *prometheus.GaugeVec
}

// New creates a Collector and registers its metrics with reg.
// A nil reg skips registration.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tasm_operation_latency_seconds",
			Help:    "Latency of store, select and retile operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		tilesEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasm_tiles_encoded_total",
			Help: "Total tile regions encoded by store and retile",
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasm_select_results_total",
			Help: "Total images yielded by queries",
		}, []string{"mode"}),
		decoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasm_decoded_pixels_total",
			Help: "Total tile pixels decoded by queries",
		}, []string{"mode"}),
		retiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasm_regret_retiles_total",
			Help: "Regret based retile decisions",
		}, []string{"outcome"}),
		regret: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tasm_regret_pixels",
			Help: "Accumulated regret since the last retile",
		}, []string{"video", "label"}),
	}
	if reg != nil {
		reg.MustRegister(c.opLatency, c.tilesEncoded, c.results, c.decoded, c.retiles, c.regret)
	}
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordStore implements tasm.MetricsCollector.
func (c *Collector) RecordStore(tiles int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("store", status(err)).Observe(d.Seconds())
	if err == nil {
		c.tilesEncoded.Add(float64(tiles))
	}
}

// RecordSelect implements tasm.MetricsCollector.
func (c *Collector) RecordSelect(mode string, results int, decoded int64, d time.Duration, err error) {
	c.opLatency.WithLabelValues("select", status(err)).Observe(d.Seconds())
	c.results.WithLabelValues(mode).Add(float64(results))
	c.decoded.WithLabelValues(mode).Add(float64(decoded))
}

// RecordRetile implements tasm.MetricsCollector.
func (c *Collector) RecordRetile(retiled bool, d time.Duration, err error) {
	c.opLatency.WithLabelValues("retile", status(err)).Observe(d.Seconds())
	switch {
	case err != nil:
		c.retiles.WithLabelValues("error").Inc()
	case retiled:
		c.retiles.WithLabelValues("retiled").Inc()
	default:
		c.retiles.WithLabelValues("unchanged").Inc()
	}
}

// RecordRegret implements tasm.MetricsCollector.
func (c *Collector) RecordRegret(video, label string, regret int64) {
	c.regret.WithLabelValues(video, label).Set(float64(regret))
}
