// Package metrics records run outcomes as Prometheus metrics and exports them
// in the node_exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "verdict"

type Recorder struct {
	reg *prometheus.Registry

	testsTotal   *prometheus.CounterVec
	judgments    *prometheus.CounterVec
	testDuration *prometheus.HistogramVec
	stepsTimeout prometheus.Counter
	runDuration  prometheus.Gauge
	runSuccess   prometheus.Gauge
	degraded     *prometheus.GaugeVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		testsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tests_total",
			Help:      "Tests executed, by combined result",
		}, []string{"suite", "result"}),
		judgments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "judgments_total",
			Help:      "Judgments produced, by judge and result",
		}, []string{"judge", "result"}),
		testDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "test_duration_seconds",
			Help:      "Wall time spent executing a test's steps",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"suite"}),
		stepsTimeout: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "step_timeouts_total",
			Help:      "Steps terminated for exceeding their time limit",
		}),
		runDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run",
		}),
		runSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "run_success",
			Help:      "1 if every test of the last run passed",
		}),
		degraded: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "degraded",
			Help:      "1 if a collaborator was unavailable during the last run",
		}, []string{"component"}),
	}
}

func label(pass bool) string {
	if pass {
		return "pass"
	}
	return "fail"
}

func (r *Recorder) RecordTest(suite string, pass bool, d time.Duration, timeouts int) {
	r.testsTotal.WithLabelValues(suite, label(pass)).Inc()
	r.testDuration.WithLabelValues(suite).Observe(d.Seconds())
	r.stepsTimeout.Add(float64(timeouts))
}

func (r *Recorder) RecordJudgment(judge string, pass bool) {
	r.judgments.WithLabelValues(judge, label(pass)).Inc()
}

func (r *Recorder) RecordDegraded(component string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1
	}
	r.degraded.WithLabelValues(component).Set(v)
}

func (r *Recorder) RecordRun(pass bool, d time.Duration) {
	r.runDuration.Set(d.Seconds())
	if pass {
		r.runSuccess.Set(1)
	} else {
		r.runSuccess.Set(0)
	}
}

// Gatherer exposes the underlying registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.reg
}

// WriteTextfile writes every metric to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
