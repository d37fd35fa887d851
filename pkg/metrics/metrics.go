// Package metrics exposes fleet pass counters and durations in the
// Prometheus format, written to a node-exporter textfile after each run.
package metrics

import (
	"time"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/fleet"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tomcatd"

// Recorder implements fleet.Observer on its own registry.
type Recorder struct {
	Registry *prometheus.Registry

	reconciles     *prometheus.CounterVec
	reconcileTime  prometheus.Histogram
	restarts       *prometheus.CounterVec
	restartTime    prometheus.Histogram
	orphansDeleted prometheus.Counter
	lastRun        prometheus.Gauge
}

var _ fleet.Observer = (*Recorder)(nil)

// New returns a Recorder with every collector registered.
func New() *Recorder {
	r := &Recorder{
		Registry: prometheus.NewRegistry(),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciles_total",
			Help:      "Instance reconciles by detected state and result code.",
		}, []string{"state", "result"}),
		reconcileTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent reconciling one instance.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 7),
		}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_actions_total",
			Help:      "Lifecycle actions by action and tri-state result.",
		}, []string{"action", "result"}),
		restartTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lifecycle_action_duration_seconds",
			Help:      "Time spent on one lifecycle action.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		orphansDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_deleted_total",
			Help:      "Orphaned directories removed.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last fleet pass finished.",
		}),
	}
	r.Registry.MustRegister(r.reconciles, r.reconcileTime, r.restarts, r.restartTime, r.orphansDeleted, r.lastRun)
	return r
}

// ObserveReconcile counts one instance reconcile.
func (r *Recorder) ObserveReconcile(result types.ReconcileResult, err error, took time.Duration) {
	state := result.State
	if state == "" {
		state = "none"
	}
	outcome := "ok"
	if err != nil {
		outcome = string(errors.GetErrorCode(err))
	}
	r.reconciles.WithLabelValues(state, outcome).Inc()
	r.reconcileTime.Observe(took.Seconds())
}

// ObserveRestart counts one lifecycle action.
func (r *Recorder) ObserveRestart(o fleet.Outcome, took time.Duration) {
	if o.Action == fleet.ActionNone {
		return
	}
	result := o.Result.String()
	if o.Err != nil {
		result = "error"
	}
	r.restarts.WithLabelValues(o.Action, result).Inc()
	r.restartTime.Observe(took.Seconds())
}

// ObserveOrphans counts deleted orphans.
func (r *Recorder) ObserveOrphans(deleted int) {
	r.orphansDeleted.Add(float64(deleted))
}

// MarkRun stamps the end of a fleet pass.
func (r *Recorder) MarkRun(at time.Time) {
	r.lastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes every metric to path for the node exporter's
// textfile collector. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.Registry); err != nil {
		return errors.Wrapf(err, errors.ErrMetrics, "writing %s", path)
	}
	return nil
}
