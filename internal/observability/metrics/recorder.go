package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	xerrors "solshuttle/internal/errors"
	"solshuttle/internal/scheduler"
	"solshuttle/internal/web3"
)

const namespace = "solshuttle"

// Recorder 将每个周期结果记录为 Prometheus 指标。
type Recorder struct {
	cycles      *prometheus.CounterVec
	failures    *prometheus.CounterVec
	timeouts    prometheus.Counter
	lamports    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess prometheus.Gauge
}

// NewRecorder 在给定的 Registerer 上注册指标；传入 nil 时使用默认注册表。
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Recorder{
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Transfer cycles by direction and final status",
			},
			[]string{"direction", "status"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Failed cycles by stage and error code",
			},
			[]string{"stage", "code"},
		),
		timeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "confirm_timeouts_total",
				Help:      "Submitted transfers whose confirmation was not observed before the deadline",
			},
		),
		lamports: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lamports_transferred_total",
				Help:      "Lamports moved by confirmed transfers",
			},
			[]string{"direction"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Wall time of a transfer cycle",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90},
			},
			[]string{"status"},
		),
		lastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last confirmed transfer",
			},
		),
	}
}

// Report 实现 scheduler.Reporter。
func (r *Recorder) Report(_ context.Context, o scheduler.Outcome) error {
	status := o.Status()
	r.cycles.WithLabelValues(o.Direction.Label(), status).Inc()
	r.duration.WithLabelValues(status).Observe(o.Duration().Seconds())

	if o.Succeeded() {
		r.lamports.WithLabelValues(o.Direction.Label()).Add(float64(o.Amount.Lamports))
		r.lastSuccess.Set(float64(finishedAt(o).Unix()))
		return nil
	}

	r.failures.WithLabelValues(string(o.Stage), string(xerrors.CodeOf(o.Err))).Inc()
	if o.Receipt.Status == web3.StatusTimedOut {
		r.timeouts.Inc()
	}
	return nil
}

func finishedAt(o scheduler.Outcome) time.Time {
	if o.FinishedAt.IsZero() {
		return time.Now()
	}
	return o.FinishedAt
}
