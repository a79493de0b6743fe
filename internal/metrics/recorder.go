package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/doridoridoriand/keepitup/internal/state"
)

// Recorder counts what the scheduler and the alarm dispatcher did.
type Recorder struct {
	probes              prometheus.Counter
	probesLost          prometheus.Counter
	flushFailures       prometheus.Counter
	samplesFlushed      prometheus.Counter
	alarms              *prometheus.CounterVec
	invariantViolations prometheus.Counter
	cycleDuration       prometheus.Histogram
}

// NewRecorder creates the counters and registers them on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		probes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Counter of the number of probes sent.",
		}),
		probesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_lost_total",
			Help:      "Counter of the number of probes without answer.",
		}),
		flushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Counter of the number of failed writes to the time series store.",
		}),
		samplesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_flushed_total",
			Help:      "Counter of the number of samples committed to the time series store.",
		}),
		alarms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_total",
			Help:      "Counter of the number of alarms opened and resolved.",
		}, []string{"kind"}),
		invariantViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Counter of the number of nodes found with more than one open alarm.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Histogram of the duration of one full probe interval.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	reg.MustRegister(
		r.probes,
		r.probesLost,
		r.flushFailures,
		r.samplesFlushed,
		r.alarms,
		r.invariantViolations,
		r.cycleDuration,
	)
	return r
}

// ObserveSlice counts the probes of one slice.
func (r *Recorder) ObserveSlice(report state.SliceReport) {
	r.probes.Add(float64(report.Probed))
	r.probesLost.Add(float64(report.Lost))
}

// ObserveFlush counts a flush outcome.
func (r *Recorder) ObserveFlush(committed int, err error) {
	if err != nil {
		r.flushFailures.Inc()
		return
	}
	r.samplesFlushed.Add(float64(committed))
}

// ObserveCycle records the duration of one interval.
func (r *Recorder) ObserveCycle(d time.Duration) {
	r.cycleDuration.Observe(d.Seconds())
}

// AlarmRecorded counts an opened or resolved alarm.
func (r *Recorder) AlarmRecorded(kind string) {
	r.alarms.WithLabelValues(kind).Inc()
}

// InvariantViolated counts a node with duplicate open alarms.
func (r *Recorder) InvariantViolated() {
	r.invariantViolations.Inc()
}
