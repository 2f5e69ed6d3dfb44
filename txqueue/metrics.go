package txqueue

import prom "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "deployer"
	subsystem = "txqueue"

	labelResult = "result"

	resultIncluded       = "included"
	resultFinalized      = "finalized"
	resultFailed         = "failed"
	resultInvalid        = "invalid"
	resultBroadcastError = "broadcast_error"
	resultStreamError    = "stream_error"
	resultTimeout        = "timeout"
	resultCancelled      = "cancelled"
)

var (
	SubmissionCounter = prom.NewCounterVec(
		prom.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "submissions_total",
			Help:      "Total number of submissions by terminal result.",
		},
		[]string{labelResult})
	InFlightGauge = prom.NewGauge(
		prom.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "in_flight",
			Help:      "Number of broadcast submissions without a terminal status.",
		})
	ResolveHistogram = prom.NewHistogramVec(
		prom.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resolve_seconds",
			Help:      "Histogram of time from broadcast to terminal status.",
			Buckets:   []float64{0.5, 1, 2, 3, 6, 12, 24, 48, 96},
		},
		[]string{labelResult})
)

// RegisterMetrics registers the queue collectors with reg.
func RegisterMetrics(reg prom.Registerer) error {
	for _, c := range []prom.Collector{SubmissionCounter, InFlightGauge, ResolveHistogram} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prom.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
