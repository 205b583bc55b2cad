// Package metrics exposes invocation counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/hbrun/internal/history"
)

type prometheusRecorder struct {
	invocationsCounter      *prometheus.CounterVec
	invocationDuration      *prometheus.HistogramVec
	invocationsInFlight     *prometheus.GaugeVec
	artifactsWrittenCounter prometheus.Counter
	artifactErrorsCounter   prometheus.Counter
}

var _ Recorder = (*prometheusRecorder)(nil)

// NewPrometheusRecorder registers the invocation metrics with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) Recorder {
	return (&prometheusRecorder{}).init(reg)
}

func (in *prometheusRecorder) InvocationStart(subcommand string) {
	in.invocationsInFlight.WithLabelValues(subcommand).Inc()
}

func (in *prometheusRecorder) InvocationEnd(subcommand string, outcome history.Outcome, duration time.Duration) {
	in.invocationsInFlight.WithLabelValues(subcommand).Dec()
	in.invocationsCounter.WithLabelValues(subcommand, string(outcome)).Inc()
	if outcome != history.OutcomeRejected {
		in.invocationDuration.WithLabelValues(subcommand).Observe(duration.Seconds())
	}
}

func (in *prometheusRecorder) ArtifactWritten(err error) {
	if err != nil {
		in.artifactErrorsCounter.Inc()
		return
	}

	in.artifactsWrittenCounter.Inc()
}

func (in *prometheusRecorder) init(reg prometheus.Registerer) Recorder {
	factory := promauto.With(reg)

	in.invocationsCounter = factory.NewCounterVec(prometheus.CounterOpts{
		Name: InvocationsMetricName,
		Help: InvocationsMetricDescription,
	}, []string{MetricLabelSubcommand, MetricLabelOutcome})

	in.invocationDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    InvocationDurationMetricName,
		Help:    InvocationDurationMetricDescription,
		Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
	}, []string{MetricLabelSubcommand})

	in.invocationsInFlight = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: InvocationsInFlightMetricName,
		Help: InvocationsInFlightMetricDescription,
	}, []string{MetricLabelSubcommand})

	in.artifactsWrittenCounter = factory.NewCounter(prometheus.CounterOpts{
		Name: ArtifactsWrittenMetricName,
		Help: ArtifactsWrittenMetricDescription,
	})

	in.artifactErrorsCounter = factory.NewCounter(prometheus.CounterOpts{
		Name: ArtifactErrorsMetricName,
		Help: ArtifactErrorsMetricDescription,
	})

	return in
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type noopRecorder struct{}

// Noop returns a Recorder that discards everything.
func Noop() Recorder { return noopRecorder{} }

func (noopRecorder) InvocationStart(string)                               {}
func (noopRecorder) InvocationEnd(string, history.Outcome, time.Duration) {}
func (noopRecorder) ArtifactWritten(error)                                {}
