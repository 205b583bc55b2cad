package metrics

import (
	"time"

	"github.com/mattjoyce/hbrun/internal/history"
)

const (
	InvocationsMetricName        = "hbrun_invocations_total"
	InvocationsMetricDescription = "The total number of dispatched invocations by subcommand and outcome"

	InvocationDurationMetricName        = "hbrun_invocation_duration_seconds"
	InvocationDurationMetricDescription = "Wall-clock duration of invocations that spawned a process"

	InvocationsInFlightMetricName        = "hbrun_invocations_in_flight"
	InvocationsInFlightMetricDescription = "The number of invocations currently running"

	ArtifactsWrittenMetricName        = "hbrun_artifacts_written_total"
	ArtifactsWrittenMetricDescription = "The total number of output artifacts persisted"

	ArtifactErrorsMetricName        = "hbrun_artifact_errors_total"
	ArtifactErrorsMetricDescription = "The total number of failed artifact writes"

	MetricLabelSubcommand = "subcommand"
	MetricLabelOutcome    = "outcome"
)

// Recorder receives invocation lifecycle events.
type Recorder interface {
	InvocationStart(subcommand string)
	InvocationEnd(subcommand string, outcome history.Outcome, duration time.Duration)
	ArtifactWritten(err error)
}
