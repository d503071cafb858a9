package metrics

import (
	"context"
	"time"

	"github.com/mohitkumar/stepflow/logger"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
	"go.uber.org/zap"
)

var (
	KeyTriggerMode = tag.MustNewKey("trigger_mode")
	KeyStatus      = tag.MustNewKey("status")
	KeyStepType    = tag.MustNewKey("step_type")
)

var (
	RunsStarted  = stats.Int64("stepflow/runs_started", "Number of runs started", stats.UnitDimensionless)
	RunsFinished = stats.Int64("stepflow/runs_finished", "Number of runs that reached a terminal status", stats.UnitDimensionless)
	StepLatency  = stats.Float64("stepflow/step_latency", "Time from a run step starting to finishing", stats.UnitMilliseconds)
)

var (
	RunsStartedView = &view.View{
		Name:        "stepflow/runs_started",
		Measure:     RunsStarted,
		Description: "Runs started by trigger mode",
		TagKeys:     []tag.Key{KeyTriggerMode},
		Aggregation: view.Count(),
	}
	RunsFinishedView = &view.View{
		Name:        "stepflow/runs_finished",
		Measure:     RunsFinished,
		Description: "Runs finished by status",
		TagKeys:     []tag.Key{KeyStatus},
		Aggregation: view.Count(),
	}
	StepLatencyView = &view.View{
		Name:        "stepflow/step_latency",
		Measure:     StepLatency,
		Description: "Run step latency by step type",
		TagKeys:     []tag.Key{KeyStepType},
		Aggregation: view.Distribution(1, 10, 100, 1000, 10000, 60000, 600000, 3600000),
	}
)

var Views = []*view.View{RunsStartedView, RunsFinishedView, StepLatencyView}

func Register() error {
	return view.Register(Views...)
}

func Unregister() {
	view.Unregister(Views...)
}

func record(ctx context.Context, mutator tag.Mutator, m stats.Measurement) {
	if err := stats.RecordWithTags(ctx, []tag.Mutator{mutator}, m); err != nil {
		logger.Warn("error recording metric", zap.Error(err))
	}
}

func RecordRunStarted(ctx context.Context, mode string) {
	record(ctx, tag.Upsert(KeyTriggerMode, mode), RunsStarted.M(1))
}

func RecordRunFinished(ctx context.Context, status string) {
	record(ctx, tag.Upsert(KeyStatus, status), RunsFinished.M(1))
}

func RecordStepLatency(ctx context.Context, stepType string, elapsed time.Duration) {
	record(ctx, tag.Upsert(KeyStepType, stepType), StepLatency.M(float64(elapsed.Milliseconds())))
}
