package analytics

import (
	"time"
)

type DataCollectorConfig struct {
	FileName      string
	CollectorType DataCollectorType
}

type DataCollectorType string

const LOG_FILE_DATA_COLLECTOR DataCollectorType = "LOG_FILE_DATA_COLLECTOR"
const NOOP_DATA_COLLECTOR DataCollectorType = "NOOP"

type RunDataCollector interface {
	RecordStepSuccess(runId string, runStepId string, stepType string, data map[string]any)
	RecordStepFailure(runId string, runStepId string, stepType string, reason string)
	RecordRunFinished(workflowId string, runId string, status string, elapsed time.Duration)
	RecordSLABreach(runId string, runStepId string, waited time.Duration)
	Close() error
}

var runCollector RunDataCollector = noopCollector{}

func InitDataCollector(config DataCollectorConfig) error {
	switch config.CollectorType {
	case LOG_FILE_DATA_COLLECTOR:
		c, err := NewLogFileDataCollector(config.FileName)
		if err != nil {
			return err
		}
		runCollector = c
	default:
		runCollector = noopCollector{}
	}
	return nil
}

func Close() error {
	return runCollector.Close()
}

func RecordStepSuccess(runId string, runStepId string, stepType string, data map[string]any) {
	runCollector.RecordStepSuccess(runId, runStepId, stepType, data)
}

func RecordStepFailure(runId string, runStepId string, stepType string, reason string) {
	runCollector.RecordStepFailure(runId, runStepId, stepType, reason)
}

func RecordRunFinished(workflowId string, runId string, status string, elapsed time.Duration) {
	runCollector.RecordRunFinished(workflowId, runId, status, elapsed)
}

func RecordSLABreach(runId string, runStepId string, waited time.Duration) {
	runCollector.RecordSLABreach(runId, runStepId, waited)
}

type noopCollector struct{}

func (noopCollector) RecordStepSuccess(string, string, string, map[string]any) {}
func (noopCollector) RecordStepFailure(string, string, string, string)         {}
func (noopCollector) RecordRunFinished(string, string, string, time.Duration)  {}
func (noopCollector) RecordSLABreach(string, string, time.Duration)            {}
func (noopCollector) Close() error                                             { return nil }
