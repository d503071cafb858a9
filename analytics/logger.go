package analytics

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogFileDataCollector struct {
	fileName string
	logger   *zap.Logger
}

func NewLogFileDataCollector(fileName string) (*LogFileDataCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	writer := zapcore.AddSync(logFile)
	core := zapcore.NewCore(fileEncoder, writer, zapcore.InfoLevel)
	return &LogFileDataCollector{
		fileName: fileName,
		logger:   zap.New(core),
	}, nil
}

func (lc *LogFileDataCollector) RecordStepSuccess(runId string, runStepId string, stepType string, data map[string]any) {
	lc.logger.Info("step_success", zap.String("runId", runId), zap.String("runStepId", runStepId), zap.String("type", stepType), zap.Any("data", data))
}

func (lc *LogFileDataCollector) RecordStepFailure(runId string, runStepId string, stepType string, reason string) {
	lc.logger.Info("step_failure", zap.String("runId", runId), zap.String("runStepId", runStepId), zap.String("type", stepType), zap.String("reason", reason))
}

func (lc *LogFileDataCollector) RecordRunFinished(workflowId string, runId string, status string, elapsed time.Duration) {
	lc.logger.Info("run_finished", zap.String("workflowId", workflowId), zap.String("runId", runId), zap.String("status", status), zap.Duration("elapsed", elapsed))
}

func (lc *LogFileDataCollector) RecordSLABreach(runId string, runStepId string, waited time.Duration) {
	lc.logger.Info("sla_breach", zap.String("runId", runId), zap.String("runStepId", runStepId), zap.Duration("waited", waited))
}

func (lc *LogFileDataCollector) Close() error {
	return lc.logger.Sync()
}
