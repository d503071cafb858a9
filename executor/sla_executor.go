package executor

import (
	"context"
	"sync"
	"time"

	"github.com/mohitkumar/stepflow/analytics"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/util"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

var _ Executor = new(slaExecutor)

// slaExecutor periodically reports approval gates that have waited longer
// than the threshold. Each gate is reported once while it stays remembered.
type slaExecutor struct {
	scanner   ApprovalScanner
	threshold time.Duration
	reported  *cache.Cache
	now       func() time.Time
	wg        *sync.WaitGroup
	tw        *util.TickWorker
	stop      chan struct{}
}

func NewSLAExecutor(scanner ApprovalScanner, threshold time.Duration, interval time.Duration, wg *sync.WaitGroup) *slaExecutor {
	ex := &slaExecutor{
		scanner:   scanner,
		threshold: threshold,
		reported:  cache.New(24*time.Hour, time.Hour),
		now:       time.Now,
		stop:      make(chan struct{}),
		wg:        wg,
	}
	ex.tw = util.NewTickWorker("sla-executor", interval, ex.stop, ex.scan, ex.wg)
	return ex
}

func (ex *slaExecutor) Start() {
	if ex.IsRunning() {
		return
	}
	ex.tw.Start()
}

func (ex *slaExecutor) IsRunning() bool {
	return ex.tw.IsRunning()
}

func (ex *slaExecutor) Stop() {
	if !ex.IsRunning() {
		return
	}
	ex.tw.Stop()
}

func (ex *slaExecutor) scan() {
	ex.scanOnce(context.Background())
}

// scanOnce returns the number of newly reported breaches.
func (ex *slaExecutor) scanOnce(ctx context.Context) int {
	steps, err := ex.scanner.OverdueApprovals(ctx, ex.threshold)
	if err != nil {
		logger.Error("error scanning approvals", zap.Error(err))
		return 0
	}
	reported := 0
	for _, step := range steps {
		if err := ex.reported.Add(step.Id, struct{}{}, cache.DefaultExpiration); err != nil {
			continue
		}
		waited := time.Duration(0)
		if step.StartedAt != nil {
			waited = ex.now().Sub(*step.StartedAt)
		}
		logger.Warn("approval sla breached", zap.String("runId", step.RunId), zap.String("runStepId", step.Id),
			zap.String("title", step.Title), zap.Duration("waited", waited))
		analytics.RecordSLABreach(step.RunId, step.Id, waited)
		reported++
	}
	return reported
}
