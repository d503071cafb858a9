package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/util"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type scheduledEntry struct {
	schedule string
	id       cron.EntryID
}

// Scheduler keeps one cron entry per active scheduled workflow and starts a
// run, as the workflow's creator, whenever an entry fires. The entry set is
// resynced from storage on every tick so catalog changes are picked up.
type Scheduler struct {
	cron    *cron.Cron
	storage persistence.WorkflowStore
	starter RunStarter
	mu      sync.Mutex
	entries map[string]scheduledEntry
	wg      *sync.WaitGroup
	tw      *util.TickWorker
	stop    chan struct{}
}

func NewScheduler(storage persistence.WorkflowStore, starter RunStarter, resync time.Duration, wg *sync.WaitGroup) *Scheduler {
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		storage: storage,
		starter: starter,
		entries: make(map[string]scheduledEntry),
		stop:    make(chan struct{}),
		wg:      wg,
	}
	s.tw = util.NewTickWorker("schedule-sync", resync, s.stop, func() {
		if err := s.Sync(context.Background()); err != nil {
			logger.Error("error syncing schedules", zap.Error(err))
		}
	}, wg)
	return s
}

func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Sync(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.tw.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.tw.IsRunning() {
		s.tw.Stop()
	}
	<-s.cron.Stop().Done()
}

// Sync reconciles cron entries with the scheduled workflows in storage.
func (s *Scheduler) Sync(ctx context.Context) error {
	wfs, err := s.storage.ListWorkflowsByTrigger(ctx, model.TRIGGER_SCHEDULED)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]*model.Workflow)
	for _, wf := range wfs {
		if wf.Active {
			wanted[wf.Id] = wf
		}
	}
	for id, entry := range s.entries {
		wf, ok := wanted[id]
		if !ok || wf.Trigger.Schedule != entry.schedule {
			s.cron.Remove(entry.id)
			delete(s.entries, id)
			logger.Info("schedule removed", zap.String("workflowId", id))
		}
	}
	for id, wf := range wanted {
		if _, ok := s.entries[id]; ok {
			continue
		}
		workflowId, createdBy := wf.Id, wf.CreatedBy
		entryId, err := s.cron.AddFunc(wf.Trigger.Schedule, func() {
			s.fire(workflowId, createdBy)
		})
		if err != nil {
			logger.Error("invalid schedule", zap.String("workflowId", id), zap.String("schedule", wf.Trigger.Schedule), zap.Error(err))
			continue
		}
		s.entries[id] = scheduledEntry{schedule: wf.Trigger.Schedule, id: entryId}
		logger.Info("schedule added", zap.String("workflowId", id), zap.String("schedule", wf.Trigger.Schedule))
	}
	return nil
}

func (s *Scheduler) fire(workflowId string, createdBy string) {
	runId, err := s.starter.StartRun(context.Background(), model.WorkflowRunRequest{
		WorkflowId: workflowId,
		StartedBy:  createdBy,
	}, model.TRIGGER_MODE_SCHEDULE)
	if err != nil {
		logger.Error("scheduled run failed to start", zap.String("workflowId", workflowId), zap.Error(err))
		return
	}
	logger.Info("scheduled run started", zap.String("workflowId", workflowId), zap.String("runId", runId))
}

func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	return out
}
