package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	api "github.com/mohitkumar/stepflow/api/v1"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/util"
)

var _ persistence.Storage = new(postgresStorage)

// postgresStorage keeps every record as a jsonb document next to the
// columns it is queried by.
type postgresStorage struct {
	db            *pgxpool.Pool
	wfEncDec      util.EncoderDecoder[model.Workflow]
	stepEncDec    util.EncoderDecoder[model.WorkflowStep]
	runEncDec     util.EncoderDecoder[model.Run]
	runStepEncDec util.EncoderDecoder[model.RunStep]
}

// NewPostgresStorage connects, pings and applies the schema.
func NewPostgresStorage(ctx context.Context, conf Config) (*postgresStorage, error) {
	poolConfig, err := pgxpool.ParseConfig(conf.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if conf.MaxConns > 0 {
		poolConfig.MaxConns = conf.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &postgresStorage{
		db:            pool,
		wfEncDec:      util.NewJsonEncoderDecoder[model.Workflow](),
		stepEncDec:    util.NewJsonEncoderDecoder[model.WorkflowStep](),
		runEncDec:     util.NewJsonEncoderDecoder[model.Run](),
		runStepEncDec: util.NewJsonEncoderDecoder[model.RunStep](),
	}, nil
}

func storageError(err error) error {
	return persistence.StorageLayerError{Message: err.Error()}
}

func (s *postgresStorage) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *postgresStorage) Close() error {
	s.db.Close()
	return nil
}

func (s *postgresStorage) CreateWorkflow(ctx context.Context, wf *model.Workflow, steps []*model.WorkflowStep) error {
	data, err := s.wfEncDec.Encode(*wf)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO workflows (id, business_id, trigger_type, created_at, doc)
			VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
			wf.Id, wf.BusinessId, string(wf.Trigger.Type), wf.CreatedAt, string(data))
		if err != nil {
			return storageError(err)
		}
		if tag.RowsAffected() == 0 {
			return api.ConflictError{Message: "workflow " + wf.Id + " already exists"}
		}
		for i, step := range steps {
			step.Order = i
			stepData, err := s.stepEncDec.Encode(*step)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, "INSERT INTO workflow_steps (workflow_id, id, ord, doc) VALUES ($1, $2, $3, $4)",
				wf.Id, step.Id, step.Order, string(stepData))
			if err != nil {
				return storageError(err)
			}
		}
		return nil
	})
}

func (s *postgresStorage) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	data, err := s.wfEncDec.Encode(*wf)
	if err != nil {
		return err
	}
	// the upsert holds the row lock, so a concurrent metrics update either
	// lands before it and is kept or waits for it
	var saved []byte
	err = s.db.QueryRow(ctx, `INSERT INTO workflows (id, business_id, trigger_type, created_at, doc)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET business_id = $2, trigger_type = $3,
			doc = jsonb_set(EXCLUDED.doc, '{metrics}', COALESCE(workflows.doc->'metrics', EXCLUDED.doc->'metrics'))
		RETURNING doc`,
		wf.Id, wf.BusinessId, string(wf.Trigger.Type), wf.CreatedAt, string(data)).Scan(&saved)
	if err != nil {
		return storageError(err)
	}
	stored, err := s.wfEncDec.Decode(saved)
	if err != nil {
		return err
	}
	wf.Metrics = stored.Metrics
	return nil
}

func (s *postgresStorage) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	var data []byte
	err := s.db.QueryRow(ctx, "SELECT doc FROM workflows WHERE id = $1", id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, api.NotFoundError{Entity: "workflow", Id: id}
		}
		return nil, storageError(err)
	}
	return s.wfEncDec.Decode(data)
}

func (s *postgresStorage) ListWorkflows(ctx context.Context, businessId string) ([]*model.Workflow, error) {
	return queryDocs(ctx, s.db, s.wfEncDec,
		"SELECT doc FROM workflows WHERE business_id = $1 ORDER BY created_at", businessId)
}

func (s *postgresStorage) ListWorkflowsByTrigger(ctx context.Context, triggerType model.TriggerType) ([]*model.Workflow, error) {
	return queryDocs(ctx, s.db, s.wfEncDec,
		"SELECT doc FROM workflows WHERE trigger_type = $1 ORDER BY created_at", string(triggerType))
}

func (s *postgresStorage) UpdateWorkflowMetrics(ctx context.Context, id string, fn func(*model.WorkflowMetrics)) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var data []byte
		err := tx.QueryRow(ctx, "SELECT doc FROM workflows WHERE id = $1 FOR UPDATE", id).Scan(&data)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return api.NotFoundError{Entity: "workflow", Id: id}
			}
			return storageError(err)
		}
		wf, err := s.wfEncDec.Decode(data)
		if err != nil {
			return err
		}
		fn(&wf.Metrics)
		data, err = s.wfEncDec.Encode(*wf)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, "UPDATE workflows SET doc = $2 WHERE id = $1", id, string(data)); err != nil {
			return storageError(err)
		}
		return nil
	})
}

func (s *postgresStorage) AppendStep(ctx context.Context, step *model.WorkflowStep) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		// the row lock on the workflow serializes concurrent appends
		var id string
		err := tx.QueryRow(ctx, "SELECT id FROM workflows WHERE id = $1 FOR UPDATE", step.WorkflowId).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return api.NotFoundError{Entity: "workflow", Id: step.WorkflowId}
			}
			return storageError(err)
		}
		var count int
		if err := tx.QueryRow(ctx, "SELECT count(*) FROM workflow_steps WHERE workflow_id = $1", step.WorkflowId).Scan(&count); err != nil {
			return storageError(err)
		}
		step.Order = count
		data, err := s.stepEncDec.Encode(*step)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, "INSERT INTO workflow_steps (workflow_id, id, ord, doc) VALUES ($1, $2, $3, $4)",
			step.WorkflowId, step.Id, step.Order, string(data))
		if err != nil {
			return storageError(err)
		}
		return nil
	})
}

func (s *postgresStorage) SaveStep(ctx context.Context, step *model.WorkflowStep) error {
	data, err := s.stepEncDec.Encode(*step)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, "UPDATE workflow_steps SET doc = $3 WHERE workflow_id = $1 AND id = $2",
		step.WorkflowId, step.Id, string(data))
	if err != nil {
		return storageError(err)
	}
	if tag.RowsAffected() == 0 {
		return api.NotFoundError{Entity: "step", Id: step.Id}
	}
	return nil
}

func (s *postgresStorage) GetStep(ctx context.Context, workflowId string, stepId string) (*model.WorkflowStep, error) {
	var data []byte
	err := s.db.QueryRow(ctx, "SELECT doc FROM workflow_steps WHERE workflow_id = $1 AND id = $2", workflowId, stepId).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, api.NotFoundError{Entity: "step", Id: stepId}
		}
		return nil, storageError(err)
	}
	return s.stepEncDec.Decode(data)
}

func (s *postgresStorage) ListSteps(ctx context.Context, workflowId string) ([]*model.WorkflowStep, error) {
	return queryDocs(ctx, s.db, s.stepEncDec,
		"SELECT doc FROM workflow_steps WHERE workflow_id = $1 ORDER BY ord", workflowId)
}

func (s *postgresStorage) CreateRun(ctx context.Context, run *model.Run, steps []*model.RunStep) error {
	runData, err := s.runEncDec.Encode(*run)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "INSERT INTO runs (id, workflow_id, started_at, doc) VALUES ($1, $2, $3, $4)",
			run.Id, run.WorkflowId, run.StartedAt, string(runData))
		if err != nil {
			return storageError(err)
		}
		batch := &pgx.Batch{}
		for _, step := range steps {
			data, err := s.runStepEncDec.Encode(*step)
			if err != nil {
				return err
			}
			batch.Queue("INSERT INTO run_steps (id, run_id, ord, status, doc) VALUES ($1, $2, $3, $4, $5)",
				step.Id, step.RunId, step.Order, string(step.Status), string(data))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return storageError(err)
		}
		return nil
	})
}

func (s *postgresStorage) GetRun(ctx context.Context, id string) (*model.Run, error) {
	var data []byte
	err := s.db.QueryRow(ctx, "SELECT doc FROM runs WHERE id = $1", id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, api.NotFoundError{Entity: "run", Id: id}
		}
		return nil, storageError(err)
	}
	return s.runEncDec.Decode(data)
}

func (s *postgresStorage) ListRuns(ctx context.Context, workflowId string) ([]*model.Run, error) {
	return queryDocs(ctx, s.db, s.runEncDec,
		"SELECT doc FROM runs WHERE workflow_id = $1 ORDER BY started_at DESC", workflowId)
}

func (s *postgresStorage) SaveRunState(ctx context.Context, run *model.Run, steps ...*model.RunStep) error {
	runData, err := s.runEncDec.Encode(*run)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "UPDATE runs SET doc = $2 WHERE id = $1", run.Id, string(runData))
		if err != nil {
			return storageError(err)
		}
		if tag.RowsAffected() == 0 {
			return api.NotFoundError{Entity: "run", Id: run.Id}
		}
		for _, step := range steps {
			data, err := s.runStepEncDec.Encode(*step)
			if err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, "UPDATE run_steps SET status = $2, doc = $3 WHERE id = $1",
				step.Id, string(step.Status), string(data))
			if err != nil {
				return storageError(err)
			}
			if tag.RowsAffected() == 0 {
				return api.NotFoundError{Entity: "run step", Id: step.Id}
			}
		}
		return nil
	})
}

func (s *postgresStorage) GetRunStep(ctx context.Context, id string) (*model.RunStep, error) {
	var data []byte
	err := s.db.QueryRow(ctx, "SELECT doc FROM run_steps WHERE id = $1", id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, api.NotFoundError{Entity: "run step", Id: id}
		}
		return nil, storageError(err)
	}
	return s.runStepEncDec.Decode(data)
}

func (s *postgresStorage) ListRunSteps(ctx context.Context, runId string) ([]*model.RunStep, error) {
	return queryDocs(ctx, s.db, s.runStepEncDec,
		"SELECT doc FROM run_steps WHERE run_id = $1 ORDER BY ord", runId)
}

func (s *postgresStorage) ListRunStepsByStatus(ctx context.Context, status model.RunStepStatus) ([]*model.RunStep, error) {
	return queryDocs(ctx, s.db, s.runStepEncDec,
		"SELECT doc FROM run_steps WHERE status = $1 ORDER BY run_id, ord", string(status))
}

func queryDocs[T any](ctx context.Context, db *pgxpool.Pool, encDec util.EncoderDecoder[T], sql string, args ...any) ([]*T, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageError(err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, storageError(err)
	}
	return util.DecodeAll(encDec, docs)
}
