package database

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/ngageoint/scale/internal/common/scaleerrors"
	"github.com/ngageoint/scale/internal/scheduler/execution"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
)

// PostgresExecutionRepository records job executions as they're scheduled and finish.
type PostgresExecutionRepository struct {
	db *pgxpool.Pool
}

func NewPostgresExecutionRepository(db *pgxpool.Pool) *PostgresExecutionRepository {
	return &PostgresExecutionRepository{db: db}
}

// ScheduleJobExecutions creates a running execution for each scheduled queue entry and removes every given entry,
// canceled or not, from the queue. All changes are made in a single transaction.
func (r *PostgresExecutionRepository) ScheduleJobExecutions(
	ctx context.Context,
	frameworkId string,
	queued []*execution.QueuedJobExecution,
	jobTypes map[int]*schedulerobjects.JobType,
	workspaces map[string]bool,
) (map[int][]*execution.RunningJobExecution, error) {
	var toSchedule []*execution.QueuedJobExecution
	queueIds := make([]int64, len(queued))
	for i, q := range queued {
		queueIds[i] = q.Id
		if q.IsCanceled {
			continue
		}
		if err := validateQueued(q, jobTypes, workspaces); err != nil {
			return nil, err
		}
		toSchedule = append(toSchedule, q)
	}

	rv := make(map[int][]*execution.RunningJobExecution)
	err := r.db.BeginTxFunc(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		jobIds := make([]int64, 0, len(toSchedule))
		if len(toSchedule) > 0 {
			if err := r.insertJobExes(ctx, tx, frameworkId, toSchedule, rv); err != nil {
				return err
			}
			for _, q := range toSchedule {
				jobIds = append(jobIds, q.JobId)
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE job SET status = 'RUNNING', node_id = e.node_id, last_modified = e.started
			 FROM job_exe e
			 WHERE e.job_id = job.id AND e.exe_num = job.num_exes AND job.id = ANY($1)`, jobIds); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM queue WHERE id = ANY($1)`, queueIds)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "error scheduling job executions")
	}
	return rv, nil
}

// insertJobExes adds the new running executions to rv, keyed by node id.
func (r *PostgresExecutionRepository) insertJobExes(
	ctx context.Context,
	tx pgx.Tx,
	frameworkId string,
	toSchedule []*execution.QueuedJobExecution,
	rv map[int][]*execution.RunningJobExecution,
) error {
	batch := &pgx.Batch{}
	for _, q := range toSchedule {
		batch.Queue(
			`INSERT INTO job_exe (job_id, exe_num, job_type_id, node_id, framework_id, agent_id, priority, resources, queued)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id, started`,
			q.JobId, q.ExeNum, q.JobTypeId, q.ScheduledNodeId, frameworkId, q.ScheduledAgentId, q.Priority,
			q.ScheduledResources.AsMap(), q.Queued)
	}
	results := tx.SendBatch(ctx, batch)
	defer results.Close()
	for _, q := range toSchedule {
		var id int64
		var started time.Time
		if err := results.QueryRow().Scan(&id, &started); err != nil {
			return err
		}
		rv[q.ScheduledNodeId] = append(rv[q.ScheduledNodeId], execution.NewRunningJobExecution(execution.RunningJobExecutionParams{
			Id:        id,
			JobId:     q.JobId,
			ExeNum:    q.ExeNum,
			JobTypeId: q.JobTypeId,
			NodeId:    q.ScheduledNodeId,
			AgentId:   q.ScheduledAgentId,
			Priority:  q.Priority,
			Started:   started,
			Resources: q.ScheduledResources,
			TaskTypes: TaskTypesFor(q),
		}))
	}
	return results.Close()
}

// CompleteJobExecutions records the final status of finished executions and their jobs.
func (r *PostgresExecutionRepository) CompleteJobExecutions(ctx context.Context, jobExes []*execution.RunningJobExecution) error {
	if len(jobExes) == 0 {
		return nil
	}
	err := r.db.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, exe := range jobExes {
			var errorName *string
			if name := exe.ErrorName(); name != "" {
				errorName = &name
			}
			batch.Queue(
				`UPDATE job_exe SET status = $2, error_name = $3, ended = $4 WHERE id = $1`,
				exe.Id, string(exe.Status()), errorName, exe.Finished())
			batch.Queue(
				`UPDATE job SET status = $2, error_name = $3, last_modified = $4 WHERE id = $1 AND num_exes = $5`,
				exe.JobId, string(exe.Status()), errorName, exe.Finished(), exe.ExeNum)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return errors.Wrap(err, "error completing job executions")
}

// GetNodesRunningJobExes returns the ids of the nodes with running executions.
func (r *PostgresExecutionRepository) GetNodesRunningJobExes(ctx context.Context) (map[int]bool, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT node_id FROM job_exe WHERE status = 'RUNNING'`)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	rv := make(map[int]bool)
	for rows.Next() {
		var nodeId int
		if err := rows.Scan(&nodeId); err != nil {
			return nil, errors.WithStack(err)
		}
		rv[nodeId] = true
	}
	return rv, errors.WithStack(rows.Err())
}

// GetCanceledJobExes returns the ids of the given executions that are still running but whose job has been canceled.
func (r *PostgresExecutionRepository) GetCanceledJobExes(ctx context.Context, jobExeIds []int64) ([]int64, error) {
	if len(jobExeIds) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT e.id FROM job_exe e JOIN job j ON j.id = e.job_id
		 WHERE e.id = ANY($1) AND e.status = 'RUNNING' AND j.status = 'CANCELED'
		 ORDER BY e.id`, jobExeIds)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	var rv []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.WithStack(err)
		}
		rv = append(rv, id)
	}
	return rv, errors.WithStack(rows.Err())
}

// TaskTypesFor returns the tasks an execution runs: the image pull, a pre task if it reads from workspaces,
// the main task, and a post task if it writes to workspaces.
func TaskTypesFor(q *execution.QueuedJobExecution) []tasks.Type {
	taskTypes := []tasks.Type{tasks.JobExePullTaskType}
	if len(q.InputWorkspaces) > 0 {
		taskTypes = append(taskTypes, tasks.JobExePreTaskType)
	}
	taskTypes = append(taskTypes, tasks.JobExeMainTaskType)
	if len(q.OutputWorkspaces) > 0 {
		taskTypes = append(taskTypes, tasks.JobExePostTaskType)
	}
	return taskTypes
}

func validateQueued(q *execution.QueuedJobExecution, jobTypes map[int]*schedulerobjects.JobType, workspaces map[string]bool) error {
	if !q.IsScheduled() {
		return errors.WithStack(&scaleerrors.ErrInvalidArgument{
			Name:    "queued",
			Value:   q.Id,
			Message: "execution has not been placed on a node",
		})
	}
	if _, ok := jobTypes[q.JobTypeId]; !ok {
		return errors.WithStack(&scaleerrors.ErrNotFound{Type: "job type", Value: strconv.Itoa(q.JobTypeId)})
	}
	for _, name := range q.WorkspaceNames() {
		if !workspaces[name] {
			return errors.WithStack(&scaleerrors.ErrNotFound{Type: "workspace", Value: name})
		}
	}
	return nil
}
