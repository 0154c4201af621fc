package database

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/ngageoint/scale/internal/scheduler/execution"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/scheduling"
)

var (
	dialect = goqu.Dialect("postgres")

	queueTable = goqu.T("queue")

	queue_id               = goqu.C("id")
	queue_jobId            = goqu.C("job_id")
	queue_exeNum           = goqu.C("exe_num")
	queue_jobTypeId        = goqu.C("job_type_id")
	queue_priority         = goqu.C("priority")
	queue_resources        = goqu.C("resources")
	queue_inputWorkspaces  = goqu.C("input_workspaces")
	queue_outputWorkspaces = goqu.C("output_workspaces")
	queue_isCanceled       = goqu.C("is_canceled")
	queue_queued           = goqu.C("queued")
)

// PostgresQueueRepository reads the queue of job executions waiting to be scheduled.
type PostgresQueueRepository struct {
	db *pgxpool.Pool
}

func NewPostgresQueueRepository(db *pgxpool.Pool) *PostgresQueueRepository {
	return &PostgresQueueRepository{db: db}
}

// GetQueue returns up to limit queued executions, most important first. Within a priority, executions are ordered by
// the time they were queued, oldest first for FIFO and newest first for LIFO. Executions of the ignored job types
// are left out.
func (r *PostgresQueueRepository) GetQueue(ctx context.Context, mode scheduling.QueueMode, ignoreJobTypeIds []int, limit int) ([]*execution.QueuedJobExecution, error) {
	query, args, err := getQueueSql(mode, ignoreJobTypeIds, limit)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var rv []*execution.QueuedJobExecution
	for rows.Next() {
		var resources map[string]float64
		q := &execution.QueuedJobExecution{}
		err := rows.Scan(
			&q.Id,
			&q.JobId,
			&q.ExeNum,
			&q.JobTypeId,
			&q.Priority,
			&resources,
			&q.InputWorkspaces,
			&q.OutputWorkspaces,
			&q.IsCanceled,
			&q.Queued,
		)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		q.RequiredResources = schedulerobjects.NewNodeResources(resources)
		rv = append(rv, q)
	}
	return rv, errors.WithStack(rows.Err())
}

func getQueueSql(mode scheduling.QueueMode, ignoreJobTypeIds []int, limit int) (string, []interface{}, error) {
	var queuedOrder exp.OrderedExpression
	switch mode {
	case scheduling.QueueModeFIFO:
		queuedOrder = queue_queued.Asc()
	case scheduling.QueueModeLIFO:
		queuedOrder = queue_queued.Desc()
	default:
		_, err := scheduling.ParseQueueMode(string(mode))
		return "", nil, err
	}
	ds := dialect.
		From(queueTable).
		Prepared(true).
		Select(
			queue_id,
			queue_jobId,
			queue_exeNum,
			queue_jobTypeId,
			queue_priority,
			queue_resources,
			queue_inputWorkspaces,
			queue_outputWorkspaces,
			queue_isCanceled,
			queue_queued).
		Order(queue_priority.Asc(), queuedOrder, queue_id.Asc())
	if len(ignoreJobTypeIds) > 0 {
		ds = ds.Where(queue_jobTypeId.NotIn(ignoreJobTypeIds))
	}
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	query, args, err := ds.ToSQL()
	return query, args, errors.WithStack(err)
}

// QueuedJob is a new job to be queued for execution.
type QueuedJob struct {
	JobTypeId        int
	Priority         int
	Resources        *schedulerobjects.NodeResources
	InputWorkspaces  []string
	OutputWorkspaces []string
}

// Enqueue creates the given jobs and queues their first executions, returning the new job ids in order.
func (r *PostgresQueueRepository) Enqueue(ctx context.Context, jobs []QueuedJob, now time.Time) ([]int64, error) {
	jobIds := make([]int64, len(jobs))
	err := r.db.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for i, job := range jobs {
			err := tx.QueryRow(ctx,
				`INSERT INTO job (job_type_id, status, num_exes, created, last_modified)
				 VALUES ($1, 'QUEUED', 1, $2, $2) RETURNING id`,
				job.JobTypeId, now).Scan(&jobIds[i])
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO queue (job_id, exe_num, job_type_id, priority, resources, input_workspaces, output_workspaces, queued)
				 VALUES ($1, 1, $2, $3, $4, $5, $6, $7)`,
				jobIds[i], job.JobTypeId, job.Priority, job.Resources.AsMap(), nonNil(job.InputWorkspaces), nonNil(job.OutputWorkspaces), now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "error queueing jobs")
	}
	return jobIds, nil
}

// CancelJobs cancels the given jobs. Queued executions are marked canceled and removed at the next scheduling cycle;
// running executions are canceled by the scheduler once it sees the job's status.
func (r *PostgresQueueRepository) CancelJobs(ctx context.Context, jobIds []int64, now time.Time) error {
	err := r.db.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE queue SET is_canceled = true WHERE job_id = ANY($1)`, jobIds); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE job SET status = 'CANCELED', last_modified = $2 WHERE id = ANY($1) AND status IN ('QUEUED', 'RUNNING')`, jobIds, now)
		return err
	})
	return errors.Wrap(err, "error canceling jobs")
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
