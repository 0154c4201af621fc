package database

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/ngageoint/scale/internal/scheduler/node"
)

// PostgresNodeRepository stores the nodes the scheduler has seen.
type PostgresNodeRepository struct {
	db *pgxpool.Pool
}

func NewPostgresNodeRepository(db *pgxpool.Pool) *PostgresNodeRepository {
	return &PostgresNodeRepository{db: db}
}

func (r *PostgresNodeRepository) GetSchedulerNodes(ctx context.Context, hostnames []string) ([]*node.Model, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, hostname, is_active, is_paused, last_offer_received FROM node
		 WHERE is_active OR hostname = ANY($1)
		 ORDER BY id`, hostnames)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return scanNodes(rows)
}

// CreateNodes creates active nodes with the given hostnames. Nodes that already exist are reactivated.
func (r *PostgresNodeRepository) CreateNodes(ctx context.Context, hostnames []string) ([]*node.Model, error) {
	rows, err := r.db.Query(ctx,
		`INSERT INTO node (hostname) SELECT unnest($1::text[])
		 ON CONFLICT (hostname) DO UPDATE SET is_active = true, last_modified = now()
		 RETURNING id, hostname, is_active, is_paused, last_offer_received`, hostnames)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return scanNodes(rows)
}

func (r *PostgresNodeRepository) SetNodeActive(ctx context.Context, nodeId int, isActive bool) error {
	_, err := r.db.Exec(ctx, `UPDATE node SET is_active = $2, last_modified = now() WHERE id = $1`, nodeId, isActive)
	return errors.WithStack(err)
}

// SetNodePaused pauses or resumes scheduling of new jobs on a node.
func (r *PostgresNodeRepository) SetNodePaused(ctx context.Context, hostname string, isPaused bool) error {
	_, err := r.db.Exec(ctx, `UPDATE node SET is_paused = $2, last_modified = now() WHERE hostname = $1`, hostname, isPaused)
	return errors.WithStack(err)
}

func scanNodes(rows pgx.Rows) ([]*node.Model, error) {
	defer rows.Close()
	var rv []*node.Model
	for rows.Next() {
		model := &node.Model{}
		if err := rows.Scan(&model.Id, &model.Hostname, &model.IsActive, &model.IsPaused, &model.LastOfferReceived); err != nil {
			return nil, errors.WithStack(err)
		}
		rv = append(rv, model)
	}
	return rv, errors.WithStack(rows.Err())
}
