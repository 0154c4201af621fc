package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/ngageoint/scale/internal/common/logging"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
)

// DefaultCacheExpiration is how long job types, workspaces, and scheduler settings are used before being reloaded.
const DefaultCacheExpiration = 30 * time.Second

const (
	jobTypesKey        = "jobTypes"
	workspacesKey      = "workspaces"
	schedulerPausedKey = "schedulerPaused"
)

// CachedRepository serves the job types, workspaces, and scheduler settings the scheduling cycle needs without
// querying Postgres every cycle. Refresh reloads whatever has expired.
// If a reload fails, the expired values are no longer served: no job types or workspaces are known until the next
// successful refresh, so nothing new is scheduled.
type CachedRepository struct {
	cache  *cache.Cache
	logger *log.Entry

	loadJobTypes        func(ctx context.Context) (map[int]*schedulerobjects.JobType, error)
	loadWorkspaces      func(ctx context.Context) (map[string]bool, error)
	loadSchedulerPaused func(ctx context.Context) (bool, error)
}

func NewCachedRepository(db *pgxpool.Pool, expiration time.Duration) *CachedRepository {
	r := newCachedRepository(expiration)
	r.loadJobTypes = func(ctx context.Context) (map[int]*schedulerobjects.JobType, error) {
		return queryJobTypes(ctx, db)
	}
	r.loadWorkspaces = func(ctx context.Context) (map[string]bool, error) {
		return queryWorkspaces(ctx, db)
	}
	r.loadSchedulerPaused = func(ctx context.Context) (bool, error) {
		return querySchedulerPaused(ctx, db)
	}
	return r
}

func newCachedRepository(expiration time.Duration) *CachedRepository {
	if expiration <= 0 {
		expiration = DefaultCacheExpiration
	}
	return &CachedRepository{
		cache:  cache.New(expiration, 2*expiration),
		logger: logging.NewComponentLogger("database"),
	}
}

// Refresh reloads every expired value. Values that loaded successfully are cached even if others fail.
func (r *CachedRepository) Refresh(ctx context.Context) error {
	var errs []error
	if _, found := r.cache.Get(jobTypesKey); !found {
		if jobTypes, err := r.loadJobTypes(ctx); err != nil {
			errs = append(errs, err)
		} else {
			r.cache.SetDefault(jobTypesKey, jobTypes)
		}
	}
	if _, found := r.cache.Get(workspacesKey); !found {
		if workspaces, err := r.loadWorkspaces(ctx); err != nil {
			errs = append(errs, err)
		} else {
			r.cache.SetDefault(workspacesKey, workspaces)
		}
	}
	if _, found := r.cache.Get(schedulerPausedKey); !found {
		if isPaused, err := r.loadSchedulerPaused(ctx); err != nil {
			errs = append(errs, err)
		} else {
			r.cache.SetDefault(schedulerPausedKey, isPaused)
		}
	}
	if len(errs) > 0 {
		return errors.WithMessagef(errs[0], "error refreshing %d cached value(s)", len(errs))
	}
	return nil
}

// Invalidate forces every value to be reloaded at the next refresh.
func (r *CachedRepository) Invalidate() {
	r.cache.Flush()
}

// GetJobTypes returns the active job types, keyed by id. The returned map must not be modified.
func (r *CachedRepository) GetJobTypes() map[int]*schedulerobjects.JobType {
	if jobTypes, found := r.cache.Get(jobTypesKey); found {
		return jobTypes.(map[int]*schedulerobjects.JobType)
	}
	r.logger.Debug("No job types cached")
	return map[int]*schedulerobjects.JobType{}
}

// GetJobTypeResources returns the resources required by each active job type, ordered by job type id.
func (r *CachedRepository) GetJobTypeResources() []*schedulerobjects.NodeResources {
	jobTypes := r.GetJobTypes()
	ids := maps.Keys(jobTypes)
	slices.Sort(ids)
	rv := make([]*schedulerobjects.NodeResources, len(ids))
	for i, id := range ids {
		rv[i] = jobTypes[id].Resources.DeepCopy()
	}
	return rv
}

// GetWorkspaces returns the names of the active workspaces. The returned map must not be modified.
func (r *CachedRepository) GetWorkspaces() map[string]bool {
	if workspaces, found := r.cache.Get(workspacesKey); found {
		return workspaces.(map[string]bool)
	}
	r.logger.Debug("No workspaces cached")
	return map[string]bool{}
}

// IsSchedulerPaused returns true if scheduling of new jobs has been paused. Unknown is treated as not paused.
func (r *CachedRepository) IsSchedulerPaused() bool {
	if isPaused, found := r.cache.Get(schedulerPausedKey); found {
		return isPaused.(bool)
	}
	return false
}

func queryJobTypes(ctx context.Context, db *pgxpool.Pool) (map[int]*schedulerobjects.JobType, error) {
	rows, err := db.Query(ctx,
		`SELECT id, name, version, max_scheduled, is_paused, resources FROM job_type WHERE is_active`)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	rv := make(map[int]*schedulerobjects.JobType)
	for rows.Next() {
		var resources map[string]float64
		jobType := &schedulerobjects.JobType{}
		if err := rows.Scan(&jobType.Id, &jobType.Name, &jobType.Version, &jobType.MaxScheduled, &jobType.IsPaused, &resources); err != nil {
			return nil, errors.WithStack(err)
		}
		jobType.Resources = schedulerobjects.NewNodeResources(resources)
		rv[jobType.Id] = jobType
	}
	return rv, errors.WithStack(rows.Err())
}

func queryWorkspaces(ctx context.Context, db *pgxpool.Pool) (map[string]bool, error) {
	rows, err := db.Query(ctx, `SELECT name FROM workspace WHERE is_active`)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	rv := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.WithStack(err)
		}
		rv[name] = true
	}
	return rv, errors.WithStack(rows.Err())
}

func querySchedulerPaused(ctx context.Context, db *pgxpool.Pool) (bool, error) {
	var isPaused bool
	err := db.QueryRow(ctx, `SELECT is_paused FROM scheduler WHERE id = 1`).Scan(&isPaused)
	return isPaused, errors.WithStack(err)
}
