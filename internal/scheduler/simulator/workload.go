package simulator

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/ngageoint/scale/internal/common/logging"
	"github.com/ngageoint/scale/internal/scheduler/configuration"
	"github.com/ngageoint/scale/internal/scheduler/database"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, jobs []database.QueuedJob, now time.Time) ([]int64, error)
}

// Workload queues jobs from a fixed set of templates at a steady rate.
type Workload struct {
	templates []configuration.JobTemplateConfig
	limiter   *rate.Limiter
	burst     int
	enqueuer  Enqueuer
	// Index of the template used for the next job.
	next   int
	logger *log.Entry
}

func NewWorkload(config configuration.WorkloadConfig, enqueuer Enqueuer) *Workload {
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Workload{
		templates: config.Templates,
		limiter:   rate.NewLimiter(rate.Limit(config.JobsPerSecond), burst),
		burst:     burst,
		enqueuer:  enqueuer,
		logger:    logging.NewComponentLogger("workload"),
	}
}

func (w *Workload) IsEnabled() bool {
	return len(w.templates) > 0 && w.limiter.Limit() > 0
}

// Submit queues as many jobs as the rate allows at the given time and returns the number queued.
func (w *Workload) Submit(ctx context.Context, now time.Time) (int, error) {
	if !w.IsEnabled() {
		return 0, nil
	}
	var jobs []database.QueuedJob
	for len(jobs) < w.burst && w.limiter.AllowN(now, 1) {
		template := w.templates[w.next]
		w.next = (w.next + 1) % len(w.templates)
		jobs = append(jobs, database.QueuedJob{
			JobTypeId:        template.JobTypeId,
			Priority:         template.Priority,
			Resources:        template.Resources.DeepCopy(),
			InputWorkspaces:  template.InputWorkspaces,
			OutputWorkspaces: template.OutputWorkspaces,
		})
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	if _, err := w.enqueuer.Enqueue(ctx, jobs, now); err != nil {
		return 0, err
	}
	w.logger.Debugf("Queued %d job(s)", len(jobs))
	return len(jobs), nil
}

// Run submits jobs every period until ctx is cancelled. Failures are logged and retried at the next period.
func (w *Workload) Run(ctx context.Context, clock clock.WithTicker, period time.Duration) error {
	if !w.IsEnabled() {
		return nil
	}
	ticker := clock.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if _, err := w.Submit(ctx, clock.Now()); err != nil {
				logging.WithStacktrace(w.logger, err).Warn("Error queueing simulated jobs")
			}
		}
	}
}
