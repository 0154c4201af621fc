package cmd

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ngageoint/scale/internal/common/database"
	schedulerdb "github.com/ngageoint/scale/internal/scheduler/database"
)

func cancelJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancelJobs",
		Short: "cancels queued and running jobs",
		Long: `Marks the given jobs as canceled. Queued executions are dropped at the next scheduling
cycle; running executions are canceled once the scheduler sees the job's status.`,
		RunE: cancelJobs,
	}
	cmd.Flags().Int64Slice("jobId", nil, "Id of a job to cancel (repeat this arg or separate ids with commas)")
	cmd.Flags().Duration("timeout", time.Minute, "Duration after which canceling will fail if it has not completed")
	_ = cmd.MarkFlagRequired("jobId")
	return cmd
}

func cancelJobs(cmd *cobra.Command, _ []string) error {
	jobIds, err := cmd.Flags().GetInt64Slice("jobId")
	if err != nil {
		return errors.WithStack(err)
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return errors.WithStack(err)
	}
	config, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	db, err := database.OpenPgxPool(ctx, config.Postgres)
	if err != nil {
		return errors.WithMessage(err, "failed to connect to database")
	}
	defer db.Close()
	if err := schedulerdb.NewPostgresQueueRepository(db).CancelJobs(ctx, jobIds, time.Now()); err != nil {
		return err
	}
	log.Infof("Canceled %d job(s)", len(jobIds))
	return nil
}
