package scheduler

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/ngageoint/scale/internal/common"
	"github.com/ngageoint/scale/internal/common/app"
	dbcommon "github.com/ngageoint/scale/internal/common/database"
	"github.com/ngageoint/scale/internal/common/health"
	"github.com/ngageoint/scale/internal/common/logging"
	schedulerconfig "github.com/ngageoint/scale/internal/scheduler/configuration"
	"github.com/ngageoint/scale/internal/scheduler/database"
	"github.com/ngageoint/scale/internal/scheduler/execution"
	"github.com/ngageoint/scale/internal/scheduler/metrics"
	"github.com/ngageoint/scale/internal/scheduler/node"
	"github.com/ngageoint/scale/internal/scheduler/offers"
	"github.com/ngageoint/scale/internal/scheduler/scheduling"
	"github.com/ngageoint/scale/internal/scheduler/simulator"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
)

// Run sets up a Scheduler application and runs it until a SIGTERM is received
func Run(config schedulerconfig.Configuration) error {
	g, ctx := errgroup.WithContext(app.CreateContextWithShutdown())
	realClock := clock.RealClock{}

	//////////////////////////////////////////////////////////////////////////
	// Health Checks
	//////////////////////////////////////////////////////////////////////////
	mux := http.NewServeMux()
	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks := health.NewMultiChecker(startupCompleteCheck)
	health.SetupHttpMux(mux, healthChecks)
	shutdownHttpServer := common.ServeHttp(config.Http.Port, mux)
	defer shutdownHttpServer()

	// List of services to run concurrently.
	// Because we want to start services only once all input validation has been completed,
	// we add all services to a slice and start them together at the end of this function.
	var services []func() error

	//////////////////////////////////////////////////////////////////////////
	// Database setup (postgres and redis)
	//////////////////////////////////////////////////////////////////////////
	log.Infof("Setting up database connections")
	db, err := dbcommon.OpenPgxPool(ctx, config.Postgres)
	if err != nil {
		return errors.WithMessage(err, "error opening connection to postgres")
	}
	defer db.Close()
	queueRepository := database.NewPostgresQueueRepository(db)
	executionRepository := database.NewPostgresExecutionRepository(db)
	nodeRepository := database.NewPostgresNodeRepository(db)
	cachedRepository := database.NewCachedRepository(db, config.DatabaseCacheExpiry)

	redisClient := config.Redis.NewClient()
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.WithError(errors.WithStack(err)).Warnf("Redis client didn't close down cleanly")
		}
	}()
	shortageRepository := offers.NewRedisShortageRepository(redisClient, config.Offers.ShortagesKey)

	//////////////////////////////////////////////////////////////////////////
	// Metrics
	//////////////////////////////////////////////////////////////////////////
	schedulerMetrics := metrics.New()
	if !config.Metrics.Disabled {
		if err := prometheus.Register(schedulerMetrics); err != nil {
			return errors.WithStack(err)
		}
		// Counts log messages by level.
		hook, err := promrus.NewPrometheusHook()
		if err != nil {
			return errors.WithStack(err)
		}
		log.AddHook(hook)
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		shutdownMetricsServer := common.ServeHttp(config.Metrics.Port, metricsMux)
		defer shutdownMetricsServer()
	}

	//////////////////////////////////////////////////////////////////////////
	// Cluster state
	//////////////////////////////////////////////////////////////////////////
	offerManager, err := offers.NewManager(config.Offers.MaxOfferHoldDuration, config.Offers.WatermarkWindow)
	if err != nil {
		return errors.WithMessage(err, "error creating offer manager")
	}
	nodeManager := node.NewManager()
	taskManager, err := tasks.NewManager(tasks.DefaultRecentlyEndedCacheSize)
	if err != nil {
		return errors.WithMessage(err, "error creating task manager")
	}
	jobExeIndex := execution.NewIndex()
	systemTaskManager := tasks.NewSystemTaskManager()

	//////////////////////////////////////////////////////////////////////////
	// Cluster manager
	//////////////////////////////////////////////////////////////////////////
	log.Infof("Setting up simulated cluster with %d agent(s)", len(config.Simulator.Agents))
	router := newEventRouter(nodeManager, offerManager, taskManager, systemTaskManager, jobExeIndex, realClock)
	driver := simulator.NewDriver(config.Simulator, realClock, router)
	services = append(services, func() error { return driver.Run(ctx) })
	workload := simulator.NewWorkload(config.Simulator.Workload, queueRepository)
	services = append(services, func() error { return workload.Run(ctx, realClock, config.Simulator.OfferPeriod) })

	//////////////////////////////////////////////////////////////////////////
	// Scheduling
	//////////////////////////////////////////////////////////////////////////
	retryPolicy := config.Scheduling.DatabaseRetry
	retryPolicy.RetryIf = database.IsTransientError
	config.Scheduling.DatabaseRetry = retryPolicy
	schedulingManager, err := scheduling.NewSchedulingManager(
		config.Scheduling,
		queueRepository,
		nodeManager,
		offerManager,
		taskManager,
		jobExeIndex,
		driver,
		executionRepository,
		cachedRepository,
		cachedRepository,
		systemTaskManager,
		realClock,
		schedulerMetrics,
	)
	if err != nil {
		return errors.WithMessage(err, "error creating scheduling manager")
	}
	logger := logging.NewComponentLogger("scheduler")
	retryPolicy.OnRetry = func(attempt uint, err error) {
		logging.WithStacktrace(logger, err).Warnf("database call failed on attempt %d", attempt)
	}
	scheduler := NewScheduler(
		schedulingManager,
		nodeManager,
		offerManager,
		jobExeIndex,
		cachedRepository,
		nodeRepository,
		executionRepository,
		shortageRepository,
		config.CyclePeriod,
		realClock,
		retryPolicy,
		schedulerMetrics,
	)
	healthChecks.Add(scheduler)
	services = append(services, func() error { return scheduler.Run(ctx) })

	// start all services
	for _, service := range services {
		g.Go(service)
	}

	startupCompleteCheck.MarkComplete()
	return g.Wait()
}
