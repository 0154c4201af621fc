package configuration

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ngageoint/scale/internal/common/config"
	"github.com/ngageoint/scale/internal/common/database"
	"github.com/ngageoint/scale/internal/common/util"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
)

type Configuration struct {
	// One of the logrus levels, e.g., "info" or "debug"
	LogLevel string
	// How often the scheduling cycle should run
	CyclePeriod time.Duration `validate:"required"`
	Http        HttpConfig
	Metrics     MetricsConfig
	Scheduling  SchedulingConfig
	Offers      OffersConfig
	// Database configuration
	Postgres database.PostgresConfig
	// Redis is used to publish agent resource shortages
	Redis config.RedisConfig
	// How long job types and workspaces read from the database are cached for
	DatabaseCacheExpiry time.Duration `validate:"required"`
	Simulator           SimulatorConfig
}

func (c Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterStructValidation(SchedulingConfigValidation, SchedulingConfig{})
	return validate.Struct(c)
}

type HttpConfig struct {
	// Port serving /health
	Port uint16 `validate:"required"`
}

type MetricsConfig struct {
	// If true, disable metric collection and publishing.
	Disabled bool
	Port     uint16 `validate:"required_unless=Disabled true"`
}

type SchedulingConfig struct {
	// Order of queued executions of equal priority, FIFO or LIFO
	QueueMode string `validate:"required"`
	// Maximum number of executions read from the queue per cycle
	QueueLimit int `validate:"gte=1"`
	// A task waiting for resources for this many consecutive cycles is reported as a resource shortage
	TaskShortageWaitCount int `validate:"gte=1"`
	// Phases taking longer than these are logged as warnings
	ProcessQueueWarnThreshold  time.Duration `validate:"gte=0"`
	ScheduleQueryWarnThreshold time.Duration `validate:"gte=0"`
	LaunchTaskWarnThreshold    time.Duration `validate:"gte=0"`
	// Retry policy for recording newly scheduled executions
	DatabaseRetry util.RetryPolicy
}

func SchedulingConfigValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(SchedulingConfig)
	switch c.QueueMode {
	case "FIFO", "LIFO", "fifo", "lifo":
	default:
		sl.ReportError(c.QueueMode, "QueueMode", "QueueMode", "queuemode", "")
	}
	if c.DatabaseRetry.MaxDelay < c.DatabaseRetry.BaseDelay {
		sl.ReportError(c.DatabaseRetry.MaxDelay, "MaxDelay", "MaxDelay", "gtefield", "BaseDelay")
	}
}

type OffersConfig struct {
	// Offers held at least this long are always allocated, so they are not kept indefinitely
	MaxOfferHoldDuration time.Duration `validate:"required"`
	// Length of the window over which each agent's rolling watermark is calculated
	WatermarkWindow time.Duration `validate:"required"`
	// Redis hash that agent resource shortages are published to
	ShortagesKey string `validate:"required"`
}

type SimulatorConfig struct {
	// Framework id reported by the simulated cluster manager
	FrameworkId string         `validate:"required"`
	Agents      []AgentConfig  `validate:"dive"`
	// How long each simulated task runs before finishing
	TaskDuration time.Duration `validate:"required"`
	// How often the simulated cluster manager sends offers and task updates
	OfferPeriod time.Duration `validate:"required"`
	Workload    WorkloadConfig
}

// WorkloadConfig describes jobs queued by the simulator at a steady rate.
type WorkloadConfig struct {
	// Jobs queued per second. Zero disables the workload.
	JobsPerSecond float64 `validate:"gte=0"`
	// Maximum number of jobs queued at once
	Burst     int `validate:"gte=0"`
	Templates []JobTemplateConfig `validate:"dive"`
}

// JobTemplateConfig is a job queued by the simulated workload. Templates are used in turn.
type JobTemplateConfig struct {
	JobTypeId int `validate:"gte=1"`
	// Lower values are more important
	Priority         int
	Resources        *schedulerobjects.NodeResources `validate:"required"`
	InputWorkspaces  []string
	OutputWorkspaces []string
}

type AgentConfig struct {
	AgentId  string `validate:"required"`
	Hostname string `validate:"required"`
	// Total resources of the agent, e.g., {cpus: 4, mem: 16Gi, disk: 100Gi}
	Resources *schedulerobjects.NodeResources `validate:"required"`
}
