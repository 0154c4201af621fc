package metrics

const (

	// common prefix for all metric names
	prefix = "scale_scheduler_"

	// Prometheus Labels
	phaseLabel  = "phase"
	reasonLabel = "reason"
	nodeLabel   = "node"
	stateLabel  = "state"

	// Phases of a scheduling cycle
	ProcessQueuePhase  = "process_queue"
	ScheduleQueryPhase = "schedule_query"
	LaunchTasksPhase   = "launch_tasks"

	// Reasons a queued execution is skipped
	UnknownJobTypeReason        = "unknown_job_type"
	MissingWorkspaceReason      = "missing_workspace"
	JobTypeLimitReason          = "job_type_limit"
	InvalidResourcesReason      = "invalid_resources"
	InsufficientResourcesReason = "insufficient_resources"
)
