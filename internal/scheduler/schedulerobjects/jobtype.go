package schedulerobjects

// JobType is the scheduler's view of a job type.
type JobType struct {
	Id      int
	Name    string
	Version string
	// Maximum number of executions of this type that may be scheduled at once. Zero means unlimited.
	MaxScheduled int
	IsPaused     bool
	// Resources required by a single execution of this type.
	Resources *NodeResources
}

// HasLimit returns true if the number of concurrently scheduled executions of this type is capped.
func (jt *JobType) HasLimit() bool {
	return jt.MaxScheduled > 0
}
