package node

// State is the scheduling state of a node, derived from its flags and conditions.
type State struct {
	Name        string
	Title       string
	Description string
}

func (s State) String() string {
	return s.Name
}

var (
	StateDeprecated = State{
		Name:        "DEPRECATED",
		Title:       "Deprecated",
		Description: "Node is deprecated and will not be used. Existing jobs on the node will be failed.",
	}
	StateOffline = State{
		Name:        "OFFLINE",
		Title:       "Offline",
		Description: "Node is offline/unavailable, so no jobs can currently run on it.",
	}
	StatePaused = State{
		Name:        "PAUSED",
		Title:       "Paused",
		Description: "Node is paused, so no new jobs will be scheduled. Existing jobs will continue to run.",
	}
	StateSchedulerStopped = State{
		Name:        "SCHEDULER_STOPPED",
		Title:       "Scheduler Stopped",
		Description: "Scheduler is paused, so no new jobs will be scheduled. Existing jobs will continue to run.",
	}
	StateDegraded = State{
		Name:  "DEGRADED",
		Title: "Degraded",
		Description: "Node has an error condition, putting it in a degraded state. New jobs will not be scheduled, " +
			"and the node will attempt to continue to run existing jobs.",
	}
	StateInitialCleanup = State{
		Name:        "INITIAL_CLEANUP",
		Title:       "Cleaning up",
		Description: "Node is performing an initial cleanup step to remove existing containers and volumes.",
	}
	StateImagePull = State{
		Name:        "IMAGE_PULL",
		Title:       "Pulling image",
		Description: "Node is pulling the scheduler's container image.",
	}
	StateReady = State{
		Name:        "READY",
		Title:       "Ready",
		Description: "Node is ready to run new jobs.",
	}
)
