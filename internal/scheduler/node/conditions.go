package node

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Exit codes of the health check task.
const (
	HealthBadDaemonCode      = 2
	HealthLowDockerSpaceCode = 3
	HealthBadLogstashCode    = 4
)

const (
	// Nodes with at least this many executions waiting to be cleaned up get a slow cleanup warning.
	JobExesWarningThreshold = 100
	// Cleanup warnings are cleared this long after they were last raised.
	CleanupWarningThreshold = 3 * time.Hour
)

// ErrorType is a kind of error that puts a node in the DEGRADED state.
type ErrorType struct {
	Name        string
	Title       string
	Description string
	// The container daemon can't run tasks while this error is active.
	DaemonBad bool
	// Image pulls shouldn't be attempted while this error is active.
	PullBad bool
}

var (
	ErrorBadDaemon = ErrorType{
		Name:        "BAD_DAEMON",
		Title:       "Docker Not Responding",
		Description: "The Docker daemon on this node is not responding.",
		DaemonBad:   true,
		PullBad:     true,
	}
	ErrorBadLogstash = ErrorType{
		Name:        "BAD_LOGSTASH",
		Title:       "Fluentd Not Responding",
		Description: "The log forwarder is not responding to this node.",
	}
	ErrorCleanup = ErrorType{
		Name:        "CLEANUP",
		Title:       "Cleanup Failure",
		Description: "The node failed to clean up some containers and volumes.",
	}
	ErrorHealthFail = ErrorType{
		Name:        "HEALTH_FAIL",
		Title:       "Health Check Failure",
		Description: "The last node health check failed with an unknown exit code.",
	}
	ErrorHealthTimeout = ErrorType{
		Name:        "HEALTH_TIMEOUT",
		Title:       "Health Check Timeout",
		Description: "The last node health check timed out.",
	}
	ErrorImagePull = ErrorType{
		Name:        "IMAGE_PULL",
		Title:       "Image Pull Failure",
		Description: "The node failed to pull the scheduler's image from the registry.",
	}
	ErrorLowDockerSpace = ErrorType{
		Name:        "LOW_DOCKER_SPACE",
		Title:       "Low Docker Disk Space",
		Description: "The free disk space available to Docker is low.",
		PullBad:     true,
	}

	// Errors a health check can raise; all are cleared by the next health check.
	healthErrors = []ErrorType{ErrorBadDaemon, ErrorBadLogstash, ErrorHealthFail, ErrorHealthTimeout, ErrorLowDockerSpace}
)

const (
	warningSlowCleanup    = "SLOW_CLEANUP"
	warningCleanupFailure = "CLEANUP_FAILURE"
	warningCleanupTimeout = "CLEANUP_TIMEOUT"
)

// ActiveError is an error currently affecting a node.
type ActiveError struct {
	Type        ErrorType
	Started     time.Time
	LastUpdated time.Time
}

// ActiveWarning is a warning currently raised for a node. Warnings don't change the node's state.
type ActiveWarning struct {
	Name        string
	Title       string
	Description string
	Started     time.Time
	LastUpdated time.Time
}

// Conditions holds the errors and warnings currently affecting a node.
// Not safe for concurrent use; guarded by the owning node's mutex.
type Conditions struct {
	hostname       string
	activeErrors   map[string]*ActiveError
	activeWarnings map[string]*ActiveWarning
	// Incremented for every cleanup failure or timeout warning so each gets its own entry.
	warningCounter int

	isDaemonBad         bool
	isHealthCheckNormal bool
	isPullBad           bool
}

func NewConditions(hostname string) *Conditions {
	return &Conditions{
		hostname:            hostname,
		activeErrors:        make(map[string]*ActiveError),
		activeWarnings:      make(map[string]*ActiveWarning),
		isHealthCheckNormal: true,
	}
}

func (c *Conditions) HasActiveErrors() bool {
	return len(c.activeErrors) > 0
}

func (c *Conditions) IsDaemonBad() bool {
	return c.isDaemonBad
}

func (c *Conditions) IsPullBad() bool {
	return c.isPullBad
}

func (c *Conditions) IsHealthCheckNormal() bool {
	return c.isHealthCheckNormal
}

// Errors returns copies of the active errors, sorted by name.
func (c *Conditions) Errors() []ActiveError {
	rv := make([]ActiveError, 0, len(c.activeErrors))
	for _, name := range sortedKeys(c.activeErrors) {
		rv = append(rv, *c.activeErrors[name])
	}
	return rv
}

// Warnings returns copies of the active warnings, sorted by name.
func (c *Conditions) Warnings() []ActiveWarning {
	rv := make([]ActiveWarning, 0, len(c.activeWarnings))
	for _, name := range sortedKeys(c.activeWarnings) {
		rv = append(rv, *c.activeWarnings[name])
	}
	return rv
}

// LastCleanupError returns when the cleanup error was last raised, if it is active.
func (c *Conditions) LastCleanupError() (time.Time, bool) {
	return c.lastError(ErrorCleanup)
}

// LastImagePullError returns when the image pull error was last raised, if it is active.
func (c *Conditions) LastImagePullError() (time.Time, bool) {
	return c.lastError(ErrorImagePull)
}

func (c *Conditions) HandleCleanupTaskCompleted(when time.Time) {
	c.errorInactive(ErrorCleanup)
	for name, warning := range c.activeWarnings {
		if when.Sub(warning.LastUpdated) >= CleanupWarningThreshold {
			delete(c.activeWarnings, name)
		}
	}
	c.updateFlags()
}

func (c *Conditions) HandleCleanupTaskFailed(jobExeIds []int64, when time.Time) {
	c.errorActive(ErrorCleanup, when)
	c.cleanupWarning(warningCleanupFailure, "Cleanup Failure", "There was a failure cleaning up some of the following job executions: %v", jobExeIds, when)
	c.updateFlags()
}

func (c *Conditions) HandleCleanupTaskTimeout(jobExeIds []int64, when time.Time) {
	c.errorActive(ErrorCleanup, when)
	c.cleanupWarning(warningCleanupTimeout, "Cleanup Timeout", "There was a timeout cleaning up some of the following job executions: %v", jobExeIds, when)
	c.updateFlags()
}

func (c *Conditions) HandleHealthTaskCompleted() {
	c.isHealthCheckNormal = true
	c.errorsInactive(healthErrors)
	c.updateFlags()
}

func (c *Conditions) HandleHealthTaskFailed(exitCode int, when time.Time) {
	c.isHealthCheckNormal = false
	c.errorsInactive(healthErrors)
	switch exitCode {
	case HealthBadDaemonCode:
		log.Warnf("Docker daemon not responding on host %s", c.hostname)
		c.errorActive(ErrorBadDaemon, when)
	case HealthLowDockerSpaceCode:
		log.Warnf("Low Docker disk space on host %s", c.hostname)
		c.errorActive(ErrorLowDockerSpace, when)
	case HealthBadLogstashCode:
		log.Warnf("Log forwarder not responding on host %s", c.hostname)
		c.errorActive(ErrorBadLogstash, when)
	default:
		log.Errorf("Unknown health check exit code %d on host %s", exitCode, c.hostname)
		c.errorActive(ErrorHealthFail, when)
	}
	c.updateFlags()
}

func (c *Conditions) HandleHealthTaskTimeout(when time.Time) {
	c.isHealthCheckNormal = false
	c.errorsInactive(healthErrors)
	c.errorActive(ErrorHealthTimeout, when)
	c.updateFlags()
}

func (c *Conditions) HandlePullTaskCompleted() {
	c.errorInactive(ErrorImagePull)
	c.updateFlags()
}

// HandlePullTaskFailed is also used when the pull task times out.
func (c *Conditions) HandlePullTaskFailed(when time.Time) {
	c.errorActive(ErrorImagePull, when)
	c.updateFlags()
}

// UpdateCleanupCount raises or clears the slow cleanup warning.
func (c *Conditions) UpdateCleanupCount(numJobExes int, when time.Time) {
	if numJobExes < JobExesWarningThreshold {
		delete(c.activeWarnings, warningSlowCleanup)
		return
	}
	description := fmt.Sprintf("There are %d job executions waiting to be cleaned up on this node.", numJobExes)
	c.warningActive(warningSlowCleanup, "Slow Cleanup", description, when)
}

func (c *Conditions) cleanupWarning(name, title, format string, jobExeIds []int64, when time.Time) {
	if len(jobExeIds) == 0 {
		log.Warnf("%s on host %s with no job executions", title, c.hostname)
		return
	}
	// These outlive the cleanup error, so repeated failures on the same node remain visible.
	c.warningCounter++
	c.warningActive(fmt.Sprintf("%s %d", name, c.warningCounter), title, fmt.Sprintf(format, jobExeIds), when)
}

func (c *Conditions) lastError(errorType ErrorType) (time.Time, bool) {
	if activeError, ok := c.activeErrors[errorType.Name]; ok {
		return activeError.LastUpdated, true
	}
	return time.Time{}, false
}

func (c *Conditions) errorActive(errorType ErrorType, when time.Time) {
	activeError, ok := c.activeErrors[errorType.Name]
	if !ok {
		activeError = &ActiveError{Type: errorType, Started: when}
		c.activeErrors[errorType.Name] = activeError
	}
	activeError.LastUpdated = when
}

func (c *Conditions) errorInactive(errorType ErrorType) {
	delete(c.activeErrors, errorType.Name)
}

func (c *Conditions) errorsInactive(errorTypes []ErrorType) {
	for _, errorType := range errorTypes {
		c.errorInactive(errorType)
	}
}

func (c *Conditions) warningActive(name, title, description string, when time.Time) {
	warning, ok := c.activeWarnings[name]
	if !ok {
		warning = &ActiveWarning{Name: name, Title: title, Started: when}
		c.activeWarnings[name] = warning
	}
	warning.Description = description
	warning.LastUpdated = when
}

func (c *Conditions) updateFlags() {
	c.isDaemonBad = false
	c.isPullBad = false
	for _, activeError := range c.activeErrors {
		c.isDaemonBad = c.isDaemonBad || activeError.Type.DaemonBad
		c.isPullBad = c.isPullBad || activeError.Type.PullBad
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
