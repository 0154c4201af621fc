package health

import (
	"sync"

	"github.com/pkg/errors"
)

// Checker reports the health of a component. A nil error means healthy.
type Checker interface {
	Check() error
}

// StartupCompleteChecker is unhealthy until MarkComplete has been called.
type StartupCompleteChecker struct {
	mu         sync.Mutex
	isComplete bool
}

func NewStartupCompleteChecker() *StartupCompleteChecker {
	return &StartupCompleteChecker{}
}

func (c *StartupCompleteChecker) MarkComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isComplete = true
}

func (c *StartupCompleteChecker) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isComplete {
		return errors.New("startup is not complete")
	}
	return nil
}
