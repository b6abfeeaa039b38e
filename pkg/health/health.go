package health

import (
	"context"
	"sync"
	"time"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
	// StatusDegraded indicates a component is working but with reduced functionality
	StatusDegraded Status = "degraded"
)

// Component represents a system component that can be health-checked
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Critical    bool      `json:"critical"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check represents a health check function
type Check func(ctx context.Context) (Status, string, error)

type registration struct {
	check    Check
	critical bool
}

// Checker manages health checks for the system
type Checker struct {
	mu           sync.RWMutex
	checks       map[string]registration
	components   map[string]*Component
	checkPeriod  time.Duration
	checkTimeout time.Duration
	log          *logger.Logger
}

// NewChecker creates a new health checker
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	checker := &Checker{
		checks:       make(map[string]registration),
		components:   make(map[string]*Component),
		checkPeriod:  checkPeriod,
		checkTimeout: 5 * time.Second,
		log:          log,
	}

	checker.RegisterCheck("self", false, func(context.Context) (Status, string, error) {
		return StatusUp, "Health checker is running", nil
	})

	return checker
}

// RegisterCheck registers a health check. A critical component that is down
// makes the whole system unhealthy.
func (c *Checker) RegisterCheck(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = registration{check: check, critical: critical}
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Critical:    critical,
		Description: "Not checked yet",
	}
}

// RegisterPingCheck registers a check that is up whenever ping succeeds
func (c *Checker) RegisterPingCheck(name string, critical bool, ping func(ctx context.Context) error) {
	c.RegisterCheck(name, critical, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDown, name + " unreachable", err
		}
		return StatusUp, name + " reachable", nil
	})
}

// RunChecks executes all registered health checks. Checks run without the
// lock held so a slow dependency does not block status readers.
func (c *Checker) RunChecks(ctx context.Context) {
	c.mu.RLock()
	checks := make(map[string]registration, len(c.checks))
	for name, reg := range c.checks {
		checks[name] = reg
	}
	c.mu.RUnlock()

	for name, reg := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
		status, description, err := reg.check(checkCtx)
		cancel()

		c.mu.Lock()
		component, ok := c.components[name]
		if ok {
			component.Status = status
			component.Description = description
			component.LastChecked = time.Now()
			component.Error = ""
			if err != nil {
				component.Error = err.Error()
			}
		}
		c.mu.Unlock()

		if err != nil {
			c.log.Error("Health check failed",
				"component", name,
				"status", string(status),
				"error", err.Error(),
			)
		} else {
			c.log.Debug("Health check completed",
				"component", name,
				"status", string(status),
			)
		}
	}
}

// Start runs checks immediately and then periodically until ctx is done
func (c *Checker) Start(ctx context.Context) {
	go func() {
		c.RunChecks(ctx)

		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunChecks(ctx)
			}
		}
	}()
}

// GetStatus returns a copy of the current component statuses
func (c *Checker) GetStatus() map[string]Component {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]Component, len(c.components))
	for k, v := range c.components {
		result[k] = *v
	}
	return result
}

// IsSystemHealthy returns true if all critical components are up
func (c *Checker) IsSystemHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, component := range c.components {
		if component.Critical && component.Status == StatusDown {
			return false
		}
	}
	return true
}
