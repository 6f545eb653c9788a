// health.go - Component health for validator and wallet daemons.
package health

import (
	"sort"
	"sync"
	"time"
)

// Status of a component or of the whole process.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// Component is the last known health of one dependency.
type Component struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// Report is the aggregated health.
type Report struct {
	Status     Status        `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`
	Components []Component   `json:"components"`
	Uptime     time.Duration `json:"uptime"`
	Version    string        `json:"version"`
}

// Checker runs registered checks.
type Checker struct {
	mu         sync.Mutex
	components map[string]*Component
	checks     map[string]func() error
	start      time.Time
	version    string
}

// NewChecker returns a checker reporting version.
func NewChecker(version string) *Checker {
	return &Checker{
		components: make(map[string]*Component),
		checks:     make(map[string]func() error),
		start:      time.Now(),
		version:    version,
	}
}

// Register adds a check. A nil check registers a component whose status is
// only changed through Update.
func (c *Checker) Register(name string, check func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = &Component{Name: name, Status: Healthy, Message: "registered", LastCheck: time.Now()}
	if check != nil {
		c.checks[name] = check
	}
}

// Update sets the status of a component by hand.
func (c *Checker) Update(name string, status Status, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if comp, ok := c.components[name]; ok {
		comp.Status = status
		comp.Message = message
		comp.LastCheck = time.Now()
	}
}

// Check runs every check and returns the aggregated report.
func (c *Checker) Check() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	overall := Healthy
	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	sort.Strings(names)
	report := &Report{Timestamp: time.Now(), Uptime: time.Since(c.start), Version: c.version}
	for _, name := range names {
		comp := c.components[name]
		if check, ok := c.checks[name]; ok {
			start := time.Now()
			err := check()
			comp.Latency = time.Since(start)
			comp.LastCheck = time.Now()
			if err != nil {
				comp.Status, comp.Message = Unhealthy, err.Error()
			} else {
				comp.Status, comp.Message = Healthy, "OK"
			}
		}
		switch {
		case comp.Status == Unhealthy:
			overall = Unhealthy
		case comp.Status == Degraded && overall == Healthy:
			overall = Degraded
		}
		report.Components = append(report.Components, *comp)
	}
	report.Status = overall
	return report
}
