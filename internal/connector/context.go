package connector

import (
	"sync"
)

// ExecutionContext carries the identity and settings of one work item to the
// connector. Warnings and the wake-up callback are safe for concurrent use.
type ExecutionContext struct {
	RequestID   string
	ConnectorID string
	VDBName     string
	VDBVersion  string
	SessionID   string
	User        string
	// Transactional is set when the request runs inside a transaction.
	Transactional bool
	BatchSize     int
	// Hints are source hints attached to the command.
	Hints []string

	mu       sync.Mutex
	warnings []error
	wake     func()
}

// SetDataAvailable installs the callback invoked by DataAvailable.
func (c *ExecutionContext) SetDataAvailable(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wake = fn
}

// DataAvailable signals that an execution which returned Pending has more
// to deliver.
func (c *ExecutionContext) DataAvailable() {
	c.mu.Lock()
	fn := c.wake
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// AddWarning records a non-fatal source warning.
func (c *ExecutionContext) AddWarning(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, err)
}

// DrainWarnings returns and clears the recorded warnings.
func (c *ExecutionContext) DrainWarnings() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.warnings
	c.warnings = nil
	return out
}
