package dqp

import (
	"errors"
	"sync"

	"github.com/roach88/fedq/internal/connector"
)

// ExecutionPool parks reusable query executions between requests of one
// session, keyed by connector binding.
type ExecutionPool struct {
	mu   sync.Mutex
	idle map[string][]connector.ReusableExecution
}

// NewExecutionPool returns an empty pool.
func NewExecutionPool() *ExecutionPool {
	return &ExecutionPool{idle: make(map[string][]connector.ReusableExecution)}
}

func (p *ExecutionPool) take(connectorName string) connector.ReusableExecution {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.idle[connectorName]
	if len(list) == 0 {
		return nil
	}
	e := list[len(list)-1]
	p.idle[connectorName] = list[:len(list)-1]
	return e
}

func (p *ExecutionPool) put(connectorName string, e connector.ReusableExecution) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle[connectorName] = append(p.idle[connectorName], e)
}

// Len returns the number of parked executions.
func (p *ExecutionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, list := range p.idle {
		n += len(list)
	}
	return n
}

// Close disposes every parked execution.
func (p *ExecutionPool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = make(map[string][]connector.ReusableExecution)
	p.mu.Unlock()

	var errs []error
	for _, list := range idle {
		for _, e := range list {
			if err := e.Dispose(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
