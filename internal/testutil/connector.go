package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/roach88/fedq/internal/capability"
	"github.com/roach88/fedq/internal/connector"
	"github.com/roach88/fedq/internal/ir"
	"github.com/roach88/fedq/internal/language"
	"github.com/roach88/fedq/internal/translate"
)

// ErrFakeCancelled is returned by a blocked fake execution once cancelled.
var ErrFakeCancelled = errors.New("fake: execution cancelled")

// FakeFactory is a scriptable in-memory connector. Every execution it creates
// replays Script through Next, then returns End.
//
// Configure the exported fields before the first use; they are not guarded.
type FakeFactory struct {
	Caps    *capability.Snapshot
	CapsErr error

	Script  []connector.Fetch
	Outputs []ir.Value
	Counts  []int64

	ExecuteErr error
	FetchErr   error
	ConnErr    error
	// Block makes Execute wait until Cancel.
	Block bool
	// NoSource makes executions run without a connection.
	NoSource bool
	Reusable bool
	Options  []translate.Option

	capabilityCalls atomic.Int32
	started         atomic.Bool
	stopped         atomic.Bool

	mu          sync.Mutex
	executions  []*FakeExecution
	connections []*FakeConnection
	reusables   []*ReusableFake
}

var _ connector.ExecutionFactory = (*FakeFactory)(nil)

func (f *FakeFactory) Start(context.Context) error {
	f.started.Store(true)
	return nil
}

func (f *FakeFactory) Stop() error {
	f.stopped.Store(true)
	return nil
}

// Started reports whether Start ran.
func (f *FakeFactory) Started() bool { return f.started.Load() }

// Stopped reports whether Stop ran.
func (f *FakeFactory) Stopped() bool { return f.stopped.Load() }

func (f *FakeFactory) Capabilities(context.Context) (*capability.Snapshot, error) {
	f.capabilityCalls.Add(1)
	if f.CapsErr != nil {
		return nil, f.CapsErr
	}
	if f.Caps == nil {
		return capability.NewBuilder("fake").Build(), nil
	}
	return f.Caps, nil
}

// CapabilityCalls counts Capabilities invocations.
func (f *FakeFactory) CapabilityCalls() int { return int(f.capabilityCalls.Load()) }

func (f *FakeFactory) TranslatorOptions() []translate.Option { return f.Options }

func (f *FakeFactory) SourceRequired() bool { return !f.NoSource }

func (f *FakeFactory) Connection(context.Context, *connector.ExecutionContext) (connector.Connection, error) {
	if f.ConnErr != nil {
		return nil, f.ConnErr
	}
	c := &FakeConnection{}
	f.mu.Lock()
	f.connections = append(f.connections, c)
	f.mu.Unlock()
	return c, nil
}

func (f *FakeFactory) CreateResultSetExecution(_ context.Context, q language.QueryExpression, ec *connector.ExecutionContext, _ connector.Connection) (connector.ResultSetExecution, error) {
	e := f.newExecution(q, ec)
	if f.Reusable {
		r := &ReusableFake{FakeExecution: e, factory: f}
		f.mu.Lock()
		f.reusables = append(f.reusables, r)
		f.mu.Unlock()
		return r, nil
	}
	return e, nil
}

func (f *FakeFactory) CreateProcedureExecution(_ context.Context, call *language.Call, ec *connector.ExecutionContext, _ connector.Connection) (connector.ProcedureExecution, error) {
	return f.newExecution(call, ec), nil
}

func (f *FakeFactory) CreateUpdateExecution(_ context.Context, cmd language.Command, ec *connector.ExecutionContext, _ connector.Connection) (connector.UpdateExecution, error) {
	return f.newExecution(cmd, ec), nil
}

func (f *FakeFactory) newExecution(cmd language.Command, ec *connector.ExecutionContext) *FakeExecution {
	e := &FakeExecution{
		Command:    cmd,
		ec:         ec,
		script:     append([]connector.Fetch(nil), f.Script...),
		outputs:    f.Outputs,
		counts:     f.Counts,
		executeErr: f.ExecuteErr,
		fetchErr:   f.FetchErr,
		block:      f.Block,
		cancelled:  make(chan struct{}),
	}
	f.mu.Lock()
	f.executions = append(f.executions, e)
	f.mu.Unlock()
	return e
}

// Executions returns the executions created so far.
func (f *FakeFactory) Executions() []*FakeExecution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeExecution(nil), f.executions...)
}

// Reusables returns the reusable executions created so far.
func (f *FakeFactory) Reusables() []*ReusableFake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ReusableFake(nil), f.reusables...)
}

// Connections returns the connections handed out so far.
func (f *FakeFactory) Connections() []*FakeConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeConnection(nil), f.connections...)
}

// FakeConnection counts closes.
type FakeConnection struct {
	closes atomic.Int32
}

func (c *FakeConnection) Close() error {
	c.closes.Add(1)
	return nil
}

// Closes counts Close calls.
func (c *FakeConnection) Closes() int { return int(c.closes.Load()) }

// FakeExecution implements every execution shape.
type FakeExecution struct {
	Command language.Command

	ec         *connector.ExecutionContext
	script     []connector.Fetch
	pos        int
	outputs    []ir.Value
	counts     []int64
	executeErr error
	fetchErr   error
	block      bool

	cancelled  chan struct{}
	cancelOnce sync.Once
	cancels    atomic.Int32
	closes     atomic.Int32
	executes   atomic.Int32
}

func (e *FakeExecution) Execute(context.Context) error {
	e.executes.Add(1)
	if e.block {
		<-e.cancelled
		return ErrFakeCancelled
	}
	return e.executeErr
}

func (e *FakeExecution) Next(context.Context) (connector.Fetch, error) {
	if e.fetchErr != nil {
		return nil, e.fetchErr
	}
	if e.pos >= len(e.script) {
		return connector.End{}, nil
	}
	f := e.script[e.pos]
	e.pos++
	return f, nil
}

func (e *FakeExecution) OutputValues() ([]ir.Value, error) { return e.outputs, nil }

func (e *FakeExecution) UpdateCounts() ([]int64, error) { return e.counts, nil }

func (e *FakeExecution) Cancel() error {
	e.cancels.Add(1)
	e.cancelOnce.Do(func() { close(e.cancelled) })
	return nil
}

func (e *FakeExecution) Close() error {
	e.closes.Add(1)
	return nil
}

// Wake signals data availability the way a source callback would.
func (e *FakeExecution) Wake() { e.ec.DataAvailable() }

// Warn attaches a warning to the running request.
func (e *FakeExecution) Warn(err error) { e.ec.AddWarning(err) }

// Context returns the execution context the execution was created with.
func (e *FakeExecution) Context() *connector.ExecutionContext { return e.ec }

func (e *FakeExecution) Cancels() int  { return int(e.cancels.Load()) }
func (e *FakeExecution) Closes() int   { return int(e.closes.Load()) }
func (e *FakeExecution) Executes() int { return int(e.executes.Load()) }

// ReusableFake is a FakeExecution that can be parked and reset.
type ReusableFake struct {
	*FakeExecution
	factory  *FakeFactory
	resets   atomic.Int32
	disposes atomic.Int32
}

func (r *ReusableFake) Reset(_ context.Context, cmd language.Command, ec *connector.ExecutionContext, _ connector.Connection) error {
	r.resets.Add(1)
	r.Command = cmd
	r.ec = ec
	r.script = append([]connector.Fetch(nil), r.factory.Script...)
	r.pos = 0
	return nil
}

func (r *ReusableFake) Dispose() error {
	r.disposes.Add(1)
	return nil
}

func (r *ReusableFake) Resets() int   { return int(r.resets.Load()) }
func (r *ReusableFake) Disposes() int { return int(r.disposes.Load()) }
