package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/fedq/internal/connector"
	"github.com/roach88/fedq/internal/dqp"
	"github.com/roach88/fedq/internal/language"
	"github.com/roach88/fedq/internal/metadata"
	"github.com/roach88/fedq/internal/plan"
	"github.com/roach88/fedq/internal/rules"
	"github.com/roach88/fedq/internal/support"
)

// Fragment is the collected result of one ACCESS node.
type Fragment struct {
	Node      plan.NodeID
	Model     string
	Connector string
	RequestID dqp.AtomicRequestID
	Command   language.Command
	Rows      []connector.Row
	Warnings  []error
	// Batches counts the Ready and Done results received.
	Batches int
	// Waits counts Pending results the request suspended on.
	Waits int
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithIDGenerator sets the request id source. Default: UUIDv7Generator.
func WithIDGenerator(g RequestIDGenerator) DriverOption {
	return func(d *Driver) {
		d.ids = g
	}
}

// WithKeyOracle sets the unique-key oracle used when staging aggregates.
func WithKeyOracle(k rules.KeyOracle) DriverOption {
	return func(d *Driver) {
		d.keys = k
	}
}

// WithBatchSize sets the rows requested per More call.
func WithBatchSize(n int) DriverOption {
	return func(d *Driver) {
		d.batchSize = n
	}
}

// WithMaxRows caps each fragment's rows under policy.
func WithMaxRows(n int, policy dqp.MaxRowsPolicy) DriverOption {
	return func(d *Driver) {
		d.maxRows = n
		d.policy = policy
	}
}

// WithTransactional marks requests as running inside a user transaction.
func WithTransactional(tx bool) DriverOption {
	return func(d *Driver) {
		d.transactional = tx
	}
}

// WithExecutionPool lets work items park reusable executions in pool.
func WithExecutionPool(pool *dqp.ExecutionPool) DriverOption {
	return func(d *Driver) {
		d.pool = pool
	}
}

// WithVDB sets the VDB identity passed to connectors.
func WithVDB(name, version string) DriverOption {
	return func(d *Driver) {
		d.vdbName = name
		d.vdbVersion = version
	}
}

// Driver plans and executes requests against a connector repository.
//
// Thread-safety: a Driver is safe for concurrent use. Each Run owns its plan
// and its work items.
type Driver struct {
	md   metadata.Metadata
	repo *dqp.Repository
	ids  RequestIDGenerator
	keys rules.KeyOracle

	batchSize     int
	maxRows       int
	policy        dqp.MaxRowsPolicy
	transactional bool
	pool          *dqp.ExecutionPool

	vdbName    string
	vdbVersion string
}

// NewDriver returns a driver resolving names through md and capabilities and
// connectors through repo.
func NewDriver(md metadata.Metadata, repo *dqp.Repository, opts ...DriverOption) *Driver {
	d := &Driver{
		md:        md,
		repo:      repo,
		ids:       UUIDv7Generator{},
		batchSize: dqp.DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Plan runs the push-down rules over p in place.
func (d *Driver) Plan(ctx context.Context, p *plan.Plan) (rules.Stats, error) {
	c := support.NewChecker(ctx, d.md, d.repo)
	var opts []rules.Option
	if d.keys != nil {
		opts = append(opts, rules.WithKeyOracle(d.keys))
	}
	return rules.Pipeline(p, c, opts...)
}

// Run plans p and executes every ACCESS fragment under one new request id,
// in plan pre-order. On error the fragments completed so far are returned.
func (d *Driver) Run(ctx context.Context, p *plan.Plan) ([]*Fragment, error) {
	stats, err := d.Plan(ctx, p)
	if err != nil {
		return nil, err
	}
	requestID := d.ids.Generate()
	accesses := p.FindAll(plan.KindAccess)
	slog.Debug("request planned",
		"request_id", requestID,
		"raised", stats.Raised,
		"staged", stats.Staged,
		"fragments", len(accesses),
	)

	out := make([]*Fragment, 0, len(accesses))
	for _, id := range accesses {
		f, err := d.ExecuteAccess(ctx, p, id, requestID)
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
	return out, nil
}

// ExecuteAccess runs the fragment below one ACCESS node to completion.
func (d *Driver) ExecuteAccess(ctx context.Context, p *plan.Plan, access plan.NodeID, requestID string) (*Fragment, error) {
	a := p.AccessOf(access)
	if a == nil {
		return nil, &RequestError{Code: ErrCodeAssembly, Message: "not an access node", RequestID: requestID, Node: access}
	}
	cmd, err := plan.AccessCommand(p, access, d.md)
	if err != nil {
		return nil, &RequestError{Code: ErrCodeAssembly, Message: "assemble fragment", RequestID: requestID, Node: access, Err: err}
	}
	m, err := d.repo.ManagerForModel(a.Model)
	if err != nil {
		return nil, &RequestError{Code: ErrCodeUnroutable, Message: "route model " + a.Model, RequestID: requestID, Node: access, Err: err}
	}

	wake := newWakeSignal()
	req := dqp.Request{
		ID:              dqp.AtomicRequestID{RequestID: requestID, NodeID: int(access)},
		Command:         cmd,
		BatchSize:       d.batchSize,
		MaxRows:         d.maxRows,
		MaxRowsPolicy:   d.policy,
		Transactional:   d.transactional,
		VDBName:         d.vdbName,
		VDBVersion:      d.vdbVersion,
		Pool:            d.pool,
		OnDataAvailable: wake.notify,
	}
	w, err := m.Register(req)
	if err != nil {
		return nil, err
	}
	defer w.Close()
	stop := context.AfterFunc(ctx, w.Cancel)
	defer stop()

	if err := w.Execute(ctx); err != nil {
		return nil, err
	}

	f := &Fragment{
		Node:      access,
		Model:     a.Model,
		Connector: m.Name(),
		RequestID: req.ID,
		Command:   w.Command(),
	}
	for {
		res, err := w.More(ctx)
		if err != nil {
			return nil, err
		}
		switch r := res.(type) {
		case dqp.Ready:
			f.Batches++
			f.Rows = append(f.Rows, r.Rows...)
			f.Warnings = append(f.Warnings, r.Warnings...)
		case dqp.Pending:
			f.Waits++
			if err := wake.wait(ctx, r.Until); err != nil {
				return nil, err
			}
		case dqp.Done:
			f.Batches++
			f.Rows = append(f.Rows, r.Rows...)
			f.Warnings = append(f.Warnings, r.Warnings...)
			slog.Debug("fragment complete",
				"request_id", req.ID.String(),
				"connector", m.Name(),
				"rows", len(f.Rows),
				"batches", f.Batches,
			)
			return f, nil
		}
	}
}
