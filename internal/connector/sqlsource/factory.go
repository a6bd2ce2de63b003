// Package sqlsource is a connector over database/sql. It renders connector
// language commands as SQL with squirrel and runs them on SQLite
// (github.com/mattn/go-sqlite3) or PostgreSQL (github.com/lib/pq).
package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/fedq/internal/capability"
	"github.com/roach88/fedq/internal/connector"
	"github.com/roach88/fedq/internal/language"
	"github.com/roach88/fedq/internal/translate"
)

// Config describes one database/sql connector.
type Config struct {
	// Name is the connector id reported in capabilities.
	Name   string
	Driver string
	DSN    string
	// Capabilities replace the dialect defaults when set.
	Capabilities *capability.Snapshot
	// Functions maps engine function names to source names.
	Functions map[string]string
	// Reusable enables execution reuse across work items of a session.
	Reusable bool
	// DB is used instead of opening DSN. The factory does not close it.
	DB *sql.DB
}

// Factory is a connector.ExecutionFactory over database/sql.
type Factory struct {
	cfg     Config
	dialect *Dialect

	mu     sync.Mutex
	db     *sql.DB
	ownsDB bool
}

var _ connector.ExecutionFactory = (*Factory)(nil)

// New validates cfg and returns an unstarted factory.
func New(cfg Config) (*Factory, error) {
	d, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.DB == nil && cfg.DSN == "" {
		return nil, fmt.Errorf("connector %s: dsn is required", cfg.Name)
	}
	return &Factory{cfg: cfg, dialect: d}, nil
}

// Start opens the database.
func (f *Factory) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.db != nil {
		return nil
	}
	if f.cfg.DB != nil {
		f.db = f.cfg.DB
		return nil
	}
	db, err := sql.Open(f.dialect.Driver, f.cfg.DSN)
	if err != nil {
		return fmt.Errorf("connector %s: open: %w", f.cfg.Name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("connector %s: ping: %w", f.cfg.Name, err)
	}
	if f.dialect == SQLite {
		// One writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	f.db = db
	f.ownsDB = true
	slog.Info("connector started", "connector", f.cfg.Name, "driver", f.dialect.Driver)
	return nil
}

// Stop closes the database if the factory opened it.
func (f *Factory) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.db == nil {
		return nil
	}
	var err error
	if f.ownsDB {
		err = f.db.Close()
	}
	f.db = nil
	return err
}

// Capabilities returns the configured snapshot or the dialect defaults.
func (f *Factory) Capabilities(context.Context) (*capability.Snapshot, error) {
	if f.cfg.Capabilities != nil {
		return f.cfg.Capabilities, nil
	}
	return f.dialect.DefaultCapabilities(f.cfg.Name), nil
}

func (f *Factory) TranslatorOptions() []translate.Option {
	opts := make([]translate.Option, 0, len(f.cfg.Functions))
	for name, inSource := range f.cfg.Functions {
		opts = append(opts, translate.WithFunctionName(name, inSource))
	}
	return opts
}

func (f *Factory) SourceRequired() bool { return true }

// Dialect returns the SQL dialect of the connector.
func (f *Factory) Dialect() *Dialect { return f.dialect }

// Conn is a dedicated database connection.
type Conn struct {
	*sql.Conn
}

// Connection takes a connection from the pool for one work item.
func (f *Factory) Connection(ctx context.Context, _ *connector.ExecutionContext) (connector.Connection, error) {
	f.mu.Lock()
	db := f.db
	f.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("connector %s: not started", f.cfg.Name)
	}
	c, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("connector %s: connection: %w", f.cfg.Name, err)
	}
	return &Conn{Conn: c}, nil
}

func (f *Factory) conn(c connector.Connection) (*Conn, error) {
	sc, ok := c.(*Conn)
	if !ok {
		return nil, fmt.Errorf("connector %s: unexpected connection %T", f.cfg.Name, c)
	}
	return sc, nil
}

func (f *Factory) CreateResultSetExecution(_ context.Context, q language.QueryExpression, ec *connector.ExecutionContext, c connector.Connection) (connector.ResultSetExecution, error) {
	conn, err := f.conn(c)
	if err != nil {
		return nil, err
	}
	stmt, err := Render(f.dialect, q, -1)
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", f.cfg.Name, err)
	}
	e := &queryExecution{conn: conn, stmt: stmt, types: language.ColumnTypes(q), ec: ec}
	if f.cfg.Reusable {
		return &reusableQuery{queryExecution: e, dialect: f.dialect}, nil
	}
	return e, nil
}

func (f *Factory) CreateProcedureExecution(_ context.Context, call *language.Call, ec *connector.ExecutionContext, c connector.Connection) (connector.ProcedureExecution, error) {
	conn, err := f.conn(c)
	if err != nil {
		return nil, err
	}
	stmt, err := Render(f.dialect, call, -1)
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", f.cfg.Name, err)
	}
	return &procedureExecution{
		queryExecution: queryExecution{conn: conn, stmt: stmt, types: call.ResultSetTypes, ec: ec},
		call:           call,
	}, nil
}

func (f *Factory) CreateUpdateExecution(_ context.Context, cmd language.Command, ec *connector.ExecutionContext, c connector.Connection) (connector.UpdateExecution, error) {
	conn, err := f.conn(c)
	if err != nil {
		return nil, err
	}
	n := BatchSize(cmd)
	var stmts []Statement
	if n < 0 {
		stmt, err := Render(f.dialect, cmd, -1)
		if err != nil {
			return nil, fmt.Errorf("connector %s: %w", f.cfg.Name, err)
		}
		stmts = append(stmts, stmt)
	}
	for i := 0; i < n; i++ {
		stmt, err := Render(f.dialect, cmd, i)
		if err != nil {
			return nil, fmt.Errorf("connector %s: batch %d: %w", f.cfg.Name, i, err)
		}
		stmts = append(stmts, stmt)
	}
	return &updateExecution{conn: conn, stmts: stmts, transactional: ec != nil && ec.Transactional}, nil
}
