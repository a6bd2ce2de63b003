package engine

import (
	"github.com/roach88/fedq/internal/connector"
	"github.com/roach88/fedq/internal/connector/sqlsource"
	"github.com/roach88/fedq/internal/dqp"
)

// BuiltinTypes lists the connector types RegisterBuiltins installs.
var BuiltinTypes = []string{"sqlite", "sqlite3", "postgres", "postgresql"}

// RegisterBuiltins makes the database/sql connector deployable under each of
// BuiltinTypes. The binding type selects the SQL dialect.
func RegisterBuiltins(repo *dqp.Repository) error {
	for _, name := range BuiltinTypes {
		if err := repo.RegisterType(name, newSQLSource); err != nil {
			return err
		}
	}
	return nil
}

func newSQLSource(b dqp.Binding) (connector.ExecutionFactory, error) {
	f, err := sqlsource.New(sqlsource.Config{
		Name:         b.Name,
		Driver:       b.Type,
		DSN:          b.DSN,
		Capabilities: b.Capabilities,
		Functions:    b.Functions,
		Reusable:     b.Reusable,
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}
