package sqlsource

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/fedq/internal/capability"
	"github.com/roach88/fedq/internal/metadata"
)

// Dialect is the SQL flavour of a database/sql driver.
type Dialect struct {
	Driver      string
	placeholder sq.PlaceholderFormat
	// offsetNeedsLimit dialects reject OFFSET without LIMIT.
	offsetNeedsLimit bool
	// procedures are invoked as table functions.
	procedures bool
	types      map[metadata.DataType]string
	nullOrder  capability.NullOrder
}

// SQLite is the dialect of github.com/mattn/go-sqlite3.
var SQLite = &Dialect{
	Driver:           "sqlite3",
	placeholder:      sq.Question,
	offsetNeedsLimit: true,
	types: map[metadata.DataType]string{
		metadata.TypeString:    "TEXT",
		metadata.TypeInteger:   "INTEGER",
		metadata.TypeLong:      "INTEGER",
		metadata.TypeDouble:    "REAL",
		metadata.TypeDecimal:   "NUMERIC",
		metadata.TypeBoolean:   "INTEGER",
		metadata.TypeDate:      "TEXT",
		metadata.TypeTimestamp: "TEXT",
		metadata.TypeClob:      "TEXT",
		metadata.TypeBlob:      "BLOB",
	},
	nullOrder: capability.NullsLow,
}

// Postgres is the dialect of github.com/lib/pq.
var Postgres = &Dialect{
	Driver:      "postgres",
	placeholder: sq.Dollar,
	procedures:  true,
	types: map[metadata.DataType]string{
		metadata.TypeString:    "VARCHAR",
		metadata.TypeInteger:   "INTEGER",
		metadata.TypeLong:      "BIGINT",
		metadata.TypeDouble:    "DOUBLE PRECISION",
		metadata.TypeDecimal:   "NUMERIC",
		metadata.TypeBoolean:   "BOOLEAN",
		metadata.TypeDate:      "DATE",
		metadata.TypeTimestamp: "TIMESTAMP",
		metadata.TypeClob:      "TEXT",
		metadata.TypeBlob:      "BYTEA",
		metadata.TypeXML:       "XML",
	},
	nullOrder: capability.NullsHigh,
}

// DialectFor resolves a driver name.
func DialectFor(driver string) (*Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	}
	return nil, fmt.Errorf("unsupported sql driver %q", driver)
}

func (d *Dialect) typeName(t metadata.DataType) (string, error) {
	n, ok := d.types[t]
	if !ok {
		return "", fmt.Errorf("%s: no cast target for type %s", d.Driver, t)
	}
	return n, nil
}

// DefaultCapabilities describes what the dialect executes natively.
// Configured capabilities replace these entirely.
func (d *Dialect) DefaultCapabilities(connectorID string) *capability.Snapshot {
	b := capability.NewBuilder(connectorID).
		Enable(capability.All()...).
		Disable(capability.DependentJoins, capability.CommonTableExpressions, capability.BatchedUpdates).
		Functions("upper", "lower", "length", "abs", "coalesce", "substr", "replace", "trim",
			"convert", "cast", "+", "-", "*", "/").
		NullOrder(d.nullOrder)
	if d == SQLite {
		b.Disable(capability.CriteriaQuantifiedSubquery).
			MaxInCriteriaSize(999)
	}
	return b.Build()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteName quotes each dot-separated part of a possibly schema-qualified
// name.
func quoteName(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, ".")
}
