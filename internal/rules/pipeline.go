// Package rules rewrites a plan tree, moving the boundary between engine
// evaluated and source evaluated operators as far up as source capabilities
// allow.
package rules

import (
	"log/slog"

	"github.com/roach88/fedq/internal/plan"
	"github.com/roach88/fedq/internal/support"
)

// Stats summarizes one pipeline run.
type Stats struct {
	Raised int
	Staged int
}

// Option configures a pipeline run.
type Option func(*options)

type options struct {
	keys KeyOracle
}

// WithKeyOracle sets the unique-key oracle consulted before staging partial
// aggregates. The default reads unique keys declared in metadata.
func WithKeyOracle(k KeyOracle) Option {
	return func(o *options) {
		o.keys = k
	}
}

// Pipeline runs the push-down rules in order: procedure input binding,
// access raising, partial aggregate staging followed by a second raise for
// the staged groups, and finally where-all validation.
func Pipeline(p *plan.Plan, c *support.Checker, opts ...Option) (Stats, error) {
	o := options{keys: MetadataKeys{MD: c.Metadata()}}
	for _, opt := range opts {
		opt(&o)
	}
	var stats Stats

	if err := p.Validate(); err != nil {
		return stats, &PlanningError{Code: ErrCodeInvalidPlan, Message: err.Error(), Node: plan.NoNode}
	}
	if err := BindProcedureInputs(p, c.Metadata()); err != nil {
		return stats, err
	}

	raised, err := RaiseAccess(p, c)
	stats.Raised += raised
	if err != nil {
		return stats, err
	}

	staged, err := StageAggregates(p, c, o.keys)
	stats.Staged = staged
	if err != nil {
		return stats, err
	}
	if staged > 0 {
		raised, err = RaiseAccess(p, c)
		stats.Raised += raised
		if err != nil {
			return stats, err
		}
	}

	if err := ValidateWhereAll(p, c); err != nil {
		return stats, err
	}
	slog.Debug("push-down complete",
		"raised", stats.Raised,
		"staged", stats.Staged,
		"access_nodes", len(p.FindAll(plan.KindAccess)),
	)
	return stats, nil
}
