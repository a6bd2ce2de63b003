// Package engine drives atomic requests through the push-down planner and
// the connector dispatch layer.
//
// A Driver plans a tree with rules.Pipeline, assembles the command of every
// ACCESS node, routes it to the connector bound to the node's model, and
// pulls batches until the work item reports Done. It is the reference
// scheduler for the core: one goroutine per request, suspending on the
// work item's data-available signal or its pending deadline.
//
// Request ids are UUIDv7 in production and sequential in tests, so golden
// output stays stable.
package engine
