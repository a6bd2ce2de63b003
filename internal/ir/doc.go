// Package ir provides the literal value types and canonical encoding shared by
// the planner, the translator, and the connectors.
//
// ir imports nothing internal. Every other package that carries literals or
// snapshots a plan depends on it.
//
// Key design constraints:
//   - NO float types - exact numerics travel as Decimal text
//   - Canonical JSON (RFC 8785 key order, NFC strings) for plan fingerprints
package ir
