// Package store provides SQLite-backed durable history of executed requests.
//
// The store is an append-only log with:
//   - Requests: one record per user request, with the planned tree, its
//     fingerprint, and the outcome
//   - Fragments: one record per atomic request, with the rows it returned
//     and a content hash of those rows
//
// # Ordering
//
// Requests carry a logical sequence number assigned at insert time. All reads
// order by seq ASC, id ASC COLLATE BINARY (fragments by node and atomic id),
// so listings are identical across runs regardless of wall time.
//
// # Idempotency
//
// Writes use ON CONFLICT DO NOTHING on the request id and the atomic request
// id. Recording the same request twice keeps the first record.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Row hashes are computed with ir.Fingerprint over canonical JSON.
package store
