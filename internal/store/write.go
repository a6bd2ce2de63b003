package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Request statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Request is the record of one user request.
type Request struct {
	ID          string `json:"id"`
	Seq         int64  `json:"seq"`
	Scenario    string `json:"scenario"`
	VDBName     string `json:"vdb_name,omitempty"`
	VDBVersion  string `json:"vdb_version,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Status      string `json:"status"`
	ErrorCode   string `json:"error_code,omitempty"`
	Plan        string `json:"plan"`
}

// Fragment is the record of one atomic request.
type Fragment struct {
	AtomicID   string     `json:"atomic_id"`
	RequestID  string     `json:"request_id"`
	Node       int        `json:"node"`
	Model      string     `json:"model"`
	Connector  string     `json:"connector"`
	Rows       [][]string `json:"rows"`
	ResultHash string     `json:"result_hash"`
	Batches    int        `json:"batches"`
	Waits      int        `json:"waits"`
}

// WriteRequest inserts a request record and returns its sequence number.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: writing an id again
// returns the existing sequence number and inserted=false.
func (s *Store) WriteRequest(ctx context.Context, req Request) (seq int64, inserted bool, err error) {
	if req.Status != StatusCompleted && req.Status != StatusFailed {
		return 0, false, fmt.Errorf("write request: invalid status %q", req.Status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("write request: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	err = tx.QueryRowContext(ctx, `SELECT seq FROM requests WHERE id = ?`, req.ID).Scan(&seq)
	switch {
	case err == nil:
		return seq, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("write request: lookup: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM requests`).Scan(&seq); err != nil {
		return 0, false, fmt.Errorf("write request: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO requests
		(id, seq, scenario, vdb_name, vdb_version, fingerprint, status, error_code, plan)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		req.ID,
		seq,
		req.Scenario,
		req.VDBName,
		req.VDBVersion,
		req.Fingerprint,
		req.Status,
		req.ErrorCode,
		req.Plan,
	)
	if err != nil {
		return 0, false, fmt.Errorf("write request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("write request: commit: %w", err)
	}
	return seq, true, nil
}

// WriteFragment inserts an atomic request record. Rows are stored as
// canonical JSON with their content hash; the hash is returned.
//
// Note: The request referenced by RequestID must exist (foreign key constraint).
func (s *Store) WriteFragment(ctx context.Context, f Fragment) (string, error) {
	rows := f.Rows
	if rows == nil {
		rows = [][]string{}
	}
	text, hash, err := marshalRows(rows)
	if err != nil {
		return "", fmt.Errorf("write fragment: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fragments
		(atomic_id, request_id, node, model, connector, row_count, rows_json, result_hash, batches, waits)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(atomic_id) DO NOTHING
	`,
		f.AtomicID,
		f.RequestID,
		f.Node,
		f.Model,
		f.Connector,
		len(rows),
		text,
		hash,
		f.Batches,
		f.Waits,
	)
	if err != nil {
		return "", fmt.Errorf("write fragment: %w", err)
	}
	return hash, nil
}
