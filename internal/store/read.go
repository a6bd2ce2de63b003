package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const requestColumns = `id, seq, scenario, vdb_name, vdb_version, fingerprint, status, error_code, plan`

func scanRequest(r rowScanner) (Request, error) {
	var req Request
	err := r.Scan(&req.ID, &req.Seq, &req.Scenario, &req.VDBName, &req.VDBVersion,
		&req.Fingerprint, &req.Status, &req.ErrorCode, &req.Plan)
	return req, err
}

// ReadRequests returns every request in sequence order.
// Ordered deterministically: ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the store is empty.
func (s *Store) ReadRequests(ctx context.Context) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	requests := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return requests, nil
}

// ReadRequest returns one request. Returns an error wrapping ErrNotFound if
// the id has no record.
func (s *Store) ReadRequest(ctx context.Context, id string) (Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, fmt.Errorf("request %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Request{}, fmt.Errorf("read request: %w", err)
	}
	return req, nil
}

// ReadFragments returns the fragments of a request.
// Ordered deterministically: ORDER BY node ASC, atomic_id ASC COLLATE BINARY.
func (s *Store) ReadFragments(ctx context.Context, requestID string) ([]Fragment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT atomic_id, request_id, node, model, connector, rows_json, result_hash, batches, waits
		FROM fragments
		WHERE request_id = ?
		ORDER BY node ASC, atomic_id COLLATE BINARY ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query fragments: %w", err)
	}
	defer rows.Close()

	fragments := []Fragment{}
	for rows.Next() {
		var f Fragment
		var text string
		if err := rows.Scan(&f.AtomicID, &f.RequestID, &f.Node, &f.Model, &f.Connector,
			&text, &f.ResultHash, &f.Batches, &f.Waits); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		if f.Rows, err = unmarshalRows(text); err != nil {
			return nil, fmt.Errorf("fragment %s: %w", f.AtomicID, err)
		}
		fragments = append(fragments, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fragments: %w", err)
	}
	return fragments, nil
}
