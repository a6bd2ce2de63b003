package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/fedq/internal/ir"
)

// marshalRows converts formatted rows to canonical JSON TEXT and the
// content hash stored alongside it.
func marshalRows(rows [][]string) (text, hash string, err error) {
	v := make([]any, len(rows))
	for i, row := range rows {
		v[i] = row
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", "", fmt.Errorf("marshal rows: %w", err)
	}
	hash, err = ir.Fingerprint(ir.DomainResult, v)
	if err != nil {
		return "", "", fmt.Errorf("hash rows: %w", err)
	}
	return string(data), hash, nil
}

// unmarshalRows parses rows stored by marshalRows. Canonical JSON of string
// arrays is plain JSON, so the standard decoder reads it back.
func unmarshalRows(text string) ([][]string, error) {
	rows := [][]string{}
	if err := json.Unmarshal([]byte(text), &rows); err != nil {
		return nil, fmt.Errorf("unmarshal rows: %w", err)
	}
	return rows, nil
}
