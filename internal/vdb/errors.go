package vdb

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError is a definition error with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func compileError(field, msg string, v cue.Value) *CompileError {
	return &CompileError{Field: field, Message: msg, Pos: v.Pos()}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}

// eachField calls fn for every field of the struct at path, in declaration
// order. A missing path is not an error.
func eachField(v cue.Value, path string, fn func(string, cue.Value) error) error {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return nil
	}
	iter, err := sv.Fields()
	if err != nil {
		return compileError(path, "must be a struct", sv)
	}
	for iter.Next() {
		if err := fn(iter.Label(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func reqString(v cue.Value, key, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(key))
	if !fv.Exists() {
		return "", compileError(field+"."+key, key+" is required", v)
	}
	s, err := fv.String()
	if err != nil {
		return "", compileError(field+"."+key, key+" must be a string", fv)
	}
	return s, nil
}

func optString(v cue.Value, key, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(key))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", compileError(field+"."+key, key+" must be a string", fv)
	}
	return s, nil
}

func optBool(v cue.Value, key, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(key))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, compileError(field+"."+key, key+" must be a bool", fv)
	}
	return b, nil
}

func optInt(v cue.Value, key, field string) (int, bool, error) {
	fv := v.LookupPath(cue.ParsePath(key))
	if !fv.Exists() {
		return 0, false, nil
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, false, compileError(field+"."+key, key+" must be an integer", fv)
	}
	return int(n), true, nil
}

// optStrings returns nil when key is absent and an empty slice for [].
func optStrings(v cue.Value, key, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(key))
	if !fv.Exists() {
		return nil, nil
	}
	out := []string{}
	if err := fv.Decode(&out); err != nil {
		return nil, compileError(field+"."+key, key+" must be a list of strings", fv)
	}
	return out, nil
}
