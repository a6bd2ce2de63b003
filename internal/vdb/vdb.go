// Package vdb loads a virtual database definition written in CUE: the
// models and their tables, columns and procedures, and the connector
// bindings that serve the physical models.
//
//	vdb: {name: "sales", version: "1"}
//
//	connector: orders: {
//		type: "sqlite"
//		dsn:  "file:orders.db"
//		capabilities: ["all"]
//		disable: ["full_outer_joins"]
//		functions: {upper: "UPPER"}
//		max_in_criteria_size: 999
//	}
//
//	model: pg: {
//		connector: "orders"
//		table: customer: {
//			name_in_source: "customers"
//			unique_keys: [["id"]]
//			column: {
//				id:   {type: "integer", nullable: false}
//				name: {type: "string", name_in_source: "full_name"}
//			}
//		}
//		procedure: lookup: {
//			param: [{name: "id", direction: "in", type: "integer"}]
//			result_set: [{name: "total", type: "bigdecimal"}]
//		}
//	}
//
// Field declaration order is kept: columns appear in the order written.
package vdb

import (
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/fedq/internal/capability"
	"github.com/roach88/fedq/internal/dqp"
	"github.com/roach88/fedq/internal/metadata"
)

// VDB is a compiled definition.
type VDB struct {
	Name     string
	Version  string
	Catalog  *metadata.Catalog
	Bindings []dqp.Binding
}

// Binding returns the connector binding named name.
func (v *VDB) Binding(name string) (dqp.Binding, bool) {
	for _, b := range v.Bindings {
		if b.Name == name {
			return b, true
		}
	}
	return dqp.Binding{}, false
}

// Load reads every CUE file of the package in dir.
func Load(dir string) (*VDB, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("vdb directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vdb directory: %s is not a directory", dir)
	}
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("vdb directory %s: no CUE instances", dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, formatCUEError(err)
	}
	v := cuecontext.New().BuildInstance(instances[0])
	return Compile(v)
}

// CompileString compiles CUE source text. filename is used in positions.
func CompileString(src, filename string) (*VDB, error) {
	v := cuecontext.New().CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// Compile turns a built CUE value into a VDB.
func Compile(v cue.Value) (*VDB, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	out := &VDB{Catalog: metadata.NewCatalog()}

	if hv := v.LookupPath(cue.ParsePath("vdb")); hv.Exists() {
		var err error
		if out.Name, err = optString(hv, "name", "vdb"); err != nil {
			return nil, err
		}
		if out.Version, err = optString(hv, "version", "vdb"); err != nil {
			return nil, err
		}
	}

	err := eachField(v, "connector", func(name string, cv cue.Value) error {
		b, err := compileConnector(name, cv)
		if err != nil {
			return err
		}
		out.Bindings = append(out.Bindings, b)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachField(v, "model", func(name string, mv cue.Value) error {
		return compileModel(out, name, mv)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func compileConnector(name string, v cue.Value) (dqp.Binding, error) {
	field := "connector." + name
	b := dqp.Binding{Name: name}
	var err error
	if b.Type, err = reqString(v, "type", field); err != nil {
		return b, err
	}
	if b.DSN, err = optString(v, "dsn", field); err != nil {
		return b, err
	}
	if b.Reusable, err = optBool(v, "reusable", field); err != nil {
		return b, err
	}

	err = eachField(v, "functions", func(fn string, fv cue.Value) error {
		s, err := fv.String()
		if err != nil {
			return compileError(field+".functions."+fn, "function name in source must be a string", fv)
		}
		if b.Functions == nil {
			b.Functions = make(map[string]string)
		}
		b.Functions[fn] = s
		return nil
	})
	if err != nil {
		return b, err
	}

	caps, err := optStrings(v, "capabilities", field)
	if err != nil {
		return b, err
	}
	if caps == nil {
		return b, nil
	}
	snap, err := compileCapabilities(name, v, caps, b.Functions, field)
	if err != nil {
		return b, err
	}
	b.Capabilities = snap
	return b, nil
}

// compileCapabilities builds the snapshot that replaces the connector type's
// defaults.
func compileCapabilities(name string, v cue.Value, caps []string, functions map[string]string, field string) (*capability.Snapshot, error) {
	bld := capability.NewBuilder(name)
	for _, c := range caps {
		if c == "all" {
			bld.Enable(capability.All()...)
			continue
		}
		if err := bld.EnableNames(c); err != nil {
			return nil, compileError(field+".capabilities", err.Error(), v.LookupPath(cue.ParsePath("capabilities")))
		}
	}
	disabled, err := optStrings(v, "disable", field)
	if err != nil {
		return nil, err
	}
	for _, d := range disabled {
		c, err := capability.Parse(d)
		if err != nil {
			return nil, compileError(field+".disable", err.Error(), v.LookupPath(cue.ParsePath("disable")))
		}
		bld.Disable(c)
	}

	supported, err := optStrings(v, "supported_functions", field)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(functions))
	for fn := range functions {
		names = append(names, fn)
	}
	sort.Strings(names)
	bld.Functions(append(supported, names...)...)

	limits := []struct {
		key string
		set func(int) *capability.Builder
	}{
		{"max_in_criteria_size", bld.MaxInCriteriaSize},
		{"max_dependent_predicates", bld.MaxDependentPredicates},
		{"max_from_groups", bld.MaxFromGroups},
	}
	for _, l := range limits {
		n, ok, err := optInt(v, l.key, field)
		if err != nil {
			return nil, err
		}
		if ok {
			l.set(n)
		}
	}

	order, err := optString(v, "null_order", field)
	if err != nil {
		return nil, err
	}
	if order != "" {
		o, err := capability.ParseNullOrder(order)
		if err != nil {
			return nil, compileError(field+".null_order", err.Error(), v.LookupPath(cue.ParsePath("null_order")))
		}
		bld.NullOrder(o)
	}
	return bld.Build(), nil
}

func compileModel(out *VDB, name string, v cue.Value) error {
	field := "model." + name
	m := &metadata.Model{Name: name}
	var err error
	if m.Virtual, err = optBool(v, "virtual", field); err != nil {
		return err
	}
	if m.Connector, err = optString(v, "connector", field); err != nil {
		return err
	}
	if !m.Virtual {
		if m.Connector == "" {
			return compileError(field+".connector", "physical model needs a connector", v)
		}
		if _, ok := out.Binding(m.Connector); !ok {
			return compileError(field+".connector", fmt.Sprintf("unknown connector %q", m.Connector), v.LookupPath(cue.ParsePath("connector")))
		}
	}
	unsupported, err := optStrings(v, "unsupported", field)
	if err != nil {
		return err
	}
	for _, f := range unsupported {
		m.Unsupported = append(m.Unsupported, metadata.Feature(f))
	}
	if err := out.Catalog.AddModel(m); err != nil {
		return compileError(field, err.Error(), v)
	}

	err = eachField(v, "table", func(table string, tv cue.Value) error {
		g, err := compileTable(name, table, tv)
		if err != nil {
			return err
		}
		if err := out.Catalog.AddGroup(g); err != nil {
			return compileError(field+".table."+table, err.Error(), tv)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return eachField(v, "procedure", func(proc string, pv cue.Value) error {
		p, err := compileProcedure(m, proc, pv)
		if err != nil {
			return err
		}
		if err := out.Catalog.AddProcedure(p); err != nil {
			return compileError(field+".procedure."+proc, err.Error(), pv)
		}
		return nil
	})
}

func compileTable(model, table string, v cue.Value) (*metadata.Group, error) {
	field := "model." + model + ".table." + table
	g := &metadata.Group{Name: model + "." + table, Model: model}
	var err error
	if g.NameInSource, err = optString(v, "name_in_source", field); err != nil {
		return nil, err
	}
	if g.CriteriaRequired, err = optBool(v, "criteria_required", field); err != nil {
		return nil, err
	}

	err = eachField(v, "column", func(col string, cv cue.Value) error {
		e, err := compileColumn(col, cv, field+".column."+col)
		if err != nil {
			return err
		}
		g.Elements = append(g.Elements, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(g.Elements) == 0 {
		return nil, compileError(field+".column", "a table needs at least one column", v)
	}

	if kv := v.LookupPath(cue.ParsePath("unique_keys")); kv.Exists() {
		var keys [][]string
		if err := kv.Decode(&keys); err != nil {
			return nil, compileError(field+".unique_keys", "unique_keys must be a list of column name lists", kv)
		}
		for _, key := range keys {
			for _, col := range key {
				if !hasColumn(g, col) {
					return nil, compileError(field+".unique_keys", fmt.Sprintf("unknown column %q", col), kv)
				}
			}
		}
		g.UniqueKeys = keys
	}
	return g, nil
}

func hasColumn(g *metadata.Group, name string) bool {
	for _, e := range g.Elements {
		if e.Name == name || e.ShortName() == name {
			return true
		}
	}
	return false
}

func compileColumn(name string, v cue.Value, field string) (*metadata.Element, error) {
	e := &metadata.Element{Name: name}
	typeName, err := reqString(v, "type", field)
	if err != nil {
		return nil, err
	}
	if e.Type, err = metadata.ParseDataType(typeName); err != nil {
		return nil, compileError(field+".type", err.Error(), v.LookupPath(cue.ParsePath("type")))
	}
	if e.NameInSource, err = optString(v, "name_in_source", field); err != nil {
		return nil, err
	}
	if e.Nullability, err = nullability(v, field); err != nil {
		return nil, err
	}
	return e, nil
}

func compileProcedure(m *metadata.Model, name string, v cue.Value) (*metadata.Procedure, error) {
	field := "model." + m.Name + ".procedure." + name
	p := &metadata.Procedure{Name: m.Name + "." + name, Model: m.Name, Virtual: m.Virtual}
	var err error
	if p.NameInSource, err = optString(v, "name_in_source", field); err != nil {
		return nil, err
	}

	if pv := v.LookupPath(cue.ParsePath("param")); pv.Exists() {
		iter, err := pv.List()
		if err != nil {
			return nil, compileError(field+".param", "param must be a list", pv)
		}
		for i := 0; iter.Next(); i++ {
			param, err := compileParam(iter.Value(), fmt.Sprintf("%s.param[%d]", field, i))
			if err != nil {
				return nil, err
			}
			p.Params = append(p.Params, param)
		}
	}

	if rv := v.LookupPath(cue.ParsePath("result_set")); rv.Exists() {
		iter, err := rv.List()
		if err != nil {
			return nil, compileError(field+".result_set", "result_set must be a list", rv)
		}
		for i := 0; iter.Next(); i++ {
			sub := fmt.Sprintf("%s.result_set[%d]", field, i)
			col, err := reqString(iter.Value(), "name", sub)
			if err != nil {
				return nil, err
			}
			e, err := compileColumn(col, iter.Value(), sub)
			if err != nil {
				return nil, err
			}
			e.Name = p.Name + "." + col
			e.Group = p.Name
			p.ResultSet = append(p.ResultSet, e)
		}
	}
	return p, nil
}

func compileParam(v cue.Value, field string) (*metadata.Parameter, error) {
	p := &metadata.Parameter{}
	var err error
	if p.Name, err = reqString(v, "name", field); err != nil {
		return nil, err
	}
	dir, err := optString(v, "direction", field)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		if p.Direction, err = metadata.ParseDirection(dir); err != nil {
			return nil, compileError(field+".direction", err.Error(), v.LookupPath(cue.ParsePath("direction")))
		}
	}
	typeName, err := reqString(v, "type", field)
	if err != nil {
		return nil, err
	}
	if p.Type, err = metadata.ParseDataType(typeName); err != nil {
		return nil, compileError(field+".type", err.Error(), v.LookupPath(cue.ParsePath("type")))
	}
	if p.Nullability, err = nullability(v, field); err != nil {
		return nil, err
	}
	if dv := v.LookupPath(cue.ParsePath("default")); dv.Exists() {
		if p.Default, err = scalar(dv, field+".default"); err != nil {
			return nil, err
		}
		p.HasDefault = true
	}
	return p, nil
}

func nullability(v cue.Value, field string) (metadata.Nullability, error) {
	nv := v.LookupPath(cue.ParsePath("nullable"))
	if !nv.Exists() {
		return metadata.NullableUnknown, nil
	}
	b, err := nv.Bool()
	if err != nil {
		return 0, compileError(field+".nullable", "nullable must be a bool", nv)
	}
	if b {
		return metadata.Nullable, nil
	}
	return metadata.NotNull, nil
}

// scalar decodes a literal default into a Go value the ir package accepts.
func scalar(v cue.Value, field string) (any, error) {
	switch v.IncompleteKind() {
	case cue.NullKind:
		return nil, nil
	case cue.StringKind:
		return v.String()
	case cue.BoolKind:
		return v.Bool()
	case cue.IntKind:
		return v.Int64()
	case cue.FloatKind, cue.NumberKind:
		return v.Float64()
	}
	return nil, compileError(field, "default must be a scalar", v)
}
