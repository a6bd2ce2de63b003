// Package harness runs push-down scenarios against a virtual database.
//
// A scenario names a VDB, seeds its SQLite connectors, describes a logical
// plan with its ACCESS nodes already placed, and asserts on the planned tree
// and the rows each pushed fragment returns.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: pushed_filter
//	description: "Filter and projection run inside the source"
//	vdb: ../vdb/sales.cue
//	data:
//	  orders:
//	    - CREATE TABLE customers (id INTEGER, full_name TEXT)
//	    - INSERT INTO customers VALUES (1, 'ann'), (2, 'bob')
//	plan:
//	  kind: project
//	  items: [{col: pg.customer.name}]
//	  children:
//	    - kind: select
//	      where: {op: ">", left: {col: pg.customer.id}, right: {value: 1}}
//	      children:
//	        - kind: access
//	          model: pg
//	          children:
//	            - kind: source
//	              group: pg.customer
//	assertions:
//	  - type: root_kind
//	    kind: ACCESS
//	  - type: rows
//	    fragment: 0
//	    rows: [["bob"]]
//
// # Assertion Types
//
//   - access_count: the planned tree has exactly N ACCESS nodes
//   - root_kind: the planned root has the given kind
//   - plan_contains: the formatted plan contains a substring
//   - rows: a fragment returned exactly the given rows, in order
//   - error: planning or execution failed with the given code
//
// # Deterministic Testing
//
// Every scenario runs with a fixed request id and fresh database files, so
// snapshots compare equal across runs. RunWithGolden checks the snapshot
// against testdata/golden/{name}.golden.
package harness
