// Package harness runs YAML scenarios against a real engine.
//
// Each scenario compiles a CUE schema directory, opens a fresh SQLite
// projection and SQLite WAL in a temporary directory, and drives the engine
// through its public operations. Mutation ids and WAL timestamps come from
// deterministic generators, so the same scenario always produces the same
// trace and WAL contents.
//
// # Scenario Format
//
//	name: member_lifecycle
//	description: "What this scenario validates"
//	schema: ../schema            # relative to the scenario file
//	session: { member_id: x }    # default session for every step
//	setup:
//	  - exec: addMember
//	    args: [alice]
//	steps:
//	  - exec: addMember
//	    args: [alice]
//	    expect:
//	      error: UNIQUE_VIOLATION
//	  - query: "members { username }"
//	    expect:
//	      result: { members: [{ username: alice }] }
//	assertions:
//	  - type: wal_count
//	    count: 1
//	  - type: final_state
//	    table: member
//	    where: { username: alice }
//	    expect: { username: alice }
//
// Setup steps must succeed. A step without expect must succeed too; an
// expect clause may instead name the error code the step fails with.
//
// # Assertion Types
//
//   - trace_contains: an applied mutation with the action name and args prefix
//   - trace_order: applied mutations appear in the given order
//   - trace_count: an action was applied exactly N times
//   - final_state: exactly one projection row matches where, subset compare
//   - wal_count: the WAL holds exactly N entries
//   - replay: a fresh projection synced from the WAL answers query identically
//
// # Golden Files
//
// RunWithGolden renders the trace as canonical JSON and compares it with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
