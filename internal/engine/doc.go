// Package engine implements the mutation engine and the sync/replay engine,
// and is the entry point for queries.
//
// # Mutations
//
// Exec takes a mutation {name, args, version, token} through these steps:
//
//  1. reject a mutation without a name or version
//  2. upgrade it with the configured Transform until it reaches the current
//     schema version (bounded, see QuotaEnforcer)
//  3. resolve the Action by name; unknown well-formed names give "no such
//     action", malformed names a generic "invalid action"
//  4. in one transaction: run the action's statement, drain the captured
//     row changes through the entity hooks, record last_mutation
//  5. commit, then append the original (pre-transform) mutation to the WAL
//
// Hook and action errors surface as UserError. Storage errors become a
// MutationError whose message is a fixed summary such as "violates unique
// constraint".
//
// # Sync
//
// The projection records the WAL it was built from (store_id), the last
// applied WAL id (last_id) and the id of the last committed mutation
// (last_mutation). Sync compares store ids, adopts the WAL's identity when
// the projection is empty, refuses to continue on a mismatch, and replays
// the entries after last_id in order. An entry whose mutation id equals
// last_mutation was committed before a crash and is acknowledged without
// running it again.
//
// Replay must never interleave with live mutations: Exec holds the engine
// gate shared and Sync holds it exclusively.
package engine
