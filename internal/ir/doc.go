// Package ir provides the value types shared by every ARLA component.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the mutation wire shape
// and session context as the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Mutation is the exact wire shape {id, name, args, version, token}
//   - Mutations are never modified after they are accepted; transforms copy
//   - Numbers decoded from JSON stay json.Number so integers survive a WAL round trip
//   - All JSON tags use snake_case
package ir
