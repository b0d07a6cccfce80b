// Package aql parses and normalizes ARLA query documents.
//
// A document is a list of property selections evaluated against the root
// entity:
//
//	members().sort(username desc) {
//	    username
//	    email_addresses.where(addr != $1) { addr }
//	    first_email: email_addresses.pluck(addr).first()
//	}
//
// A selection is `[alias:] name[(args)] [.filter(...)]* [{ selections }]`.
// Filters are pluck, where (alias filter), sortBy, sort, count, first,
// take and slice. Strings may use single or double quotes, `#` starts a
// comment, and commas between selections are optional. A document written
// as `root() { ... }` is the same as the bare document.
//
// Parse produces a *Node tree. Normalize then rewrites it into the form the
// SQL compiler expects:
//
//  1. Pluck chains nest: a.pluck(x).pluck(y){z} becomes a.pluck(x.pluck(y{z})).
//  2. count is terminal: it drops plucks and sub-selections, and any filter
//     after it is an error.
//  3. where clauses merge into one conjunction.
//  4. At most one sort or sortBy per selection.
//  5. Sibling selections with the same output key merge when their
//     signatures match and conflict otherwise.
//
// Normalized trees are immutable and may be cached and shared.
package aql
