// Package schema implements the Schema Registry and the DDL Compiler.
//
// ARCHITECTURE:
//
// Entities are declared once during startup with Registry.Define. Each
// entity is an ordered list of properties, a list of indexes and a set of
// lifecycle hooks. A property is either stored (a column) or computed (an
// edge: an EdgeFunc returning the SQL that produces its value).
//
//	reg := schema.NewRegistry()
//	reg.Define("member", schema.Entity{
//	    Properties: []schema.Property{
//	        {Name: "username", Type: "text", Unique: true},
//	        {Name: "email_addresses", Type: "email", Array: true, Edge: emailsOf},
//	    },
//	})
//	stmts, err := reg.CompileDDL(dialect.SQLite{})
//
// CRITICAL PATTERNS:
//
//  1. Forward references. Define never looks at other entities; Resolve (run
//     by CompileDDL and by the engine) binds refs and edge result types once
//     every entity is known.
//
//  2. Ordered DDL. CompileDDL tags each statement with a priority (create
//     table, triggers, primary key, columns, indexes) and sorts stably, so a
//     foreign key always finds the primary key column it references.
//
//  3. Idempotent migration. Statements are not guarded with IF NOT EXISTS;
//     the store treats "already exists" failures as success, which is what
//     lets a later schema migrate an existing projection forward.
//
//  4. One SQL shape. Edges and actions return a SQL value: RawSQL,
//     ParameterizedSQL or SQLWithCTE. ResolveSQL is the only place that
//     interprets them.
//
//  5. Freeze. After the engine initializes, the registry is frozen and any
//     further Define fails with ErrFrozen.
package schema
