// Package integrity verifies structural invariants of the ledger tables that
// the database cannot express on its own.
package integrity

import "fmt"

// Relation is a child column that must reference an existing parent row.
type Relation struct {
	Name         string
	Child        string
	ChildColumn  string
	Parent       string
	ParentColumn string
	// Tenant adds tenant_id to the match for tables keyed per tenant.
	Tenant bool
}

// Relations lists every reference the checker verifies.
var Relations = []Relation{
	{Name: "line_header", Child: "gl_lines", ChildColumn: "transaction_id", Parent: "gl_headers", ParentColumn: "id", Tenant: true},
	{Name: "reversal_of", Child: "gl_headers", ChildColumn: "reversal_of", Parent: "gl_headers", ParentColumn: "id", Tenant: true},
	{Name: "reversed_by", Child: "gl_headers", ChildColumn: "reversed_by", Parent: "gl_headers", ParentColumn: "id", Tenant: true},
	{Name: "header_type", Child: "gl_headers", ChildColumn: "transaction_type", Parent: "gl_transaction_types", ParentColumn: "name"},
	{Name: "sequence_type", Child: "gl_sequences", ChildColumn: "transaction_type", Parent: "gl_transaction_types", ParentColumn: "name"},
}

func (r Relation) orphanSQL() string {
	match := fmt.Sprintf("p.%s = c.%s", r.ParentColumn, r.ChildColumn)
	if r.Tenant {
		match = "p.tenant_id = c.tenant_id AND " + match
	}
	return fmt.Sprintf(`SELECT COUNT(*) FROM %s c WHERE c.%s IS NOT NULL AND NOT EXISTS (SELECT 1 FROM %s p WHERE %s)`,
		r.Child, r.ChildColumn, r.Parent, match)
}
