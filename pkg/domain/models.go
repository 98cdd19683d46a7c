// Package domain holds the tuple and schema types shared between the
// persistent table (pkg/store) and the snapshot scan context (pkg/snapscan).
package domain

// Row is a single tuple's column values, keyed by column name.
type Row map[string]interface{}

// ColumnInfo describes one column of a table's schema.
type ColumnInfo struct {
	Name     string
	Type     string
	Nullable bool
	Primary  bool
}

// TableInfo describes a table's schema.
type TableInfo struct {
	Name    string
	Columns []ColumnInfo
}

// Filter is an equality predicate used by tests to locate rows; the COW
// scan context itself never filters — it streams every live row.
type Filter struct {
	Field string
	Value interface{}
}

// Match reports whether row satisfies the filter's equality predicate.
func (f Filter) Match(row Row) bool {
	v, ok := row[f.Field]
	if !ok {
		return false
	}
	return v == f.Value
}
