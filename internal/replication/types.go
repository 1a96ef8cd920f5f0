// Package replication implements the Replication Engine: periodic
// snapshot of the local embedded database, a full-table mirror to a
// remote MySQL store, orphan-table cleanup, a tiered retention policy,
// and restore.
package replication

import "time"

// ManifestEntry is one snapshot manifest entry, persisted in the local
// store's snapshot_manifest table rather than a flat JSON file: the
// manifest is authoritative for retention and restore,
// not advisory, so it gets the same write-serialized table every other
// authoritative record in this rewrite uses.
type ManifestEntry struct {
	ID             int64     `db:"id"`
	Sequence       int64     `db:"sequence"`
	CreatedAt      time.Time `db:"created_at"`
	Reason         string    `db:"reason"`
	SnapshotPath   string    `db:"snapshot_path"`
	MirrorOK       bool      `db:"mirror_ok"`
	MirrorError    *string   `db:"mirror_error"`
	TableRowCounts string    `db:"table_row_counts"` // JSON-encoded map[string]int
}

// mysqlColumn describes one column of a reflected local table, enough to
// emit a MySQL CREATE TABLE and typed placeholders for INSERT.
type mysqlColumn struct {
	Name       string
	SQLiteType string
	MySQLType  string
	PrimaryKey bool
}
