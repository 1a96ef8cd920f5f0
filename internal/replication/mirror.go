package replication

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"powerbot/internal/apperr"
)

// metaTableName is the remote meta table, holding one row per mirrored
// snapshot keyed by tag (the snapshot stem).
const metaTableName = "powerbot_replication_meta"

// localTables returns every user table name in the local SQLite database,
// in a stable order, excluding SQLite's own internal tables.
func localTables(localDB *sqlx.DB) ([]string, error) {
	var names []string
	err := localDB.Select(&names, `
		SELECT name FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "list local tables", err)
	}
	return names, nil
}

// reflectTable reads a local table's column set via PRAGMA table_info and
// coerces each SQLite column type to its MySQL equivalent: int -> BIGINT,
// float/numeric -> DOUBLE, date-like -> DATETIME, blob -> LONGBLOB,
// otherwise LONGTEXT.
func reflectTable(localDB *sqlx.DB, table string) ([]mysqlColumn, bool, error) {
	rows, err := localDB.Queryx(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Storage, "pragma table_info for "+table, err)
	}
	defer rows.Close()

	var cols []mysqlColumn
	pkCount := 0
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, false, apperr.Wrap(apperr.Storage, "scan table_info for "+table, err)
		}
		if pk > 0 {
			pkCount++
		}
		cols = append(cols, mysqlColumn{
			Name:       name,
			SQLiteType: ctype,
			MySQLType:  coerceType(ctype),
			PrimaryKey: pk > 0,
		})
	}

	var createSQL string
	err = localDB.Get(&createSQL, `SELECT sql FROM sqlite_master WHERE type='table' AND name=?`, table)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Storage, "load create statement for "+table, err)
	}
	autoIncrement := pkCount == 1 && strings.Contains(strings.ToUpper(createSQL), "AUTOINCREMENT")

	return cols, autoIncrement, nil
}

func coerceType(sqliteType string) string {
	t := strings.ToUpper(strings.TrimSpace(sqliteType))
	switch {
	case strings.Contains(t, "INT"):
		return "BIGINT"
	case strings.Contains(t, "FLOAT"), strings.Contains(t, "DOUBLE"), strings.Contains(t, "REAL"), strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return "DOUBLE"
	case strings.Contains(t, "DATE"), strings.Contains(t, "TIME"):
		return "DATETIME"
	case strings.Contains(t, "BLOB"):
		return "LONGBLOB"
	default:
		return "LONGTEXT"
	}
}

// mirrorTable creates (or updates) the remote equivalent of a local table
// and replaces its contents: CREATE TABLE IF NOT EXISTS, DELETE, batched
// INSERT.
func mirrorTable(ctx context.Context, localDB *sqlx.DB, remoteDB *sqlx.DB, table string) (rowCount int, err error) {
	cols, autoIncrement, err := reflectTable(localDB, table)
	if err != nil {
		return 0, err
	}
	if err := createRemoteTable(ctx, remoteDB, table, cols, autoIncrement); err != nil {
		return 0, err
	}

	if _, err := remoteDB.ExecContext(ctx, fmt.Sprintf("DELETE FROM `%s`", table)); err != nil {
		return 0, apperr.Wrap(apperr.RemoteUnavailable, "clear remote table "+table, err)
	}

	colNames := make([]string, len(cols))
	for i, c := range cols {
		colNames[i] = c.Name
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(colNames, ", "), table)
	localRows, err := localDB.Queryx(query)
	if err != nil {
		return 0, apperr.Wrap(apperr.Storage, "read local table "+table, err)
	}
	defer localRows.Close()

	const batchSize = 500
	batch := make([][]any, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := insertBatch(ctx, remoteDB, table, colNames, batch); err != nil {
			return err
		}
		rowCount += len(batch)
		batch = batch[:0]
		return nil
	}

	for localRows.Next() {
		values, err := localRows.SliceScan()
		if err != nil {
			return rowCount, apperr.Wrap(apperr.Storage, "scan row from "+table, err)
		}
		batch = append(batch, values)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return rowCount, err
			}
		}
	}
	if err := flush(); err != nil {
		return rowCount, err
	}
	return rowCount, nil
}

func createRemoteTable(ctx context.Context, remoteDB *sqlx.DB, table string, cols []mysqlColumn, autoIncrement bool) error {
	var defs []string
	var pkCols []string
	for _, c := range cols {
		def := fmt.Sprintf("`%s` %s", c.Name, c.MySQLType)
		if c.PrimaryKey && autoIncrement && c.MySQLType == "BIGINT" {
			def += " AUTO_INCREMENT"
		}
		defs = append(defs, def)
		if c.PrimaryKey {
			pkCols = append(pkCols, fmt.Sprintf("`%s`", c.Name))
		}
	}
	if len(pkCols) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pkCols, ", ")))
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` (%s) ENGINE=InnoDB", table, strings.Join(defs, ", "))
	if _, err := remoteDB.ExecContext(ctx, ddl); err != nil {
		return apperr.Wrap(apperr.RemoteUnavailable, "create remote table "+table, err)
	}
	return nil
}

func insertBatch(ctx context.Context, remoteDB *sqlx.DB, table string, colNames []string, batch [][]any) error {
	placeholders := make([]string, len(batch))
	args := make([]any, 0, len(batch)*len(colNames))
	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(colNames)), ",") + ")"
	for i, row := range batch {
		placeholders[i] = rowPlaceholder
		args = append(args, row...)
	}
	quotedCols := make([]string, len(colNames))
	for i, c := range colNames {
		quotedCols[i] = fmt.Sprintf("`%s`", c)
	}
	query := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES %s", table, strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))
	if _, err := remoteDB.ExecContext(ctx, query, args...); err != nil {
		return apperr.Wrap(apperr.RemoteUnavailable, "insert into remote table "+table, err)
	}
	return nil
}

// writeMetaRow upserts the <meta> table row for this mirror run, keyed by
// tag (the snapshot stem).
func writeMetaRow(ctx context.Context, remoteDB *sqlx.DB, tag string, rowCounts string) error {
	_, err := remoteDB.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s`"+` (
			tag VARCHAR(255) PRIMARY KEY,
			created_at DATETIME NOT NULL,
			table_row_counts LONGTEXT NOT NULL
		) ENGINE=InnoDB`, metaTableName))
	if err != nil {
		return apperr.Wrap(apperr.RemoteUnavailable, "create meta table", err)
	}
	_, err = remoteDB.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO `%s` (tag, created_at, table_row_counts) VALUES (?, NOW(), ?) "+
			"ON DUPLICATE KEY UPDATE created_at=VALUES(created_at), table_row_counts=VALUES(table_row_counts)",
		metaTableName), tag, rowCounts)
	if err != nil {
		return apperr.Wrap(apperr.RemoteUnavailable, "write meta row", err)
	}
	return nil
}

// cleanupOrphanTables drops any remote table that has no local
// counterpart and is not the meta table.
// Failures here are non-fatal per spec: the caller logs and continues.
func cleanupOrphanTables(ctx context.Context, remoteDB *sqlx.DB, localTableNames []string) error {
	keep := make(map[string]bool, len(localTableNames)+1)
	for _, t := range localTableNames {
		keep[t] = true
	}
	keep[metaTableName] = true

	var remoteTables []string
	err := remoteDB.SelectContext(ctx, &remoteTables, `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE()`)
	if err != nil {
		return apperr.Wrap(apperr.RemoteUnavailable, "list remote tables", err)
	}

	for _, t := range remoteTables {
		if keep[t] {
			continue
		}
		if _, err := remoteDB.ExecContext(ctx, fmt.Sprintf("DROP TABLE `%s`", t)); err != nil {
			return apperr.Wrap(apperr.RemoteUnavailable, "drop orphan table "+t, err)
		}
	}
	return nil
}
