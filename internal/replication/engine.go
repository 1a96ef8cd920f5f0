package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"powerbot/internal/apperr"
	"powerbot/internal/logging"
	"powerbot/internal/store"
)

// Engine implements the autosave/retention/restore cycle against one
// local embedded Store and one remote MySQL mirror.
type Engine struct {
	local      *store.DB
	remote     *sqlx.DB
	snapshotDir string
}

// New opens a connection to the remote MySQL mirror and returns an
// Engine bound to localDB. snapshotDir is created if missing.
func New(localDB *store.DB, remoteDSN, snapshotDir string) (*Engine, error) {
	remote, err := sqlx.Connect("mysql", remoteDSN)
	if err != nil {
		return nil, apperr.Wrap(apperr.RemoteUnavailable, "connect remote mirror", err)
	}
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		remote.Close()
		return nil, apperr.Wrap(apperr.Storage, "create snapshot directory", err)
	}
	return &Engine{local: localDB, remote: remote, snapshotDir: snapshotDir}, nil
}

// Close releases the remote mirror connection.
func (e *Engine) Close() error {
	return e.remote.Close()
}

// EnsureTables is additive-only and idempotent, guarding a local store
// opened against an older install (the baseline lives in
// migrations/sqlite).
func (e *Engine) EnsureTables(ctx context.Context) error {
	_, err := e.local.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS snapshot_manifest (
			id INTEGER PRIMARY KEY AUTOINCREMENT, sequence INTEGER NOT NULL,
			created_at DATETIME NOT NULL, reason TEXT NOT NULL,
			snapshot_path TEXT NOT NULL, mirror_ok INTEGER NOT NULL,
			mirror_error TEXT, table_row_counts TEXT)`)
	if err != nil {
		return apperr.Wrap(apperr.SchemaMismatch, "ensure snapshot_manifest table", err)
	}
	return nil
}

// Autosave runs the snapshot+mirror operation: copy the local file
// under the write lock, mirror every table to the remote store from
// that consistent copy, clean up remote orphan tables, write the
// manifest row, and apply retention. A mirror failure degrades to a
// recorded partial success rather than a returned error, and a retention
// failure is only logged; a failure to copy the local snapshot or to
// write its manifest row is returned as an error.
func (e *Engine) Autosave(ctx context.Context, reason string) (ManifestEntry, error) {
	log := logging.For("replication")
	now := time.Now().UTC()
	stamp := now.Format("20060102T150405Z")
	snapshotPath := filepath.Join(e.snapshotDir, fmt.Sprintf("%s_%s.db", reason, stamp))

	err := e.local.BeginImmediate(ctx, func(tx *store.Tx) error {
		return copyFile(e.local.Path(), snapshotPath)
	})
	if err != nil {
		return ManifestEntry{}, apperr.Wrap(apperr.Storage, "copy local snapshot", err)
	}

	rowCounts, mirrorErr := e.mirrorFromSnapshot(ctx, snapshotPath, reason+"_"+stamp)
	if mirrorErr != nil {
		log.Warn().Err(mirrorErr).Str("snapshot", snapshotPath).Msg("mirror step failed, recording partial success")
	}

	rowCountsJSON, err := json.Marshal(rowCounts)
	if err != nil {
		return ManifestEntry{}, apperr.Wrap(apperr.Storage, "marshal row counts", err)
	}

	var mirrorErrMsg *string
	if mirrorErr != nil {
		msg := mirrorErr.Error()
		mirrorErrMsg = &msg
	}

	entry := ManifestEntry{
		CreatedAt:      now,
		Reason:         reason,
		SnapshotPath:   snapshotPath,
		MirrorOK:       mirrorErr == nil,
		MirrorError:    mirrorErrMsg,
		TableRowCounts: string(rowCountsJSON),
	}

	if err := e.local.BeginImmediate(ctx, func(tx *store.Tx) error {
		var seq int64
		if err := tx.GetContext(ctx, &seq, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM snapshot_manifest`); err != nil {
			return apperr.Wrap(apperr.Storage, "compute manifest sequence", err)
		}
		entry.Sequence = seq
		res, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_manifest (sequence, created_at, reason, snapshot_path, mirror_ok, mirror_error, table_row_counts)
			VALUES (?,?,?,?,?,?,?)`,
			entry.Sequence, entry.CreatedAt, entry.Reason, entry.SnapshotPath, entry.MirrorOK, entry.MirrorError, entry.TableRowCounts)
		if err != nil {
			return apperr.Wrap(apperr.Storage, "insert manifest entry", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return apperr.Wrap(apperr.Storage, "read manifest entry id", err)
		}
		entry.ID = id
		return nil
	}); err != nil {
		return ManifestEntry{}, err
	}

	if err := e.applyRetention(ctx); err != nil {
		log.Warn().Err(err).Msg("retention cleanup failed")
	}

	return entry, nil
}

func (e *Engine) mirrorFromSnapshot(ctx context.Context, snapshotPath, tag string) (map[string]int, error) {
	snapshotDB, err := sqlx.Connect("sqlite", fmt.Sprintf("file:%s?mode=ro", snapshotPath))
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "open snapshot for mirroring", err)
	}
	defer snapshotDB.Close()

	tables, err := localTables(snapshotDB)
	if err != nil {
		return nil, err
	}

	rowCounts := make(map[string]int, len(tables))
	for _, table := range tables {
		count, err := mirrorTable(ctx, snapshotDB, e.remote, table)
		if err != nil {
			return rowCounts, err
		}
		rowCounts[table] = count
	}

	if err := cleanupOrphanTables(ctx, e.remote, tables); err != nil {
		logging.For("replication").Warn().Err(err).Msg("orphan table cleanup failed")
	}

	rowCountsJSON, _ := json.Marshal(rowCounts)
	if err := writeMetaRow(ctx, e.remote, tag, string(rowCountsJSON)); err != nil {
		return rowCounts, err
	}
	return rowCounts, nil
}

// applyRetention loads every manifest entry, computes the retain/delete
// split, and removes the deleted snapshot files and manifest rows.
// Cleanup failures are logged and otherwise non-fatal.
func (e *Engine) applyRetention(ctx context.Context) error {
	var entries []ManifestEntry
	if err := e.local.SelectContext(ctx, &entries, `SELECT * FROM snapshot_manifest`); err != nil {
		return apperr.Wrap(apperr.Storage, "load manifest for retention", err)
	}

	_, deleted := selectRetained(entries)
	if len(deleted) == 0 {
		return nil
	}

	log := logging.For("replication")
	for _, entry := range deleted {
		if err := os.Remove(entry.SnapshotPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", entry.SnapshotPath).Msg("failed to remove expired snapshot file")
		}
		if err := e.local.BeginImmediate(ctx, func(tx *store.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM snapshot_manifest WHERE id=?`, entry.ID)
			return err
		}); err != nil {
			log.Warn().Err(err).Int64("id", entry.ID).Msg("failed to delete expired manifest row")
		}
	}
	return nil
}

// Recover restores by copying the selected snapshot back over the local
// database, then runs a fresh snapshot+mirror tagged
// "recovery_<timestamp>".
func (e *Engine) Recover(ctx context.Context, manifestID int64) (ManifestEntry, error) {
	var entry ManifestEntry
	if err := e.local.GetContext(ctx, &entry, `SELECT * FROM snapshot_manifest WHERE id=?`, manifestID); err != nil {
		return ManifestEntry{}, apperr.Wrap(apperr.RestoreFailed, "load manifest entry", err)
	}

	if err := e.local.BeginImmediate(ctx, func(tx *store.Tx) error {
		return copyFile(entry.SnapshotPath, e.local.Path())
	}); err != nil {
		return ManifestEntry{}, apperr.Wrap(apperr.RestoreFailed, "restore snapshot file", err)
	}

	fresh, err := e.Autosave(ctx, "recovery")
	if err != nil {
		return ManifestEntry{}, apperr.Wrap(apperr.RestoreFailed, "post-restore snapshot", err)
	}
	return fresh, nil
}

// HealthPing issues the remote SELECT 1 health check the slower
// scheduler loop performs.
func (e *Engine) HealthPing(ctx context.Context) error {
	var one int
	if err := e.remote.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return apperr.Wrap(apperr.RemoteUnavailable, "remote health ping", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
