package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentic-research/loadstone/api"
)

// CommitRequest describes one atomic commit: a new TableVersion plus the
// ledger entries for the batch's source files. ExpectedVersion is the head
// observed at batch-preparation time (0 when the table had none); the
// commit fails with api.ErrIngestionConflict if another batch moved the
// head in the interim.
type CommitRequest struct {
	TableID         string
	BatchID         string
	Mode            CommitMode
	Schema          api.Schema
	Files           []DataFile
	Sources         []SourceFile
	ExpectedVersion int64
}

// Commit atomically appends a new TableVersion and registers the batch's
// source files in the ledger. Both become visible together or not at all.
// A replace commit also clears the table's prior ledger entries: the files
// behind superseded versions are no longer part of the table.
func (c *Catalog) Commit(ctx context.Context, req CommitRequest) (TableVersion, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return TableVersion{}, fmt.Errorf("%w: begin commit: %v", api.ErrStorageWrite, err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	// Optimistic concurrency: re-read the head under the write lock.
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM versions WHERE table_id = ?`, req.TableID)
	var head int64
	if err := row.Scan(&head); err != nil {
		return TableVersion{}, fmt.Errorf("%w: read head: %v", api.ErrStorageWrite, err)
	}
	if head != req.ExpectedVersion {
		return TableVersion{}, fmt.Errorf("%w: table %s moved from v%d to v%d during ingestion",
			api.ErrIngestionConflict, req.TableID, req.ExpectedVersion, head)
	}

	version := head + 1
	now := time.Now()

	rawSchema, err := json.Marshal(req.Schema)
	if err != nil {
		return TableVersion{}, fmt.Errorf("%w: encode schema: %v", api.ErrStorageWrite, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO versions (table_id, version, batch_id, mode, schema, committed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		req.TableID, version, req.BatchID, string(req.Mode), rawSchema, now.UnixNano()); err != nil {
		return TableVersion{}, fmt.Errorf("%w: write version: %v", api.ErrStorageWrite, err)
	}

	for seq, f := range req.Files {
		var rescued []byte
		if f.RescuedRows != nil {
			rescued, err = f.RescuedRows.MarshalBinary()
			if err != nil {
				return TableVersion{}, fmt.Errorf("%w: encode rescued-row bitmap: %v", api.ErrStorageWrite, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO data_files (table_id, version, seq, path, row_count, rescued_count, rescued_rows) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			req.TableID, version, seq, f.Path, f.RowCount, f.RescuedCount, rescued); err != nil {
			return TableVersion{}, fmt.Errorf("%w: write data file: %v", api.ErrStorageWrite, err)
		}
	}

	if req.Mode == ModeReplace {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM ledger WHERE table_id = ?`, req.TableID); err != nil {
			return TableVersion{}, fmt.Errorf("%w: reset ledger: %v", api.ErrStorageWrite, err)
		}
	}
	if err := registerSources(ctx, tx, req, now); err != nil {
		return TableVersion{}, err
	}

	if err := tx.Commit(); err != nil {
		return TableVersion{}, fmt.Errorf("%w: commit: %v", api.ErrStorageWrite, err)
	}

	return TableVersion{
		TableID:     req.TableID,
		Version:     version,
		BatchID:     req.BatchID,
		Mode:        req.Mode,
		Schema:      req.Schema,
		CommittedAt: now,
		Added:       req.Files,
	}, nil
}

// registerSources is the ledger half of the transaction. A fingerprint
// already present means a concurrent batch committed the same file first.
func registerSources(ctx context.Context, tx *sql.Tx, req CommitRequest, now time.Time) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ledger (table_id, fingerprint, source_path, size, mod_time, batch_id, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (table_id, fingerprint) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("%w: prepare ledger insert: %v", api.ErrStorageWrite, err)
	}
	defer func() { _ = stmt.Close() }() // safe to ignore

	for _, src := range req.Sources {
		res, err := stmt.ExecContext(ctx, req.TableID, src.Fingerprint(), src.Path,
			src.Size, src.ModTime.UnixNano(), req.BatchID, now.UnixNano())
		if err != nil {
			return fmt.Errorf("%w: write ledger entry: %v", api.ErrStorageWrite, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: ledger rows affected: %v", api.ErrStorageWrite, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: file %s already committed to %s",
				api.ErrIngestionConflict, src.Path, req.TableID)
		}
	}
	return nil
}
