// Package catalog is the durable side of the ingestion engine: an
// append-only per-table log of immutable TableVersions plus the ingestion
// ledger, both in one SQLite database so a version and its ledger entries
// commit as a single transaction.
package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/loadstone/api"
)

// CommitMode distinguishes full-replace (CTAS) commits from incremental
// appends.
type CommitMode string

const (
	ModeReplace CommitMode = "replace"
	ModeAppend  CommitMode = "append"
)

// SourceFile is the identity of one external file as observed at discovery
// time. Immutable once observed; the fingerprint is the ledger key.
type SourceFile struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Fingerprint derives the content identity from (canonical path, size,
// mtime), hex-encoded sha256.
func (f SourceFile) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d", f.Path, f.Size, f.ModTime.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}

// DataFile is one materialized output file referenced by a TableVersion.
type DataFile struct {
	Path         string
	RowCount     int
	RescuedCount int
	// RescuedRows holds the row indexes within this file that carry a
	// rescue payload. Nil when nothing was rescued.
	RescuedRows *roaring.Bitmap
}

// TableVersion is one immutable snapshot in a table's commit log.
// Added lists only the data files this commit contributed; the effective
// file set of a version is reconstructed back to the last replace commit.
type TableVersion struct {
	TableID     string
	Version     int64
	BatchID     string
	Mode        CommitMode
	Schema      api.Schema
	CommittedAt time.Time
	Added       []DataFile
}

// Catalog wraps the SQLite store. Safe for concurrent use; writes are
// serialized by SQLite's write lock and validated optimistically against
// the expected head version.
type Catalog struct {
	db   *sql.DB
	path string
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS versions (
	table_id     TEXT NOT NULL,
	version      INTEGER NOT NULL,
	batch_id     TEXT NOT NULL,
	mode         TEXT NOT NULL,
	schema       JSON NOT NULL,
	committed_at INTEGER NOT NULL,
	PRIMARY KEY (table_id, version)
);

CREATE TABLE IF NOT EXISTS data_files (
	table_id      TEXT NOT NULL,
	version       INTEGER NOT NULL,
	seq           INTEGER NOT NULL,
	path          TEXT NOT NULL,
	row_count     INTEGER NOT NULL,
	rescued_count INTEGER NOT NULL,
	rescued_rows  BLOB,
	PRIMARY KEY (table_id, version, seq)
);

CREATE TABLE IF NOT EXISTS ledger (
	table_id     TEXT NOT NULL,
	fingerprint  TEXT NOT NULL,
	source_path  TEXT NOT NULL,
	size         INTEGER NOT NULL,
	mod_time     INTEGER NOT NULL,
	batch_id     TEXT NOT NULL,
	committed_at INTEGER NOT NULL,
	PRIMARY KEY (table_id, fingerprint)
);
`

// Open opens (creating if needed) the catalog database at path.
func Open(path string) (*Catalog, error) {
	// _txlock=immediate takes the write lock when a transaction begins,
	// so a commit racing another process waits (busy_timeout) instead of
	// hitting SQLITE_BUSY midway through its writes.
	db, err := sql.Open("sqlite", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(catalogSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}
	return &Catalog{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Head returns the table's current version number and schema. ok is false
// when the table has no committed version.
func (c *Catalog) Head(ctx context.Context, tableID string) (int64, api.Schema, bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT version, schema FROM versions WHERE table_id = ? ORDER BY version DESC LIMIT 1`, tableID)
	var version int64
	var rawSchema []byte
	if err := row.Scan(&version, &rawSchema); err != nil {
		if err == sql.ErrNoRows {
			return 0, api.Schema{}, false, nil
		}
		return 0, api.Schema{}, false, fmt.Errorf("read head of %s: %w", tableID, err)
	}
	var schema api.Schema
	if err := json.Unmarshal(rawSchema, &schema); err != nil {
		return 0, api.Schema{}, false, fmt.Errorf("decode schema of %s: %w", tableID, err)
	}
	return version, schema, true, nil
}

// Ingested returns the set of source-file fingerprints already committed
// for the table. Discovery filters against it.
func (c *Catalog) Ingested(ctx context.Context, tableID string) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT fingerprint FROM ledger WHERE table_id = ?`, tableID)
	if err != nil {
		return nil, fmt.Errorf("read ledger of %s: %w", tableID, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	set := make(map[string]bool)
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		set[fp] = true
	}
	return set, rows.Err()
}

// Versions returns the table's commit log in version order, including the
// data files each commit added.
func (c *Catalog) Versions(ctx context.Context, tableID string) ([]TableVersion, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT version, batch_id, mode, schema, committed_at FROM versions WHERE table_id = ? ORDER BY version`, tableID)
	if err != nil {
		return nil, fmt.Errorf("read versions of %s: %w", tableID, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var versions []TableVersion
	for rows.Next() {
		v := TableVersion{TableID: tableID}
		var rawSchema []byte
		var committedAt int64
		if err := rows.Scan(&v.Version, &v.BatchID, (*string)(&v.Mode), &rawSchema, &committedAt); err != nil {
			return nil, fmt.Errorf("scan version row: %w", err)
		}
		if err := json.Unmarshal(rawSchema, &v.Schema); err != nil {
			return nil, fmt.Errorf("decode schema of %s v%d: %w", tableID, v.Version, err)
		}
		v.CommittedAt = time.Unix(0, committedAt)
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range versions {
		files, err := c.addedFiles(ctx, tableID, versions[i].Version)
		if err != nil {
			return nil, err
		}
		versions[i].Added = files
	}
	return versions, nil
}

// FileSet reconstructs the effective data-file set of a version: every file
// added since (and including) the most recent replace commit at or before
// it. Append commits therefore extend the prior set as a prefix.
func (c *Catalog) FileSet(ctx context.Context, tableID string, version int64) ([]DataFile, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM versions WHERE table_id = ? AND version <= ? AND mode = ?`,
		tableID, version, string(ModeReplace))
	var base int64
	if err := row.Scan(&base); err != nil {
		return nil, fmt.Errorf("find base version of %s: %w", tableID, err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT path, row_count, rescued_count, rescued_rows FROM data_files
		 WHERE table_id = ? AND version >= ? AND version <= ? ORDER BY version, seq`,
		tableID, base, version)
	if err != nil {
		return nil, fmt.Errorf("read file set of %s v%d: %w", tableID, version, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore
	return scanDataFiles(rows)
}

func (c *Catalog) addedFiles(ctx context.Context, tableID string, version int64) ([]DataFile, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT path, row_count, rescued_count, rescued_rows FROM data_files
		 WHERE table_id = ? AND version = ? ORDER BY seq`, tableID, version)
	if err != nil {
		return nil, fmt.Errorf("read data files of %s v%d: %w", tableID, version, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore
	return scanDataFiles(rows)
}

func scanDataFiles(rows *sql.Rows) ([]DataFile, error) {
	var files []DataFile
	for rows.Next() {
		var f DataFile
		var rescued []byte
		if err := rows.Scan(&f.Path, &f.RowCount, &f.RescuedCount, &rescued); err != nil {
			return nil, fmt.Errorf("scan data file row: %w", err)
		}
		if len(rescued) > 0 {
			bm := roaring.New()
			if err := bm.UnmarshalBinary(rescued); err != nil {
				return nil, fmt.Errorf("decode rescued-row bitmap: %w", err)
			}
			f.RescuedRows = bm
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
