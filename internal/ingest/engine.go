// Package ingest drives one ingestion call end to end: discover new source
// files, parse them in parallel, reconcile the batch schema against the
// table, and hand the batch to the materializer for one atomic commit.
package ingest

import (
	"context"
	"fmt"
	"log"
	"runtime"

	billy "github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/loadstone/api"
	"github.com/agentic-research/loadstone/internal/catalog"
	"github.com/agentic-research/loadstone/internal/format"
	"github.com/agentic-research/loadstone/internal/lattice"
)

// Engine composes discovery, parsing, reconciliation, and the materializer
// commit. One Engine serves many tables; per-call state lives on the stack.
type Engine struct {
	cat     *catalog.Catalog
	mat     *catalog.Materializer
	source  billy.Filesystem
	workers int
}

// New wires an engine over a catalog, a source filesystem, and the data
// directory materialized parquet files are written under.
func New(cat *catalog.Catalog, source billy.Filesystem, dataDir string) *Engine {
	return &Engine{
		cat:     cat,
		mat:     &catalog.Materializer{Cat: cat, DataDir: dataDir},
		source:  source,
		workers: runtime.NumCPU(),
	}
}

// QueryResult is a materialized result set fed to CreateTableAs: CTAS
// consumes rows that already exist in memory rather than source files.
type QueryResult struct {
	Schema  api.Schema
	Records []api.Record
}

// IngestIncremental is the idempotent append path. Files already in the
// ledger are silently filtered; when nothing new exists the call is a true
// no-op with zero counts and no commit. A failure anywhere leaves the
// table and ledger untouched.
func (e *Engine) IngestIncremental(ctx context.Context, tableID, location string, opts api.Options) (api.IngestResult, error) {
	expected, existing, exists, err := e.cat.Head(ctx, tableID)
	if err != nil {
		return api.IngestResult{}, err
	}
	ingested, err := e.cat.Ingested(ctx, tableID)
	if err != nil {
		return api.IngestResult{}, err
	}

	sources, err := Discover(ctx, e.source, location, ingested)
	if err != nil {
		return api.IngestResult{}, err
	}
	if len(sources) == 0 {
		return api.IngestResult{}, nil
	}
	log.Printf("ingest %s: %d new files at %s", tableID, len(sources), location)

	results, err := e.parseAll(ctx, sources, opts)
	if err != nil {
		return api.IngestResult{}, err
	}

	candidates := make([]*lattice.Candidate, len(results))
	fileRecords := make([][]api.Record, len(results))
	for i, res := range results {
		candidates[i] = res.Candidate
		fileRecords[i] = res.Records
	}
	inferred := lattice.Merge(candidates)

	schema := inferred
	if exists {
		schema, err = lattice.Reconcile(inferred, existing, opts.MergeSchema)
		if err != nil {
			return api.IngestResult{}, err
		}
	}

	_, err = e.mat.Materialize(ctx, catalog.MaterializeRequest{
		TableID:         tableID,
		BatchID:         uuid.NewString(),
		Mode:            catalog.ModeAppend,
		Schema:          schema,
		FileRecords:     fileRecords,
		Sources:         sources,
		ExpectedVersion: expected,
	})
	if err != nil {
		return api.IngestResult{}, err
	}

	out := api.IngestResult{FilesProcessed: len(sources)}
	for _, res := range results {
		rescued := res.Rescued()
		out.RowsRescued += rescued
		out.RowsInserted += len(res.Records) - rescued
	}
	return out, nil
}

// CreateTableAs is the CTAS path: the query result entirely supersedes any
// prior version. With replaceIfExists false an existing table fails the
// call before anything is written.
func (e *Engine) CreateTableAs(ctx context.Context, tableID string, q QueryResult, replaceIfExists bool) (catalog.TableVersion, error) {
	expected, _, exists, err := e.cat.Head(ctx, tableID)
	if err != nil {
		return catalog.TableVersion{}, err
	}
	if exists && !replaceIfExists {
		return catalog.TableVersion{}, fmt.Errorf("%w: %s", api.ErrTableExists, tableID)
	}

	return e.mat.Materialize(ctx, catalog.MaterializeRequest{
		TableID:         tableID,
		BatchID:         uuid.NewString(),
		Mode:            catalog.ModeReplace,
		Schema:          q.Schema,
		FileRecords:     [][]api.Record{q.Records},
		ExpectedVersion: expected,
	})
}

// CreateTableFrom parses every file at location under the declared options
// and issues a replace commit, registering the files in the ledger so a
// later incremental call does not re-ingest them.
func (e *Engine) CreateTableFrom(ctx context.Context, tableID, location string, opts api.Options, replaceIfExists bool) (catalog.TableVersion, api.IngestResult, error) {
	expected, _, exists, err := e.cat.Head(ctx, tableID)
	if err != nil {
		return catalog.TableVersion{}, api.IngestResult{}, err
	}
	if exists && !replaceIfExists {
		return catalog.TableVersion{}, api.IngestResult{}, fmt.Errorf("%w: %s", api.ErrTableExists, tableID)
	}

	sources, err := Discover(ctx, e.source, location, nil)
	if err != nil {
		return catalog.TableVersion{}, api.IngestResult{}, err
	}
	if len(sources) == 0 {
		return catalog.TableVersion{}, api.IngestResult{}, fmt.Errorf("%w: no files at %s", api.ErrSourceUnavailable, location)
	}

	results, err := e.parseAll(ctx, sources, opts)
	if err != nil {
		return catalog.TableVersion{}, api.IngestResult{}, err
	}

	candidates := make([]*lattice.Candidate, len(results))
	fileRecords := make([][]api.Record, len(results))
	for i, res := range results {
		candidates[i] = res.Candidate
		fileRecords[i] = res.Records
	}

	version, err := e.mat.Materialize(ctx, catalog.MaterializeRequest{
		TableID:         tableID,
		BatchID:         uuid.NewString(),
		Mode:            catalog.ModeReplace,
		Schema:          lattice.Merge(candidates),
		FileRecords:     fileRecords,
		Sources:         sources,
		ExpectedVersion: expected,
	})
	if err != nil {
		return catalog.TableVersion{}, api.IngestResult{}, err
	}

	out := api.IngestResult{FilesProcessed: len(sources)}
	for _, res := range results {
		rescued := res.Rescued()
		out.RowsRescued += rescued
		out.RowsInserted += len(res.Records) - rescued
	}
	return version, out, nil
}

// parseAll parses the batch's files concurrently. Parsing is stateless per
// file; candidates are merged after the group finishes, so completion
// order does not matter. The first failure cancels the group.
func (e *Engine) parseAll(ctx context.Context, sources []catalog.SourceFile, opts api.Options) ([]*format.FileResult, error) {
	parser, err := format.NewParser(opts)
	if err != nil {
		return nil, err
	}

	results := make([]*format.FileResult, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, src := range sources {
		g.Go(func() error {
			f, err := e.source.Open(src.Path)
			if err != nil {
				return fmt.Errorf("%w: open %s: %v", api.ErrSourceUnavailable, src.Path, err)
			}
			defer func() { _ = f.Close() }() // safe to ignore

			res, err := parser.Parse(gctx, src.Path, f, src.Size)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
