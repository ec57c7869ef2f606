package catalog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/loadstone/api"
)

func openTestCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	cat, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	return cat, path
}

func testSchema() api.Schema {
	return api.Schema{Fields: []api.Field{
		{Name: "id", Type: api.TypeLong},
		{Name: "name", Type: api.TypeString, Nullable: true},
	}}
}

func testSource(path string) SourceFile {
	return SourceFile{
		Path:    path,
		Size:    128,
		ModTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCommit_VersionsAreStrictlyIncreasing(t *testing.T) {
	cat, _ := openTestCatalog(t)
	ctx := context.Background()

	v1, err := cat.Commit(ctx, CommitRequest{
		TableID: "events", BatchID: "b1", Mode: ModeAppend, Schema: testSchema(),
		Files:   []DataFile{{Path: "data/b1-0.parquet", RowCount: 10}},
		Sources: []SourceFile{testSource("/src/a.csv")},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1.Version)

	v2, err := cat.Commit(ctx, CommitRequest{
		TableID: "events", BatchID: "b2", Mode: ModeAppend, Schema: testSchema(),
		Files:           []DataFile{{Path: "data/b2-0.parquet", RowCount: 5}},
		Sources:         []SourceFile{testSource("/src/b.csv")},
		ExpectedVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2.Version)

	head, schema, ok, err := cat.Head(ctx, "events")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), head)
	assert.True(t, schema.Equal(testSchema()))
}

func TestCommit_StaleExpectedVersionConflicts(t *testing.T) {
	cat, _ := openTestCatalog(t)
	ctx := context.Background()

	_, err := cat.Commit(ctx, CommitRequest{
		TableID: "events", BatchID: "b1", Mode: ModeAppend, Schema: testSchema(),
		Sources: []SourceFile{testSource("/src/a.csv")},
	})
	require.NoError(t, err)

	// A batch prepared before b1 committed still expects version 0.
	_, err = cat.Commit(ctx, CommitRequest{
		TableID: "events", BatchID: "b2", Mode: ModeAppend, Schema: testSchema(),
		Sources:         []SourceFile{testSource("/src/b.csv")},
		ExpectedVersion: 0,
	})
	assert.ErrorIs(t, err, api.ErrIngestionConflict)

	// The failed commit left nothing behind.
	head, _, _, err := cat.Head(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)
	ingested, err := cat.Ingested(ctx, "events")
	require.NoError(t, err)
	assert.Len(t, ingested, 1)
}

func TestCommit_DuplicateSourceConflicts(t *testing.T) {
	cat, _ := openTestCatalog(t)
	ctx := context.Background()

	src := testSource("/src/a.csv")
	_, err := cat.Commit(ctx, CommitRequest{
		TableID: "events", BatchID: "b1", Mode: ModeAppend, Schema: testSchema(), Sources: []SourceFile{src},
	})
	require.NoError(t, err)

	// Same file again with a fresh expected version: the ledger's
	// at-most-once guarantee rejects it.
	_, err = cat.Commit(ctx, CommitRequest{
		TableID: "events", BatchID: "b2", Mode: ModeAppend, Schema: testSchema(),
		Sources: []SourceFile{src}, ExpectedVersion: 1,
	})
	assert.ErrorIs(t, err, api.ErrIngestionConflict)

	versions, err := cat.Versions(ctx, "events")
	require.NoError(t, err)
	assert.Len(t, versions, 1, "failed commit must not create a version")
}

func TestFileSet_AppendExtendsPriorSetAsPrefix(t *testing.T) {
	cat, _ := openTestCatalog(t)
	ctx := context.Background()

	_, err := cat.Commit(ctx, CommitRequest{
		TableID: "events", BatchID: "b1", Mode: ModeReplace, Schema: testSchema(),
		Files: []DataFile{{Path: "f1", RowCount: 1}, {Path: "f2", RowCount: 2}},
	})
	require.NoError(t, err)
	_, err = cat.Commit(ctx, CommitRequest{
		TableID: "events", BatchID: "b2", Mode: ModeAppend, Schema: testSchema(),
		Files: []DataFile{{Path: "f3", RowCount: 3}}, ExpectedVersion: 1,
	})
	require.NoError(t, err)

	set1, err := cat.FileSet(ctx, "events", 1)
	require.NoError(t, err)
	set2, err := cat.FileSet(ctx, "events", 2)
	require.NoError(t, err)

	require.Len(t, set1, 2)
	require.Len(t, set2, 3)
	for i := range set1 {
		assert.Equal(t, set1[i].Path, set2[i].Path, "prior set is a prefix")
	}
}

func TestFileSet_ReplaceSupersedesPriorFiles(t *testing.T) {
	cat, _ := openTestCatalog(t)
	ctx := context.Background()

	_, err := cat.Commit(ctx, CommitRequest{
		TableID: "events", BatchID: "b1", Mode: ModeAppend, Schema: testSchema(),
		Files:   []DataFile{{Path: "old", RowCount: 1}},
		Sources: []SourceFile{testSource("/src/old.csv")},
	})
	require.NoError(t, err)

	_, err = cat.Commit(ctx, CommitRequest{
		TableID: "events", BatchID: "b2", Mode: ModeReplace, Schema: testSchema(),
		Files:           []DataFile{{Path: "new", RowCount: 9}},
		Sources:         []SourceFile{testSource("/src/new.csv")},
		ExpectedVersion: 1,
	})
	require.NoError(t, err)

	set, err := cat.FileSet(ctx, "events", 2)
	require.NoError(t, err)
	require.Len(t, set, 1)
	assert.Equal(t, "new", set[0].Path)

	// Replace also resets the ledger: superseded files are gone from it.
	ingested, err := cat.Ingested(ctx, "events")
	require.NoError(t, err)
	assert.Len(t, ingested, 1)
	assert.True(t, ingested[testSource("/src/new.csv").Fingerprint()])
}

func TestCatalog_SurvivesReopen(t *testing.T) {
	cat, path := openTestCatalog(t)
	ctx := context.Background()

	_, err := cat.Commit(ctx, CommitRequest{
		TableID: "events", BatchID: "b1", Mode: ModeAppend, Schema: testSchema(),
		Files:   []DataFile{{Path: "f1", RowCount: 7, RescuedCount: 0}},
		Sources: []SourceFile{testSource("/src/a.csv")},
	})
	require.NoError(t, err)
	require.NoError(t, cat.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }() // safe to ignore

	head, schema, ok, err := reopened.Head(ctx, "events")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), head)
	assert.True(t, schema.Equal(testSchema()))

	ingested, err := reopened.Ingested(ctx, "events")
	require.NoError(t, err)
	assert.True(t, ingested[testSource("/src/a.csv").Fingerprint()])
}

func TestSourceFile_FingerprintSensitivity(t *testing.T) {
	base := testSource("/src/a.csv")

	samePath := base
	samePath.Size = 256
	assert.NotEqual(t, base.Fingerprint(), samePath.Fingerprint())

	touched := base
	touched.ModTime = base.ModTime.Add(time.Second)
	assert.NotEqual(t, base.Fingerprint(), touched.Fingerprint())

	identical := testSource("/src/a.csv")
	assert.Equal(t, base.Fingerprint(), identical.Fingerprint())
}

func TestCommit_CrossHandleRaceYieldsConflictNotBusy(t *testing.T) {
	cat, path := openTestCatalog(t)
	ctx := context.Background()

	// A second handle on the same database file stands in for a second
	// process. Both race a commit against version 0: the transaction takes
	// the write lock up front, so the loser waits its turn and then fails
	// the optimistic head check instead of surfacing a busy error.
	other, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = other.Close() }() // safe to ignore

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []*Catalog{cat, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Commit(ctx, CommitRequest{
				TableID: "events", BatchID: fmt.Sprintf("b%d", i), Mode: ModeAppend,
				Schema:  testSchema(),
				Sources: []SourceFile{testSource(fmt.Sprintf("/src/%d.csv", i))},
			})
		}()
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, api.ErrIngestionConflict):
			conflicts++
		default:
			t.Fatalf("unexpected commit error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)

	head, _, _, err := cat.Head(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)
}

func TestTablesAreIndependent(t *testing.T) {
	cat, _ := openTestCatalog(t)
	ctx := context.Background()

	_, err := cat.Commit(ctx, CommitRequest{
		TableID: "one", BatchID: "b1", Mode: ModeAppend, Schema: testSchema(),
		Sources: []SourceFile{testSource("/src/a.csv")},
	})
	require.NoError(t, err)

	// The same source file can be ingested into a different table, and
	// the other table's head is unaffected.
	_, err = cat.Commit(ctx, CommitRequest{
		TableID: "two", BatchID: "b2", Mode: ModeAppend, Schema: testSchema(),
		Sources: []SourceFile{testSource("/src/a.csv")},
	})
	require.NoError(t, err)

	head, _, ok, err := cat.Head(ctx, "one")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), head)
}
