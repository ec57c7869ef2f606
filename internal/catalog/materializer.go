package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/RoaringBitmap/roaring"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/loadstone/api"
)

// rescuedColumn is the physical column carrying the JSON-encoded rescue
// payload of rescued rows. It is not part of the logical table schema.
const rescuedColumn = "_rescued"

// Materializer turns record batches into parquet data files under DataDir
// and commits them with the catalog transaction. Data files are written
// before the transaction; on any failure the freshly written files are
// removed so a failed call leaves no partial state.
type Materializer struct {
	Cat     *Catalog
	DataDir string
}

// MaterializeRequest is one complete commit: the reconciled schema plus the
// per-source-file record slices of the batch, in discovery order.
type MaterializeRequest struct {
	TableID         string
	BatchID         string
	Mode            CommitMode
	Schema          api.Schema
	FileRecords     [][]api.Record
	Sources         []SourceFile
	ExpectedVersion int64
}

// Materialize writes one parquet file per source record slice and commits
// the resulting TableVersion together with the batch's ledger entries.
func (m *Materializer) Materialize(ctx context.Context, req MaterializeRequest) (TableVersion, error) {
	dir := filepath.Join(m.DataDir, req.TableID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return TableVersion{}, fmt.Errorf("%w: create table dir: %v", api.ErrStorageWrite, err)
	}

	var written []string
	cleanup := func() {
		for _, p := range written {
			_ = os.Remove(p)
		}
	}

	files := make([]DataFile, 0, len(req.FileRecords))
	for i, records := range req.FileRecords {
		if err := ctx.Err(); err != nil {
			cleanup()
			return TableVersion{}, err
		}
		path := filepath.Join(dir, req.BatchID+"-"+strconv.Itoa(i)+".parquet")
		// Registered before the write so a half-written file is removed too.
		written = append(written, path)
		df, err := writeDataFile(path, req.Schema, records)
		if err != nil {
			cleanup()
			return TableVersion{}, err
		}
		files = append(files, df)
	}

	version, err := m.Cat.Commit(ctx, CommitRequest{
		TableID:         req.TableID,
		BatchID:         req.BatchID,
		Mode:            req.Mode,
		Schema:          req.Schema,
		Files:           files,
		Sources:         req.Sources,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		cleanup()
		return TableVersion{}, err
	}
	return version, nil
}

// writeDataFile materializes one record slice as a parquet file. Every
// logical column is written physically nullable; rescued rows may be null
// in any position.
func writeDataFile(path string, schema api.Schema, records []api.Record) (DataFile, error) {
	arrowSchema := toArrowSchema(schema)

	mem := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(mem, arrowSchema)
	defer builder.Release()

	rescued := roaring.New()
	rescuedCount := 0
	for rowIdx, rec := range records {
		for colIdx, f := range schema.Fields {
			appendValue(builder.Field(colIdx), f.Type, rec.Values[f.Name])
		}
		rb := builder.Field(len(schema.Fields)).(*array.StringBuilder)
		if rec.Rescue != nil {
			rb.Append(oj.JSON(rec.Rescue))
			rescued.Add(uint32(rowIdx))
			rescuedCount++
		} else {
			rb.AppendNull()
		}
	}

	arrowRec := builder.NewRecordBatch()
	defer arrowRec.Release()

	f, err := os.Create(path)
	if err != nil {
		return DataFile{}, fmt.Errorf("%w: create %s: %v", api.ErrStorageWrite, path, err)
	}
	writer, err := pqarrow.NewFileWriter(arrowSchema, f, parquet.NewWriterProperties(),
		pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(mem)))
	if err != nil {
		_ = f.Close()
		return DataFile{}, fmt.Errorf("%w: open parquet writer for %s: %v", api.ErrStorageWrite, path, err)
	}
	if err := writer.Write(arrowRec); err != nil {
		_ = writer.Close()
		return DataFile{}, fmt.Errorf("%w: write %s: %v", api.ErrStorageWrite, path, err)
	}
	if err := writer.Close(); err != nil {
		return DataFile{}, fmt.Errorf("%w: close %s: %v", api.ErrStorageWrite, path, err)
	}

	df := DataFile{Path: path, RowCount: len(records), RescuedCount: rescuedCount}
	if rescuedCount > 0 {
		df.RescuedRows = rescued
	}
	return df, nil
}

func toArrowSchema(schema api.Schema) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(schema.Fields)+1)
	for _, f := range schema.Fields {
		fields = append(fields, arrow.Field{Name: f.Name, Type: arrowType(f.Type), Nullable: true})
	}
	fields = append(fields, arrow.Field{Name: rescuedColumn, Type: arrow.BinaryTypes.String, Nullable: true})
	return arrow.NewSchema(fields, nil)
}

func arrowType(t api.FieldType) arrow.DataType {
	switch t {
	case api.TypeInteger:
		return arrow.PrimitiveTypes.Int32
	case api.TypeLong:
		return arrow.PrimitiveTypes.Int64
	case api.TypeDouble:
		return arrow.PrimitiveTypes.Float64
	case api.TypeBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// appendValue coerces a typed record value into the column's builder.
// Values narrower than the column type are widened (integer cells in a
// long or double column); anything reaching a string column is rendered
// as text.
func appendValue(b array.Builder, t api.FieldType, v any) {
	if v == nil {
		b.AppendNull()
		return
	}
	switch t {
	case api.TypeInteger:
		// Out-of-range values can only come from rescued rows, which
		// bypass inference; they read null rather than truncate.
		if n, ok := v.(int64); ok && n >= -1<<31 && n < 1<<31 {
			b.(*array.Int32Builder).Append(int32(n))
			return
		}
	case api.TypeLong:
		if n, ok := v.(int64); ok {
			b.(*array.Int64Builder).Append(n)
			return
		}
	case api.TypeDouble:
		switch n := v.(type) {
		case int64:
			b.(*array.Float64Builder).Append(float64(n))
			return
		case float64:
			b.(*array.Float64Builder).Append(n)
			return
		}
	case api.TypeBool:
		if bv, ok := v.(bool); ok {
			b.(*array.BooleanBuilder).Append(bv)
			return
		}
	case api.TypeString:
		b.(*array.StringBuilder).Append(renderString(v))
		return
	}
	// Value does not fit the declared column type; a rescued row's
	// best-effort field can land here.
	b.AppendNull()
}

func renderString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(v)
	}
}
