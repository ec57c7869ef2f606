package format

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/agentic-research/loadstone/api"
	"github.com/agentic-research/loadstone/internal/lattice"
)

// ParquetParser handles columnar binary input. The file carries its own
// embedded schema, so rows are never malformed; a structural decode failure
// is a corrupt file and fatal in every failure mode.
type ParquetParser struct{}

func (p *ParquetParser) Parse(ctx context.Context, name string, r SourceReader, size int64) (*FileResult, error) {
	pf, err := file.NewParquetReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", api.ErrCorruptFile, name, err)
	}
	defer func() { _ = pf.Close() }() // safe to ignore

	mem := memory.NewGoAllocator()
	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", api.ErrCorruptFile, name, err)
	}
	table, err := reader.ReadTable(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", api.ErrCorruptFile, name, err)
	}
	defer table.Release()

	res := &FileResult{Candidate: lattice.NewCandidate()}
	rows := int(table.NumRows())
	res.Candidate.Rows = rows

	schema := table.Schema()
	records := make([]api.Record, rows)
	for i := range records {
		records[i] = api.Record{Values: make(map[string]any, schema.NumFields())}
	}

	for colIdx := 0; colIdx < int(table.NumCols()); colIdx++ {
		f := schema.Field(colIdx)
		res.Candidate.Order = append(res.Candidate.Order, f.Name)
		res.Candidate.Types[f.Name] = latticeType(f.Type)
		if f.Nullable {
			res.Candidate.Nullable[f.Name] = true
		}

		row := 0
		chunks := table.Column(colIdx).Data().Chunks()
		for _, chunk := range chunks {
			for pos := 0; pos < chunk.Len(); pos++ {
				records[row].Values[f.Name] = cellValue(chunk, pos)
				row++
			}
		}
	}

	res.Records = records
	return res, nil
}

// latticeType maps an embedded arrow type onto the promotion lattice.
// Anything without a direct mapping is surfaced as its string form.
func latticeType(t arrow.DataType) api.FieldType {
	switch t.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.UINT8, arrow.UINT16:
		return api.TypeInteger
	case arrow.INT64, arrow.UINT32, arrow.UINT64:
		return api.TypeLong
	case arrow.FLOAT32, arrow.FLOAT64:
		return api.TypeDouble
	case arrow.BOOL:
		return api.TypeBool
	default:
		return api.TypeString
	}
}

// cellValue extracts one typed value from an arrow array.
func cellValue(col arrow.Array, pos int) any {
	if col.IsNull(pos) {
		return nil
	}
	switch a := col.(type) {
	case *array.Int8:
		return int64(a.Value(pos))
	case *array.Int16:
		return int64(a.Value(pos))
	case *array.Int32:
		return int64(a.Value(pos))
	case *array.Int64:
		return a.Value(pos)
	case *array.Uint8:
		return int64(a.Value(pos))
	case *array.Uint16:
		return int64(a.Value(pos))
	case *array.Uint32:
		return int64(a.Value(pos))
	case *array.Uint64:
		return int64(a.Value(pos))
	case *array.Float32:
		return float64(a.Value(pos))
	case *array.Float64:
		return a.Value(pos)
	case *array.Boolean:
		return a.Value(pos)
	case *array.String:
		return a.Value(pos)
	case *array.LargeString:
		return a.Value(pos)
	default:
		return col.ValueStr(pos)
	}
}
