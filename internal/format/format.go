// Package format converts raw source bytes of a declared format into typed
// records plus a per-file schema candidate. Parsers are row-oriented for
// text formats; malformed rows are rescued or abort the batch depending on
// the failure mode.
package format

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/agentic-research/loadstone/api"
	"github.com/agentic-research/loadstone/internal/lattice"
)

// SourceReader is what a parser needs from an open source file. billy.File
// satisfies it, as does *os.File and bytes.Reader wrappers in tests.
type SourceReader interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// FileResult is the output of parsing one source file: its records in file
// order and the schema candidate observed while parsing.
type FileResult struct {
	Records   []api.Record
	Candidate *lattice.Candidate
}

// Rescued counts records carrying a rescue payload.
func (r *FileResult) Rescued() int {
	n := 0
	for _, rec := range r.Records {
		if rec.Rescued() {
			n++
		}
	}
	return n
}

// Parser decodes one source file into records.
type Parser interface {
	// Parse reads the whole file. Under FAILFAST the first malformed row
	// fails the call with api.ErrMalformedRecord and no partial output.
	// Structural decode failures fail with api.ErrCorruptFile regardless
	// of mode.
	Parse(ctx context.Context, name string, r SourceReader, size int64) (*FileResult, error)
}

// NewParser builds the parser for the options' declared format.
func NewParser(opts api.Options) (Parser, error) {
	switch opts.Format {
	case api.FormatDelimited:
		return &DelimitedParser{Options: opts}, nil
	case api.FormatJSONL:
		return &JSONLParser{Options: opts}, nil
	case api.FormatParquet:
		return &ParquetParser{}, nil
	}
	return nil, fmt.Errorf("%w: unknown format %q", api.ErrInvalidOption, opts.Format)
}

// coerceCell types a raw text cell: empty is null, then integer, floating
// point, bool, and finally the string itself.
func coerceCell(s string) any {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if s == "true" || s == "false" {
		return s == "true"
	}
	return s
}
