package format

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/agentic-research/loadstone/api"
	"github.com/agentic-research/loadstone/internal/lattice"
)

// DelimitedParser handles row-oriented delimited text. Rows are scanned one
// line at a time so the raw text of a malformed row is available for the
// rescue payload; quoted fields may not span lines.
type DelimitedParser struct {
	Options api.Options
}

func (p *DelimitedParser) Parse(ctx context.Context, name string, r SourceReader, size int64) (*FileResult, error) {
	res := &FileResult{Candidate: lattice.NewCandidate()}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var names []string
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line++
		raw := scanner.Text()
		if strings.TrimSpace(raw) == "" {
			continue
		}

		cells, err := p.splitRow(raw)
		if err != nil {
			// Column names may not be established yet; the rescued record
			// then carries no typed fields, only the raw text.
			rec, ferr := p.rescue(names, nil, raw, fmt.Sprintf("line %d: %v", line, err), name, line)
			if ferr != nil {
				return nil, ferr
			}
			res.Records = append(res.Records, rec)
			res.Candidate.Rows++
			continue
		}

		if names == nil {
			names = p.columnNames(cells)
			if p.Options.HasHeader {
				continue
			}
		}

		if len(cells) != len(names) {
			reason := fmt.Sprintf("line %d: expected %d columns, got %d", line, len(names), len(cells))
			rec, ferr := p.rescue(names, cells, raw, reason, name, line)
			if ferr != nil {
				return nil, ferr
			}
			res.Records = append(res.Records, rec)
			res.Candidate.Rows++
			continue
		}

		values := make(map[string]any, len(names))
		res.Candidate.Rows++
		for i, cell := range cells {
			v := coerceCell(cell)
			values[names[i]] = v
			res.Candidate.ObserveField(names[i], v)
		}
		res.Records = append(res.Records, api.Record{Values: values})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", api.ErrSourceUnavailable, name, err)
	}

	return res, nil
}

// splitRow parses a single physical line under the configured separator.
func (p *DelimitedParser) splitRow(raw string) ([]string, error) {
	cr := csv.NewReader(strings.NewReader(raw))
	cr.Comma = p.Options.Separator
	cr.FieldsPerRecord = -1
	return cr.Read()
}

// columnNames derives field names from the header row, or generates
// positional _c0.._cN names when the source has no header.
func (p *DelimitedParser) columnNames(first []string) []string {
	names := make([]string, len(first))
	for i := range first {
		if p.Options.HasHeader {
			names[i] = strings.TrimSpace(first[i])
			if names[i] == "" {
				names[i] = fmt.Sprintf("_c%d", i)
			}
		} else {
			names[i] = fmt.Sprintf("_c%d", i)
		}
	}
	return names
}

// rescue builds a rescued record under PERMISSIVE mode, or fails the whole
// file under FAILFAST. Typed fields are best-effort: cells that line up
// with a known column are kept, everything else reads null.
func (p *DelimitedParser) rescue(names, cells []string, raw, reason, file string, line int) (api.Record, error) {
	if p.Options.FailureMode == api.Failfast {
		return api.Record{}, fmt.Errorf("%w: %s %s", api.ErrMalformedRecord, file, reason)
	}
	values := make(map[string]any, len(names))
	for i, colName := range names {
		if i < len(cells) {
			values[colName] = coerceCell(cells[i])
		} else {
			values[colName] = nil
		}
	}
	return api.Record{
		Values: values,
		Rescue: &api.RescuePayload{Raw: raw, Reason: reason},
	}, nil
}
