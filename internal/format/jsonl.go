package format

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/agentic-research/loadstone/api"
	"github.com/agentic-research/loadstone/internal/lattice"
	"github.com/ohler55/ojg/oj"
)

// JSONLParser handles line-delimited JSON: one object per line. Nested
// objects and arrays are kept as their JSON text and typed as string.
type JSONLParser struct {
	Options api.Options
}

func (p *JSONLParser) Parse(ctx context.Context, name string, r SourceReader, size int64) (*FileResult, error) {
	res := &FileResult{Candidate: lattice.NewCandidate()}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

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

		parsed, err := oj.Parse([]byte(raw))
		if err != nil {
			rec, ferr := p.rescue(raw, fmt.Sprintf("line %d: %v", line, err), name)
			if ferr != nil {
				return nil, ferr
			}
			res.Records = append(res.Records, rec)
			res.Candidate.Rows++
			continue
		}

		obj, ok := parsed.(map[string]any)
		if !ok {
			rec, ferr := p.rescue(raw, fmt.Sprintf("line %d: not a JSON object", line), name)
			if ferr != nil {
				return nil, ferr
			}
			res.Records = append(res.Records, rec)
			res.Candidate.Rows++
			continue
		}

		values := make(map[string]any, len(obj))
		for k, v := range obj {
			values[k] = flattenValue(v)
		}
		rec := api.Record{Values: values}
		res.Candidate.Observe(rec)
		res.Records = append(res.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", api.ErrSourceUnavailable, name, err)
	}

	return res, nil
}

func (p *JSONLParser) rescue(raw, reason, file string) (api.Record, error) {
	if p.Options.FailureMode == api.Failfast {
		return api.Record{}, fmt.Errorf("%w: %s %s", api.ErrMalformedRecord, file, reason)
	}
	return api.Record{
		Values: map[string]any{},
		Rescue: &api.RescuePayload{Raw: raw, Reason: reason},
	}, nil
}

// flattenValue maps a parsed JSON value to a lattice-typed scalar. Nested
// structures are re-encoded as JSON text.
func flattenValue(v any) any {
	switch t := v.(type) {
	case nil, bool, int64, float64, string:
		return t
	case int:
		return int64(t)
	default:
		return oj.JSON(v)
	}
}
