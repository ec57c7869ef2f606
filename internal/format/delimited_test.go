package format

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/loadstone/api"
)

func parseDelimited(t *testing.T, content string, opts api.Options) (*FileResult, error) {
	t.Helper()
	p := &DelimitedParser{Options: opts}
	r := strings.NewReader(content)
	return p.Parse(context.Background(), "test.csv", r, int64(len(content)))
}

func TestDelimited_HeaderAndTypes(t *testing.T) {
	content := "id|name|score|active\n1|alice|3.5|true\n2|bob||false\n"
	opts := api.DefaultOptions(api.FormatDelimited)
	opts.Separator = '|'
	opts.HasHeader = true

	res, err := parseDelimited(t, content, opts)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	first := res.Records[0].Values
	assert.Equal(t, int64(1), first["id"])
	assert.Equal(t, "alice", first["name"])
	assert.Equal(t, 3.5, first["score"])
	assert.Equal(t, true, first["active"])

	// Empty cell reads as null and makes the column nullable.
	second := res.Records[1].Values
	assert.Nil(t, second["score"])
	assert.True(t, res.Candidate.Nullable["score"])
}

func TestDelimited_NoHeaderGeneratesColumnNames(t *testing.T) {
	content := "1,x\n2,y\n"
	opts := api.DefaultOptions(api.FormatDelimited)

	res, err := parseDelimited(t, content, opts)
	require.NoError(t, err)
	require.Len(t, res.Records, 2, "first row is data when there is no header")
	assert.Equal(t, []string{"_c0", "_c1"}, res.Candidate.Order)
	assert.Equal(t, int64(1), res.Records[0].Values["_c0"])
}

func TestDelimited_PermissiveRescue(t *testing.T) {
	// Row 2 violates the declared column count.
	content := "id|name|score\n1|alice|3.5\n2|bob\n3|carol|4.1\n"
	opts := api.DefaultOptions(api.FormatDelimited)
	opts.Separator = '|'
	opts.HasHeader = true

	res, err := parseDelimited(t, content, opts)
	require.NoError(t, err)
	require.Len(t, res.Records, 3, "no record is silently dropped")
	assert.Equal(t, 1, res.Rescued())

	bad := res.Records[1]
	require.NotNil(t, bad.Rescue)
	assert.Equal(t, "2|bob", bad.Rescue.Raw)
	assert.Contains(t, bad.Rescue.Reason, "expected 3 columns, got 2")
	// Best-effort typed fields: cells that line up are kept, the rest null.
	assert.Equal(t, int64(2), bad.Values["id"])
	assert.Equal(t, "bob", bad.Values["name"])
	assert.Nil(t, bad.Values["score"])
}

func TestDelimited_FailfastAbortsWholeFile(t *testing.T) {
	content := "id|name\n1|alice\noops|too|many|cells\n9|zoe\n"
	opts := api.DefaultOptions(api.FormatDelimited)
	opts.Separator = '|'
	opts.HasHeader = true
	opts.FailureMode = api.Failfast

	res, err := parseDelimited(t, content, opts)
	assert.ErrorIs(t, err, api.ErrMalformedRecord)
	assert.Contains(t, err.Error(), "test.csv")
	assert.Contains(t, err.Error(), "line 3")
	assert.Nil(t, res, "no partial output under FAILFAST")
}

func TestDelimited_QuoteErrorRescued(t *testing.T) {
	content := "a,b\n1,\"unterminated\n2,ok\n"
	opts := api.DefaultOptions(api.FormatDelimited)
	opts.HasHeader = true

	res, err := parseDelimited(t, content, opts)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 1, res.Rescued())
	assert.Equal(t, `1,"unterminated`, res.Records[0].Rescue.Raw)
}

func TestDelimited_FirstRowQuoteErrorRescued(t *testing.T) {
	// Headerless input whose very first row fails to split: no column
	// names exist yet, so the rescue carries only the raw text, and the
	// next row establishes the columns.
	content := "1,\"unterminated\n2,ok\n"
	opts := api.DefaultOptions(api.FormatDelimited)

	res, err := parseDelimited(t, content, opts)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 1, res.Rescued())

	bad := res.Records[0]
	require.NotNil(t, bad.Rescue)
	assert.Equal(t, `1,"unterminated`, bad.Rescue.Raw)
	assert.Empty(t, bad.Values)

	assert.Equal(t, []string{"_c0", "_c1"}, res.Candidate.Order)
	assert.Equal(t, int64(2), res.Records[1].Values["_c0"])

	// FAILFAST still aborts on the same input.
	opts.FailureMode = api.Failfast
	_, err = parseDelimited(t, content, opts)
	assert.ErrorIs(t, err, api.ErrMalformedRecord)
}

func TestDelimited_BlankLinesSkipped(t *testing.T) {
	content := "a,b\n1,2\n\n\n3,4\n"
	opts := api.DefaultOptions(api.FormatDelimited)
	opts.HasHeader = true

	res, err := parseDelimited(t, content, opts)
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, 2, res.Candidate.Rows)
}
