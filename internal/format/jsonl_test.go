package format

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/loadstone/api"
)

func parseJSONL(t *testing.T, content string, opts api.Options) (*FileResult, error) {
	t.Helper()
	p := &JSONLParser{Options: opts}
	r := strings.NewReader(content)
	return p.Parse(context.Background(), "test.jsonl", r, int64(len(content)))
}

func TestJSONL_TypedFields(t *testing.T) {
	content := `{"id": 1, "name": "alice", "score": 3.5, "active": true}
{"id": 2, "name": "bob", "score": null}
`
	res, err := parseJSONL(t, content, api.DefaultOptions(api.FormatJSONL))
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	first := res.Records[0].Values
	assert.Equal(t, int64(1), first["id"])
	assert.Equal(t, 3.5, first["score"])
	assert.Equal(t, true, first["active"])

	// active is missing from the second record entirely.
	_, present := res.Records[1].Values["active"]
	assert.False(t, present)
	assert.True(t, res.Candidate.Nullable["score"])
}

func TestJSONL_NestedValuesKeptAsJSON(t *testing.T) {
	content := `{"id": 1, "tags": ["a", "b"], "meta": {"k": "v"}}
`
	res, err := parseJSONL(t, content, api.DefaultOptions(api.FormatJSONL))
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	vals := res.Records[0].Values
	assert.JSONEq(t, `["a","b"]`, vals["tags"].(string))
	assert.JSONEq(t, `{"k":"v"}`, vals["meta"].(string))
	assert.Equal(t, api.TypeString, res.Candidate.Types["tags"])
}

func TestJSONL_MalformedLineRescued(t *testing.T) {
	content := `{"id": 1}
{not json at all
42
{"id": 2}
`
	res, err := parseJSONL(t, content, api.DefaultOptions(api.FormatJSONL))
	require.NoError(t, err)
	require.Len(t, res.Records, 4)
	assert.Equal(t, 2, res.Rescued())

	badSyntax := res.Records[1]
	require.NotNil(t, badSyntax.Rescue)
	assert.Equal(t, "{not json at all", badSyntax.Rescue.Raw)

	notObject := res.Records[2]
	require.NotNil(t, notObject.Rescue)
	assert.Contains(t, notObject.Rescue.Reason, "not a JSON object")
}

func TestJSONL_Failfast(t *testing.T) {
	content := `{"id": 1}
broken
`
	opts := api.DefaultOptions(api.FormatJSONL)
	opts.FailureMode = api.Failfast

	res, err := parseJSONL(t, content, opts)
	assert.ErrorIs(t, err, api.ErrMalformedRecord)
	assert.Nil(t, res)
}
