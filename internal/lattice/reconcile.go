package lattice

import (
	"fmt"

	"github.com/agentic-research/loadstone/api"
)

// Reconcile merges a batch's inferred schema against the table's existing
// schema and returns the schema of the next table version.
//
// Rules, in order:
//  1. fields in both schemas with identical or promotable types are kept at
//     the wider type;
//  2. fields only in the batch are appended as nullable when mergeAllowed,
//     and rejected otherwise;
//  3. fields only in the existing schema are retained as nullable, so
//     historical rows keep their values and new rows read null;
//  4. same-named fields with no promotion path always conflict.
func Reconcile(inferred, existing api.Schema, mergeAllowed bool) (api.Schema, error) {
	out := api.Schema{Fields: make([]api.Field, 0, len(existing.Fields))}

	for _, ef := range existing.Fields {
		idx := inferred.Index(ef.Name)
		if idx < 0 {
			// Rule 3: absent from the batch, new rows get null.
			ef.Nullable = true
			out.Fields = append(out.Fields, ef)
			continue
		}
		nf := inferred.Fields[idx]
		wider, ok := Promote(ef.Type, nf.Type)
		if !ok {
			return api.Schema{}, fmt.Errorf("%w: field %q is %s in the table but %s in the batch",
				api.ErrSchemaConflict, ef.Name, ef.Type, nf.Type)
		}
		out.Fields = append(out.Fields, api.Field{
			Name:     ef.Name,
			Type:     wider,
			Nullable: ef.Nullable || nf.Nullable,
		})
	}

	for _, nf := range inferred.Fields {
		if existing.Index(nf.Name) >= 0 {
			continue
		}
		if !mergeAllowed {
			return api.Schema{}, fmt.Errorf("%w: batch adds field %q and schema merging is disabled",
				api.ErrSchemaConflict, nf.Name)
		}
		// Rule 2: appended as nullable — prior versions have no values.
		nf.Nullable = true
		out.Fields = append(out.Fields, nf)
	}

	return out, nil
}
