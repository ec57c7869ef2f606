package lattice

import (
	"sort"

	"github.com/agentic-research/loadstone/api"
)

// Candidate is the per-file schema candidate produced while parsing one
// source file. Candidates are merged afterward; the merge is commutative
// and associative on types, so per-file parsing can run in any order.
type Candidate struct {
	// Order lists field names as first seen in the file.
	Order []string
	// Types maps field name to the unified type of its non-null values.
	// A field seen only as null is absent here but present in Order.
	Types map[string]api.FieldType
	// Nullable marks fields that were null or missing in at least one row.
	Nullable map[string]bool
	// Rows counts records observed, including rescued ones.
	Rows int
}

// NewCandidate returns an empty candidate ready to observe records.
func NewCandidate() *Candidate {
	return &Candidate{
		Types:    make(map[string]api.FieldType),
		Nullable: make(map[string]bool),
	}
}

// Observe folds one record into the candidate. Fields missing from the
// record (relative to fields seen so far) become nullable; null values
// contribute nullability but no type. Keys are visited in sorted order so
// the resulting field order is deterministic.
func (c *Candidate) Observe(rec api.Record) {
	c.Rows++
	for _, name := range c.Order {
		if _, present := rec.Values[name]; !present {
			c.Nullable[name] = true
		}
	}
	names := make([]string, 0, len(rec.Values))
	for name := range rec.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := rec.Values[name]
		if _, seen := c.Types[name]; !seen {
			if !contains(c.Order, name) {
				c.Order = append(c.Order, name)
				if c.Rows > 1 {
					// Field appeared late: earlier rows lacked it.
					c.Nullable[name] = true
				}
			}
		}
		if v == nil {
			c.Nullable[name] = true
			continue
		}
		t, _ := TypeOf(v)
		if prev, seen := c.Types[name]; seen {
			unified, _ := Promote(prev, t)
			c.Types[name] = unified
		} else {
			c.Types[name] = t
		}
	}
}

// ObserveField folds a single column observation into the candidate.
// Used by row-oriented parsers that know their column order up front.
func (c *Candidate) ObserveField(name string, v any) {
	if !contains(c.Order, name) {
		c.Order = append(c.Order, name)
	}
	if v == nil {
		c.Nullable[name] = true
		return
	}
	t, _ := TypeOf(v)
	if prev, seen := c.Types[name]; seen {
		unified, _ := Promote(prev, t)
		c.Types[name] = unified
	} else {
		c.Types[name] = t
	}
}

// Merge unifies per-file candidates into one inferred schema. Candidates
// must be passed in a deterministic order (discovery sorts files by path);
// field order is order of first appearance across that sequence. Type
// unification itself is order-independent.
func Merge(candidates []*Candidate) api.Schema {
	var order []string
	types := make(map[string]api.FieldType)
	nullable := make(map[string]bool)

	for _, c := range candidates {
		for _, name := range c.Order {
			if !contains(order, name) {
				order = append(order, name)
			}
		}
	}
	for _, name := range order {
		for _, c := range candidates {
			t, seen := c.Types[name]
			if !seen {
				if c.Rows > 0 {
					// The whole file lacks the field (or saw only nulls).
					nullable[name] = true
				}
				continue
			}
			if prev, have := types[name]; have {
				unified, _ := Promote(prev, t)
				types[name] = unified
			} else {
				types[name] = t
			}
			if c.Nullable[name] {
				nullable[name] = true
			}
		}
	}

	schema := api.Schema{Fields: make([]api.Field, 0, len(order))}
	for _, name := range order {
		t, seen := types[name]
		if !seen {
			// Only nulls observed anywhere: default to string.
			t = api.TypeString
		}
		schema.Fields = append(schema.Fields, api.Field{
			Name:     name,
			Type:     t,
			Nullable: nullable[name] || !seen,
		})
	}
	return schema
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
