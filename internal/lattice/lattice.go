// Package lattice implements type unification over the fixed promotion
// lattice integer → long → double → string, plus schema inference and
// reconciliation against an existing table schema.
package lattice

import (
	"github.com/agentic-research/loadstone/api"
)

// chainRank orders the promotable chain. Bool is off-chain: it has no
// promotion partner, so any mix involving it falls back to string during
// inference and conflicts during reconciliation.
func chainRank(t api.FieldType) (int, bool) {
	switch t {
	case api.TypeInteger:
		return 0, true
	case api.TypeLong:
		return 1, true
	case api.TypeDouble:
		return 2, true
	case api.TypeString:
		return 3, true
	}
	return 0, false
}

// Promote returns the least common type of a and b. The second result
// reports whether that type was reached by promotion along the lattice;
// when false the result is the string fallback.
func Promote(a, b api.FieldType) (api.FieldType, bool) {
	if a == b {
		return a, true
	}
	ra, okA := chainRank(a)
	rb, okB := chainRank(b)
	if okA && okB {
		if ra > rb {
			return a, true
		}
		return b, true
	}
	return api.TypeString, false
}

// TypeOf maps a parsed value to its lattice type. Null values carry no type.
func TypeOf(v any) (api.FieldType, bool) {
	switch n := v.(type) {
	case int64:
		if n >= -1<<31 && n < 1<<31 {
			return api.TypeInteger, true
		}
		return api.TypeLong, true
	case float64:
		return api.TypeDouble, true
	case bool:
		return api.TypeBool, true
	case string:
		return api.TypeString, true
	}
	return api.TypeString, false
}
