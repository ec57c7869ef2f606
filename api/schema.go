package api

import (
	"fmt"
	"strings"
)

// FieldType is the logical type of a schema field.
// Types form a promotion lattice: Integer → Long → Double → String.
// Bool sits outside the numeric chain and promotes only to String.
type FieldType int

const (
	TypeInteger FieldType = iota
	TypeLong
	TypeDouble
	TypeBool
	TypeString
)

func (t FieldType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeLong:
		return "long"
	case TypeDouble:
		return "double"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the type as its lattice name, keeping persisted
// schemas readable.
func (t FieldType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *FieldType) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, ok := ParseFieldType(s)
	if !ok {
		return fmt.Errorf("unknown field type %q", s)
	}
	*t = parsed
	return nil
}

// ParseFieldType is the inverse of FieldType.String.
func ParseFieldType(s string) (FieldType, bool) {
	switch s {
	case "integer":
		return TypeInteger, true
	case "long":
		return TypeLong, true
	case "double":
		return TypeDouble, true
	case "bool":
		return TypeBool, true
	case "string":
		return TypeString, true
	}
	return TypeString, false
}

// Field is one column of a table schema.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Nullable bool      `json:"nullable"`
}

// Schema is an ordered sequence of uniquely-named fields.
// Schemas compare by structural equality (Equal); a wider schema contains
// every field of a narrower one with identical or promoted types.
type Schema struct {
	Fields []Field `json:"fields"`
}

// Index returns the position of the named field, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Equal reports structural equality: same fields, same order, same types,
// same nullability.
func (s Schema) Equal(other Schema) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i, f := range s.Fields {
		if f != other.Fields[i] {
			return false
		}
	}
	return true
}

// FieldNames returns the field names in schema order.
func (s Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}
