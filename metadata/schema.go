package metadata

import "fmt"

// FieldType is the declared semantic type of a schema field.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeNumber    FieldType = "number"
	TypeBoolean   FieldType = "boolean"
	TypeTimestamp FieldType = "timestamp"
	TypeStringSet FieldType = "string-set"
	TypeJSON      FieldType = "json"
	TypeVector    FieldType = "vector"
)

// Valid reports whether the field type is one of the declared semantic types.
func (ft FieldType) Valid() bool {
	switch ft {
	case TypeString, TypeNumber, TypeBoolean, TypeTimestamp, TypeStringSet, TypeJSON, TypeVector:
		return true
	default:
		return false
	}
}

// Orderable reports whether values of this type support range comparisons.
func (ft FieldType) Orderable() bool {
	return ft == TypeNumber || ft == TypeTimestamp
}

// Field is one schema entry: a name and its declared type. Order matters for
// the persisted layout, so Schema holds a slice rather than a map.
type Field struct {
	Name string
	Type FieldType
}

// Schema is the ordered field declaration of a collection.
type Schema []Field

// ErrSchemaViolation indicates an attribute document that does not satisfy
// the declared schema.
type ErrSchemaViolation struct {
	Field  string
	Reason string
}

func (e *ErrSchemaViolation) Error() string {
	return fmt.Sprintf("schema violation on field %q: %s", e.Field, e.Reason)
}

// Validate checks that the schema itself is well formed.
func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, f := range s {
		if f.Name == "" {
			return &ErrSchemaViolation{Field: f.Name, Reason: "empty field name"}
		}
		if !f.Type.Valid() {
			return &ErrSchemaViolation{Field: f.Name, Reason: fmt.Sprintf("unknown type %q", f.Type)}
		}
		if _, dup := seen[f.Name]; dup {
			return &ErrSchemaViolation{Field: f.Name, Reason: "duplicate field"}
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Lookup returns the declared type of a field.
func (s Schema) Lookup(name string) (FieldType, bool) {
	for _, f := range s {
		if f.Name == name {
			return f.Type, true
		}
	}
	return "", false
}

// ValidateDocument checks an attribute document against the schema.
// Unknown fields are rejected; declared fields are optional (absent means null).
func (s Schema) ValidateDocument(doc Document) error {
	for name, v := range doc {
		ft, ok := s.Lookup(name)
		if !ok {
			return &ErrSchemaViolation{Field: name, Reason: "field not declared in schema"}
		}
		if v.Kind == KindNull {
			continue
		}
		if !kindMatches(ft, v.Kind) {
			return &ErrSchemaViolation{
				Field:  name,
				Reason: fmt.Sprintf("value kind %d does not match declared type %q", v.Kind, ft),
			}
		}
		if ft == TypeJSON && !v.ValidJSON() {
			return &ErrSchemaViolation{Field: name, Reason: "malformed JSON value"}
		}
	}
	return nil
}

func kindMatches(ft FieldType, k Kind) bool {
	switch ft {
	case TypeString:
		return k == KindString
	case TypeNumber:
		return k == KindInt || k == KindFloat
	case TypeBoolean:
		return k == KindBool
	case TypeTimestamp:
		return k == KindTime
	case TypeStringSet:
		return k == KindStringSet
	case TypeJSON:
		return k == KindJSON
	case TypeVector:
		// Embeddings travel outside the attribute document.
		return false
	default:
		return false
	}
}
