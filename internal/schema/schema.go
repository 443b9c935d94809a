// Package schema holds the static descriptions of every mutating registry
// operation: which fields it takes, which are required, how each value is
// validated and normalized, and where the registry accepts the final
// payload. The workflow engine is driven entirely by these schemas.
package schema

import (
	"fmt"
	"sort"

	"registry-mcp/pkg/models"
)

// Kind classifies how a field's raw input is validated and normalized.
type Kind string

const (
	KindString     Kind = "string"
	KindBool       Kind = "bool"
	KindURL        Kind = "url"
	KindDate       Kind = "date"
	KindDatetime   Kind = "datetime"
	KindJSON       Kind = "json"
	KindJSONObject Kind = "json-object"
	KindEnumSet    Kind = "enum-set"
	KindStringList Kind = "string-list"
	KindReference  Kind = "reference"
)

// FieldSpec describes one slot of an operation.
type FieldSpec struct {
	Key      string
	Prompt   string
	Required bool
	Kind     Kind

	// Default is stored when an optional field is skipped. DefaultFrom
	// instead derives the default by joining already-collected field values
	// with a space; it wins over Default when set.
	Default     any
	DefaultFrom []string

	// RefSubtype narrows the search used to resolve a reference field.
	RefSubtype models.ItemSubtype

	// Enum lists the accepted values for enum-set fields.
	Enum []string

	// Normalize overrides the kind-level validator when set.
	Normalize func(raw string) (any, error)
}

// DerivedDefault computes the default from collected values, or returns
// the literal default. ok is false when the field has no default at all.
func (f *FieldSpec) DerivedDefault(collected map[string]any) (any, bool) {
	if len(f.DefaultFrom) > 0 {
		out := ""
		for _, key := range f.DefaultFrom {
			v, present := collected[key]
			if !present {
				return nil, false
			}
			if out != "" {
				out += " "
			}
			out += fmt.Sprint(v)
		}
		return out, true
	}
	if f.Default != nil {
		return f.Default, true
	}
	return nil, false
}

// OperationSchema describes one mutating operation end to end.
type OperationSchema struct {
	Operation  string
	Subtype    models.ItemSubtype
	CreatePath string
	Fields     []FieldSpec

	// CrossChecks run over the full collected map once all fields are in,
	// catching constraints that span fields.
	CrossChecks []func(collected map[string]any) error
}

// RequiredFields returns the required fields in declaration order.
func (s *OperationSchema) RequiredFields() []FieldSpec {
	return s.partition(true)
}

// OptionalFields returns the optional fields in declaration order.
func (s *OperationSchema) OptionalFields() []FieldSpec {
	return s.partition(false)
}

func (s *OperationSchema) partition(required bool) []FieldSpec {
	var out []FieldSpec
	for _, f := range s.Fields {
		if f.Required == required {
			out = append(out, f)
		}
	}
	return out
}

// Field looks a field up by key.
func (s *OperationSchema) Field(key string) (*FieldSpec, bool) {
	for i := range s.Fields {
		if s.Fields[i].Key == key {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// Registry is the set of operation schemas known at process start.
type Registry struct {
	ops map[string]*OperationSchema
}

// NewRegistry loads the built-in operation schemas.
func NewRegistry() *Registry {
	r := &Registry{ops: make(map[string]*OperationSchema)}
	for _, s := range builtinSchemas() {
		r.ops[s.Operation] = s
	}
	return r
}

// Lookup returns the schema for an operation name.
func (r *Registry) Lookup(operation string) (*OperationSchema, error) {
	s, ok := r.ops[operation]
	if !ok {
		return nil, fmt.Errorf("unknown operation %q (known: %v)", operation, r.Operations())
	}
	return s, nil
}

// Operations lists the known operation names, sorted.
func (r *Registry) Operations() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
