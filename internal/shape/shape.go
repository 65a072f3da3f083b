// Package shape describes the structure a generated record must take: which
// fields exist, what kind of scalar each holds, and what constraints get
// written into the prompt. A shape is built once and read many times; the
// scalar kind of every field is settled at construction, never re-derived
// per request.
package shape

import (
	"fmt"
	"strings"

	"github.com/tagweave/tagweave/internal/codec"
)

// Kind is the settled classification of a field.
type Kind int

const (
	KindText Kind = iota
	KindBoolean
	KindNumber
	KindEnum
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindEnum:
		return "enum"
	case KindRecord:
		return "record"
	}
	return "unknown"
}

// Field is one declared slot in a shape. Values is set for enums, Children
// for records. Optional marks a field callers may omit on input; it has no
// effect on constraint wording.
type Field struct {
	Name        string
	Description string
	Kind        Kind
	Values      []string
	Children    []Field
	Optional    bool
}

// Shape is an ordered field list. Sequences are deliberately absent from
// the model: tag-delimited responses cannot distinguish a one-element
// sequence from a scalar, so array-bearing declarations are rejected when
// parsed.
type Shape struct {
	fields []Field
}

// Constraint pairs a flattened field path with its prompt instruction line.
type Constraint struct {
	Path string
	Text string
}

// Text declares a free-text field.
func Text(name, description string) Field {
	return Field{Name: name, Description: description, Kind: KindText}
}

// Boolean declares a field that must hold the literal true or false.
func Boolean(name, description string) Field {
	return Field{Name: name, Description: description, Kind: KindBoolean}
}

// Number declares a numeric field.
func Number(name, description string) Field {
	return Field{Name: name, Description: description, Kind: KindNumber}
}

// Enum declares a field constrained to exactly one of the given literals.
func Enum(name, description string, values ...string) Field {
	return Field{Name: name, Description: description, Kind: KindEnum, Values: values}
}

// Record declares a nested group of fields.
func Record(name, description string, children ...Field) Field {
	return Field{Name: name, Description: description, Kind: KindRecord, Children: children}
}

// Optional returns a copy of f marked optional.
func Optional(f Field) Field {
	f.Optional = true
	return f
}

// New builds a shape from fields, validating names and enum declarations at
// every depth. Field names must already be tag-safe: the name is the tag on
// the wire, and a name that sanitization would rewrite could never be
// matched back to its field.
func New(fields ...Field) (*Shape, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("shape: at least one field required")
	}
	if err := checkFields(fields, ""); err != nil {
		return nil, err
	}
	return &Shape{fields: fields}, nil
}

func checkFields(fields []Field, parent string) error {
	seen := map[string]bool{}
	for _, f := range fields {
		at := f.Name
		if parent != "" {
			at = parent + "_" + f.Name
		}
		if f.Name == "" {
			return fmt.Errorf("shape: empty field name under %q", parent)
		}
		if codec.SanitizeTag(f.Name, "") != f.Name {
			return fmt.Errorf("shape: field name %q is not tag-safe", at)
		}
		if seen[f.Name] {
			return fmt.Errorf("shape: duplicate sibling field %q", at)
		}
		seen[f.Name] = true
		switch f.Kind {
		case KindEnum:
			if len(f.Values) == 0 {
				return fmt.Errorf("shape: enum field %q has no values", at)
			}
		case KindRecord:
			if err := checkFields(f.Children, at); err != nil {
				return err
			}
		case KindText, KindBoolean, KindNumber:
		default:
			return fmt.Errorf("shape: field %q has unknown kind %d", at, f.Kind)
		}
	}
	return nil
}

// Fields returns the declared top-level fields.
func (s *Shape) Fields() []Field { return s.fields }

// Skeleton returns the structure the model is asked to fill: the same
// nesting as the shape with every scalar slot holding an empty string.
// Encoding the skeleton yields the response-format block of the prompt.
func (s *Shape) Skeleton() *codec.Map {
	return skeleton(s.fields)
}

func skeleton(fields []Field) *codec.Map {
	m := codec.NewMap()
	for _, f := range fields {
		if f.Kind == KindRecord {
			m.Set(f.Name, skeleton(f.Children))
			continue
		}
		m.Set(f.Name, "")
	}
	return m
}

// Constraints returns one instruction line per constrained field, flattened
// depth-first in declaration order. Records contribute no line of their own;
// their children are listed under the record's path prefix.
func (s *Shape) Constraints() []Constraint {
	var out []Constraint
	appendConstraints(&out, s.fields, "")
	return out
}

func appendConstraints(out *[]Constraint, fields []Field, prefix string) {
	for _, f := range fields {
		path := f.Name
		if prefix != "" {
			path = prefix + "_" + f.Name
		}
		if f.Kind == KindRecord {
			appendConstraints(out, f.Children, path)
			continue
		}
		line := constraintLine(f)
		if line == "" {
			continue
		}
		*out = append(*out, Constraint{Path: path, Text: line})
	}
}

func constraintLine(f Field) string {
	derived := derivedConstraint(f)
	switch {
	case f.Description != "" && derived != "":
		return f.Description + ". Must be " + derived
	case f.Description != "":
		return f.Description
	case derived != "":
		return "Must be " + derived
	}
	return ""
}

func derivedConstraint(f Field) string {
	switch f.Kind {
	case KindBoolean:
		return `"true" or "false"`
	case KindEnum:
		quoted := make([]string, len(f.Values))
		for i, v := range f.Values {
			quoted[i] = `"` + v + `"`
		}
		return "one of: " + strings.Join(quoted, ", ")
	}
	return ""
}
