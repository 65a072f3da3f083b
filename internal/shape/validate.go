package shape

import (
	"fmt"
	"strconv"

	"github.com/tagweave/tagweave/internal/codec"
)

// Validate checks a decoded record against the shape and returns a
// normalized copy in declaration order. It is lenient about scalar form:
// the codec classifies bare literals, so a text field may arrive as a
// number and a boolean as a string, and both normalize rather than fail.
// Missing fields pass; partial records are an accepted outcome. Structural
// mismatches (a mapping where a scalar belongs, or the reverse) fail.
// Undeclared keys are dropped.
func (s *Shape) Validate(v any) (*codec.Map, error) {
	m, ok := v.(*codec.Map)
	if !ok {
		return nil, fmt.Errorf("shape: expected a record, got %T", v)
	}
	return validateRecord(s.fields, m, false, "")
}

// ValidateInput checks request input strictly: every non-optional field must
// be present. Scalar normalization is the same as Validate.
func (s *Shape) ValidateInput(v any) (*codec.Map, error) {
	m, ok := v.(*codec.Map)
	if !ok {
		return nil, fmt.Errorf("shape: expected a record, got %T", v)
	}
	return validateRecord(s.fields, m, true, "")
}

func validateRecord(fields []Field, m *codec.Map, requireAll bool, prefix string) (*codec.Map, error) {
	out := codec.NewMap()
	for _, f := range fields {
		path := f.Name
		if prefix != "" {
			path = prefix + "_" + f.Name
		}
		v, present := m.Get(f.Name)
		if !present || v == nil {
			if requireAll && !f.Optional {
				return nil, fmt.Errorf("shape: missing required field %q", path)
			}
			continue
		}
		if f.Kind == KindRecord {
			child, ok := v.(*codec.Map)
			if !ok {
				return nil, fmt.Errorf("shape: field %q must be a record, got %T", path, v)
			}
			normalized, err := validateRecord(f.Children, child, requireAll, path)
			if err != nil {
				return nil, err
			}
			out.Set(f.Name, normalized)
			continue
		}
		normalized, err := normalizeScalar(f, v, path)
		if err != nil {
			return nil, err
		}
		out.Set(f.Name, normalized)
	}
	return out, nil
}

func normalizeScalar(f Field, v any, path string) (any, error) {
	switch v.(type) {
	case *codec.Map:
		return nil, fmt.Errorf("shape: field %q must be a scalar, got a record", path)
	case []any:
		return nil, fmt.Errorf("shape: field %q must be a scalar, got a sequence", path)
	}
	switch f.Kind {
	case KindText:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return codec.Stringify(v), nil
	case KindBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			if t == "true" {
				return true, nil
			}
			if t == "false" {
				return false, nil
			}
		}
		return nil, fmt.Errorf("shape: field %q must be \"true\" or \"false\", got %v", path, v)
	case KindNumber:
		switch t := v.(type) {
		case float64:
			return t, nil
		case string:
			if n, err := strconv.ParseFloat(t, 64); err == nil {
				return n, nil
			}
		}
		return nil, fmt.Errorf("shape: field %q must be a number, got %v", path, v)
	case KindEnum:
		s := codec.Stringify(v)
		for _, allowed := range f.Values {
			if s == allowed {
				return s, nil
			}
		}
		return nil, fmt.Errorf("shape: field %q value %q is not a declared option", path, s)
	}
	return nil, fmt.Errorf("shape: field %q has unvalidatable kind %v", path, f.Kind)
}
