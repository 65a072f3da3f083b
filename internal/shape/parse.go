package shape

import (
	"encoding/json"
	"fmt"
)

// fieldDecl is the wire form of a field, used in config files and the HTTP
// API. Types: text, boolean, number, enum, record. The type "array" is
// recognized and rejected with a pointed error rather than an unknown-type
// one, because it is the mistake people actually make.
type fieldDecl struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Values      []string    `json:"values,omitempty"`
	Fields      []fieldDecl `json:"fields,omitempty"`
	Optional    bool        `json:"optional,omitempty"`
}

type shapeDecl struct {
	Fields []fieldDecl `json:"fields"`
}

// Parse reads a JSON shape declaration. Array types anywhere in the tree
// fail parsing; everything tag-delimited output can express is allowed.
func Parse(data []byte) (*Shape, error) {
	var decl shapeDecl
	if err := json.Unmarshal(data, &decl); err != nil {
		return nil, fmt.Errorf("shape: parse declaration: %w", err)
	}
	fields, err := buildFields(decl.Fields, "")
	if err != nil {
		return nil, err
	}
	return New(fields...)
}

func buildFields(decls []fieldDecl, parent string) ([]Field, error) {
	fields := make([]Field, 0, len(decls))
	for _, d := range decls {
		at := d.Name
		if parent != "" {
			at = parent + "_" + d.Name
		}
		var f Field
		switch d.Type {
		case "text", "":
			f = Text(d.Name, d.Description)
		case "boolean":
			f = Boolean(d.Name, d.Description)
		case "number":
			f = Number(d.Name, d.Description)
		case "enum":
			f = Enum(d.Name, d.Description, d.Values...)
		case "record":
			children, err := buildFields(d.Fields, at)
			if err != nil {
				return nil, err
			}
			f = Record(d.Name, d.Description, children...)
		case "array":
			return nil, fmt.Errorf("shape: field %q: arrays are not supported in output shapes", at)
		default:
			return nil, fmt.Errorf("shape: field %q has unknown type %q", at, d.Type)
		}
		f.Optional = d.Optional
		fields = append(fields, f)
	}
	return fields, nil
}

// Declaration renders the shape back into its wire form, used by the shape
// introspection endpoint.
func (s *Shape) Declaration() []byte {
	decl := shapeDecl{Fields: declFields(s.fields)}
	data, _ := json.Marshal(decl)
	return data
}

func declFields(fields []Field) []fieldDecl {
	out := make([]fieldDecl, 0, len(fields))
	for _, f := range fields {
		d := fieldDecl{
			Name:        f.Name,
			Type:        f.Kind.String(),
			Description: f.Description,
			Values:      f.Values,
			Optional:    f.Optional,
		}
		if f.Kind == KindRecord {
			d.Fields = declFields(f.Children)
		}
		out = append(out, d)
	}
	return out
}
