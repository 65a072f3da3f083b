package toolserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	schemagen "github.com/google/jsonschema-go/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaFor reflects a JSON schema for an argument struct. Property
// descriptions come from `description` struct tags; fields tagged omitempty
// stay optional, everything else is required.
func schemaFor[T any]() (map[string]any, error) {
	schema, err := schemagen.For[T](&schemagen.ForOptions{})
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	describeFields(m, reflect.TypeOf(*new(T)))
	stripIDs(m)
	return m, nil
}

// describeFields copies `description` tags from the root struct onto the
// matching schema properties, keyed by the json tag name.
func describeFields(schemaMap map[string]any, typ reflect.Type) {
	if typ == nil || typ.Kind() != reflect.Struct {
		return
	}
	props, ok := schemaMap["properties"].(map[string]any)
	if !ok {
		return
	}
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		desc := field.Tag.Get("description")
		if desc == "" {
			continue
		}
		name := strings.Split(field.Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		if prop, ok := props[name].(map[string]any); ok {
			prop["description"] = desc
		}
	}
}

// stripIDs removes $id markers so compiled validation never resolves
// against a remote base URI.
func stripIDs(node map[string]any) {
	delete(node, "id")
	delete(node, "$id")
	for _, v := range node {
		switch x := v.(type) {
		case map[string]any:
			stripIDs(x)
		case []any:
			for _, item := range x {
				if m, ok := item.(map[string]any); ok {
					stripIDs(m)
				}
			}
		}
	}
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("args.json", doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return c.Compile("args.json")
}

func validateArgs(sch *jsonschema.Schema, args map[string]any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return sch.Validate(instance)
}
