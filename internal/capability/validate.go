package capability

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateParams checks synthesized parameters against a capability's
// discovered input schema. Callers treat failures as advisory: a provider
// shipping a broken or over-strict schema must not block invocation, so the
// caller logs and proceeds.
func ValidateParams(schemaMap map[string]any, params map[string]any) error {
	if len(schemaMap) == 0 {
		return nil
	}
	schemaData, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaData))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("capability.json", doc); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	sch, err := c.Compile("capability.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	if params == nil {
		params = map[string]any{}
	}
	paramData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(paramData))
	if err != nil {
		return fmt.Errorf("parse params: %w", err)
	}
	return sch.Validate(instance)
}
