package agent

import (
	"encoding/json"
	"strings"

	"github.com/tagweave/tagweave/internal/capability"
	"github.com/tagweave/tagweave/internal/codec"
	"github.com/tagweave/tagweave/internal/provider"
	"github.com/tagweave/tagweave/internal/shape"
)

// System prompts. All model traffic speaks the tag format; JSON appears only
// inside a <schema> tag, where the model reads it but never writes it.
const (
	selectionSystem  = "You route structured generation tasks. Answer in the tag format requested, nothing else."
	synthesisSystem  = "You prepare call parameters for external capabilities. Answer in the tag format requested, nothing else."
	generationSystem = "You fill structured records. Respond only with the tags of the requested response format and their content, no prose outside them."
)

func providerSelectionMessages(input *codec.Map, providers []capability.Provider) []provider.Message {
	list := make([]any, 0, len(providers))
	for _, p := range providers {
		entry := codec.NewMap()
		entry.Set("name", p.Name)
		entry.Set("description", p.Description)
		list = append(list, entry)
	}

	prompt := codec.NewMap()
	prompt.Set("input", input)
	prompt.Set("providers", list)
	prompt.Set("instruction", "Select the providers whose capabilities could help fill the response. Respond with <selected><item>name</item></selected> listing only provider names.")

	return []provider.Message{
		{Role: "system", Content: selectionSystem},
		{Role: "user", Content: codec.Encode(prompt)},
	}
}

func capabilitySelectionMessages(input *codec.Map, prov capability.Provider, caps []capability.Capability) []provider.Message {
	list := make([]any, 0, len(caps))
	for _, c := range caps {
		entry := codec.NewMap()
		entry.Set("name", c.Name)
		entry.Set("description", c.Description)
		list = append(list, entry)
	}

	prompt := codec.NewMap()
	prompt.Set("input", input)
	prompt.Set("provider", prov.Name)
	prompt.Set("capabilities", list)
	prompt.Set("instruction", "Select the capabilities worth invoking before generating the response. Respond with <selected><item>name</item></selected> listing only capability names.")

	return []provider.Message{
		{Role: "system", Content: selectionSystem},
		{Role: "user", Content: codec.Encode(prompt)},
	}
}

func paramSynthesisMessages(input *codec.Map, cap capability.Capability) []provider.Message {
	entry := codec.NewMap()
	entry.Set("name", cap.Name)
	entry.Set("description", cap.Description)
	if len(cap.InputSchema) > 0 {
		// json.Marshal escapes < and >, so the schema text cannot open a tag.
		if b, err := json.Marshal(cap.InputSchema); err == nil {
			entry.Set("schema", string(b))
		}
	}

	prompt := codec.NewMap()
	prompt.Set("input", input)
	prompt.Set("capability", entry)
	prompt.Set("instruction", "Produce the call parameters for the capability, matching its schema. Respond with <params> containing one tag per parameter.")

	return []provider.Message{
		{Role: "system", Content: synthesisSystem},
		{Role: "user", Content: codec.Encode(prompt)},
	}
}

func resolutionMessages(input *codec.Map, field, instruction string, caps []capability.Capability) []provider.Message {
	list := make([]any, 0, len(caps))
	for _, c := range caps {
		entry := codec.NewMap()
		entry.Set("name", c.Name)
		entry.Set("description", c.Description)
		list = append(list, entry)
	}

	prompt := codec.NewMap()
	prompt.Set("field", field)
	if instruction != "" {
		prompt.Set("description", instruction)
	}
	prompt.Set("input", input)
	prompt.Set("capabilities", list)
	prompt.Set("instruction", "Pick at most one capability, by name, that can resolve the field. Respond with <selected>name</selected>.")

	return []provider.Message{
		{Role: "system", Content: selectionSystem},
		{Role: "user", Content: codec.Encode(prompt)},
	}
}

func generationMessages(prompt *codec.Map) []provider.Message {
	return []provider.Message{
		{Role: "system", Content: generationSystem},
		{Role: "user", Content: codec.Encode(prompt)},
	}
}

// buildInstruction renders the task instruction with the flattened field
// constraints appended. Computed once at construction.
func buildInstruction(output *shape.Shape) string {
	var b strings.Builder
	b.WriteString("Fill every field of the response format from the input. Respond only with the tags of the response format, no prose outside them.")
	constraints := output.Constraints()
	if len(constraints) > 0 {
		b.WriteString("\nField constraints:")
		for _, c := range constraints {
			b.WriteString("\n- ")
			b.WriteString(c.Path)
			b.WriteString(": ")
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// decodeNames extracts a name list from a selection response. nil means the
// response did not decode to anything usable as names; callers apply their
// state's fallback.
func decodeNames(text string) []string {
	return namesFrom(codec.Decode(text))
}

func namesFrom(v any) []string {
	switch t := v.(type) {
	case string:
		return splitNames(t)
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, namesFrom(item)...)
		}
		return out
	case *codec.Map:
		if name, ok := t.Get("name"); ok {
			if s, ok := name.(string); ok {
				return splitNames(s)
			}
		}
		if t.Len() == 1 {
			return namesFrom(t.Oldest().Value)
		}
		return nil
	default:
		return nil
	}
}

func splitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// decodeParams turns a synthesis response into a parameter map. Anything
// that does not decode to a mapping yields an empty map, never an error.
func decodeParams(text string) map[string]any {
	v := codec.Decode(text)
	m, ok := v.(*codec.Map)
	if !ok {
		return map[string]any{}
	}
	if m.Len() == 1 {
		if key := m.Oldest().Key; key == "params" || key == "parameters" {
			inner, ok := m.Oldest().Value.(*codec.Map)
			if !ok {
				return map[string]any{}
			}
			m = inner
		}
	}
	plain, _ := codec.Plain(m).(map[string]any)
	if plain == nil {
		return map[string]any{}
	}
	return plain
}
