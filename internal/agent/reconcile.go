package agent

import (
	"strings"

	"github.com/tagweave/tagweave/internal/codec"
	"github.com/tagweave/tagweave/internal/shape"
)

// reconcile decodes the raw response into a record conforming to the output
// shape. It never fails: undecodable or invalid responses come back as an
// empty record.
func (o *Orchestrator) reconcile(raw string) *codec.Map {
	if strings.TrimSpace(raw) == "" {
		return codec.NewMap()
	}

	source, _ := codec.Decode(raw).(*codec.Map)
	if source == nil {
		return codec.NewMap()
	}
	source = o.unwrapRoot(source)

	record := codec.NewMap()
	for _, f := range o.output.Fields() {
		v, ok := source.Get(f.Name)
		if !ok {
			continue
		}
		if f.Kind == shape.KindText {
			if _, structured := v.(*codec.Map); structured {
				if inner, found := rawInner(raw, f.Name); found {
					v = inner
				}
			}
		}
		record.Set(f.Name, v)
	}

	validated, err := o.output.Validate(record)
	if err != nil {
		o.logger.Printf("response failed output validation, returning empty record: %v", err)
		return codec.NewMap()
	}
	return validated
}

// unwrapRoot removes one enclosing tag when the model wrapped the whole
// record in an extra root element. A root tag that is itself a declared
// field stays put.
func (o *Orchestrator) unwrapRoot(m *codec.Map) *codec.Map {
	if m.Len() != 1 {
		return m
	}
	pair := m.Oldest()
	inner, ok := pair.Value.(*codec.Map)
	if !ok {
		return m
	}
	for _, f := range o.output.Fields() {
		if f.Name == pair.Key {
			return m
		}
	}
	return inner
}

// rawInner returns the literal text between the first <name> and the last
// </name> in raw. Used when a text field carried markup that the structural
// decode mistook for nesting.
func rawInner(raw, name string) (string, bool) {
	open := "<" + name + ">"
	closing := "</" + name + ">"
	i := strings.Index(raw, open)
	if i < 0 {
		return "", false
	}
	j := strings.LastIndex(raw, closing)
	if j < i+len(open) {
		return "", false
	}
	return strings.TrimSpace(raw[i+len(open) : j]), true
}
