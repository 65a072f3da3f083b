// Package codec implements the tag-delimited text format used to move
// structured values in and out of language models. Values are encoded as
// nested <tag>...</tag> spans instead of JSON because models reproduce tag
// boundaries far more reliably than balanced braces, and a partially
// generated response still decodes to something usable.
//
// The format is lossy at the edges and deliberately so: decoding classifies
// bare literals, so the strings "true" and "42" come back as a bool and a
// number. Callers that care route raw text through the streaming extractor
// instead.
package codec

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Map is the mapping form of a Value. Insertion order is preserved so that
// encoding the same value twice yields byte-identical output.
type Map = orderedmap.OrderedMap[string, any]

// NewMap returns an empty ordered mapping.
func NewMap() *Map { return orderedmap.New[string, any]() }

// Fallback tag names, keyed by the role a tag plays when the caller supplied
// none or sanitization stripped everything.
const (
	tagValue = "value"
	tagEmpty = "empty"
	tagArray = "array"
	tagItem  = "item"
)

var (
	tagStripRE = regexp.MustCompile(`[^A-Za-z0-9_]`)
	numberRE   = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// SanitizeTag reduces name to tag-safe characters. Characters outside
// [A-Za-z0-9_] are stripped; a name left empty becomes fallback; a name
// starting with a non-letter is prefixed with "tag_". The function is
// idempotent: sanitizing an already-sanitized name returns it unchanged.
func SanitizeTag(name, fallback string) string {
	s := tagStripRE.ReplaceAllString(name, "")
	if s == "" {
		return fallback
	}
	c := s[0]
	if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
		return "tag_" + s
	}
	return s
}

// Encode serializes v into tag-delimited text. An optional tag names the
// wrapping element. At the root, mappings and sequences with no tag emit
// their contents unwrapped; a bare scalar wraps as <value>. Nil entries are
// dropped wherever they appear.
func Encode(v any, tag ...string) string {
	name := ""
	if len(tag) > 0 {
		name = tag[0]
	}
	return encodeValue(v, name)
}

func encodeValue(v any, tag string) string {
	switch t := v.(type) {
	case nil:
		return ""
	case *Map:
		return encodeMapping(t, tag)
	case map[string]any:
		return encodeMapping(orderMap(t), tag)
	case []any:
		return encodeSequence(t, tag)
	case []string:
		seq := make([]any, len(t))
		for i, s := range t {
			seq[i] = s
		}
		return encodeSequence(seq, tag)
	default:
		return wrap(SanitizeTag(tag, tagValue), Stringify(t))
	}
}

func encodeMapping(m *Map, tag string) string {
	var b strings.Builder
	entries := 0
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil {
			continue
		}
		b.WriteString(encodeValue(pair.Value, pair.Key))
		entries++
	}
	if entries == 0 {
		return wrap(SanitizeTag(tag, tagEmpty), "")
	}
	if tag == "" {
		return b.String()
	}
	return wrap(SanitizeTag(tag, tagEmpty), b.String())
}

func encodeSequence(items []any, tag string) string {
	var b strings.Builder
	for _, item := range items {
		if item == nil {
			continue
		}
		b.WriteString(encodeValue(item, tagItem))
	}
	if tag == "" {
		return b.String()
	}
	return wrap(SanitizeTag(tag, tagArray), b.String())
}

func wrap(tag, inner string) string {
	return "<" + tag + ">" + inner + "</" + tag + ">"
}

// Stringify renders a scalar the way Encode writes it: bools as their
// literals, numbers without a trailing ".0", strings verbatim.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

// Plain converts a decoded value into plain Go containers: *Map becomes
// map[string]any (insertion order lost), sequences convert elementwise.
// Callers hand the result to JSON-shaped interfaces like capability
// invocation.
func Plain(v any) any {
	switch t := v.(type) {
	case *Map:
		out := make(map[string]any, t.Len())
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			out[pair.Key] = Plain(pair.Value)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			out = append(out, Plain(item))
		}
		return out
	default:
		return v
	}
}

// FromPlain is the inverse of Plain: map[string]any becomes *Map with
// sorted keys, slices convert elementwise, scalars pass through. JSON
// request bodies enter the pipeline here.
func FromPlain(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := NewMap()
		for _, k := range keys {
			out.Set(k, FromPlain(t[k]))
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			out = append(out, FromPlain(item))
		}
		return out
	default:
		return v
	}
}

// orderMap converts an unordered Go map into a Map with sorted keys, the
// only deterministic order available once insertion order is gone. Tool
// results unmarshalled from JSON land here.
func orderMap(m map[string]any) *Map {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := NewMap()
	for _, k := range keys {
		out.Set(k, m[k])
	}
	return out
}

// Decode parses tag-delimited text back into a Value. It never fails: text
// with no recognizable tags is returned as a classified scalar, unmatched
// opens are skipped, and junk between spans is ignored.
func Decode(text string) any {
	return decodeText(text)
}

func decodeText(text string) any {
	if !strings.Contains(text, "<") {
		return classify(strings.TrimSpace(text))
	}
	pairs := scanPairs(text)
	if len(pairs) == 0 {
		return classify(strings.TrimSpace(text))
	}
	out := NewMap()
	for _, p := range pairs {
		var v any
		if strings.Contains(p.inner, "<") {
			v = decodeText(p.inner)
		} else {
			v = classify(strings.TrimSpace(p.inner))
		}
		prev, seen := out.Get(p.name)
		if !seen {
			out.Set(p.name, v)
			continue
		}
		if seq, ok := prev.([]any); ok {
			out.Set(p.name, append(seq, v))
		} else {
			out.Set(p.name, []any{prev, v})
		}
	}
	// A lone <item> group is an encoded sequence, not a mapping.
	if out.Len() == 1 {
		if v, ok := out.Get(tagItem); ok {
			if seq, isSeq := v.([]any); isSeq {
				return seq
			}
			return []any{v}
		}
	}
	return out
}

type tagPair struct {
	name  string
	inner string
}

// scanPairs walks text collecting top-level <name>...</name> spans. Matching
// is non-greedy: the first same-name close tag after the open wins, so a
// nested same-name tag is split rather than balanced. That mirrors how the
// format is produced and keeps the scanner linear.
func scanPairs(text string) []tagPair {
	var pairs []tagPair
	i := 0
	for i < len(text) {
		rel := strings.IndexByte(text[i:], '<')
		if rel < 0 {
			break
		}
		start := i + rel
		name, advance := parseOpenTag(text[start:])
		if name == "" {
			i = start + 1
			continue
		}
		contentStart := start + advance
		closing := "</" + name + ">"
		end := strings.Index(text[contentStart:], closing)
		if end < 0 {
			i = start + 1
			continue
		}
		pairs = append(pairs, tagPair{name: name, inner: text[contentStart : contentStart+end]})
		i = contentStart + end + len(closing)
	}
	return pairs
}

// parseOpenTag reads "<name>" at the start of s, returning the name and the
// offset just past '>'. An empty name means s does not start a usable tag.
func parseOpenTag(s string) (string, int) {
	j := 1
	for j < len(s) && isTagChar(s[j]) {
		j++
	}
	if j == 1 || j >= len(s) || s[j] != '>' {
		return "", 0
	}
	return s[1:j], j + 1
}

func isTagChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// classify turns decoded leaf text into a typed scalar: the literals true
// and false become bools, unsigned integer and decimal patterns become
// numbers, everything else stays a string.
func classify(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if numberRE.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}
