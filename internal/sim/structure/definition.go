package structure

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LegendEntry is one legend member in source order. A string value has
// List false and exactly one spec; a list value has List true.
type LegendEntry struct {
	Key   string
	Specs []string
	List  bool
}

// Definition is the decoded document: a legend plus layers (Y) of rows (Z)
// of columns (X).
type Definition struct {
	Keys   []LegendEntry
	Layers [][]string
}

// Decode picks the decoder from the file extension. Anything that is not
// .yaml or .yml is read as JSON.
func Decode(name string, data []byte) (*Definition, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return DecodeYAML(data)
	default:
		return DecodeJSON(data)
	}
}

func badDocument(format string, args ...any) error {
	return &FormatError{Kind: ErrBadDocument, Msg: fmt.Sprintf(format, args...)}
}

// DecodeJSON reads {"keys": {...}, "layers": [[...]]}. Repeated legend
// members are kept so the parser can report them.
func DecodeJSON(data []byte) (*Definition, error) {
	var doc struct {
		Keys   json.RawMessage `json:"keys"`
		Layers json.RawMessage `json:"layers"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &FormatError{Kind: ErrBadDocument, Msg: "invalid json", Err: err}
	}
	def := &Definition{}
	if len(doc.Keys) > 0 && string(doc.Keys) != "null" {
		keys, err := decodeJSONLegend(doc.Keys)
		if err != nil {
			return nil, err
		}
		def.Keys = keys
	}
	if len(doc.Layers) > 0 && string(doc.Layers) != "null" {
		if err := json.Unmarshal(doc.Layers, &def.Layers); err != nil {
			return nil, &FormatError{Kind: ErrBadDocument, Msg: "layers must be a list of lists of strings", Err: err}
		}
	}
	return def, nil
}

func decodeJSONLegend(raw json.RawMessage) ([]LegendEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, &FormatError{Kind: ErrBadDocument, Msg: "keys", Err: err}
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, badDocument("keys must be an object")
	}
	var out []LegendEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, &FormatError{Kind: ErrBadDocument, Msg: "keys", Err: err}
		}
		key, _ := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, &FormatError{Kind: ErrBadDocument, Msg: fmt.Sprintf("key %q", key), Err: err}
		}
		entry := LegendEntry{Key: key}
		switch trimmed := bytes.TrimSpace(v); {
		case len(trimmed) > 0 && trimmed[0] == '"':
			var s string
			if err := json.Unmarshal(trimmed, &s); err != nil {
				return nil, &FormatError{Kind: ErrBadDocument, Msg: fmt.Sprintf("key %q", key), Err: err}
			}
			entry.Specs = []string{s}
		case len(trimmed) > 0 && trimmed[0] == '[':
			var list []*string
			if err := json.Unmarshal(trimmed, &list); err != nil {
				return nil, badDocument("key %q: value must be a string or a list of strings", key)
			}
			entry.List = true
			for i, s := range list {
				if s == nil {
					return nil, badDocument("key %q: element %d is null", key, i)
				}
				entry.Specs = append(entry.Specs, *s)
			}
		default:
			return nil, badDocument("key %q: value must be a string or a list of strings", key)
		}
		out = append(out, entry)
	}
	return out, nil
}

// DecodeYAML reads the same document shape from YAML.
func DecodeYAML(data []byte) (*Definition, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &FormatError{Kind: ErrBadDocument, Msg: "invalid yaml", Err: err}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, badDocument("empty document")
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, badDocument("document must be a mapping")
	}
	def := &Definition{}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		k, v := doc.Content[i], doc.Content[i+1]
		switch k.Value {
		case "keys":
			keys, err := decodeYAMLLegend(v)
			if err != nil {
				return nil, err
			}
			def.Keys = keys
		case "layers":
			if err := v.Decode(&def.Layers); err != nil {
				return nil, &FormatError{Kind: ErrBadDocument, Msg: "layers must be a list of lists of strings", Err: err}
			}
		}
	}
	return def, nil
}

func decodeYAMLLegend(n *yaml.Node) ([]LegendEntry, error) {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, badDocument("keys must be a mapping")
	}
	var out []LegendEntry
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		entry := LegendEntry{Key: k.Value}
		switch {
		case v.Kind == yaml.ScalarNode && v.Tag != "!!null":
			entry.Specs = []string{v.Value}
		case v.Kind == yaml.SequenceNode:
			entry.List = true
			for j, c := range v.Content {
				if c.Kind != yaml.ScalarNode || c.Tag == "!!null" {
					return nil, badDocument("key %q: element %d must be a string", k.Value, j)
				}
				entry.Specs = append(entry.Specs, c.Value)
			}
		default:
			return nil, badDocument("key %q: value must be a string or a list of strings", k.Value)
		}
		out = append(out, entry)
	}
	return out, nil
}
