package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema names for request bodies and stream messages.
const (
	SchemaHello    = "hello"
	SchemaValidate = "validate"
	SchemaPlace    = "place"
	SchemaOverlay  = "overlay"
	SchemaBlocks   = "blocks"
	SchemaProgress = "progress"
)

const schemaBase = "https://structcraft.ai/schemas/"

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
	schemaErr  error
)

func compileSchemas() {
	names := []string{SchemaHello, SchemaValidate, SchemaPlace, SchemaOverlay, SchemaBlocks, SchemaProgress}
	c := jsonschema.NewCompiler()
	for _, n := range names {
		b, err := schemaFS.ReadFile("schemas/" + n + ".schema.json")
		if err != nil {
			schemaErr = err
			return
		}
		if err := c.AddResource(schemaBase+n+".schema.json", bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("%s schema: %w", n, err)
			return
		}
	}
	out := make(map[string]*jsonschema.Schema, len(names))
	for _, n := range names {
		s, err := c.Compile(schemaBase + n + ".schema.json")
		if err != nil {
			schemaErr = fmt.Errorf("%s schema: %w", n, err)
			return
		}
		out[n] = s
	}
	schemas = out
}

// Schema returns the compiled schema called name.
func Schema(name string) (*jsonschema.Schema, error) {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return nil, schemaErr
	}
	s, ok := schemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	return s, nil
}

// CheckJSON validates raw against the named schema.
func CheckJSON(name string, raw []byte) error {
	s, err := Schema(name)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}
