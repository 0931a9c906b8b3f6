package registry

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"structcraft.ai/internal/sim/blocks"
	"structcraft.ai/internal/sim/structure"
)

//go:embed structure.schema.json
var schemaJSON []byte

const schemaURL = "https://structcraft.ai/schemas/structure.schema.json"

// LoadError is one definition file that could not be loaded.
type LoadError struct {
	Path string
	ID   string
	Err  error
}

func (e LoadError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e LoadError) Unwrap() error { return e.Err }

// Loader turns a directory of definition files into a Set.
type Loader struct {
	Blocks           *blocks.Registry
	DefaultNamespace string
	Logger           *log.Logger

	schema *jsonschema.Schema
}

func NewLoader(reg *blocks.Registry, defaultNamespace string, logger *log.Logger) (*Loader, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("structure schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("structure schema: %w", err)
	}
	if defaultNamespace == "" {
		defaultNamespace = blocks.DefaultNamespace
	}
	return &Loader{Blocks: reg, DefaultNamespace: defaultNamespace, Logger: logger, schema: sch}, nil
}

func isDefinition(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// IDFor maps a path relative to the structures dir to a structure id:
// "<namespace>/<path>.<ext>" becomes "namespace:path", and files directly
// in the dir get the default namespace.
func (l *Loader) IDFor(rel string) string {
	rel = filepath.ToSlash(rel)
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	ns, path, ok := strings.Cut(rel, "/")
	if !ok {
		return l.DefaultNamespace + ":" + rel
	}
	return ns + ":" + path
}

// LoadDir loads every definition under dir. A bad file is reported in the
// returned errors and skipped; the error return is for dir itself.
func (l *Loader) LoadDir(dir string) (Set, []LoadError, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, nil, err
	}
	set := Set{}
	var errs []LoadError
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, LoadError{Path: path, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !isDefinition(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		id := l.IDFor(rel)
		if prev, dup := set[id]; dup {
			errs = append(errs, LoadError{Path: path, ID: id, Err: fmt.Errorf("structure %s already loaded from %s", id, prev.Source)})
			return nil
		}
		entry, err := l.LoadFile(id, path)
		if err != nil {
			errs = append(errs, LoadError{Path: path, ID: id, Err: err})
			return nil
		}
		set[id] = entry
		return nil
	})
	if walkErr != nil {
		return nil, nil, walkErr
	}
	if l.Logger != nil {
		for _, e := range errs {
			l.Logger.Printf("skip structure %s: %v", e.ID, e)
		}
		l.Logger.Printf("loaded %d structures from %s (%d skipped)", len(set), dir, len(errs))
	}
	return set, errs, nil
}

// LoadFile reads, schema-checks and parses one definition.
func (l *Loader) LoadFile(id, path string) (*Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tpl, err := l.Parse(id, path, raw)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	return &Entry{Template: tpl, Source: path, Digest: hex.EncodeToString(sum[:])}, nil
}

// Parse checks raw against the definition schema and compiles it. name
// selects JSON or YAML by extension.
func (l *Loader) Parse(id, name string, raw []byte) (*structure.Template, error) {
	if err := l.checkSchema(id, name, raw); err != nil {
		return nil, err
	}
	def, err := structure.Decode(name, raw)
	if err != nil {
		var fe *structure.FormatError
		if errors.As(err, &fe) {
			fe.Structure = id
		}
		return nil, err
	}
	return structure.Parse(id, def, l.Blocks)
}

func (l *Loader) checkSchema(id, name string, raw []byte) error {
	var doc any
	var err error
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		var root yaml.Node
		if err = yaml.Unmarshal(raw, &root); err == nil {
			doc = jsonShape(&root)
		}
	default:
		err = json.Unmarshal(raw, &doc)
	}
	if err != nil {
		return &structure.FormatError{Structure: id, Kind: structure.ErrBadDocument, Msg: filepath.Base(name), Err: err}
	}
	if err := l.schema.Validate(doc); err != nil {
		return &structure.FormatError{Structure: id, Kind: structure.ErrBadDocument, Msg: "schema", Err: err}
	}
	return nil
}

// jsonShape turns a YAML tree into the value json.Unmarshal would give for
// the same document. Mapping keys and scalars stay strings whatever YAML
// would resolve them to, matching how the definition decoder reads them.
// Repeated keys keep their first value; the decoder reports them.
func jsonShape(n *yaml.Node) any {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil
		}
		return jsonShape(n.Content[0])
	case yaml.AliasNode:
		return jsonShape(n.Alias)
	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i].Value
			if _, dup := m[k]; !dup {
				m[k] = jsonShape(n.Content[i+1])
			}
		}
		return m
	case yaml.SequenceNode:
		out := make([]any, len(n.Content))
		for i, c := range n.Content {
			out[i] = jsonShape(c)
		}
		return out
	default:
		if n.Tag == "!!null" {
			return nil
		}
		return n.Value
	}
}
