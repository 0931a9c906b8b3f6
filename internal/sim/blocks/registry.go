package blocks

import (
	"fmt"
	"sort"
	"strings"
)

// Tag is a named, resolved group of blocks.
type Tag struct {
	ID      string
	members []*Block
	set     map[*Block]struct{}
}

func (t *Tag) Contains(b *Block) bool {
	_, ok := t.set[b]
	return ok
}

// Members returns the tag's blocks sorted by id.
func (t *Tag) Members() []*Block { return t.members }

// Registry resolves identifiers to blocks and tags. It is built once at
// load time and only read afterwards.
type Registry struct {
	blocks map[string]*Block
	tags   map[string]*Tag

	BlocksDigest string
	TagsDigest   string
}

func NewRegistry() *Registry {
	return &Registry{
		blocks: map[string]*Block{Air.ID: Air},
		tags:   map[string]*Tag{},
	}
}

// Register adds a block. Re-registering air returns the shared Air block.
func (r *Registry) Register(id string, air bool, props map[string][]string) (*Block, error) {
	id = NormalizeID(id)
	if id == "" {
		return nil, fmt.Errorf("empty block id")
	}
	if id == Air.ID {
		return Air, nil
	}
	if _, ok := r.blocks[id]; ok {
		return nil, fmt.Errorf("block %s registered twice", id)
	}
	for name, values := range props {
		if name == "" {
			return nil, fmt.Errorf("block %s: empty property name", id)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("block %s: property %s has no values", id, name)
		}
		if len(values) > 255 {
			return nil, fmt.Errorf("block %s: property %s has too many values", id, name)
		}
		seen := map[string]bool{}
		for _, v := range values {
			if seen[v] {
				return nil, fmt.Errorf("block %s: property %s repeats value %q", id, name, v)
			}
			seen[v] = true
		}
	}
	b := newBlock(id, air, props)
	r.blocks[id] = b
	return b, nil
}

// DefineTags resolves raw tag definitions. Entries starting with '#'
// reference other tags; cycles and unknown references are errors.
func (r *Registry) DefineTags(raw map[string][]string) error {
	defs := make(map[string][]string, len(raw))
	for id, entries := range raw {
		defs[NormalizeID(strings.TrimPrefix(id, "#"))] = entries
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	resolved := map[string]map[*Block]struct{}{}

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("tag cycle: %s -> %s", strings.Join(path, " -> "), id)
		}
		entries, ok := defs[id]
		if !ok {
			return fmt.Errorf("unknown tag #%s", id)
		}
		state[id] = visiting
		set := map[*Block]struct{}{}
		for _, e := range entries {
			e = strings.TrimSpace(e)
			if strings.HasPrefix(e, "#") {
				ref := NormalizeID(e[1:])
				if err := visit(ref, append(path, id)); err != nil {
					return err
				}
				for b := range resolved[ref] {
					set[b] = struct{}{}
				}
				continue
			}
			b, ok := r.Block(e)
			if !ok {
				return fmt.Errorf("tag #%s: unknown block %s", id, e)
			}
			set[b] = struct{}{}
		}
		resolved[id] = set
		state[id] = done
		return nil
	}

	ids := make([]string, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := visit(id, nil); err != nil {
			return err
		}
	}

	for id, set := range resolved {
		t := &Tag{ID: id, set: set}
		for b := range set {
			t.members = append(t.members, b)
		}
		sort.Slice(t.members, func(i, j int) bool { return t.members[i].ID < t.members[j].ID })
		r.tags[id] = t
	}
	return nil
}

func (r *Registry) Block(id string) (*Block, bool) {
	b, ok := r.blocks[NormalizeID(id)]
	return b, ok
}

// Tag looks up a tag by id, with or without the leading '#'.
func (r *Registry) Tag(id string) (*Tag, bool) {
	t, ok := r.tags[NormalizeID(strings.TrimPrefix(id, "#"))]
	return t, ok
}

// BlockIDs returns every registered block id, sorted.
func (r *Registry) BlockIDs() []string {
	ids := make([]string, 0, len(r.blocks))
	for id := range r.blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TagIDs returns every tag id, sorted, without the '#'.
func (r *Registry) TagIDs() []string {
	ids := make([]string, 0, len(r.tags))
	for id := range r.tags {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StateOf builds the default state of a block with props applied.
func (r *Registry) StateOf(id string, props map[string]string) (State, error) {
	b, ok := r.Block(id)
	if !ok {
		return State{}, fmt.Errorf("unknown block %s", NormalizeID(id))
	}
	s := b.DefaultState()
	names := make([]string, 0, len(props))
	for n := range props {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		var err error
		if s, err = s.With(n, props[n]); err != nil {
			return State{}, err
		}
	}
	return s, nil
}

// MustState is StateOf for fixtures and tests.
func (r *Registry) MustState(id string, props map[string]string) State {
	s, err := r.StateOf(id, props)
	if err != nil {
		panic(err)
	}
	return s
}
