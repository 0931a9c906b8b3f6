// Package blocks holds the block and tag registry the structure engine
// resolves identifiers against, plus the immutable block state value it
// samples from worlds.
package blocks

import (
	"sort"
	"strings"
)

const DefaultNamespace = "minecraft"

// Property is a named block property with its allowed values. The first
// value is the default.
type Property struct {
	Name   string
	Values []string
}

// Index returns the position of v in the allowed values, or -1.
func (p *Property) Index(v string) int {
	for i, s := range p.Values {
		if s == v {
			return i
		}
	}
	return -1
}

type Block struct {
	ID  string
	Air bool

	// Sorted by name.
	Properties []Property
	propIndex  map[string]int
}

// Air is the absence-of-block sentinel. Every registry resolves
// "minecraft:air" to this block.
var Air = newBlock("minecraft:air", true, nil)

func newBlock(id string, air bool, props map[string][]string) *Block {
	b := &Block{ID: id, Air: air, propIndex: map[string]int{}}
	names := make([]string, 0, len(props))
	for n := range props {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		b.propIndex[n] = len(b.Properties)
		b.Properties = append(b.Properties, Property{Name: n, Values: append([]string(nil), props[n]...)})
	}
	return b
}

// Property looks up a property by name.
func (b *Block) Property(name string) (*Property, bool) {
	i, ok := b.propIndex[name]
	if !ok {
		return nil, false
	}
	return &b.Properties[i], true
}

// DefaultState returns the state with every property at its first value.
func (b *Block) DefaultState() State {
	if b == Air {
		return State{}
	}
	return State{block: b, vals: strings.Repeat("\x00", len(b.Properties))}
}

// NormalizeID adds the default namespace to a bare identifier.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, ":") {
		return id
	}
	return DefaultNamespace + ":" + id
}
