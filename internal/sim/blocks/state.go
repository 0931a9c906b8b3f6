package blocks

import (
	"fmt"
	"strings"
)

// State is an immutable block state: a block plus one value per property.
// The zero State is air. States are comparable with ==.
type State struct {
	block *Block
	// One byte per property, indexing Property.Values.
	vals string
}

// AirState is the state returned for anything a world cannot resolve.
func AirState() State { return Air.DefaultState() }

func (s State) Block() *Block {
	if s.block == nil {
		return Air
	}
	return s.block
}

func (s State) IsAir() bool { return s.Block().Air }

func (s State) Is(b *Block) bool { return s.Block() == b }

// Get returns the value of the named property.
func (s State) Get(name string) (string, bool) {
	b := s.Block()
	i, ok := b.propIndex[name]
	if !ok || i >= len(s.vals) {
		return "", false
	}
	return b.Properties[i].Values[s.vals[i]], true
}

// With returns a copy of s with the named property set to value.
func (s State) With(name, value string) (State, error) {
	b := s.Block()
	i, ok := b.propIndex[name]
	if !ok {
		return s, fmt.Errorf("block %s has no property %q", b.ID, name)
	}
	v := b.Properties[i].Index(value)
	if v < 0 {
		return s, fmt.Errorf("block %s: invalid value %q for property %q", b.ID, value, name)
	}
	vals := []byte(s.vals)
	if len(vals) != len(b.Properties) {
		vals = []byte(b.DefaultState().vals)
	}
	vals[i] = byte(v)
	return State{block: b, vals: string(vals)}, nil
}

// Properties returns a fresh name->value map.
func (s State) Properties() map[string]string {
	b := s.Block()
	out := make(map[string]string, len(b.Properties))
	for i := range b.Properties {
		if i < len(s.vals) {
			out[b.Properties[i].Name] = b.Properties[i].Values[s.vals[i]]
		}
	}
	return out
}

// String renders the canonical form "ns:id[k=v,...]" with keys sorted.
func (s State) String() string {
	b := s.Block()
	if len(b.Properties) == 0 {
		return b.ID
	}
	var sb strings.Builder
	sb.WriteString(b.ID)
	sb.WriteByte('[')
	for i, p := range b.Properties {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.Name)
		sb.WriteByte('=')
		if i < len(s.vals) {
			sb.WriteString(p.Values[s.vals[i]])
		}
	}
	sb.WriteByte(']')
	return sb.String()
}
