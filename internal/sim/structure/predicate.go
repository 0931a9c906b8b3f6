package structure

import (
	"strings"

	"structcraft.ai/internal/sim/blocks"
	"structcraft.ai/internal/sim/blocks/blockarg"
)

type Kind uint8

const (
	KindSingle Kind = iota
	KindTag
	KindAlternation
	KindWildcard
	KindMustBeEmpty
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindTag:
		return "tag"
	case KindAlternation:
		return "alternation"
	case KindWildcard:
		return "wildcard"
	case KindMustBeEmpty:
		return "must_be_empty"
	default:
		return "unknown"
	}
}

// Result is the outcome of testing one state. Results are ordered:
// NoMatch < BlockMatch < StateMatch.
type Result uint8

const (
	NoMatch Result = iota
	// BlockMatch: right block, wrong properties.
	BlockMatch
	StateMatch
)

func (r Result) String() string {
	switch r {
	case BlockMatch:
		return "BLOCK_MATCH"
	case StateMatch:
		return "STATE_MATCH"
	default:
		return "NO_MATCH"
	}
}

// Category groups predicates for completion accounting. A predicate belongs
// to one of AIR/NON_AIR and one of NULL/NON_NULL.
type Category uint8

const (
	CategoryAir Category = iota
	CategoryNonAir
	CategoryNull
	CategoryNonNull
)

var Categories = [...]Category{CategoryAir, CategoryNonAir, CategoryNull, CategoryNonNull}

func (c Category) String() string {
	switch c {
	case CategoryAir:
		return "AIR"
	case CategoryNonAir:
		return "NON_AIR"
	case CategoryNull:
		return "NULL"
	case CategoryNonNull:
		return "NON_NULL"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory accepts the upper-case names returned by String.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if strings.EqualFold(s, c.String()) {
			return c, true
		}
	}
	return 0, false
}

// Predicate is one cell's expectation. It is immutable once built.
type Predicate struct {
	kind Kind

	// KindSingle
	state       blocks.State
	constrained []string

	// KindTag
	tag      *blocks.Tag
	tagProps []blockarg.Prop

	// KindAlternation
	children []*Predicate

	previews []blocks.State
}

var (
	wildcard    = &Predicate{kind: KindWildcard, previews: []blocks.State{blocks.AirState()}}
	mustBeEmpty = &Predicate{kind: KindMustBeEmpty, previews: []blocks.State{blocks.AirState()}}
)

// Wildcard matches every state.
func Wildcard() *Predicate { return wildcard }

// MustBeEmpty matches air only.
func MustBeEmpty() *Predicate { return mustBeEmpty }

// NewSingle expects state's block, and the values of the named properties.
// Properties not named are ignored.
func NewSingle(state blocks.State, constrained []string) *Predicate {
	return &Predicate{
		kind:        KindSingle,
		state:       state,
		constrained: append([]string(nil), constrained...),
		previews:    []blocks.State{state},
	}
}

// NewTag expects any member of tag. Property hints are compared as strings;
// a hint the block does not have only downgrades the result to BlockMatch.
func NewTag(tag *blocks.Tag, props []blockarg.Prop) *Predicate {
	p := &Predicate{kind: KindTag, tag: tag, tagProps: append([]blockarg.Prop(nil), props...)}
	for _, b := range tag.Members() {
		st := b.DefaultState()
		for _, hint := range props {
			if next, err := st.With(hint.Key, hint.Value); err == nil {
				st = next
			}
		}
		p.previews = append(p.previews, st)
	}
	if len(p.previews) == 0 {
		p.previews = []blocks.State{blocks.AirState()}
	}
	return p
}

// NewAlternation matches when any child does. children must not be empty.
func NewAlternation(children ...*Predicate) *Predicate {
	p := &Predicate{kind: KindAlternation, children: append([]*Predicate(nil), children...)}
	for _, c := range children {
		p.previews = append(p.previews, c.previews...)
	}
	if len(p.previews) == 0 {
		p.previews = []blocks.State{blocks.AirState()}
	}
	return p
}

func (p *Predicate) Kind() Kind { return p.kind }

// Children returns the alternatives of an alternation.
func (p *Predicate) Children() []*Predicate { return p.children }

// Test scores s against the predicate.
func (p *Predicate) Test(s blocks.State) Result {
	switch p.kind {
	case KindSingle:
		if !s.Is(p.state.Block()) {
			return NoMatch
		}
		for _, name := range p.constrained {
			want, _ := p.state.Get(name)
			if got, ok := s.Get(name); !ok || got != want {
				return BlockMatch
			}
		}
		return StateMatch
	case KindTag:
		if !p.tag.Contains(s.Block()) {
			return NoMatch
		}
		for _, hint := range p.tagProps {
			if got, ok := s.Get(hint.Key); !ok || got != hint.Value {
				return BlockMatch
			}
		}
		return StateMatch
	case KindAlternation:
		best := NoMatch
		for _, c := range p.children {
			if r := c.Test(s); r > best {
				best = r
				if best == StateMatch {
					break
				}
			}
		}
		return best
	case KindWildcard:
		return StateMatch
	case KindMustBeEmpty:
		if s.IsAir() {
			return StateMatch
		}
		return NoMatch
	default:
		panic("structure: unknown predicate kind " + p.kind.String())
	}
}

// In reports category membership. It depends on the kind only.
func (p *Predicate) In(c Category) bool {
	switch c {
	case CategoryAir:
		return p.kind == KindMustBeEmpty
	case CategoryNonAir:
		return p.kind != KindMustBeEmpty
	case CategoryNull:
		return p.kind == KindWildcard
	case CategoryNonNull:
		return p.kind != KindWildcard
	default:
		return false
	}
}

// Previews returns representative states, never empty. Callers must not
// modify the slice.
func (p *Predicate) Previews() []blocks.State { return p.previews }

// PreviewAt cycles through the previews, e.g. one step per animation tick.
func (p *Predicate) PreviewAt(step int) blocks.State {
	n := len(p.previews)
	i := step % n
	if i < 0 {
		i += n
	}
	return p.previews[i]
}

func (p *Predicate) String() string {
	switch p.kind {
	case KindSingle:
		var sb strings.Builder
		sb.WriteString(p.state.Block().ID)
		if len(p.constrained) > 0 {
			sb.WriteByte('[')
			for i, name := range p.constrained {
				if i > 0 {
					sb.WriteByte(',')
				}
				v, _ := p.state.Get(name)
				sb.WriteString(name + "=" + v)
			}
			sb.WriteByte(']')
		}
		return sb.String()
	case KindTag:
		spec := blockarg.Spec{Tag: true, ID: p.tag.ID, Props: p.tagProps}
		return spec.String()
	case KindAlternation:
		parts := make([]string, len(p.children))
		for i, c := range p.children {
			parts[i] = c.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindWildcard:
		return "*"
	case KindMustBeEmpty:
		return "empty"
	default:
		return "?"
	}
}
