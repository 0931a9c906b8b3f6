// Package blockarg parses the block-or-tag argument syntax used in
// structure legends and world snapshots and resolves it against a block
// registry.
package blockarg

import (
	"strings"

	"github.com/pkg/errors"

	"structcraft.ai/internal/sim/blocks"
)

// Prop is one key=value pair, in source order.
type Prop struct {
	Key   string
	Value string
}

// Spec is a parsed, unresolved argument.
type Spec struct {
	Tag   bool
	ID    string // namespaced
	Props []Prop
}

func (s *Spec) String() string {
	var sb strings.Builder
	if s.Tag {
		sb.WriteByte('#')
	}
	sb.WriteString(s.ID)
	if len(s.Props) > 0 {
		sb.WriteByte('[')
		for i, p := range s.Props {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(p.Key)
			sb.WriteByte('=')
			sb.WriteString(p.Value)
		}
		sb.WriteByte(']')
	}
	return sb.String()
}

// Parse reads "[#]ns:id[k=v,...]", optionally wrapped in one pair of
// parentheses. A missing namespace defaults to minecraft.
func Parse(s string) (*Spec, error) {
	arg, err := argParser.ParseString("", s)
	if err != nil {
		return nil, errors.Wrapf(err, "block spec %q", s)
	}
	if arg.Open != arg.Close {
		return nil, errors.Errorf("block spec %q: unbalanced parentheses", s)
	}
	id := arg.ID.First
	if arg.ID.Second != "" {
		id = arg.ID.First + ":" + arg.ID.Second
	}
	out := &Spec{Tag: arg.Tag, ID: blocks.NormalizeID(id)}
	for _, p := range arg.Props {
		out.Props = append(out.Props, Prop{Key: p.Key, Value: p.Value})
	}
	return out, nil
}

// Result is a resolved argument: either a block state with the property
// names that were stated explicitly, or a tag with its raw property hints.
type Result struct {
	State       blocks.State
	Constrained []string

	Tag      *blocks.Tag
	TagProps []Prop
}

func (r Result) IsTag() bool { return r.Tag != nil }

// Resolve checks spec against reg. Blocks must exist and every property
// must exist with an allowed value; tags must exist and keep their property
// hints verbatim. A property named twice is an error either way.
func Resolve(reg *blocks.Registry, spec *Spec) (Result, error) {
	seen := make(map[string]bool, len(spec.Props))
	for _, p := range spec.Props {
		if seen[p.Key] {
			return Result{}, errors.Errorf("%s: property %q given twice", spec, p.Key)
		}
		seen[p.Key] = true
	}

	if spec.Tag {
		tag, ok := reg.Tag(spec.ID)
		if !ok {
			return Result{}, errors.Errorf("unknown tag #%s", spec.ID)
		}
		return Result{Tag: tag, TagProps: append([]Prop(nil), spec.Props...)}, nil
	}

	b, ok := reg.Block(spec.ID)
	if !ok {
		return Result{}, errors.Errorf("unknown block %s", spec.ID)
	}
	st := b.DefaultState()
	var constrained []string
	for _, p := range spec.Props {
		next, err := st.With(p.Key, p.Value)
		if err != nil {
			return Result{}, errors.WithStack(err)
		}
		st = next
		constrained = append(constrained, p.Key)
	}
	return Result{State: st, Constrained: constrained}, nil
}

// ParseState parses and resolves s, which must name a block.
func ParseState(reg *blocks.Registry, s string) (blocks.State, error) {
	spec, err := Parse(s)
	if err != nil {
		return blocks.State{}, err
	}
	if spec.Tag {
		return blocks.State{}, errors.Errorf("%q: expected a block, got a tag", s)
	}
	res, err := Resolve(reg, spec)
	if err != nil {
		return blocks.State{}, err
	}
	return res.State, nil
}
