package structure

import (
	"fmt"
	"unicode/utf8"

	"structcraft.ai/internal/sim/blocks"
	"structcraft.ai/internal/sim/blocks/blockarg"
	"structcraft.ai/internal/sim/model"
)

const (
	keyEmpty    = '_'
	keyWildcard = ' '
	keyAnchor   = '#'

	anchorLegendKey = "anchor"
)

// Parse compiles def into a template. Any problem is a *FormatError and no
// template is returned.
func Parse(id string, def *Definition, reg *blocks.Registry) (*Template, error) {
	if def == nil {
		return nil, formatErr(id, ErrBadDocument, "missing definition")
	}
	legend, err := compileLegend(id, def.Keys, reg)
	if err != nil {
		return nil, err
	}
	size, err := checkShape(id, def.Layers)
	if err != nil {
		return nil, err
	}

	t := &Template{
		id:     id,
		size:   size,
		anchor: model.Vec3i{X: size.X / 2, Y: 0, Z: size.Z / 2},
		cells:  make([]*Predicate, size.X*size.Y*size.Z),
		keys:   make([]rune, size.X*size.Y*size.Z),
	}
	for y, layer := range def.Layers {
		for z, row := range layer {
			x := 0
			for _, ch := range row {
				var p *Predicate
				switch ch {
				case keyEmpty:
					p = MustBeEmpty()
				case keyWildcard:
					p = Wildcard()
				case keyAnchor:
					if t.hasAnchor {
						return nil, formatErr(id, ErrDuplicateAnchor, "second '#' at layer %d row %d column %d (first at %s)", y, z, x, t.anchor)
					}
					var ok bool
					if p, ok = legend[keyAnchor]; !ok {
						return nil, formatErr(id, ErrUnknownKey, "'#' at layer %d row %d column %d but the legend has no anchor entry", y, z, x)
					}
					t.hasAnchor = true
					t.anchor = model.Vec3i{X: x, Y: y, Z: z}
				default:
					var ok bool
					if p, ok = legend[ch]; !ok {
						return nil, formatErr(id, ErrUnknownKey, "%q at layer %d row %d column %d", ch, y, z, x)
					}
				}
				i := t.index(x, y, z)
				t.cells[i] = p
				t.keys[i] = ch
				x++
			}
		}
	}

	for _, p := range t.cells {
		for _, c := range Categories {
			if p.In(c) {
				t.counts[c]++
			}
		}
	}
	return t, nil
}

func compileLegend(id string, entries []LegendEntry, reg *blocks.Registry) (map[rune]*Predicate, error) {
	legend := make(map[rune]*Predicate, len(entries))
	for _, e := range entries {
		var ch rune
		if e.Key == anchorLegendKey {
			ch = keyAnchor
		} else {
			if utf8.RuneCountInString(e.Key) != 1 {
				return nil, formatErr(id, ErrBadDocument, "legend key %q must be a single character", e.Key)
			}
			ch, _ = utf8.DecodeRuneInString(e.Key)
			switch ch {
			case keyEmpty, keyWildcard, keyAnchor:
				return nil, formatErr(id, ErrReservedKey, "legend key %q is reserved", e.Key)
			}
		}
		if _, dup := legend[ch]; dup {
			return nil, formatErr(id, ErrDuplicateKey, "legend key %q declared twice", e.Key)
		}
		p, err := compileEntry(id, e, reg)
		if err != nil {
			return nil, err
		}
		legend[ch] = p
	}
	return legend, nil
}

func compileEntry(id string, e LegendEntry, reg *blocks.Registry) (*Predicate, error) {
	if !e.List {
		if len(e.Specs) != 1 {
			return nil, formatErr(id, ErrBadDocument, "key %q: expected one block spec", e.Key)
		}
		return compileSpec(id, e.Key, e.Specs[0], reg)
	}
	if len(e.Specs) == 0 {
		return nil, formatErr(id, ErrBadSpec, "key %q: empty alternation", e.Key)
	}
	children := make([]*Predicate, 0, len(e.Specs))
	for _, s := range e.Specs {
		p, err := compileSpec(id, e.Key, s, reg)
		if err != nil {
			return nil, err
		}
		children = append(children, p)
	}
	return NewAlternation(children...), nil
}

func compileSpec(id, key, s string, reg *blocks.Registry) (*Predicate, error) {
	spec, err := blockarg.Parse(s)
	if err == nil {
		var res blockarg.Result
		if res, err = blockarg.Resolve(reg, spec); err == nil {
			if res.IsTag() {
				return NewTag(res.Tag, res.TagProps), nil
			}
			return NewSingle(res.State, res.Constrained), nil
		}
	}
	return nil, &FormatError{Structure: id, Kind: ErrBadSpec, Msg: fmt.Sprintf("key %q spec %q", key, s), Err: err}
}

func checkShape(id string, layers [][]string) (model.Vec3i, error) {
	if len(layers) == 0 {
		return model.Vec3i{}, formatErr(id, ErrShape, "no layers")
	}
	if len(layers[0]) == 0 {
		return model.Vec3i{}, formatErr(id, ErrShape, "layer 0 has no rows")
	}
	size := model.Vec3i{
		X: utf8.RuneCountInString(layers[0][0]),
		Y: len(layers),
		Z: len(layers[0]),
	}
	if size.X == 0 {
		return model.Vec3i{}, formatErr(id, ErrShape, "layer 0 row 0 is empty")
	}
	for y, layer := range layers {
		if len(layer) != size.Z {
			return model.Vec3i{}, formatErr(id, ErrShape, "axis z: layer %d has %d rows, want %d", y, len(layer), size.Z)
		}
		for z, row := range layer {
			if n := utf8.RuneCountInString(row); n != size.X {
				return model.Vec3i{}, formatErr(id, ErrShape, "axis x: layer %d row %d has %d columns, want %d", y, z, n, size.X)
			}
		}
	}
	return size, nil
}
