package structure

import (
	"iter"

	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/rotation"
)

// Template is a parsed structure: a dense grid of predicates with an
// anchor and cached per-category counts. It is immutable and safe for
// concurrent use.
type Template struct {
	id        string
	size      model.Vec3i
	anchor    model.Vec3i
	hasAnchor bool

	// Indexed [x][y][z], see index.
	cells []*Predicate
	keys  []rune

	counts [len(Categories)]int
}

func (t *Template) index(x, y, z int) int { return (x*t.size.Y+y)*t.size.Z + z }

func (t *Template) ID() string { return t.id }

// Size is the unrotated size.
func (t *Template) Size() model.Vec3i { return t.size }

// Anchor is the grid-local placement reference. It is the '#' cell when
// there is one, otherwise (xSize/2, 0, zSize/2).
func (t *Template) Anchor() model.Vec3i { return t.anchor }

// HasAnchorCell reports whether the grid marked the anchor with '#'.
func (t *Template) HasAnchorCell() bool { return t.hasAnchor }

func (t *Template) Volume() int { return len(t.cells) }

// Count returns how many cells hold a predicate in category c.
func (t *Template) Count(c Category) int {
	if int(c) >= len(t.counts) {
		return 0
	}
	return t.counts[c]
}

// PredicateAt returns the predicate of an unrotated grid cell.
func (t *Template) PredicateAt(local model.Vec3i) (*Predicate, bool) {
	if !local.Within(t.size) {
		return nil, false
	}
	return t.cells[t.index(local.X, local.Y, local.Z)], true
}

// KeyAt returns the legend character of an unrotated grid cell.
func (t *Template) KeyAt(local model.Vec3i) (rune, bool) {
	if !local.Within(t.size) {
		return 0, false
	}
	return t.keys[t.index(local.X, local.Y, local.Z)], true
}

// Cells yields every cell once, x outermost then y then z over the
// unrotated grid, with the coordinate rotated by r. The sequence can be
// ranged over any number of times.
func (t *Template) Cells(r rotation.Rotation) iter.Seq2[model.Vec3i, *Predicate] {
	return func(yield func(model.Vec3i, *Predicate) bool) {
		for x := 0; x < t.size.X; x++ {
			for y := 0; y < t.size.Y; y++ {
				for z := 0; z < t.size.Z; z++ {
					pos := rotation.Transform(model.Vec3i{X: x, Y: y, Z: z}, t.size, r)
					if !yield(pos, t.cells[t.index(x, y, z)]) {
						return
					}
				}
			}
		}
	}
}

// ForEachPredicate calls fn for every cell in Cells order.
func (t *Template) ForEachPredicate(r rotation.Rotation, fn func(pos model.Vec3i, p *Predicate)) {
	for pos, p := range t.Cells(r) {
		fn(pos, p)
	}
}

// Layers renders the legend characters as seen after rotating by r:
// layers[y][z] is a row of X characters.
func (t *Template) Layers(r rotation.Rotation) [][]string {
	rs := rotation.RotatedSize(t.size, r)
	grid := make([][][]rune, rs.Y)
	for y := range grid {
		grid[y] = make([][]rune, rs.Z)
		for z := range grid[y] {
			grid[y][z] = make([]rune, rs.X)
		}
	}
	for x := 0; x < t.size.X; x++ {
		for y := 0; y < t.size.Y; y++ {
			for z := 0; z < t.size.Z; z++ {
				pos := rotation.Transform(model.Vec3i{X: x, Y: y, Z: z}, t.size, r)
				grid[pos.Y][pos.Z][pos.X] = t.keys[t.index(x, y, z)]
			}
		}
	}
	out := make([][]string, rs.Y)
	for y := range grid {
		out[y] = make([]string, rs.Z)
		for z := range grid[y] {
			out[y][z] = string(grid[y][z])
		}
	}
	return out
}
