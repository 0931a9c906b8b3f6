package structure

import (
	"iter"

	"structcraft.ai/internal/sim/blocks"
	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/rotation"
)

// World is read access to block states. Positions it cannot resolve must
// come back as air.
type World interface {
	BlockState(pos model.Vec3i) blocks.State
}

// WorldFunc adapts a function to World.
type WorldFunc func(pos model.Vec3i) blocks.State

func (f WorldFunc) BlockState(pos model.Vec3i) blocks.State { return f(pos) }

// CellMatch is the outcome for one cell at a placement.
type CellMatch struct {
	Local     model.Vec3i // unrotated grid coordinate
	Pos       model.Vec3i // world position
	Predicate *Predicate
	// State is the sampled state turned back into template orientation.
	State  blocks.State
	Result Result
}

// Matches tests every cell whose predicate is in filter against world, with
// the template rotated by r and its grid origin at origin.
func (t *Template) Matches(world World, origin model.Vec3i, r rotation.Rotation, filter Category) iter.Seq[CellMatch] {
	undo := rotation.Inverse(r)
	return func(yield func(CellMatch) bool) {
		for x := 0; x < t.size.X; x++ {
			for y := 0; y < t.size.Y; y++ {
				for z := 0; z < t.size.Z; z++ {
					p := t.cells[t.index(x, y, z)]
					if !p.In(filter) {
						continue
					}
					local := model.Vec3i{X: x, Y: y, Z: z}
					pos := origin.Add(rotation.Transform(local, t.size, r))
					st := world.BlockState(pos).Rotate(undo)
					if !yield(CellMatch{Local: local, Pos: pos, Predicate: p, State: st, Result: p.Test(st)}) {
						return
					}
				}
			}
		}
	}
}

// CountValidStates counts cells in filter whose result is StateMatch.
func (t *Template) CountValidStates(world World, origin model.Vec3i, r rotation.Rotation, filter Category) int {
	n := 0
	for m := range t.Matches(world, origin, r, filter) {
		if m.Result == StateMatch {
			n++
		}
	}
	return n
}

// Validate reports whether every non-wildcard cell is an exact match.
func (t *Template) Validate(world World, origin model.Vec3i, r rotation.Rotation) bool {
	return t.CountValidStates(world, origin, r, CategoryNonNull) == t.Count(CategoryNonNull)
}

// Score counts exact matches in filter and reports whether the placement
// validates, sampling each cell once.
func (t *Template) Score(world World, origin model.Vec3i, r rotation.Rotation, filter Category) (valid int, complete bool) {
	undo := rotation.Inverse(r)
	exact := 0
	for x := 0; x < t.size.X; x++ {
		for y := 0; y < t.size.Y; y++ {
			for z := 0; z < t.size.Z; z++ {
				p := t.cells[t.index(x, y, z)]
				counted, required := p.In(filter), p.In(CategoryNonNull)
				if !counted && !required {
					continue
				}
				pos := origin.Add(rotation.Transform(model.Vec3i{X: x, Y: y, Z: z}, t.size, r))
				if p.Test(world.BlockState(pos).Rotate(undo)) != StateMatch {
					continue
				}
				if counted {
					valid++
				}
				if required {
					exact++
				}
			}
		}
	}
	return valid, exact == t.Count(CategoryNonNull)
}
