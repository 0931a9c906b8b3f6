package structure

import (
	"structcraft.ai/internal/sim/blocks"
	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/rotation"
)

// View is a World over the template's own previews, rotated by R, with the
// rotated grid's minimum corner at the zero position.
type View struct {
	t *Template
	R rotation.Rotation
	// Step selects which preview of multi-state predicates is shown.
	Step int
}

func (t *Template) View(r rotation.Rotation) *View { return &View{t: t, R: r} }

// Size is the rotated size.
func (v *View) Size() model.Vec3i { return rotation.RotatedSize(v.t.size, v.R) }

func (v *View) BlockState(pos model.Vec3i) blocks.State {
	if !pos.Within(v.Size()) {
		return blocks.AirState()
	}
	local := rotation.InverseTransform(pos, v.t.size, v.R)
	p, ok := v.t.PredicateAt(local)
	if !ok {
		return blocks.AirState()
	}
	return p.PreviewAt(v.Step).Rotate(v.R)
}

// PlacementOffset is where the anchor lands relative to the origin once a
// template of the given size is rotated by r.
func PlacementOffset(anchor, size model.Vec3i, r rotation.Rotation) model.Vec3i {
	return rotation.Transform(anchor, size, r)
}

// Origin returns the origin to match at so that the anchor cell ends up at
// target.
func (t *Template) Origin(target model.Vec3i, r rotation.Rotation) model.Vec3i {
	return target.Sub(PlacementOffset(t.anchor, t.size, r))
}
