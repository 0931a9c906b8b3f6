package voxel

import (
	"testing"

	"structcraft.ai/internal/sim/blocks"
	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/rotation"
	"structcraft.ai/internal/sim/structure"
)

var _ structure.World = (*Sparse)(nil)

func TestSparse_SetFillBounds(t *testing.T) {
	reg, err := blocks.Load("../../../configs")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	stone := reg.MustState("stone", nil)
	w := NewSparse()
	if _, _, ok := w.Bounds(); ok {
		t.Fatalf("empty world has no bounds")
	}
	if got := w.BlockState(model.Vec3i{X: 1}); !got.IsAir() {
		t.Fatalf("unset should be air, got %s", got)
	}

	if n := w.Fill(model.Vec3i{X: 2, Y: 1, Z: 2}, model.Vec3i{X: 0, Y: 0, Z: 0}, stone); n != 18 {
		t.Fatalf("filled %d", n)
	}
	if w.Len() != 18 {
		t.Fatalf("len=%d", w.Len())
	}
	lo, hi, ok := w.Bounds()
	if !ok || lo != (model.Vec3i{}) || hi != (model.Vec3i{X: 2, Y: 1, Z: 2}) {
		t.Fatalf("bounds=%v..%v", lo, hi)
	}

	w.Set(model.Vec3i{}, reg.MustState("cave_air", nil))
	if w.Len() != 17 {
		t.Fatalf("air should clear, len=%d", w.Len())
	}
	es := w.Entries()
	if es[0].Pos != (model.Vec3i{X: 1}) || es[len(es)-1].Pos != (model.Vec3i{X: 2, Y: 1, Z: 2}) {
		t.Fatalf("entries not sorted: first=%v last=%v", es[0].Pos, es[len(es)-1].Pos)
	}

	other := NewSparse()
	other.Reset(es)
	if other.Len() != w.Len() || other.BlockState(model.Vec3i{X: 2, Y: 1, Z: 2}) != stone {
		t.Fatalf("reset mismatch")
	}
}

func TestSparse_ValidatesTemplate(t *testing.T) {
	reg, err := blocks.Load("../../../configs")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def, err := structure.DecodeJSON([]byte(`{"keys":{"s":"stone","f":"furnace[facing=north]"},"layers":[["sf"]]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tpl, err := structure.Parse("test:pair", def, reg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	w := NewSparse()
	origin := model.Vec3i{X: -4, Y: 10, Z: 8}
	// CW90 puts x along +z; the furnace is turned to face east.
	w.Set(origin, reg.MustState("stone", nil))
	w.Set(origin.Add(model.Vec3i{Z: 1}), reg.MustState("furnace", map[string]string{"facing": "east"}))
	if !tpl.Validate(w, origin, rotation.CW90) {
		t.Fatalf("expected valid under CW90")
	}
	if tpl.Validate(w, origin, rotation.None) {
		t.Fatalf("should not validate unrotated")
	}
}
