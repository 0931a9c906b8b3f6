package rotation

import (
	"encoding/json"
	"testing"

	"structcraft.ai/internal/sim/model"
)

func TestNormalize_AcceptsDegreesAndQuarterTurns(t *testing.T) {
	cases := []struct {
		in   int
		want Rotation
	}{
		{in: 0, want: None},
		{in: 1, want: CW90},
		{in: 2, want: CW180},
		{in: 3, want: CCW90},
		{in: 4, want: None},
		{in: -1, want: CCW90},
		{in: 90, want: CW90},
		{in: 180, want: CW180},
		{in: 270, want: CCW90},
		{in: 360, want: None},
		{in: -90, want: CCW90},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Fatalf("Normalize(%d)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestInverse(t *testing.T) {
	want := map[Rotation]Rotation{None: None, CW90: CCW90, CCW90: CW90, CW180: CW180}
	for _, r := range All {
		if got := Inverse(r); got != want[r] {
			t.Fatalf("Inverse(%v)=%v want %v", r, got, want[r])
		}
		if got := Inverse(Inverse(r)); got != r {
			t.Fatalf("Inverse(Inverse(%v))=%v", r, got)
		}
		if got := Compose(r, Inverse(r)); got != None {
			t.Fatalf("Compose(%v, Inverse)=%v want NONE", r, got)
		}
	}
}

func TestTransform_Formulas(t *testing.T) {
	size := model.Vec3i{X: 3, Y: 2, Z: 5}
	p := model.Vec3i{X: 1, Y: 1, Z: 4}
	cases := []struct {
		r    Rotation
		want model.Vec3i
	}{
		{None, model.Vec3i{X: 1, Y: 1, Z: 4}},
		{CW90, model.Vec3i{X: 0, Y: 1, Z: 1}},
		{CW180, model.Vec3i{X: 1, Y: 1, Z: 0}},
		{CCW90, model.Vec3i{X: 4, Y: 1, Z: 1}},
	}
	for _, c := range cases {
		if got := Transform(p, size, c.r); got != c.want {
			t.Fatalf("Transform(%v, %v)=%v want %v", p, c.r, got, c.want)
		}
	}
}

func TestTransform_RoundTripAndBounds(t *testing.T) {
	size := model.Vec3i{X: 4, Y: 3, Z: 2}
	for _, r := range All {
		rs := RotatedSize(size, r)
		seen := map[model.Vec3i]bool{}
		for x := 0; x < size.X; x++ {
			for y := 0; y < size.Y; y++ {
				for z := 0; z < size.Z; z++ {
					p := model.Vec3i{X: x, Y: y, Z: z}
					off := Transform(p, size, r)
					if !off.Within(rs) {
						t.Fatalf("%v: %v -> %v outside %v", r, p, off, rs)
					}
					if seen[off] {
						t.Fatalf("%v: duplicate offset %v", r, off)
					}
					seen[off] = true
					if back := InverseTransform(off, size, r); back != p {
						t.Fatalf("%v: InverseTransform(%v)=%v want %v", r, off, back, p)
					}
				}
			}
		}
	}
}

func TestParseAndText(t *testing.T) {
	cases := map[string]Rotation{
		"none": None, "CW_90": CW90, "clockwise_180": CW180, "ccw_90": CCW90,
		"COUNTERCLOCKWISE_90": CCW90, "90": CW90, "-90": CCW90, "3": CCW90,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("Parse(%q)=%v want %v", in, got, want)
		}
	}
	if _, err := Parse("sideways"); err == nil {
		t.Fatalf("expected error for unknown rotation")
	}
	if _, err := Parse("45"); err == nil {
		t.Fatalf("expected error for 45 degrees")
	}

	var v struct {
		R Rotation `json:"r"`
	}
	if err := json.Unmarshal([]byte(`{"r":"CLOCKWISE_90"}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.R != CW90 {
		t.Fatalf("got %v", v.R)
	}
	b, _ := json.Marshal(v)
	if string(b) != `{"r":"CLOCKWISE_90"}` {
		t.Fatalf("marshal: %s", b)
	}
}
