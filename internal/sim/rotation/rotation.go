// Package rotation implements the four Y-axis rotations a structure can be
// placed under and the coordinate transforms between a template's local grid
// and world-relative offsets.
package rotation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"structcraft.ai/internal/sim/model"
)

var ErrBadRotation = errors.New("bad rotation")

// Rotation is a clockwise quarter-turn count around the Y axis.
type Rotation uint8

const (
	None Rotation = iota
	CW90
	CW180
	CCW90
)

// All lists every rotation in quarter-turn order.
var All = [4]Rotation{None, CW90, CW180, CCW90}

var names = [4]string{"NONE", "CLOCKWISE_90", "CLOCKWISE_180", "COUNTERCLOCKWISE_90"}

func (r Rotation) String() string {
	if r > CCW90 {
		return "Rotation(" + strconv.Itoa(int(r)) + ")"
	}
	return names[r]
}

// Inverse returns the rotation that undoes r.
func Inverse(r Rotation) Rotation {
	switch r & 3 {
	case CW90:
		return CCW90
	case CCW90:
		return CW90
	case CW180:
		return CW180
	default:
		return None
	}
}

// Compose applies a then b.
func Compose(a, b Rotation) Rotation {
	return (a + b) & 3
}

// Normalize converts a client-provided rotation value into a Rotation.
//
// It accepts either quarter-turns (0..3) or degrees (multiples of 90).
func Normalize(r int) Rotation {
	if r%90 == 0 && (r > 3 || r < -3) {
		r = r / 90
	}
	r %= 4
	if r < 0 {
		r += 4
	}
	return Rotation(r)
}

// Parse accepts rotation names (NONE, CLOCKWISE_90, CW_90, CCW_90, ...),
// quarter turns and degrees.
func Parse(s string) (Rotation, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	switch v {
	case "", "NONE":
		return None, nil
	case "CLOCKWISE_90", "CW_90", "CW90":
		return CW90, nil
	case "CLOCKWISE_180", "CW_180", "CW180", "180_DEGREES":
		return CW180, nil
	case "COUNTERCLOCKWISE_90", "CCW_90", "CCW90":
		return CCW90, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return None, fmt.Errorf("%w: unknown rotation %q", ErrBadRotation, s)
	}
	if n%90 != 0 && (n > 3 || n < -3) {
		return None, fmt.Errorf("%w: %d is not a multiple of 90", ErrBadRotation, n)
	}
	return Normalize(n), nil
}

func (r Rotation) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Rotation) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Transform maps a grid-local coordinate of a template with the given size
// to its offset from the placement origin under r.
func Transform(p, size model.Vec3i, r Rotation) model.Vec3i {
	switch r & 3 {
	case CW90:
		return model.Vec3i{X: size.Z - p.Z - 1, Y: p.Y, Z: p.X}
	case CW180:
		return model.Vec3i{X: size.X - p.X - 1, Y: p.Y, Z: size.Z - p.Z - 1}
	case CCW90:
		return model.Vec3i{X: p.Z, Y: p.Y, Z: size.X - p.X - 1}
	default:
		return p
	}
}

// InverseTransform maps an offset produced by Transform back to the
// grid-local coordinate.
func InverseTransform(off, size model.Vec3i, r Rotation) model.Vec3i {
	switch r & 3 {
	case CW90:
		return model.Vec3i{X: off.Z, Y: off.Y, Z: size.Z - off.X - 1}
	case CW180:
		return model.Vec3i{X: size.X - off.X - 1, Y: off.Y, Z: size.Z - off.Z - 1}
	case CCW90:
		return model.Vec3i{X: size.X - off.Z - 1, Y: off.Y, Z: off.X}
	default:
		return off
	}
}

// RotatedSize is the bounding size of a template footprint after r.
func RotatedSize(size model.Vec3i, r Rotation) model.Vec3i {
	if r&1 == 1 {
		return model.Vec3i{X: size.Z, Y: size.Y, Z: size.X}
	}
	return size
}
