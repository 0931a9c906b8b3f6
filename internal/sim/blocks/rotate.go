package blocks

import (
	"strconv"

	"structcraft.ai/internal/sim/rotation"
)

var horizontal = [4]string{"north", "east", "south", "west"}

func horizontalIndex(v string) int {
	for i, d := range horizontal {
		if d == v {
			return i
		}
	}
	return -1
}

// Rotate returns the state as it looks after the block has been turned
// around the Y axis by r. Properties that are not orientation-bearing are
// kept; a rotated value the block does not allow leaves the property as is.
func (s State) Rotate(r rotation.Rotation) State {
	turns := int(r & 3)
	if turns == 0 || s.block == nil || len(s.block.Properties) == 0 {
		return s
	}
	b := s.block
	vals := []byte(s.vals)
	set := func(name, value string) {
		i, ok := b.propIndex[name]
		if !ok {
			return
		}
		if v := b.Properties[i].Index(value); v >= 0 {
			vals[i] = byte(v)
		}
	}

	for _, name := range []string{"facing", "horizontal_facing"} {
		if cur, ok := s.Get(name); ok {
			if h := horizontalIndex(cur); h >= 0 {
				set(name, horizontal[(h+turns)%4])
			}
		}
	}
	if cur, ok := s.Get("axis"); ok && turns%2 == 1 {
		switch cur {
		case "x":
			set("axis", "z")
		case "z":
			set("axis", "x")
		}
	}
	if cur, ok := s.Get("rotation"); ok {
		if n, err := strconv.Atoi(cur); err == nil {
			set("rotation", strconv.Itoa((n+4*turns)%16))
		}
	}

	// Side connections (fences, walls, panes): the value that was on side d
	// moves to side d+turns.
	var sides [4]string
	var present [4]bool
	for i, d := range horizontal {
		sides[i], present[i] = s.Get(d)
	}
	for i, d := range horizontal {
		from := (i - turns + 4) % 4
		if present[i] && present[from] {
			set(d, sides[from])
		}
	}

	return State{block: b, vals: string(vals)}
}
