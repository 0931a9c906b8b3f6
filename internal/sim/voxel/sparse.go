// Package voxel holds an in-memory block world used by the service and
// the CLI as the thing templates are validated against.
package voxel

import (
	"sort"
	"sync"

	"structcraft.ai/internal/sim/blocks"
	"structcraft.ai/internal/sim/model"
)

// Entry is one non-air position.
type Entry struct {
	Pos   model.Vec3i
	State blocks.State
}

// Sparse stores only non-air states; every other position reads as air.
// It is safe for concurrent use.
type Sparse struct {
	mu    sync.RWMutex
	cells map[model.Vec3i]blocks.State
}

func NewSparse() *Sparse {
	return &Sparse{cells: map[model.Vec3i]blocks.State{}}
}

func (w *Sparse) BlockState(pos model.Vec3i) blocks.State {
	w.mu.RLock()
	s := w.cells[pos]
	w.mu.RUnlock()
	return s
}

// Set stores s at pos. Setting air clears the position.
func (w *Sparse) Set(pos model.Vec3i, s blocks.State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s.IsAir() {
		delete(w.cells, pos)
		return
	}
	w.cells[pos] = s
}

// Fill sets every position in the inclusive box [a, b].
func (w *Sparse) Fill(a, b model.Vec3i, s blocks.State) int {
	lo := model.Vec3i{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)}
	hi := model.Vec3i{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)}
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				p := model.Vec3i{X: x, Y: y, Z: z}
				if s.IsAir() {
					delete(w.cells, p)
				} else {
					w.cells[p] = s
				}
				n++
			}
		}
	}
	return n
}

// Len is the number of non-air positions.
func (w *Sparse) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.cells)
}

// Bounds returns the inclusive min and max corners of the non-air
// positions. ok is false for an empty world.
func (w *Sparse) Bounds() (lo, hi model.Vec3i, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for p := range w.cells {
		if !ok {
			lo, hi, ok = p, p, true
			continue
		}
		lo = model.Vec3i{X: min(lo.X, p.X), Y: min(lo.Y, p.Y), Z: min(lo.Z, p.Z)}
		hi = model.Vec3i{X: max(hi.X, p.X), Y: max(hi.Y, p.Y), Z: max(hi.Z, p.Z)}
	}
	return lo, hi, ok
}

// Entries returns every non-air position sorted by y, then z, then x.
func (w *Sparse) Entries() []Entry {
	w.mu.RLock()
	out := make([]Entry, 0, len(w.cells))
	for p, s := range w.cells {
		out = append(out, Entry{Pos: p, State: s})
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Pos, out[j].Pos
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.X < b.X
	})
	return out
}

// Reset replaces the whole content.
func (w *Sparse) Reset(entries []Entry) {
	cells := make(map[model.Vec3i]blocks.State, len(entries))
	for _, e := range entries {
		if !e.State.IsAir() {
			cells[e.Pos] = e.State
		}
	}
	w.mu.Lock()
	w.cells = cells
	w.mu.Unlock()
}
