package overlay

import (
	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/rotation"
	"structcraft.ai/internal/sim/structure"
)

// Cell is a template cell that is not yet an exact match.
type Cell struct {
	Pos      model.Vec3i `json:"pos"`
	Result   string      `json:"result"`
	Expected string      `json:"expected"`
	Actual   string      `json:"actual"`
}

// Progress is one overlay's state after an evaluation.
type Progress struct {
	Overlay   string            `json:"overlay"`
	Structure string            `json:"structure"`
	Origin    model.Vec3i       `json:"origin"`
	Rotation  rotation.Rotation `json:"rotation"`

	// Valid and Total count non-air cells.
	Valid    int  `json:"valid"`
	Total    int  `json:"total"`
	Complete bool `json:"complete"`
	// HasInvalid is set when a non-air block sits where nothing the
	// template allows could be.
	HasInvalid bool `json:"has_invalid"`
	// Mismatches is limited to the visible layer, if any.
	Mismatches []Cell `json:"mismatches,omitempty"`
	// Retired overlays were complete for the decay period and are gone.
	Retired bool `json:"retired,omitempty"`
}

// Evaluate scores every active overlay against world at tick. Overlays
// whose structure is no longer known are dropped; completed overlays stop
// being checked and are retired once DecayTicks have passed.
func (m *Manager) Evaluate(world structure.World, tick int64) []Progress {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.entriesLocked()
	out := make([]Progress, 0, len(list))
	changed := false
	for _, o := range list {
		cur := m.active[o.Origin]
		tpl, ok := m.lookup.Get(o.Structure)
		if !ok {
			m.logf("drop overlay %s: structure %s is gone", o.ID, o.Structure)
			delete(m.active, o.Origin)
			changed = true
			continue
		}

		p := Progress{
			Overlay:   o.ID,
			Structure: o.Structure,
			Origin:    o.Origin,
			Rotation:  o.Rotation,
			Total:     tpl.Count(structure.CategoryNonAir),
		}
		if cur.CompletedAt >= 0 {
			p.Valid = p.Total
			p.Complete = true
			if tick-cur.CompletedAt >= m.opts.DecayTicks {
				p.Retired = true
				delete(m.active, o.Origin)
				changed = true
			}
			out = append(out, p)
			continue
		}

		// Wildcards always match and count toward NON_AIR.
		p.Valid = tpl.Count(structure.CategoryNull)
		exact := 0
		for c := range tpl.Matches(world, o.Origin, o.Rotation, structure.CategoryNonNull) {
			if c.Result == structure.StateMatch {
				exact++
				if c.Predicate.In(structure.CategoryNonAir) {
					p.Valid++
				}
				continue
			}
			if c.Result == structure.NoMatch && !c.State.IsAir() {
				p.HasInvalid = true
			}
			if o.Layer != NoLayer && c.Local.Y != o.Layer {
				continue
			}
			p.Mismatches = append(p.Mismatches, Cell{
				Pos:      c.Pos,
				Result:   c.Result.String(),
				Expected: c.Predicate.String(),
				Actual:   world.BlockState(c.Pos).String(),
			})
		}
		p.Complete = exact == tpl.Count(structure.CategoryNonNull)
		if p.Complete {
			cur.CompletedAt = tick
			changed = true
			m.logf("overlay %s: %s complete at tick %d", o.ID, o.Structure, tick)
		}
		out = append(out, p)
	}
	if changed {
		m.persist()
	}
	return out
}
