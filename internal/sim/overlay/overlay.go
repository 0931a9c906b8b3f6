// Package overlay tracks, per session, which structures a player has
// pinned into the world and how far along each build is.
package overlay

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/rotation"
	"structcraft.ai/internal/sim/structure"
)

var (
	ErrUnknownStructure = errors.New("unknown structure")
	ErrNoPending        = errors.New("no pending overlay")
	ErrTooMany          = errors.New("too many overlays")
	ErrNotFound         = errors.New("overlay not found")
)

// NoLayer means every layer is shown.
const NoLayer = -1

// Lookup resolves structure ids. *registry.Registry implements it.
type Lookup interface {
	Get(id string) (*structure.Template, bool)
}

// Store persists a session's active overlays.
type Store interface {
	SaveOverlays(session string, overlays []Overlay) error
	LoadOverlays(session string) ([]Overlay, error)
}

// Overlay is one structure pinned at an origin.
type Overlay struct {
	ID        string            `json:"id"`
	Structure string            `json:"structure"`
	Origin    model.Vec3i       `json:"origin"`
	Rotation  rotation.Rotation `json:"rotation"`
	Layer     int               `json:"layer"`

	// Tick at which the build was first seen complete; -1 while not.
	CompletedAt int64 `json:"completed_at"`
}

// Pending is the overlay that follows the cursor before it is placed.
type Pending struct {
	Structure string            `json:"structure"`
	Rotation  rotation.Rotation `json:"rotation"`
	Layer     int               `json:"layer"`
}

type Options struct {
	// DecayTicks is how long a completed overlay stays before it is
	// retired.
	DecayTicks  int64
	MaxOverlays int
	Store       Store
	Logger      *log.Logger
}

// Manager holds one session's overlays. It is safe for concurrent use.
type Manager struct {
	session string
	lookup  Lookup
	opts    Options

	mu      sync.Mutex
	pending *Pending
	active  map[model.Vec3i]*Overlay
	// Per-structure visible layer; applies to every overlay of that id.
	layers map[string]int
}

func NewManager(session string, lookup Lookup, opts Options) *Manager {
	return &Manager{
		session: session,
		lookup:  lookup,
		opts:    opts,
		active:  map[model.Vec3i]*Overlay{},
		layers:  map[string]int{},
	}
}

func (m *Manager) Session() string { return m.session }

func (m *Manager) logf(format string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Printf("[%s] "+format, append([]any{m.session}, args...)...)
	}
}

// Restore loads persisted overlays, replacing the current ones. Ticks do
// not survive a restart, so restored overlays start out not completed.
func (m *Manager) Restore() error {
	if m.opts.Store == nil {
		return nil
	}
	list, err := m.opts.Store.LoadOverlays(m.session)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = make(map[model.Vec3i]*Overlay, len(list))
	for i := range list {
		o := list[i]
		o.CompletedAt = -1
		m.active[o.Origin] = &o
		if o.Layer != NoLayer {
			m.layers[o.Structure] = o.Layer
		}
	}
	return nil
}

// persist must be called with mu held.
func (m *Manager) persist() {
	if m.opts.Store == nil {
		return
	}
	if err := m.opts.Store.SaveOverlays(m.session, m.entriesLocked()); err != nil {
		m.logf("save overlays: %v", err)
	}
}

func (m *Manager) SetPending(id string) error {
	if _, ok := m.lookup.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStructure, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	layer, ok := m.layers[id]
	if !ok {
		layer = NoLayer
	}
	m.pending = &Pending{Structure: id, Rotation: rotation.None, Layer: layer}
	return nil
}

func (m *Manager) ClearPending() {
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
}

func (m *Manager) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

func (m *Manager) Pending() (Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return Pending{}, false
	}
	return *m.pending, true
}

// RotatePending turns the pending overlay a quarter turn.
func (m *Manager) RotatePending(clockwise bool) (rotation.Rotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return 0, ErrNoPending
	}
	step := rotation.CCW90
	if clockwise {
		step = rotation.CW90
	}
	m.pending.Rotation = rotation.Compose(m.pending.Rotation, step)
	return m.pending.Rotation, nil
}

// PlacePending pins the pending overlay so that the anchor cell lands on
// target.
func (m *Manager) PlacePending(target model.Vec3i) (Overlay, error) {
	m.mu.Lock()
	p := m.pending
	var cur Pending
	if p != nil {
		cur = *p
	}
	m.mu.Unlock()
	if p == nil {
		return Overlay{}, ErrNoPending
	}
	tpl, ok := m.lookup.Get(cur.Structure)
	if !ok {
		m.clearPendingIf(p)
		return Overlay{}, fmt.Errorf("%w: %s", ErrUnknownStructure, cur.Structure)
	}
	o, err := m.Add(cur.Structure, tpl.Origin(target, cur.Rotation), cur.Rotation)
	if err != nil {
		return Overlay{}, err
	}
	m.clearPendingIf(p)
	return o, nil
}

// clearPendingIf drops the pending overlay unless it was replaced since p
// was read.
func (m *Manager) clearPendingIf(p *Pending) {
	m.mu.Lock()
	if m.pending == p {
		m.pending = nil
	}
	m.mu.Unlock()
}

// Add pins a structure at origin, replacing whatever was pinned there.
func (m *Manager) Add(id string, origin model.Vec3i, r rotation.Rotation) (Overlay, error) {
	if _, ok := m.lookup.Get(id); !ok {
		return Overlay{}, fmt.Errorf("%w: %s", ErrUnknownStructure, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, replacing := m.active[origin]; !replacing && m.opts.MaxOverlays > 0 && len(m.active) >= m.opts.MaxOverlays {
		return Overlay{}, fmt.Errorf("%w: limit is %d", ErrTooMany, m.opts.MaxOverlays)
	}
	layer, ok := m.layers[id]
	if !ok {
		layer = NoLayer
	}
	o := &Overlay{
		ID:          uuid.NewString(),
		Structure:   id,
		Origin:      origin,
		Rotation:    r,
		Layer:       layer,
		CompletedAt: -1,
	}
	m.active[origin] = o
	m.persist()
	m.logf("overlay %s: %s at %s rotation %s", o.ID, id, origin, r)
	return *o, nil
}

// Remove drops the overlay pinned at origin.
func (m *Manager) Remove(origin model.Vec3i) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[origin]; !ok {
		return false
	}
	delete(m.active, origin)
	m.persist()
	return true
}

// RemoveAll drops every overlay of a structure, including a pending one.
func (m *Manager) RemoveAll(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil && m.pending.Structure == id {
		m.pending = nil
	}
	n := 0
	for origin, o := range m.active {
		if o.Structure == id {
			delete(m.active, origin)
			n++
		}
	}
	if n > 0 {
		m.persist()
	}
	return n
}

// Clear drops every active overlay. The pending one is kept.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = map[model.Vec3i]*Overlay{}
	m.persist()
}

// IsShowing reports whether id is pending or pinned anywhere.
func (m *Manager) IsShowing(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil && m.pending.Structure == id {
		return true
	}
	for _, o := range m.active {
		if o.Structure == id {
			return true
		}
	}
	return false
}

// RestrictVisibleLayer limits highlighting of id to one layer of the
// template. NoLayer lifts the restriction.
func (m *Manager) RestrictVisibleLayer(id string, layer int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if layer < 0 {
		layer = NoLayer
		delete(m.layers, id)
	} else {
		m.layers[id] = layer
	}
	if m.pending != nil && m.pending.Structure == id {
		m.pending.Layer = layer
	}
	for _, o := range m.active {
		if o.Structure == id {
			o.Layer = layer
		}
	}
	m.persist()
}

// LayerRestriction returns the visible layer for id, or NoLayer.
func (m *Manager) LayerRestriction(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.layers[id]; ok {
		return l
	}
	return NoLayer
}

// Entries returns the active overlays ordered by origin.
func (m *Manager) Entries() []Overlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entriesLocked()
}

func (m *Manager) entriesLocked() []Overlay {
	out := make([]Overlay, 0, len(m.active))
	for _, o := range m.active {
		out = append(out, *o)
	}
	sortOverlays(out)
	return out
}

func sortOverlays(out []Overlay) {
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Origin, out[j].Origin
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
}
