// Package hub owns the server-side state shared by the HTTP and websocket
// transports: the block and structure registries, the world, and one
// overlay manager per session.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"structcraft.ai/internal/persistence/indexdb"
	plog "structcraft.ai/internal/persistence/log"
	"structcraft.ai/internal/protocol"
	"structcraft.ai/internal/sim/blocks"
	"structcraft.ai/internal/sim/blocks/blockarg"
	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/overlay"
	"structcraft.ai/internal/sim/rotation"
	"structcraft.ai/internal/sim/structure"
	"structcraft.ai/internal/sim/structure/registry"
	"structcraft.ai/internal/sim/voxel"
)

var (
	ErrUnknownStructure = overlay.ErrUnknownStructure
	ErrBadSession       = errors.New("bad session id")
	ErrBadFilter        = errors.New("bad filter")
	ErrBadState         = errors.New("bad block state")
)

var sessionRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)

// ValidationSink receives one entry per validation request.
// *plog.ValidationLogger and *indexdb.SQLiteIndex implement it.
type ValidationSink interface {
	WriteValidation(plog.ValidationEntry) error
}

// StructureIndex records the outcome of every structure load.
type StructureIndex interface {
	RecordStructures(set registry.Set, errs []registry.LoadError) error
}

var (
	_ ValidationSink = (*plog.ValidationLogger)(nil)
	_ ValidationSink = (*indexdb.SQLiteIndex)(nil)
	_ StructureIndex = (*indexdb.SQLiteIndex)(nil)
)

type Options struct {
	Loader        *registry.Loader
	StructuresDir string

	DecayTicks  int64
	MaxOverlays int
	Store       overlay.Store
	Index       StructureIndex
	Sinks       []ValidationSink
	Logger      *log.Logger
}

type Hub struct {
	blocks     *blocks.Registry
	structures *registry.Registry
	world      *voxel.Sparse
	opts       Options

	tick atomic.Int64

	mu       sync.RWMutex
	sessions map[string]*overlay.Manager
	subs     map[string]map[chan protocol.ProgressMsg]struct{}

	reloadMu sync.Mutex
}

func New(reg *blocks.Registry, structures *registry.Registry, world *voxel.Sparse, opts Options) *Hub {
	return &Hub{
		blocks:     reg,
		structures: structures,
		world:      world,
		opts:       opts,
		sessions:   map[string]*overlay.Manager{},
		subs:       map[string]map[chan protocol.ProgressMsg]struct{}{},
	}
}

func (h *Hub) Blocks() *blocks.Registry       { return h.blocks }
func (h *Hub) Structures() *registry.Registry { return h.structures }
func (h *Hub) World() *voxel.Sparse           { return h.world }
func (h *Hub) CurrentTick() int64             { return h.tick.Load() }

func (h *Hub) logf(format string, args ...any) {
	if h.opts.Logger != nil {
		h.opts.Logger.Printf(format, args...)
	}
}

// Reload re-reads the structures directory and swaps the registry
// contents in one step. Per-file failures are returned, not fatal.
func (h *Hub) Reload() ([]registry.LoadError, error) {
	if h.opts.Loader == nil {
		return nil, fmt.Errorf("reload: no loader configured")
	}
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	set, errs, err := h.opts.Loader.LoadDir(h.opts.StructuresDir)
	if err != nil {
		return nil, fmt.Errorf("reload: %w", err)
	}
	h.structures.Replace(set)
	if h.opts.Index != nil {
		if err := h.opts.Index.RecordStructures(set, errs); err != nil {
			h.logf("index structures: %v", err)
		}
	}
	h.logf("structures reloaded: %d loaded, %d failed, digest %s", len(set), len(errs), h.structures.Digest())
	return errs, nil
}

// Session returns the overlay manager for id, creating and restoring it
// on first use.
func (h *Hub) Session(id string) (*overlay.Manager, error) {
	if !sessionRe.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrBadSession, id)
	}
	h.mu.RLock()
	m, ok := h.sessions[id]
	h.mu.RUnlock()
	if ok {
		return m, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.sessions[id]; ok {
		return m, nil
	}
	m = overlay.NewManager(id, h.structures, overlay.Options{
		DecayTicks:  h.opts.DecayTicks,
		MaxOverlays: h.opts.MaxOverlays,
		Store:       h.opts.Store,
		Logger:      h.opts.Logger,
	})
	if err := m.Restore(); err != nil {
		h.logf("restore session %s: %v", id, err)
	}
	h.sessions[id] = m
	return m, nil
}

func (h *Hub) SessionIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Validate scores a template against the world and records the result.
func (h *Hub) Validate(req protocol.ValidateRequest) (protocol.ValidateResponse, error) {
	tpl, ok := h.structures.Get(req.Structure)
	if !ok {
		return protocol.ValidateResponse{}, fmt.Errorf("%w: %s", ErrUnknownStructure, req.Structure)
	}
	filter := structure.CategoryNonNull
	if req.Filter != "" {
		c, ok := structure.ParseCategory(req.Filter)
		if !ok {
			return protocol.ValidateResponse{}, fmt.Errorf("%w: %q", ErrBadFilter, req.Filter)
		}
		filter = c
	}
	valid, complete := tpl.Score(h.world, req.Origin, req.Rotation, filter)
	resp := protocol.ValidateResponse{
		Structure: req.Structure,
		Origin:    req.Origin,
		Rotation:  req.Rotation,
		Filter:    filter.String(),
		Valid:     valid,
		Total:     tpl.Count(filter),
		Complete:  complete,
	}
	e := plog.ValidationEntry{
		Time:      time.Now().UTC(),
		Session:   req.Session,
		Structure: req.Structure,
		Origin:    req.Origin,
		Rotation:  req.Rotation,
		Valid:     resp.Valid,
		Total:     resp.Total,
		Complete:  resp.Complete,
	}
	for _, s := range h.opts.Sinks {
		if err := s.WriteValidation(e); err != nil {
			h.logf("record validation: %v", err)
		}
	}
	return resp, nil
}

// Place returns where the origin lands when the anchor of id is put at
// target.
func (h *Hub) Place(req protocol.PlaceRequest) (protocol.PlaceResponse, error) {
	tpl, ok := h.structures.Get(req.Structure)
	if !ok {
		return protocol.PlaceResponse{}, fmt.Errorf("%w: %s", ErrUnknownStructure, req.Structure)
	}
	return protocol.PlaceResponse{
		Structure: req.Structure,
		Target:    req.Target,
		Rotation:  req.Rotation,
		Origin:    tpl.Origin(req.Target, req.Rotation),
		Size:      rotation.RotatedSize(tpl.Size(), req.Rotation),
	}, nil
}

// SetBlocks resolves every state before writing any, so a bad entry
// leaves the world untouched.
func (h *Hub) SetBlocks(list []protocol.BlockPlacement) (int, error) {
	type write struct {
		pos   model.Vec3i
		state blocks.State
	}
	writes := make([]write, 0, len(list))
	for i, b := range list {
		s, err := blockarg.ParseState(h.blocks, b.State)
		if err != nil {
			return 0, fmt.Errorf("%w: blocks[%d]: %v", ErrBadState, i, err)
		}
		writes = append(writes, write{pos: b.Pos, state: s})
	}
	for _, w := range writes {
		h.world.Set(w.pos, w.state)
	}
	return len(writes), nil
}

// Progress evaluates one session at the current tick without advancing it.
func (h *Hub) Progress(session string) (protocol.ProgressMsg, error) {
	m, err := h.Session(session)
	if err != nil {
		return protocol.ProgressMsg{}, err
	}
	tick := h.tick.Load()
	return ProgressMessage(session, tick, m.Evaluate(h.world, tick)), nil
}

// Step advances the tick, evaluates every session and fans the results
// out to subscribers. Slow subscribers miss updates.
func (h *Hub) Step() int64 {
	tick := h.tick.Add(1)

	h.mu.RLock()
	managers := make(map[string]*overlay.Manager, len(h.sessions))
	for id, m := range h.sessions {
		managers[id] = m
	}
	h.mu.RUnlock()

	msgs := make(map[string]protocol.ProgressMsg, len(managers))
	for id, m := range managers {
		msgs[id] = ProgressMessage(id, tick, m.Evaluate(h.world, tick))
	}

	// Channels are only closed under the write lock, after removal from
	// subs, so every channel seen here is still open.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, set := range h.subs {
		msg, ok := msgs[id]
		if !ok {
			continue
		}
		for ch := range set {
			select {
			case ch <- msg:
			default:
			}
		}
	}
	return tick
}

// Run calls Step every interval until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.Step()
		}
	}
}

// Subscribe registers for a session's progress messages. The returned
// func unsubscribes and closes the channel.
func (h *Hub) Subscribe(session string, buf int) (<-chan protocol.ProgressMsg, func(), error) {
	if _, err := h.Session(session); err != nil {
		return nil, nil, err
	}
	if buf <= 0 {
		buf = 1
	}
	ch := make(chan protocol.ProgressMsg, buf)
	h.mu.Lock()
	set, ok := h.subs[session]
	if !ok {
		set = map[chan protocol.ProgressMsg]struct{}{}
		h.subs[session] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[session], ch)
			if len(h.subs[session]) == 0 {
				delete(h.subs, session)
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

func ProgressMessage(session string, tick int64, list []overlay.Progress) protocol.ProgressMsg {
	msg := protocol.ProgressMsg{
		Type:            protocol.TypeProgress,
		ProtocolVersion: protocol.Version,
		Session:         session,
		Tick:            tick,
		Overlays:        make([]protocol.OverlayProgress, 0, len(list)),
	}
	for _, p := range list {
		op := protocol.OverlayProgress{
			Overlay:    p.Overlay,
			Structure:  p.Structure,
			Origin:     p.Origin,
			Rotation:   p.Rotation,
			Valid:      p.Valid,
			Total:      p.Total,
			Complete:   p.Complete,
			HasInvalid: p.HasInvalid,
			Retired:    p.Retired,
		}
		for _, c := range p.Mismatches {
			op.Mismatches = append(op.Mismatches, protocol.CellProgress(c))
		}
		msg.Overlays = append(msg.Overlays, op)
	}
	return msg
}

func OverlayList(m *overlay.Manager) protocol.OverlayList {
	out := protocol.OverlayList{Session: m.Session(), Overlays: []protocol.Overlay{}}
	if p, ok := m.Pending(); ok {
		out.Pending = &protocol.PendingOverlay{Structure: p.Structure, Rotation: p.Rotation, Layer: p.Layer}
	}
	for _, o := range m.Entries() {
		out.Overlays = append(out.Overlays, protocol.Overlay(o))
	}
	return out
}
