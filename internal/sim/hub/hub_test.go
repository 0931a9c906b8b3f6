package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	plog "structcraft.ai/internal/persistence/log"
	"structcraft.ai/internal/protocol"
	"structcraft.ai/internal/sim/blocks"
	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/overlay"
	"structcraft.ai/internal/sim/rotation"
	"structcraft.ai/internal/sim/structure"
	"structcraft.ai/internal/sim/structure/registry"
	"structcraft.ai/internal/sim/voxel"
)

const hut = "demo:furnace_hut"

type sinkFunc func(plog.ValidationEntry) error

func (f sinkFunc) WriteValidation(e plog.ValidationEntry) error { return f(e) }

type indexFunc func(registry.Set, []registry.LoadError) error

func (f indexFunc) RecordStructures(set registry.Set, errs []registry.LoadError) error {
	return f(set, errs)
}

func newHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	reg, err := blocks.Load("../../../configs")
	require.NoError(t, err)
	l, err := registry.NewLoader(reg, "minecraft", nil)
	require.NoError(t, err)
	opts.Loader = l
	opts.StructuresDir = "../../../configs/structures"
	h := New(reg, registry.New(), voxel.NewSparse(), opts)
	errs, err := h.Reload()
	require.NoError(t, err)
	require.Empty(t, errs)
	return h
}

func build(w *voxel.Sparse, tpl *structure.Template, origin model.Vec3i, r rotation.Rotation) {
	v := tpl.View(r)
	size := v.Size()
	for x := 0; x < size.X; x++ {
		for y := 0; y < size.Y; y++ {
			for z := 0; z < size.Z; z++ {
				p := model.Vec3i{X: x, Y: y, Z: z}
				w.Set(origin.Add(p), v.BlockState(p))
			}
		}
	}
}

func TestHub_Validate(t *testing.T) {
	var mu sync.Mutex
	var got []plog.ValidationEntry
	h := newHub(t, Options{Sinks: []ValidationSink{sinkFunc(func(e plog.ValidationEntry) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		return nil
	})}})

	_, err := h.Validate(protocol.ValidateRequest{Structure: "demo:nope"})
	require.ErrorIs(t, err, ErrUnknownStructure)
	_, err = h.Validate(protocol.ValidateRequest{Structure: hut, Filter: "SOLID"})
	require.ErrorIs(t, err, ErrBadFilter)

	tpl, ok := h.Structures().Get(hut)
	require.True(t, ok)
	origin := model.Vec3i{X: 10, Y: 64, Z: -4}

	resp, err := h.Validate(protocol.ValidateRequest{Structure: hut, Origin: origin, Rotation: rotation.CW90, Session: "s1"})
	require.NoError(t, err)
	require.False(t, resp.Complete)
	require.Equal(t, "NON_NULL", resp.Filter)
	require.Equal(t, tpl.Count(structure.CategoryNonNull), resp.Total)

	build(h.World(), tpl, origin, rotation.CW90)
	resp, err = h.Validate(protocol.ValidateRequest{Structure: hut, Origin: origin, Rotation: rotation.CW90})
	require.NoError(t, err)
	require.True(t, resp.Complete)
	require.Equal(t, resp.Total, resp.Valid)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	require.Equal(t, "s1", got[0].Session)
	require.True(t, got[1].Complete)
}

func TestHub_ValidateCountsAirCells(t *testing.T) {
	h := newHub(t, Options{})
	tpl, _ := h.Structures().Get(hut)
	origin := model.Vec3i{X: -20, Y: 70, Z: 7}
	build(h.World(), tpl, origin, rotation.CW90)

	// Cell (0,1,1) of the hut must stay empty.
	local := model.Vec3i{X: 0, Y: 1, Z: 1}
	p, ok := tpl.PredicateAt(local)
	require.True(t, ok)
	require.Equal(t, structure.KindMustBeEmpty, p.Kind())
	pos := origin.Add(rotation.Transform(local, tpl.Size(), rotation.CW90))
	h.World().Set(pos, h.Blocks().MustState("stone", nil))

	resp, err := h.Validate(protocol.ValidateRequest{Structure: hut, Origin: origin, Rotation: rotation.CW90})
	require.NoError(t, err)
	require.Equal(t, "NON_NULL", resp.Filter)
	require.Equal(t, tpl.Count(structure.CategoryNonNull), resp.Total)
	require.Equal(t, resp.Total-1, resp.Valid)
	require.False(t, resp.Complete)

	// NON_AIR ignores the cell for the count, completeness still sees it.
	resp, err = h.Validate(protocol.ValidateRequest{Structure: hut, Origin: origin, Rotation: rotation.CW90, Filter: "NON_AIR"})
	require.NoError(t, err)
	require.Equal(t, resp.Total, resp.Valid)
	require.False(t, resp.Complete)
}

func TestHub_Place(t *testing.T) {
	h := newHub(t, Options{})
	tpl, _ := h.Structures().Get(hut)
	target := model.Vec3i{X: 5, Y: 70, Z: 5}
	for _, r := range rotation.All {
		resp, err := h.Place(protocol.PlaceRequest{Structure: hut, Target: target, Rotation: r})
		require.NoError(t, err)
		require.Equal(t, tpl.Origin(target, r), resp.Origin)
		require.Equal(t, rotation.RotatedSize(tpl.Size(), r), resp.Size)
		// The anchor lands on the target.
		require.Equal(t, target, resp.Origin.Add(rotation.Transform(tpl.Anchor(), tpl.Size(), r)))
	}
	_, err := h.Place(protocol.PlaceRequest{Structure: "demo:nope"})
	require.ErrorIs(t, err, ErrUnknownStructure)
}

func TestHub_SetBlocksIsAllOrNothing(t *testing.T) {
	h := newHub(t, Options{})
	n, err := h.SetBlocks([]protocol.BlockPlacement{
		{Pos: model.Vec3i{X: 1}, State: "stone"},
		{Pos: model.Vec3i{X: 2}, State: "minecraft:furnace[facing=up]"},
	})
	require.ErrorIs(t, err, ErrBadState)
	require.Zero(t, n)
	require.Zero(t, h.World().Len())

	n, err = h.SetBlocks([]protocol.BlockPlacement{
		{Pos: model.Vec3i{X: 1}, State: "stone"},
		{Pos: model.Vec3i{X: 2}, State: "minecraft:furnace[facing=east]"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "minecraft:furnace[facing=east,lit=false]", h.World().BlockState(model.Vec3i{X: 2}).String())
}

func TestHub_Sessions(t *testing.T) {
	h := newHub(t, Options{})
	_, err := h.Session("bad id")
	require.ErrorIs(t, err, ErrBadSession)

	a, err := h.Session("b")
	require.NoError(t, err)
	again, err := h.Session("b")
	require.NoError(t, err)
	require.Same(t, a, again)
	_, err = h.Session("a")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, h.SessionIDs())
}

func TestHub_StepPublishesProgress(t *testing.T) {
	h := newHub(t, Options{DecayTicks: 2})
	m, err := h.Session("s1")
	require.NoError(t, err)
	tpl, _ := h.Structures().Get(hut)
	origin := model.Vec3i{Y: 64}
	_, err = m.Add(hut, origin, rotation.None)
	require.NoError(t, err)

	ch, cancel, err := h.Subscribe("s1", 4)
	require.NoError(t, err)

	require.Equal(t, int64(1), h.Step())
	msg := recv(t, ch)
	require.Equal(t, protocol.TypeProgress, msg.Type)
	require.Equal(t, int64(1), msg.Tick)
	require.Len(t, msg.Overlays, 1)
	require.False(t, msg.Overlays[0].Complete)
	require.NotEmpty(t, msg.Overlays[0].Mismatches)

	build(h.World(), tpl, origin, rotation.None)
	h.Step()
	msg = recv(t, ch)
	require.True(t, msg.Overlays[0].Complete)
	require.Empty(t, msg.Overlays[0].Mismatches)

	h.Step()
	h.Step()
	recv(t, ch)
	msg = recv(t, ch)
	require.True(t, msg.Overlays[0].Retired)
	require.Empty(t, m.Entries())

	cancel()
	cancel()
	_, open := <-ch
	require.False(t, open)
}

type memStore struct {
	mu    sync.Mutex
	saved map[string][]overlay.Overlay
}

func (s *memStore) SaveOverlays(session string, list []overlay.Overlay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[session] = append([]overlay.Overlay(nil), list...)
	return nil
}

func (s *memStore) LoadOverlays(session string) ([]overlay.Overlay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]overlay.Overlay(nil), s.saved[session]...), nil
}

func TestHub_UnsubscribeWhileStepping(t *testing.T) {
	h := newHub(t, Options{DecayTicks: 1, Store: &memStore{saved: map[string][]overlay.Overlay{}}})
	m, err := h.Session("s1")
	require.NoError(t, err)
	tpl, _ := h.Structures().Get(hut)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				h.Step()
			}
		}
	}()
	// Overlays come and go, and get saved, while sessions are evaluated.
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			origin := model.Vec3i{X: i % 7, Y: 64}
			if _, err := m.Add(hut, origin, rotation.All[i%4]); err != nil {
				t.Errorf("add: %v", err)
				return
			}
			m.Remove(origin)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			build(h.World(), tpl, model.Vec3i{Y: 64}, rotation.All[i%4])
		}
	}()

	for i := 0; i < 2000; i++ {
		ch, cancel, err := h.Subscribe("s1", 1)
		require.NoError(t, err)
		if i%3 == 0 {
			select {
			case <-ch:
			default:
			}
		}
		cancel()
	}
	close(stop)
	wg.Wait()

	h.mu.RLock()
	defer h.mu.RUnlock()
	require.Empty(t, h.subs)
}

func TestHub_ProgressDoesNotAdvance(t *testing.T) {
	h := newHub(t, Options{})
	msg, err := h.Progress("s1")
	require.NoError(t, err)
	require.Zero(t, msg.Tick)
	require.Empty(t, msg.Overlays)
	require.Zero(t, h.CurrentTick())
}

func TestHub_ReloadRecordsIndex(t *testing.T) {
	calls := 0
	h := newHub(t, Options{Index: indexFunc(func(set registry.Set, errs []registry.LoadError) error {
		calls++
		require.Len(t, set, 4)
		return nil
	})})
	require.Equal(t, 1, calls)
	require.Equal(t, 4, h.Structures().Len())

	none := New(h.Blocks(), registry.New(), voxel.NewSparse(), Options{})
	_, err := none.Reload()
	require.Error(t, err)
}

func recv(t *testing.T, ch <-chan protocol.ProgressMsg) protocol.ProgressMsg {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no progress message")
	}
	return protocol.ProgressMsg{}
}
