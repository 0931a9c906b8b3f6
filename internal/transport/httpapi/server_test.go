package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"structcraft.ai/internal/persistence/backup"
	"structcraft.ai/internal/protocol"
	"structcraft.ai/internal/sim/blocks"
	"structcraft.ai/internal/sim/hub"
	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/rotation"
	"structcraft.ai/internal/sim/structure"
	"structcraft.ai/internal/sim/structure/registry"
	"structcraft.ai/internal/sim/voxel"
)

func newTestServer(t *testing.T) (*hub.Hub, *httptest.Server) {
	t.Helper()
	reg, err := blocks.Load("../../../configs")
	require.NoError(t, err)
	l, err := registry.NewLoader(reg, "minecraft", nil)
	require.NoError(t, err)
	h := hub.New(reg, registry.New(), voxel.NewSparse(), hub.Options{
		Loader:        l,
		StructuresDir: "../../../configs/structures",
		DecayTicks:    10,
		MaxOverlays:   2,
	})
	_, err = h.Reload()
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(h, nil, Options{Admin: true, WorldID: "test"}).Router())
	t.Cleanup(srv.Close)
	return h, srv
}

func do(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out), string(raw))
	}
	return resp.StatusCode
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

func TestStructures(t *testing.T) {
	_, srv := newTestServer(t)

	var health protocol.HealthResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/healthz", nil, &health))
	require.True(t, health.OK)
	require.Equal(t, 4, health.Structures)

	var list protocol.StructureList
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/v1/structures", nil, &list))
	ids := make([]string, 0, len(list.Structures))
	for _, s := range list.Structures {
		ids = append(ids, s.ID)
	}
	require.Equal(t, []string{"demo:furnace_hut", "demo:pillars/log_pillar", "minecraft:beacon_base", "minecraft:well"}, ids)
	require.Equal(t, health.Digest, list.Digest)

	var d protocol.StructureDetail
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/v1/structures/demo:pillars/log_pillar?rotation=CLOCKWISE_90", nil, &d))
	require.Equal(t, model.Vec3i{X: 1, Y: 4, Z: 1}, d.RotatedSize)
	require.Equal(t, rotation.CW90, d.Rotation)
	require.Equal(t, [][]string{{"#"}, {"l"}, {"l"}, {"x"}}, d.Layers)
	require.Len(t, d.Cells, 4)
	require.Equal(t, "x", d.Cells[3].Key)
	require.Equal(t, "minecraft:oak_log[axis=z]", d.Cells[3].Preview)
	require.Equal(t, 4, d.Counts["NON_AIR"])

	var e protocol.ErrorResponse
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, srv.URL+"/v1/structures/minecraft:well?rotation=sideways", nil, &e))
	require.Equal(t, protocol.ErrBadRotation, e.Code)
	require.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/v1/structures/minecraft:nope", nil, &e))
	require.Equal(t, protocol.ErrNotFound, e.Code)
	require.Equal(t, http.StatusServiceUnavailable, do(t, http.MethodGet, srv.URL+"/v1/structures/minecraft:well/validations", nil, &e))
	require.Equal(t, protocol.ErrUnavailable, e.Code)
}

func TestValidateAndPlace(t *testing.T) {
	h, srv := newTestServer(t)
	tpl, ok := h.Structures().Get("minecraft:well")
	require.True(t, ok)
	origin := model.Vec3i{X: -8, Y: 62, Z: 3}

	req := protocol.ValidateRequest{Structure: "minecraft:well", Origin: origin, Rotation: rotation.CW180}
	var v protocol.ValidateResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/v1/validate", req, &v))
	require.False(t, v.Complete)

	build(h.World(), tpl, origin, rotation.CW180)
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/v1/validate", req, &v))
	require.True(t, v.Complete)
	require.Equal(t, v.Total, v.Valid)

	req.Filter = "NON_NULL"
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/v1/validate", req, &v))
	require.Equal(t, "NON_NULL", v.Filter)
	require.Equal(t, tpl.Count(structure.CategoryNonNull), v.Total)

	var e protocol.ErrorResponse
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/v1/validate", `{"structure":"minecraft:well"}`, &e))
	require.Equal(t, protocol.ErrBadRequest, e.Code)
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/v1/validate", `{"structure":"minecraft:well","origin":{"x":0,"y":0,"z":0},"rotation":"sideways"}`, &e))
	require.Equal(t, protocol.ErrBadRotation, e.Code)
	require.Equal(t, http.StatusNotFound, do(t, http.MethodPost, srv.URL+"/v1/validate", `{"structure":"minecraft:nope","origin":{"x":0,"y":0,"z":0}}`, &e))
	require.Equal(t, protocol.ErrNotFound, e.Code)

	var p protocol.PlaceResponse
	target := model.Vec3i{X: 100, Y: 64, Z: 100}
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/v1/place", protocol.PlaceRequest{Structure: "minecraft:well", Target: target, Rotation: rotation.CCW90}, &p))
	require.Equal(t, tpl.Origin(target, rotation.CCW90), p.Origin)
	require.Equal(t, http.StatusMethodNotAllowed, do(t, http.MethodGet, srv.URL+"/v1/place", nil, &e))
}

func TestSetBlocks(t *testing.T) {
	h, srv := newTestServer(t)
	var out protocol.SetBlocksResponse
	body := protocol.SetBlocksRequest{Blocks: []protocol.BlockPlacement{
		{Pos: model.Vec3i{X: 1, Y: 2, Z: 3}, State: "minecraft:oak_log[axis=z]"},
		{Pos: model.Vec3i{X: 1, Y: 3, Z: 3}, State: "stone"},
	}}
	require.Equal(t, http.StatusOK, do(t, http.MethodPut, srv.URL+"/v1/world/blocks", body, &out))
	require.Equal(t, 2, out.Applied)
	require.Equal(t, "minecraft:oak_log[axis=z]", h.World().BlockState(model.Vec3i{X: 1, Y: 2, Z: 3}).String())

	var e protocol.ErrorResponse
	bad := protocol.SetBlocksRequest{Blocks: []protocol.BlockPlacement{{State: "#minecraft:logs"}}}
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodPut, srv.URL+"/v1/world/blocks", bad, &e))
	require.Equal(t, protocol.ErrUnknownState, e.Code)
}

func TestSessionOverlays(t *testing.T) {
	h, srv := newTestServer(t)
	base := srv.URL + "/v1/sessions/alice"
	var e protocol.ErrorResponse

	require.Equal(t, http.StatusConflict, do(t, http.MethodPost, base+"/pending/rotate", protocol.RotatePendingRequest{Clockwise: true}, &e))
	require.Equal(t, protocol.ErrNoPending, e.Code)
	require.Equal(t, http.StatusNotFound, do(t, http.MethodPost, base+"/pending", protocol.PendingRequest{Structure: "demo:nope"}, &e))

	var list protocol.OverlayList
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/pending", protocol.PendingRequest{Structure: "demo:furnace_hut"}, &list))
	require.NotNil(t, list.Pending)
	require.Equal(t, rotation.None, list.Pending.Rotation)

	var pend protocol.PendingOverlay
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/pending/rotate", protocol.RotatePendingRequest{Clockwise: false}, &pend))
	require.Equal(t, rotation.CCW90, pend.Rotation)

	tpl, _ := h.Structures().Get("demo:furnace_hut")
	target := model.Vec3i{X: 4, Y: 64, Z: 4}
	var o protocol.Overlay
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, base+"/pending/place", protocol.PlacePendingRequest{Target: target}, &o))
	require.Equal(t, tpl.Origin(target, rotation.CCW90), o.Origin)
	require.Equal(t, int64(-1), o.CompletedAt)

	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, base+"/overlays", protocol.AddOverlayRequest{Structure: "minecraft:well", Origin: model.Vec3i{X: 50}}, &o))
	require.Equal(t, http.StatusConflict, do(t, http.MethodPost, base+"/overlays", protocol.AddOverlayRequest{Structure: "minecraft:well", Origin: model.Vec3i{X: 60}}, &e))
	require.Equal(t, protocol.ErrLimit, e.Code)

	require.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"/overlays", nil, &list))
	require.Nil(t, list.Pending)
	require.Len(t, list.Overlays, 2)

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/layer", protocol.LayerRequest{Structure: "demo:furnace_hut", Layer: 1}, &list))
	for _, ov := range list.Overlays {
		if ov.Structure == "demo:furnace_hut" {
			require.Equal(t, 1, ov.Layer)
		}
	}
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, base+"/layer", protocol.LayerRequest{Structure: "demo:furnace_hut", Layer: 4}, &e))

	var prog protocol.ProgressMsg
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"/progress", nil, &prog))
	require.Len(t, prog.Overlays, 2)
	for _, p := range prog.Overlays {
		if p.Structure != "demo:furnace_hut" {
			continue
		}
		require.False(t, p.Complete)
		for _, c := range p.Mismatches {
			// Only the visible layer is highlighted; layer 1 is one above the origin.
			require.Equal(t, o.Origin.Y+1, c.Pos.Y, "mismatch %+v", c)
		}
	}

	var rm protocol.RemoveResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodDelete, base+"/overlays?origin=50,0,0", nil, &rm))
	require.Equal(t, 1, rm.Removed)
	require.Equal(t, http.StatusOK, do(t, http.MethodDelete, base+"/overlays?structure=demo:furnace_hut", nil, &rm))
	require.Equal(t, 1, rm.Removed)
	require.Equal(t, http.StatusOK, do(t, http.MethodDelete, base+"/overlays", nil, &rm))
	require.Zero(t, rm.Removed)

	require.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, srv.URL+"/v1/sessions/bad%20id/overlays", nil, &e))
}

func TestAdmin(t *testing.T) {
	_, srv := newTestServer(t)
	var rr protocol.ReloadResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/admin/v1/reload", nil, &rr))
	require.Equal(t, 4, rr.Structures)
	require.Empty(t, rr.Errors)

	var st struct {
		WorldID    string `json:"world_id"`
		Structures int    `json:"structures"`
	}
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/admin/v1/state", nil, &st))
	require.Equal(t, "test", st.WorldID)
	require.Equal(t, 4, st.Structures)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(b), `structcraft_structures{world="test"} 4`)
}

type backupStats backup.Stats

func (b backupStats) Stats() backup.Stats { return backup.Stats(b) }

func TestMetricsIncludeBackup(t *testing.T) {
	h, _ := newTestServer(t)
	srv := httptest.NewServer(NewServer(h, nil, Options{WorldID: "w", Backup: backupStats{UploadedTotal: 3, FailedTotal: 1, DroppedTotal: 1}}).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(b), `structcraft_backup_uploaded_total{world="w"} 3`)
	require.Contains(t, string(b), `structcraft_backup_failed_total{world="w"} 2`)

	require.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/admin/v1/state", nil, nil))
}

func TestIsLoopbackRemote(t *testing.T) {
	require.True(t, IsLoopbackRemote("127.0.0.1:5000"))
	require.True(t, IsLoopbackRemote("[::1]:5000"))
	require.False(t, IsLoopbackRemote("10.0.0.1:5000"))
	require.False(t, IsLoopbackRemote("garbage"))
}
