package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"structcraft.ai/internal/protocol"
	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/rotation"
)

func TestSchemas_CompileFromDisk(t *testing.T) {
	for _, name := range []string{"hello", "validate", "place", "overlay", "blocks", "progress"} {
		p := filepath.Join("schemas", name+".schema.json")
		if _, err := jsonschema.Compile(p); err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
	}
}

func TestSchemas_ValidateSamples(t *testing.T) {
	ok := map[string]string{
		protocol.SchemaHello:    `{"type":"HELLO","protocol_version":"1.0","client_name":"hud","max_queue":8}`,
		protocol.SchemaValidate: `{"structure":"demo:furnace_hut","origin":{"x":1,"y":64,"z":-3},"rotation":"CLOCKWISE_90","filter":"NON_NULL"}`,
		protocol.SchemaPlace:    `{"structure":"minecraft:well","target":{"x":0,"y":0,"z":0}}`,
		protocol.SchemaOverlay:  `{"structure":"minecraft:well","origin":{"x":0,"y":0,"z":0},"rotation":"NONE"}`,
		protocol.SchemaBlocks:   `{"blocks":[{"pos":{"x":0,"y":0,"z":0},"state":"minecraft:furnace[facing=east]"}]}`,
	}
	for name, body := range ok {
		if err := protocol.CheckJSON(name, []byte(body)); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}

	bad := map[string]string{
		protocol.SchemaHello:    `{"type":"ACT","protocol_version":"1.0"}`,
		protocol.SchemaValidate: `{"structure":"","origin":{"x":1,"y":2,"z":3}}`,
		protocol.SchemaPlace:    `{"structure":"a","target":{"x":1,"y":2}}`,
		protocol.SchemaOverlay:  `{"structure":"a","origin":{"x":1.5,"y":2,"z":3}}`,
		protocol.SchemaBlocks:   `{"blocks":[{"pos":{"x":0,"y":0,"z":0}}]}`,
	}
	for name, body := range bad {
		if err := protocol.CheckJSON(name, []byte(body)); err == nil {
			t.Fatalf("%s: expected %s to be rejected", name, body)
		}
	}
	if err := protocol.CheckJSON(protocol.SchemaValidate, []byte(`{`)); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := protocol.Schema("nope"); err == nil {
		t.Fatalf("expected unknown schema error")
	}
}

func TestSchemas_ProgressMessageMatches(t *testing.T) {
	msg := protocol.ProgressMsg{
		Type:            protocol.TypeProgress,
		ProtocolVersion: protocol.Version,
		Session:         "s1",
		Tick:            12,
		Overlays: []protocol.OverlayProgress{{
			Overlay:   "o1",
			Structure: "demo:furnace_hut",
			Origin:    model.Vec3i{X: 1, Y: 2, Z: 3},
			Rotation:  rotation.CCW90,
			Valid:     3,
			Total:     10,
			Mismatches: []protocol.CellProgress{
				{Pos: model.Vec3i{X: 1, Y: 2, Z: 3}, Result: "NO_MATCH", Expected: "minecraft:stone", Actual: "minecraft:air"},
			},
		}},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := protocol.CheckJSON(protocol.SchemaProgress, b); err != nil {
		t.Fatalf("progress: %v\n%s", err, b)
	}
}
