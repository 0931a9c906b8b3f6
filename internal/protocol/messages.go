package protocol

import (
	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/rotation"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type HealthResponse struct {
	OK         bool   `json:"ok"`
	Structures int    `json:"structures"`
	Digest     string `json:"digest"`
	Tick       int64  `json:"tick"`
}

// StructureSummary describes one loaded template.
type StructureSummary struct {
	ID     string         `json:"id"`
	Digest string         `json:"digest"`
	Size   model.Vec3i    `json:"size"`
	Anchor model.Vec3i    `json:"anchor"`
	Counts map[string]int `json:"counts"`
}

type StructureList struct {
	Digest     string             `json:"digest"`
	Structures []StructureSummary `json:"structures"`
}

// CellInfo is one template cell as seen under a rotation.
type CellInfo struct {
	Pos       model.Vec3i `json:"pos"`
	Key       string      `json:"key"`
	Predicate string      `json:"predicate"`
	Preview   string      `json:"preview,omitempty"`
}

type StructureDetail struct {
	StructureSummary
	Rotation    rotation.Rotation `json:"rotation"`
	RotatedSize model.Vec3i       `json:"rotated_size"`
	Layers      [][]string        `json:"layers"`
	Cells       []CellInfo        `json:"cells"`
}

// ValidateRequest checks a template against the server world.
type ValidateRequest struct {
	Structure string            `json:"structure"`
	Origin    model.Vec3i       `json:"origin"`
	Rotation  rotation.Rotation `json:"rotation"`
	// Filter limits Valid/Total to one category; NON_NULL when empty.
	Filter  string `json:"filter,omitempty"`
	Session string `json:"session,omitempty"`
}

type ValidateResponse struct {
	Structure string            `json:"structure"`
	Origin    model.Vec3i       `json:"origin"`
	Rotation  rotation.Rotation `json:"rotation"`
	Filter    string            `json:"filter"`
	Valid     int               `json:"valid"`
	Total     int               `json:"total"`
	Complete  bool              `json:"complete"`
}

// PlaceRequest asks where a template's origin lands when its anchor is
// put at Target.
type PlaceRequest struct {
	Structure string            `json:"structure"`
	Target    model.Vec3i       `json:"target"`
	Rotation  rotation.Rotation `json:"rotation"`
}

type PlaceResponse struct {
	Structure string            `json:"structure"`
	Target    model.Vec3i       `json:"target"`
	Rotation  rotation.Rotation `json:"rotation"`
	Origin    model.Vec3i       `json:"origin"`
	Size      model.Vec3i       `json:"size"`
}

type BlockPlacement struct {
	Pos   model.Vec3i `json:"pos"`
	State string      `json:"state"`
}

// SetBlocksRequest writes states into the server world. Air clears.
type SetBlocksRequest struct {
	Blocks []BlockPlacement `json:"blocks"`
}

type SetBlocksResponse struct {
	Applied int `json:"applied"`
}

type AddOverlayRequest struct {
	Structure string            `json:"structure"`
	Origin    model.Vec3i       `json:"origin"`
	Rotation  rotation.Rotation `json:"rotation"`
}

// PendingRequest selects the pending structure; empty clears it.
type PendingRequest struct {
	Structure string `json:"structure"`
}

type RotatePendingRequest struct {
	Clockwise bool `json:"clockwise"`
}

type PlacePendingRequest struct {
	Target model.Vec3i `json:"target"`
}

// LayerRequest restricts highlighting to one local layer; -1 shows all.
type LayerRequest struct {
	Structure string `json:"structure"`
	Layer     int    `json:"layer"`
}

type Overlay struct {
	ID          string            `json:"id"`
	Structure   string            `json:"structure"`
	Origin      model.Vec3i       `json:"origin"`
	Rotation    rotation.Rotation `json:"rotation"`
	Layer       int               `json:"layer"`
	CompletedAt int64             `json:"completed_at"`
}

type PendingOverlay struct {
	Structure string            `json:"structure"`
	Rotation  rotation.Rotation `json:"rotation"`
	Layer     int               `json:"layer"`
}

type OverlayList struct {
	Session  string          `json:"session"`
	Pending  *PendingOverlay `json:"pending,omitempty"`
	Overlays []Overlay       `json:"overlays"`
}

type RemoveResponse struct {
	Removed int `json:"removed"`
}

type CellProgress struct {
	Pos      model.Vec3i `json:"pos"`
	Result   string      `json:"result"`
	Expected string      `json:"expected"`
	Actual   string      `json:"actual"`
}

type OverlayProgress struct {
	Overlay    string            `json:"overlay"`
	Structure  string            `json:"structure"`
	Origin     model.Vec3i       `json:"origin"`
	Rotation   rotation.Rotation `json:"rotation"`
	Valid      int               `json:"valid"`
	Total      int               `json:"total"`
	Complete   bool              `json:"complete"`
	HasInvalid bool              `json:"has_invalid"`
	Mismatches []CellProgress    `json:"mismatches,omitempty"`
	Retired    bool              `json:"retired,omitempty"`
}

// PROGRESS (server -> client), also the body of GET .../progress.
type ProgressMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Session         string            `json:"session"`
	Tick            int64             `json:"tick"`
	Overlays        []OverlayProgress `json:"overlays"`
}

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
	MaxQueue        int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type               string  `json:"type"`
	ProtocolVersion    string  `json:"protocol_version"`
	Session            string  `json:"session"`
	Tick               int64   `json:"tick"`
	StructuresDigest   string  `json:"structures_digest"`
	BlocksDigest       string  `json:"blocks_digest"`
	ProgressIntervalMs int     `json:"progress_interval_ms"`
	PreviewAlpha       float64 `json:"preview_alpha"`
}

type LoadErrorInfo struct {
	Path      string `json:"path"`
	Structure string `json:"structure"`
	Message   string `json:"message"`
}

type ReloadResponse struct {
	Digest     string          `json:"digest"`
	Structures int             `json:"structures"`
	Errors     []LoadErrorInfo `json:"errors,omitempty"`
}
