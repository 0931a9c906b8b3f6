// Package httpapi serves the structure, validation and overlay endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"structcraft.ai/internal/persistence/backup"
	"structcraft.ai/internal/persistence/indexdb"
	"structcraft.ai/internal/protocol"
	"structcraft.ai/internal/sim/hub"
	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/overlay"
	"structcraft.ai/internal/sim/rotation"
	"structcraft.ai/internal/sim/structure"
)

const maxBodyBytes = 4 << 20

// Streamer serves a session's live progress stream on an HTTP request.
type Streamer interface {
	ServeSession(rw http.ResponseWriter, r *http.Request, session string)
}

// Index is the subset of the index DB the API reads.
type Index interface {
	Validations(structureID string, limit int) ([]indexdb.ValidationRow, error)
	Stats() indexdb.Stats
}

// Backup reports the object-store mirror's counters.
type Backup interface {
	Stats() backup.Stats
}

type Options struct {
	Stream Streamer
	Index  Index
	Backup Backup
	// Admin enables /admin/v1 routes for loopback clients.
	Admin   bool
	WorldID string
}

type Server struct {
	hub  *hub.Hub
	log  *log.Logger
	opts Options
}

func NewServer(h *hub.Hub, logger *log.Logger, opts Options) *Server {
	return &Server{hub: h, log: logger, opts: opts}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.metrics).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/structures", s.listStructures).Methods(http.MethodGet)
	v1.HandleFunc("/structures/{id:.+}/validations", s.structureValidations).Methods(http.MethodGet)
	v1.HandleFunc("/structures/{id:.+}", s.getStructure).Methods(http.MethodGet)
	v1.HandleFunc("/validate", s.validate).Methods(http.MethodPost)
	v1.HandleFunc("/place", s.place).Methods(http.MethodPost)
	v1.HandleFunc("/world/blocks", s.setBlocks).Methods(http.MethodPut)

	ss := v1.PathPrefix("/sessions/{session}").Subrouter()
	ss.HandleFunc("/overlays", s.listOverlays).Methods(http.MethodGet)
	ss.HandleFunc("/overlays", s.addOverlay).Methods(http.MethodPost)
	ss.HandleFunc("/overlays", s.removeOverlays).Methods(http.MethodDelete)
	ss.HandleFunc("/pending", s.setPending).Methods(http.MethodPost)
	ss.HandleFunc("/pending/rotate", s.rotatePending).Methods(http.MethodPost)
	ss.HandleFunc("/pending/place", s.placePending).Methods(http.MethodPost)
	ss.HandleFunc("/layer", s.setLayer).Methods(http.MethodPost)
	ss.HandleFunc("/progress", s.progress).Methods(http.MethodGet)
	if s.opts.Stream != nil {
		ss.HandleFunc("/ws", func(rw http.ResponseWriter, r *http.Request) {
			s.opts.Stream.ServeSession(rw, r, mux.Vars(r)["session"])
		}).Methods(http.MethodGet)
	}

	if s.opts.Admin {
		admin := r.PathPrefix("/admin/v1").Subrouter()
		admin.Use(loopbackOnly)
		admin.HandleFunc("/reload", s.reload).Methods(http.MethodPost)
		admin.HandleFunc("/state", s.state).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "no route for %s %s", r.Method, r.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		writeError(rw, http.StatusMethodNotAllowed, protocol.ErrBadRequest, "%s not allowed on %s", r.Method, r.URL.Path)
	})
	return r
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func (s *Server) health(rw http.ResponseWriter, r *http.Request) {
	st := s.hub.Structures()
	writeJSON(rw, http.StatusOK, protocol.HealthResponse{
		OK:         true,
		Structures: st.Len(),
		Digest:     st.Digest(),
		Tick:       s.hub.CurrentTick(),
	})
}

// metrics writes a minimal Prometheus exposition.
func (s *Server) metrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	world := s.opts.WorldID

	fmt.Fprintf(rw, "# HELP structcraft_tick Current progress tick.\n")
	fmt.Fprintf(rw, "# TYPE structcraft_tick gauge\n")
	fmt.Fprintf(rw, "structcraft_tick{world=%q} %d\n", world, s.hub.CurrentTick())

	fmt.Fprintf(rw, "# HELP structcraft_structures Loaded structure templates.\n")
	fmt.Fprintf(rw, "# TYPE structcraft_structures gauge\n")
	fmt.Fprintf(rw, "structcraft_structures{world=%q} %d\n", world, s.hub.Structures().Len())

	fmt.Fprintf(rw, "# HELP structcraft_sessions Known overlay sessions.\n")
	fmt.Fprintf(rw, "# TYPE structcraft_sessions gauge\n")
	fmt.Fprintf(rw, "structcraft_sessions{world=%q} %d\n", world, len(s.hub.SessionIDs()))

	fmt.Fprintf(rw, "# HELP structcraft_world_blocks Non-air blocks in the world.\n")
	fmt.Fprintf(rw, "# TYPE structcraft_world_blocks gauge\n")
	fmt.Fprintf(rw, "structcraft_world_blocks{world=%q} %d\n", world, s.hub.World().Len())

	if s.opts.Index != nil {
		st := s.opts.Index.Stats()
		fmt.Fprintf(rw, "# HELP structcraft_index_queue_depth Pending validation rows.\n")
		fmt.Fprintf(rw, "# TYPE structcraft_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "structcraft_index_queue_depth{world=%q} %d\n", world, st.QueueDepth)
		fmt.Fprintf(rw, "# HELP structcraft_index_dropped_total Validation rows dropped under load.\n")
		fmt.Fprintf(rw, "# TYPE structcraft_index_dropped_total counter\n")
		fmt.Fprintf(rw, "structcraft_index_dropped_total{world=%q} %d\n", world, st.DropValidationTotal)
	}
	if s.opts.Backup != nil {
		st := s.opts.Backup.Stats()
		fmt.Fprintf(rw, "# HELP structcraft_backup_uploaded_total Files copied to the backup bucket.\n")
		fmt.Fprintf(rw, "# TYPE structcraft_backup_uploaded_total counter\n")
		fmt.Fprintf(rw, "structcraft_backup_uploaded_total{world=%q} %d\n", world, st.UploadedTotal)
		fmt.Fprintf(rw, "# HELP structcraft_backup_failed_total Files that could not be copied.\n")
		fmt.Fprintf(rw, "# TYPE structcraft_backup_failed_total counter\n")
		fmt.Fprintf(rw, "structcraft_backup_failed_total{world=%q} %d\n", world, st.FailedTotal+st.DroppedTotal)
	}
}

func summary(id, digest string, t *structure.Template) protocol.StructureSummary {
	counts := make(map[string]int, len(structure.Categories))
	for _, c := range structure.Categories {
		counts[c.String()] = t.Count(c)
	}
	return protocol.StructureSummary{
		ID:     id,
		Digest: digest,
		Size:   t.Size(),
		Anchor: t.Anchor(),
		Counts: counts,
	}
}

func (s *Server) listStructures(rw http.ResponseWriter, r *http.Request) {
	st := s.hub.Structures()
	out := protocol.StructureList{Digest: st.Digest(), Structures: []protocol.StructureSummary{}}
	for _, id := range st.IDs() {
		e, ok := st.Entry(id)
		if !ok {
			continue
		}
		out.Structures = append(out.Structures, summary(id, e.Digest, e.Template))
	}
	writeJSON(rw, http.StatusOK, out)
}

func (s *Server) getStructure(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	e, ok := s.hub.Structures().Entry(id)
	if !ok {
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "unknown structure %s", id)
		return
	}
	rot, err := rotation.Parse(r.URL.Query().Get("rotation"))
	if err != nil {
		s.fail(rw, err)
		return
	}
	t := e.Template
	out := protocol.StructureDetail{
		StructureSummary: summary(id, e.Digest, t),
		Rotation:         rot,
		RotatedSize:      rotation.RotatedSize(t.Size(), rot),
		Layers:           t.Layers(rot),
		Cells:            make([]protocol.CellInfo, 0, t.Volume()),
	}
	for pos, p := range t.Cells(rot) {
		local := rotation.InverseTransform(pos, t.Size(), rot)
		key, _ := t.KeyAt(local)
		c := protocol.CellInfo{Pos: pos, Key: string(key), Predicate: p.String()}
		if preview := p.PreviewAt(0); !preview.IsAir() {
			c.Preview = preview.Rotate(rot).String()
		}
		out.Cells = append(out.Cells, c)
	}
	writeJSON(rw, http.StatusOK, out)
}

func (s *Server) structureValidations(rw http.ResponseWriter, r *http.Request) {
	if s.opts.Index == nil {
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrUnavailable, "index is disabled")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "limit must be in 1..1000")
			return
		}
		limit = n
	}
	rows, err := s.opts.Index.Validations(mux.Vars(r)["id"], limit)
	if err != nil {
		s.fail(rw, err)
		return
	}
	if rows == nil {
		rows = []indexdb.ValidationRow{}
	}
	writeJSON(rw, http.StatusOK, rows)
}

func (s *Server) validate(rw http.ResponseWriter, r *http.Request) {
	var req protocol.ValidateRequest
	if !decode(rw, r, protocol.SchemaValidate, &req) {
		return
	}
	resp, err := s.hub.Validate(req)
	if err != nil {
		s.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (s *Server) place(rw http.ResponseWriter, r *http.Request) {
	var req protocol.PlaceRequest
	if !decode(rw, r, protocol.SchemaPlace, &req) {
		return
	}
	resp, err := s.hub.Place(req)
	if err != nil {
		s.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (s *Server) setBlocks(rw http.ResponseWriter, r *http.Request) {
	var req protocol.SetBlocksRequest
	if !decode(rw, r, protocol.SchemaBlocks, &req) {
		return
	}
	n, err := s.hub.SetBlocks(req.Blocks)
	if err != nil {
		s.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, protocol.SetBlocksResponse{Applied: n})
}

func (s *Server) session(rw http.ResponseWriter, r *http.Request) (*overlay.Manager, bool) {
	m, err := s.hub.Session(mux.Vars(r)["session"])
	if err != nil {
		s.fail(rw, err)
		return nil, false
	}
	return m, true
}

func (s *Server) listOverlays(rw http.ResponseWriter, r *http.Request) {
	m, ok := s.session(rw, r)
	if !ok {
		return
	}
	writeJSON(rw, http.StatusOK, hub.OverlayList(m))
}

func (s *Server) addOverlay(rw http.ResponseWriter, r *http.Request) {
	m, ok := s.session(rw, r)
	if !ok {
		return
	}
	var req protocol.AddOverlayRequest
	if !decode(rw, r, protocol.SchemaOverlay, &req) {
		return
	}
	o, err := m.Add(req.Structure, req.Origin, req.Rotation)
	if err != nil {
		s.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusCreated, protocol.Overlay(o))
}

// removeOverlays drops the overlay at ?origin=x,y,z, every overlay of
// ?structure=id, or all of them when neither is given.
func (s *Server) removeOverlays(rw http.ResponseWriter, r *http.Request) {
	m, ok := s.session(rw, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	switch {
	case q.Get("origin") != "":
		origin, err := model.ParseVec3i(q.Get("origin"))
		if err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "origin: %v", err)
			return
		}
		n := 0
		if m.Remove(origin) {
			n = 1
		}
		writeJSON(rw, http.StatusOK, protocol.RemoveResponse{Removed: n})
	case q.Get("structure") != "":
		writeJSON(rw, http.StatusOK, protocol.RemoveResponse{Removed: m.RemoveAll(q.Get("structure"))})
	default:
		n := len(m.Entries())
		m.Clear()
		writeJSON(rw, http.StatusOK, protocol.RemoveResponse{Removed: n})
	}
}

func (s *Server) setPending(rw http.ResponseWriter, r *http.Request) {
	m, ok := s.session(rw, r)
	if !ok {
		return
	}
	var req protocol.PendingRequest
	if !decode(rw, r, "", &req) {
		return
	}
	if req.Structure == "" {
		m.ClearPending()
	} else if err := m.SetPending(req.Structure); err != nil {
		s.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, hub.OverlayList(m))
}

func (s *Server) rotatePending(rw http.ResponseWriter, r *http.Request) {
	m, ok := s.session(rw, r)
	if !ok {
		return
	}
	var req protocol.RotatePendingRequest
	if !decode(rw, r, "", &req) {
		return
	}
	if _, err := m.RotatePending(req.Clockwise); err != nil {
		s.fail(rw, err)
		return
	}
	p, _ := m.Pending()
	writeJSON(rw, http.StatusOK, protocol.PendingOverlay(p))
}

func (s *Server) placePending(rw http.ResponseWriter, r *http.Request) {
	m, ok := s.session(rw, r)
	if !ok {
		return
	}
	var req protocol.PlacePendingRequest
	if !decode(rw, r, "", &req) {
		return
	}
	o, err := m.PlacePending(req.Target)
	if err != nil {
		s.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusCreated, protocol.Overlay(o))
}

func (s *Server) setLayer(rw http.ResponseWriter, r *http.Request) {
	m, ok := s.session(rw, r)
	if !ok {
		return
	}
	var req protocol.LayerRequest
	if !decode(rw, r, "", &req) {
		return
	}
	tpl, found := s.hub.Structures().Get(req.Structure)
	if !found {
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "unknown structure %s", req.Structure)
		return
	}
	if req.Layer >= tpl.Size().Y {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "layer %d out of range, %s has %d", req.Layer, req.Structure, tpl.Size().Y)
		return
	}
	m.RestrictVisibleLayer(req.Structure, req.Layer)
	writeJSON(rw, http.StatusOK, hub.OverlayList(m))
}

func (s *Server) progress(rw http.ResponseWriter, r *http.Request) {
	msg, err := s.hub.Progress(mux.Vars(r)["session"])
	if err != nil {
		s.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, msg)
}

func (s *Server) reload(rw http.ResponseWriter, r *http.Request) {
	errs, err := s.hub.Reload()
	if err != nil {
		s.fail(rw, err)
		return
	}
	st := s.hub.Structures()
	out := protocol.ReloadResponse{Digest: st.Digest(), Structures: st.Len()}
	for _, e := range errs {
		out.Errors = append(out.Errors, protocol.LoadErrorInfo{Path: e.Path, Structure: e.ID, Message: e.Err.Error()})
	}
	writeJSON(rw, http.StatusOK, out)
}

func (s *Server) state(rw http.ResponseWriter, r *http.Request) {
	resp := struct {
		WorldID    string         `json:"world_id"`
		Tick       int64          `json:"tick"`
		Structures int            `json:"structures"`
		Digest     string         `json:"digest"`
		Sessions   []string       `json:"sessions"`
		Blocks     int            `json:"blocks"`
		Index      *indexdb.Stats `json:"index,omitempty"`
		Backup     *backup.Stats  `json:"backup,omitempty"`
	}{
		WorldID:    s.opts.WorldID,
		Tick:       s.hub.CurrentTick(),
		Structures: s.hub.Structures().Len(),
		Digest:     s.hub.Structures().Digest(),
		Sessions:   s.hub.SessionIDs(),
		Blocks:     s.hub.World().Len(),
	}
	if s.opts.Index != nil {
		st := s.opts.Index.Stats()
		resp.Index = &st
	}
	if s.opts.Backup != nil {
		st := s.opts.Backup.Stats()
		resp.Backup = &st
	}
	writeJSON(rw, http.StatusOK, resp)
}

// fail maps domain errors onto status codes.
func (s *Server) fail(rw http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hub.ErrUnknownStructure):
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "%v", err)
	case errors.Is(err, hub.ErrBadSession):
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "%v", err)
	case errors.Is(err, hub.ErrBadFilter):
		writeError(rw, http.StatusBadRequest, protocol.ErrBadCategory, "%v", err)
	case errors.Is(err, hub.ErrBadState):
		writeError(rw, http.StatusBadRequest, protocol.ErrUnknownState, "%v", err)
	case errors.Is(err, rotation.ErrBadRotation):
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRotation, "%v", err)
	case errors.Is(err, overlay.ErrNoPending):
		writeError(rw, http.StatusConflict, protocol.ErrNoPending, "%v", err)
	case errors.Is(err, overlay.ErrTooMany):
		writeError(rw, http.StatusConflict, protocol.ErrLimit, "%v", err)
	case errors.Is(err, structure.ErrBadDocument), errors.Is(err, structure.ErrShape):
		writeError(rw, http.StatusUnprocessableEntity, protocol.ErrFormat, "%v", err)
	default:
		s.logf("internal error: %v", err)
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, "%v", err)
	}
}

// decode reads a JSON body, checks it against schema when one is named,
// and unmarshals it into v. On failure it writes the response.
func decode(rw http.ResponseWriter, r *http.Request, schema string, v any) bool {
	b, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBodyBytes))
	if err != nil {
		writeError(rw, http.StatusRequestEntityTooLarge, protocol.ErrLimit, "read body: %v", err)
		return false
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		b = []byte("{}")
	}
	if schema != "" {
		if err := protocol.CheckJSON(schema, b); err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "%v", err)
			return false
		}
	}
	if err := json.Unmarshal(b, v); err != nil {
		if errors.Is(err, rotation.ErrBadRotation) {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRotation, "%v", err)
			return false
		}
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "%v", err)
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, format string, args ...any) {
	writeJSON(rw, status, protocol.ErrorResponse{Code: code, Message: fmt.Sprintf(format, args...)})
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			writeError(rw, http.StatusForbidden, protocol.ErrBadRequest, "forbidden")
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Server returns an http.Server for the router with the usual timeouts.
func (s *Server) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
