package web

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cjeanneret/ptfmove/internal/debug"
	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
	"github.com/cjeanneret/ptfmove/internal/logic/planner"
	"github.com/cjeanneret/ptfmove/internal/store"
)

const maxRequestBytes = 64 << 10

// Planner plans a move of both gantries.
type Planner interface {
	Plan(current, dest geometry.Pose) (*planner.MotionPlan, error)
}

// Machine reports where the gantries are and drives them through a plan.
type Machine interface {
	Pose() geometry.Pose
	Execute(ctx context.Context, rows []geometry.Waypoint, onRow func(i int, w geometry.Waypoint)) error
}

// Journal stores plan requests. Optional.
type Journal interface {
	Record(ctx context.Context, e store.Entry) (string, error)
	MarkExecuted(ctx context.Context, id string, execErr error) error
	Recent(ctx context.Context, limit int) ([]store.Entry, error)
}

// MachineInfo is the static part of GET /config.
type MachineInfo struct {
	Home   geometry.Pose     `json:"home"`
	Limits planner.Limits    `json:"limits"`
	Travel [2]planner.Travel `json:"travel"`
}

// Deps are the handler dependencies. Journal may be nil.
type Deps struct {
	Planner Planner
	Machine Machine
	Journal Journal
	Info    MachineInfo
}

// MoveRequest is the body of POST /plan and POST /move.
type MoveRequest struct {
	Dest geometry.Pose `json:"dest"`
}

// PlanResponse answers POST /plan and POST /move.
type PlanResponse struct {
	ID     string              `json:"id,omitempty"`
	Status string              `json:"status"`
	Reason string              `json:"reason,omitempty"`
	Plan   *planner.MotionPlan `json:"plan,omitempty"`
}

// RowEvent is published on the status stream as each row is reached.
type RowEvent struct {
	ID     string            `json:"id,omitempty"`
	Row    int               `json:"row"`
	Total  int               `json:"total"`
	Counts geometry.Waypoint `json:"counts"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	deps        Deps
	staticFS    fs.FS

	runningMu sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewHandlers(broadcaster *StatusBroadcaster, deps Deps, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		deps:        deps,
		staticFS:    staticFS,
	}
}

// Moving reports whether a move is in progress.
func (h *Handlers) Moving() bool {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	return h.running
}

// Stop cancels the move in progress, if any. It reports whether there was one.
func (h *Handlers) Stop() bool {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	if h.cancel == nil {
		return false
	}
	h.cancel()
	return true
}

// Wait blocks until the move in progress has returned.
func (h *Handlers) Wait() {
	h.wg.Wait()
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// HandleConfig returns limits, home and the current pose.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"machine": h.deps.Info,
		"pose":    h.deps.Machine.Pose(),
		"moving":  h.Moving(),
	})
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func decodeMove(w http.ResponseWriter, r *http.Request) (geometry.Pose, bool) {
	var req MoveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return geometry.Pose{}, false
	}
	return req.Dest, true
}

// plan runs the planner from the current pose and journals the outcome.
func (h *Handlers) plan(ctx context.Context, source string, dest geometry.Pose) (PlanResponse, *planner.MotionPlan) {
	cur := h.deps.Machine.Pose()
	plan, err := h.deps.Planner.Plan(cur, dest)

	resp := PlanResponse{Status: planner.StatusOf(err).String(), Plan: plan}
	entry := store.Entry{Source: source, Current: cur, Dest: dest, Status: resp.Status}
	if err != nil {
		resp.Reason = err.Error()
		entry.Reason = resp.Reason
		debug.Info("Plan (%s) rejected: %v", source, err)
	} else {
		entry.Ordering = plan.Ordering().String()
		entry.Rows = plan.Len()
	}

	if h.deps.Journal != nil {
		id, jerr := h.deps.Journal.Record(ctx, entry)
		if jerr != nil {
			debug.Error(jerr)
		}
		resp.ID = id
	}
	return resp, plan
}

// HandlePlan handles POST /plan: plan only, nothing moves.
func (h *Handlers) HandlePlan(w http.ResponseWriter, r *http.Request) {
	dest, ok := decodeMove(w, r)
	if !ok {
		return
	}
	resp, plan := h.plan(r.Context(), "web", dest)
	if plan == nil {
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMove handles POST /move: plan, then execute in the background.
// Only one move runs at a time.
func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	dest, ok := decodeMove(w, r)
	if !ok {
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "move already in progress", http.StatusConflict)
		return
	}
	h.running = true
	h.runningMu.Unlock()

	resp, plan := h.plan(r.Context(), "web", dest)
	if plan == nil {
		h.finish()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.runningMu.Lock()
	h.cancel = cancel
	h.runningMu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.finish()
		h.execute(ctx, resp.ID, plan)
	}()

	resp.Status = "started"
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handlers) execute(ctx context.Context, id string, plan *planner.MotionPlan) {
	total := plan.Len() - 1
	err := h.deps.Machine.Execute(ctx, plan.Steps, func(i int, wp geometry.Waypoint) {
		h.Broadcaster.Publish("row", RowEvent{ID: id, Row: i, Total: total, Counts: wp})
	})

	if h.deps.Journal != nil && id != "" {
		// the request context is gone by now
		jctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if jerr := h.deps.Journal.MarkExecuted(jctx, id, err); jerr != nil {
			debug.Error(jerr)
		}
		cancel()
	}

	switch {
	case err == nil:
		h.Broadcaster.Publish("done", h.deps.Machine.Pose())
		debug.Info("Move complete (%d rows)", total)
	case errors.Is(err, context.Canceled):
		h.Broadcaster.Publish("stopped", h.deps.Machine.Pose())
		debug.Info("Move stopped")
	default:
		h.Broadcaster.Broadcast("error", "Move failed: "+err.Error())
		debug.Error(err)
	}
}

func (h *Handlers) finish() {
	h.runningMu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.running = false
	h.runningMu.Unlock()
}

// HandleStop handles POST /stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	status := "idle"
	if h.Stop() {
		status = "stopping"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// HandlePlans handles GET /plans?limit=N.
func (h *Handlers) HandlePlans(w http.ResponseWriter, r *http.Request) {
	if h.deps.Journal == nil {
		http.Error(w, "journal not configured", http.StatusServiceUnavailable)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := h.deps.Journal.Recent(r.Context(), limit)
	if err != nil {
		debug.Error(err)
		http.Error(w, "journal query failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
