package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/cjeanneret/ptfmove/internal/config"
	"github.com/cjeanneret/ptfmove/internal/hw/gpio"
	"github.com/cjeanneret/ptfmove/internal/hw/stepper"
	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
	"github.com/cjeanneret/ptfmove/internal/logic/motion"
	"github.com/cjeanneret/ptfmove/internal/logic/planner"
	"github.com/cjeanneret/ptfmove/internal/store"
)

// ---------- fakes ----------

type fakePlanner struct {
	err error
}

func (p *fakePlanner) Plan(current, dest geometry.Pose) (*planner.MotionPlan, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &planner.MotionPlan{
		Poses: []geometry.Pose{current, dest},
		Steps: []geometry.Waypoint{{}, {10}},
	}, nil
}

type fakeMachine struct {
	mu    sync.Mutex
	pose  geometry.Pose
	runs  int
	block chan struct{} // when set, Execute waits on it or on ctx
}

func (m *fakeMachine) Pose() geometry.Pose {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pose
}

func (m *fakeMachine) Execute(ctx context.Context, rows []geometry.Waypoint, onRow func(int, geometry.Waypoint)) error {
	m.mu.Lock()
	m.runs++
	m.mu.Unlock()
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for i := 1; i < len(rows); i++ {
		if onRow != nil {
			onRow(i, rows[i])
		}
	}
	return nil
}

func (m *fakeMachine) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []store.Entry
}

func (j *fakeJournal) Record(_ context.Context, e store.Entry) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e.ID = fmt.Sprintf("plan-%d", len(j.entries)+1)
	j.entries = append(j.entries, e)
	return e.ID, nil
}

func (j *fakeJournal) MarkExecuted(_ context.Context, id string, execErr error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.entries {
		if j.entries[i].ID == id {
			j.entries[i].Executed = true
			if execErr != nil {
				j.entries[i].ExecError = execErr.Error()
			}
			return nil
		}
	}
	return errors.New("not found")
}

func (j *fakeJournal) Recent(_ context.Context, limit int) ([]store.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := append([]store.Entry(nil), j.entries...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (j *fakeJournal) get(i int) store.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.entries[i]
}

// ---------- helpers ----------

func newTestHandlers(p Planner, m Machine, j Journal) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	deps := Deps{Planner: p, Machine: m, Info: MachineInfo{Home: geometry.Pose{Gantry1: geometry.AxisPose{X: 0.65}}}}
	if j != nil {
		deps.Journal = j
	}
	return NewHandlers(NewStatusBroadcaster(), deps, staticFS)
}

func moveBody(t *testing.T) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(MoveRequest{Dest: geometry.Pose{Gantry0: geometry.AxisPose{X: 0.3, Y: 0.3}}})
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(data)
}

func decodePlan(t *testing.T, w *httptest.ResponseRecorder) PlanResponse {
	t.Helper()
	var resp PlanResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

// ---------- HandlePlan ----------

func TestHandlePlan_Accepted(t *testing.T) {
	j := &fakeJournal{}
	h := newTestHandlers(&fakePlanner{}, &fakeMachine{}, j)
	w := httptest.NewRecorder()

	h.HandlePlan(w, httptest.NewRequest(http.MethodPost, "/plan", moveBody(t)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodePlan(t, w)
	if resp.Status != "Success" || resp.Plan == nil || resp.Plan.Len() != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.ID != "plan-1" {
		t.Errorf("id = %q, want plan-1", resp.ID)
	}
	if e := j.get(0); e.Status != "Success" || e.Rows != 2 || e.Source != "web" || e.Executed {
		t.Errorf("journal entry = %+v", e)
	}
}

func TestHandlePlan_Rejected(t *testing.T) {
	j := &fakeJournal{}
	p := &fakePlanner{err: &planner.ConfigurationError{Reason: "rotation out of range"}}
	h := newTestHandlers(p, &fakeMachine{}, j)
	w := httptest.NewRecorder()

	h.HandlePlan(w, httptest.NewRequest(http.MethodPost, "/plan", moveBody(t)))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	resp := decodePlan(t, w)
	if resp.Status != "BadDestination" || resp.Plan != nil {
		t.Errorf("unexpected response %+v", resp)
	}
	if !strings.Contains(resp.Reason, "rotation") {
		t.Errorf("reason = %q, want it to mention rotation", resp.Reason)
	}
	if e := j.get(0); e.Status != "BadDestination" || e.Reason == "" {
		t.Errorf("journal entry = %+v", e)
	}
}

func TestHandlePlan_BadBody(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not_json", "not json"},
		{"unknown_field", `{"destination": {}}`},
		{"wrong_type", `{"dest": {"gantry0": {"x": "far"}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers(&fakePlanner{}, &fakeMachine{}, nil)
			w := httptest.NewRecorder()
			h.HandlePlan(w, httptest.NewRequest(http.MethodPost, "/plan", strings.NewReader(tc.body)))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandlePlan_NoJournal(t *testing.T) {
	h := newTestHandlers(&fakePlanner{}, &fakeMachine{}, nil)
	w := httptest.NewRecorder()
	h.HandlePlan(w, httptest.NewRequest(http.MethodPost, "/plan", moveBody(t)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if resp := decodePlan(t, w); resp.ID != "" {
		t.Errorf("id = %q, want empty without a journal", resp.ID)
	}
}

// ---------- HandleMove ----------

func TestHandleMove_Started(t *testing.T) {
	j := &fakeJournal{}
	m := &fakeMachine{}
	h := newTestHandlers(&fakePlanner{}, m, j)
	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w := httptest.NewRecorder()
	h.HandleMove(w, httptest.NewRequest(http.MethodPost, "/move", moveBody(t)))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if resp := decodePlan(t, w); resp.Status != "started" {
		t.Errorf("response status = %q, want \"started\"", resp.Status)
	}

	h.Wait()
	if m.count() != 1 {
		t.Errorf("machine ran %d times, want 1", m.count())
	}
	if h.Moving() {
		t.Error("still moving after Wait")
	}
	if e := j.get(0); !e.Executed || e.ExecError != "" {
		t.Errorf("journal entry = %+v, want executed without error", e)
	}

	var kinds []string
	for len(ch) > 0 {
		var evt StatusEvent
		json.Unmarshal([]byte(<-ch), &evt)
		if evt.Kind != "" {
			kinds = append(kinds, evt.Kind)
		}
	}
	if len(kinds) != 2 || kinds[0] != "row" || kinds[1] != "done" {
		t.Errorf("events = %v, want [row done]", kinds)
	}
}

func TestHandleMove_ConflictAndStop(t *testing.T) {
	j := &fakeJournal{}
	m := &fakeMachine{block: make(chan struct{})}
	h := newTestHandlers(&fakePlanner{}, m, j)

	w := httptest.NewRecorder()
	h.HandleMove(w, httptest.NewRequest(http.MethodPost, "/move", moveBody(t)))
	if w.Code != http.StatusAccepted {
		t.Fatalf("first move status = %d, want %d", w.Code, http.StatusAccepted)
	}

	w = httptest.NewRecorder()
	h.HandleMove(w, httptest.NewRequest(http.MethodPost, "/move", moveBody(t)))
	if w.Code != http.StatusConflict {
		t.Errorf("second move status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = httptest.NewRecorder()
	h.HandleStop(w, httptest.NewRequest(http.MethodPost, "/stop", nil))
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "stopping" {
		t.Errorf("stop status = %q, want \"stopping\"", resp["status"])
	}

	h.Wait()
	if h.Moving() {
		t.Error("still moving after stop")
	}
	if e := j.get(0); !e.Executed || !strings.Contains(e.ExecError, "canceled") {
		t.Errorf("journal entry = %+v, want cancelled execution", e)
	}
	if len(j.entries) != 1 {
		t.Errorf("journal has %d entries, want 1 (conflict is not planned)", len(j.entries))
	}
}

func TestHandleMove_Rejected(t *testing.T) {
	m := &fakeMachine{}
	h := newTestHandlers(&fakePlanner{err: planner.ErrNoCollisionFreePath}, m, nil)

	w := httptest.NewRecorder()
	h.HandleMove(w, httptest.NewRequest(http.MethodPost, "/move", moveBody(t)))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	if h.Moving() {
		t.Error("rejected move left the handler busy")
	}
	if m.count() != 0 {
		t.Error("rejected move reached the machine")
	}
}

func TestHandleStop_Idle(t *testing.T) {
	h := newTestHandlers(&fakePlanner{}, &fakeMachine{}, nil)
	w := httptest.NewRecorder()
	h.HandleStop(w, httptest.NewRequest(http.MethodPost, "/stop", nil))

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "idle" {
		t.Errorf("status = %q, want \"idle\"", resp["status"])
	}
}

// ---------- HandlePlans ----------

func TestHandlePlans(t *testing.T) {
	j := &fakeJournal{}
	for i := 0; i < 3; i++ {
		j.Record(context.Background(), store.Entry{Source: "cli", Status: "Success"})
	}
	h := newTestHandlers(&fakePlanner{}, &fakeMachine{}, j)

	w := httptest.NewRecorder()
	h.HandlePlans(w, httptest.NewRequest(http.MethodGet, "/plans?limit=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var entries []store.Entry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2", len(entries))
	}
}

func TestHandlePlans_Errors(t *testing.T) {
	h := newTestHandlers(&fakePlanner{}, &fakeMachine{}, nil)
	w := httptest.NewRecorder()
	h.HandlePlans(w, httptest.NewRequest(http.MethodGet, "/plans", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("no journal: status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	h = newTestHandlers(&fakePlanner{}, &fakeMachine{}, &fakeJournal{})
	w = httptest.NewRecorder()
	h.HandlePlans(w, httptest.NewRequest(http.MethodGet, "/plans?limit=ten", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ---------- HandleConfig / index ----------

func TestHandleConfig(t *testing.T) {
	m := &fakeMachine{pose: geometry.Pose{Gantry0: geometry.AxisPose{X: 0.25}}}
	h := newTestHandlers(&fakePlanner{}, m, nil)
	w := httptest.NewRecorder()
	h.HandleConfig(w, httptest.NewRequest(http.MethodGet, "/config", nil))

	var resp struct {
		Machine MachineInfo   `json:"machine"`
		Pose    geometry.Pose `json:"pose"`
		Moving  bool          `json:"moving"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pose.Gantry0.X != 0.25 {
		t.Errorf("pose x0 = %v, want 0.25", resp.Pose.Gantry0.X)
	}
	if resp.Machine.Home.Gantry1.X != 0.65 {
		t.Errorf("home x1 = %v, want 0.65", resp.Machine.Home.Gantry1.X)
	}
	if resp.Moving {
		t.Error("moving = true, want false")
	}
}

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(&fakePlanner{}, &fakeMachine{}, nil)
	w := httptest.NewRecorder()
	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content-type = %q", ct)
	}
}

func TestHandleStatusStream_Delivers(t *testing.T) {
	h := newTestHandlers(&fakePlanner{}, &fakeMachine{}, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleStatusStream))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q", ct)
	}

	// wait for the subscription before broadcasting
	deadline := time.Now().Add(time.Second)
	for h.Broadcaster.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.Broadcaster.Broadcast("info", "streamed")

	buf := make([]byte, 512)
	var got strings.Builder
	for !strings.Contains(got.String(), "streamed") && time.Now().Before(deadline.Add(time.Second)) {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			break
		}
	}
	if !strings.Contains(got.String(), "data: ") || !strings.Contains(got.String(), "streamed") {
		t.Errorf("stream = %q, want a data line with the message", got.String())
	}
}

// ---------- Server ----------

func TestServer_Routes(t *testing.T) {
	s, err := NewServer("", NewStatusBroadcaster(), Deps{Planner: &fakePlanner{}, Machine: &fakeMachine{}})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s.Mux())
	defer srv.Close()

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/config", http.StatusOK},
		{http.MethodGet, "/plan", http.StatusMethodNotAllowed},
		{http.MethodGet, "/move", http.StatusMethodNotAllowed},
		{http.MethodGet, "/plans", http.StatusServiceUnavailable},
		{http.MethodPost, "/stop", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(tc.method, srv.URL+tc.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, resp.StatusCode, tc.want)
		}
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s, err := NewServer("127.0.0.1:0", NewStatusBroadcaster(), Deps{Planner: &fakePlanner{}, Machine: &fakeMachine{}})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// ---------- end to end with the real planner ----------

func TestServer_MoveWithPlanner(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "default.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	settings, err := cfg.PlannerSettings()
	if err != nil {
		t.Fatal(err)
	}
	for i := range settings.Scales {
		settings.Scales[i] = geometry.AxisScale{Scale: 1000}
	}
	drv := gpio.NewMockDriver()
	var axes [geometry.NumAxes]*stepper.Stepper
	for i := range axes {
		axes[i] = stepper.NewStepper(drv, stepper.Config{
			Name:    geometry.Axis(i).String(),
			StepPin: 2 * i, DirPin: 2*i + 1,
			StepDelay: time.Nanosecond,
		})
	}
	ctrl := motion.NewController(axes, settings.Scales)
	ctrl.SetPose(cfg.Home())

	j := &fakeJournal{}
	s, err := NewServer("", NewStatusBroadcaster(), Deps{Planner: planner.New(settings), Machine: ctrl, Journal: j})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s.Mux())
	defer srv.Close()

	body := `{"dest": {"gantry0": {"x": 0.3, "y": 0.3}, "gantry1": {"x": 0.65, "y": 0.65, "rotation": -90}}}`
	resp, err := http.Post(srv.URL+"/move", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	s.Handlers().Wait()

	c := ctrl.Counts()
	if c[geometry.AxisX0] != 300 || c[geometry.AxisY0] != 300 {
		t.Errorf("gantry0 at (%d, %d) counts, want (300, 300)", c[geometry.AxisX0], c[geometry.AxisY0])
	}
	if e := j.get(0); !e.Executed || e.ExecError != "" {
		t.Errorf("journal entry = %+v", e)
	}
}
