package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/lens-logic-core/internal/camera"
	"github.com/nerrad567/lens-logic-core/internal/confstore"
	"github.com/nerrad567/lens-logic-core/internal/eventlog"
	"github.com/nerrad567/lens-logic-core/internal/fleet"
	"github.com/nerrad567/lens-logic-core/internal/infrastructure/config"
	"github.com/nerrad567/lens-logic-core/internal/infrastructure/logging"
)

const testID = "LL-300_0001"

type mockDevice struct {
	identity string
	groups   map[string]camera.ParameterGroup

	mu     sync.Mutex
	queued []camera.Command
}

func (d *mockDevice) Identity() string            { return d.identity }
func (d *mockDevice) Name() string                { return "Stage Left" }
func (d *mockDevice) Host() string                { return "10.0.0.10" }
func (d *mockDevice) Index() int                  { return 1 }
func (d *mockDevice) Info() camera.DeviceInfo     { return camera.DeviceInfo{} }
func (d *mockDevice) Connected() bool             { return true }
func (d *mockDevice) Close(context.Context)       {}
func (d *mockDevice) SetOnError(camera.ErrorFunc) {}
func (d *mockDevice) Open(context.Context) error  { return nil }

func (d *mockDevice) Group(name string) camera.ParameterGroup { return d.groups[name] }

func (d *mockDevice) Groups() map[string]camera.ParameterGroup { return d.groups }

func (d *mockDevice) QueueRequest(command string, params map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queued = append(d.queued, camera.Command{Name: command, Params: params})
	return nil
}

func (d *mockDevice) queuedCommands() []camera.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]camera.Command, len(d.queued))
	copy(out, d.queued)
	return out
}

// failingDevice rejects Open with a fixed error.
type failingDevice struct {
	mockDevice
	openErr error
}

func (d *failingDevice) Open(context.Context) error { return d.openErr }

type mockStore struct {
	mu        sync.Mutex
	cameras   map[string]confstore.Camera
	snapshots map[string]map[string]any
}

func newMockStore() *mockStore {
	return &mockStore{
		cameras:   make(map[string]confstore.Camera),
		snapshots: make(map[string]map[string]any),
	}
}

func (s *mockStore) Create(_ context.Context, cam *confstore.Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cameras[cam.ID]; ok {
		return fmt.Errorf("%w: %s", confstore.ErrDuplicateID, cam.ID)
	}
	s.cameras[cam.ID] = *cam
	return nil
}

func (s *mockStore) Get(_ context.Context, id string) (*confstore.Camera, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, ok := s.cameras[id]
	if !ok {
		return nil, confstore.ErrNotFound
	}
	return &cam, nil
}

func (s *mockStore) List(_ context.Context) ([]confstore.Camera, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]confstore.Camera, 0, len(s.cameras))
	for _, cam := range s.cameras {
		out = append(out, cam)
	}
	return out, nil
}

func (s *mockStore) Update(_ context.Context, cam *confstore.Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cameras[cam.ID]; !ok {
		return confstore.ErrNotFound
	}
	s.cameras[cam.ID] = *cam
	return nil
}

func (s *mockStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cameras[id]; !ok {
		return confstore.ErrNotFound
	}
	delete(s.cameras, id)
	return nil
}

func (s *mockStore) SetOnline(_ context.Context, id string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cam, ok := s.cameras[id]; ok {
		cam.Online = online
		s.cameras[id] = cam
	}
	return nil
}

func (s *mockStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cam, ok := s.cameras[id]; ok {
		cam.Active = active
		s.cameras[id] = cam
	}
	return nil
}

func (s *mockStore) SaveSnapshot(_ context.Context, id string, snapshot map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[id] = snapshot
	return nil
}

func (s *mockStore) GetSnapshot(_ context.Context, id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, confstore.ErrNotFound
	}
	return snap, nil
}

// mockEvents serves a canned event history and records the last filter.
type mockEvents struct {
	mu     sync.Mutex
	events []eventlog.Event
	filter eventlog.Filter
}

func (m *mockEvents) Record(_ context.Context, ev *eventlog.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *mockEvents) List(_ context.Context, f eventlog.Filter) (*eventlog.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = f
	out := make([]eventlog.Event, len(m.events))
	copy(out, m.events)
	return &eventlog.ListResult{Events: out, Total: len(out), Limit: f.Limit, Offset: f.Offset}, nil
}

func (m *mockEvents) lastFilter() eventlog.Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter
}

type testEnv struct {
	server *Server
	router http.Handler
	store  *mockStore
	device *mockDevice
	events *mockEvents
	token  string
}

func testSecurity() config.SecurityConfig {
	return config.SecurityConfig{
		JWT: config.JWTConfig{
			Secret:         "0123456789abcdef0123456789abcdef",
			AccessTokenTTL: 15,
		},
		Auth: config.AuthConfig{
			Username: "admin",
			Password: "operator-secret",
		},
	}
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// newTestEnv builds a server whose fleet factory hands out the given
// device. Pass nil to use a default healthy mock.
func newTestEnv(t *testing.T, dev fleet.Device) *testEnv {
	t.Helper()

	mock := &mockDevice{identity: testID}
	mock.groups = map[string]camera.ParameterGroup{
		camera.GroupExposure: camera.NewGroup(camera.GroupExposure, mock, []camera.FieldSpec{
			{Attr: "iris", Path: "Exposure.Iris"},
		}),
		camera.GroupTally: &camera.TallyGroup{
			Group: camera.NewGroup(camera.GroupTally, mock, []camera.FieldSpec{
				{Attr: "tally", Path: "Tally.Status", Optional: true},
			}),
		},
	}
	if dev == nil {
		dev = mock
	}

	store := newMockStore()
	events := &mockEvents{}
	engine := fleet.NewEngine(store,
		func(camera.DeviceConfig) fleet.Device { return dev },
		nil, nil, fleet.Options{ReconnectBackoff: 10 * time.Millisecond})

	srv, err := New(Deps{
		Config:   config.APIConfig{},
		WS:       config.WebSocketConfig{PingInterval: 30, PongTimeout: 10, MaxMessageSize: 8192},
		Security: testSecurity(),
		Logger:   testLogger(),
		Store:    store,
		Engine:   engine,
		Events:   events,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv.hub = NewHub(srv.wsCfg, srv.logger)

	env := &testEnv{
		server: srv,
		router: srv.buildRouter(),
		store:  store,
		device: mock,
		events: events,
	}
	env.token = env.login(t, "admin", "operator-secret")
	return env
}

// login posts credentials and returns the access token, or "" on failure.
func (e *testEnv) login(t *testing.T, user, pass string) string {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Username: user, Password: pass})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		return ""
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	return resp.AccessToken
}

// do performs an authenticated request against the router.
func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// createCamera inserts a record through the API.
func (e *testEnv) createCamera(t *testing.T) {
	t.Helper()
	rec := e.do(http.MethodPost, "/api/v1/cameras", createCameraRequest{
		ID: testID, Name: "Stage Left", Host: "10.0.0.10", Port: 80,
		Username: "admin", Password: "secret", Index: 1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create camera: status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthNoAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t, nil)

	if token := env.login(t, "admin", "wrong"); token != "" {
		t.Error("login with wrong password succeeded")
	}
	if token := env.login(t, "intruder", "operator-secret"); token != "" {
		t.Error("login with wrong username succeeded")
	}
	if env.token == "" {
		t.Error("login with correct credentials failed")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		header string
	}{
		{""},
		{"Bearer not-a-token"},
		{"Basic Zm9vOmJhcg=="},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cameras", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", tt.header, rec.Code)
		}
	}

	if rec := env.do(http.MethodGet, "/api/v1/cameras", nil); rec.Code != http.StatusOK {
		t.Errorf("authenticated list: status = %d, want 200", rec.Code)
	}
}

func TestCameraCRUD(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createCamera(t)

	// Duplicate create conflicts.
	rec := env.do(http.MethodPost, "/api/v1/cameras", createCameraRequest{
		ID: testID, Host: "10.0.0.10",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate create: status = %d, want 409", rec.Code)
	}

	// Get returns the record, not live.
	rec = env.do(http.MethodGet, "/api/v1/cameras/"+testID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	var view cameraView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decoding view: %v", err)
	}
	if view.ID != testID || view.Live {
		t.Errorf("view = %+v, want id %s live=false", view, testID)
	}

	// Patch host.
	newHost := "10.0.0.99"
	rec = env.do(http.MethodPatch, "/api/v1/cameras/"+testID, updateCameraRequest{Host: &newHost})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: status = %d", rec.Code)
	}
	cam, err := env.store.Get(context.Background(), testID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if cam.Host != newHost {
		t.Errorf("host = %s, want %s", cam.Host, newHost)
	}

	// Delete then get 404.
	if rec = env.do(http.MethodDelete, "/api/v1/cameras/"+testID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	if rec = env.do(http.MethodGet, "/api/v1/cameras/"+testID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rec.Code)
	}
}

func TestCreateDerivesIdentity(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/cameras", createCameraRequest{
		Model: "LL-300", Serial: "0042", Host: "10.0.0.11",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", rec.Code, rec.Body.String())
	}
	var view cameraView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decoding view: %v", err)
	}
	if view.ID != "LL-300_0042" {
		t.Errorf("id = %s, want LL-300_0042", view.ID)
	}

	rec = env.do(http.MethodPost, "/api/v1/cameras", createCameraRequest{Host: "10.0.0.12"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("create without identity: status = %d, want 400", rec.Code)
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createCamera(t)

	rec := env.do(http.MethodPost, "/api/v1/cameras/"+testID+"/connect", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("connect: status %d: %s", rec.Code, rec.Body.String())
	}
	var view cameraView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decoding view: %v", err)
	}
	if !view.Live || view.State != "connected" {
		t.Errorf("view = %+v, want live connected", view)
	}

	if rec = env.do(http.MethodPost, "/api/v1/cameras/"+testID+"/disconnect", nil); rec.Code != http.StatusOK {
		t.Fatalf("disconnect: status = %d", rec.Code)
	}
	if rec = env.do(http.MethodPost, "/api/v1/cameras/"+testID+"/disconnect", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second disconnect: status = %d, want 404", rec.Code)
	}
}

func TestConnectMapsCameraErrors(t *testing.T) {
	failing := &failingDevice{
		openErr: fmt.Errorf("%w: credentials rejected", camera.ErrAuthFailed),
	}
	failing.identity = testID
	env := newTestEnv(t, failing)
	env.createCamera(t)

	rec := env.do(http.MethodPost, "/api/v1/cameras/"+testID+"/connect", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("connect: status = %d, want 502", rec.Code)
	}
	var apiErr Error
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("decoding error: %v", err)
	}
	if apiErr.Code != ErrCodeUpstream {
		t.Errorf("code = %s, want %s", apiErr.Code, ErrCodeUpstream)
	}
}

func TestCameraCommandQueues(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createCamera(t)

	// Not connected yet.
	rec := env.do(http.MethodPost, "/api/v1/cameras/"+testID+"/command",
		commandRequest{Command: "GetCamStatus"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("command while disconnected: status = %d, want 404", rec.Code)
	}

	if rec = env.do(http.MethodPost, "/api/v1/cameras/"+testID+"/connect", nil); rec.Code != http.StatusOK {
		t.Fatalf("connect: status = %d", rec.Code)
	}

	rec = env.do(http.MethodPost, "/api/v1/cameras/"+testID+"/command",
		commandRequest{Command: "SetWebButtonEvent", Params: map[string]any{"Kind": "GainUp"}})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("command: status = %d", rec.Code)
	}

	queued := env.device.queuedCommands()
	if len(queued) != 1 || queued[0].Name != "SetWebButtonEvent" {
		t.Errorf("queued = %+v", queued)
	}
}

func TestSetTally(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createCamera(t)

	if rec := env.do(http.MethodPost, "/api/v1/cameras/"+testID+"/connect", nil); rec.Code != http.StatusOK {
		t.Fatalf("connect: status = %d", rec.Code)
	}

	rec := env.do(http.MethodPut, "/api/v1/cameras/"+testID+"/tally", tallyRequest{Tally: "Red"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("tally: status %d: %s", rec.Code, rec.Body.String())
	}

	queued := env.device.queuedCommands()
	if len(queued) != 1 || queued[0].Name != "SetStudioTally" || queued[0].Params["Tally"] != "Red" {
		t.Errorf("queued = %+v, want SetStudioTally Red", queued)
	}
}

func TestCameraStateFallsBackToSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createCamera(t)

	env.store.mu.Lock()
	env.store.snapshots[testID] = map[string]any{
		"exposure": map[string]any{"iris": 4.0},
	}
	env.store.mu.Unlock()

	rec := env.do(http.MethodGet, "/api/v1/cameras/"+testID+"/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state: status = %d", rec.Code)
	}
	var resp struct {
		Live  bool                      `json:"live"`
		State map[string]map[string]any `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if resp.Live {
		t.Error("live = true for disconnected camera")
	}
	if resp.State["exposure"]["iris"] != 4.0 {
		t.Errorf("state = %+v, want snapshot iris 4", resp.State)
	}

	// Once connected, live poll state wins.
	if rec = env.do(http.MethodPost, "/api/v1/cameras/"+testID+"/connect", nil); rec.Code != http.StatusOK {
		t.Fatalf("connect: status = %d", rec.Code)
	}
	if err := env.device.groups[camera.GroupExposure].ParseStatus(map[string]any{
		"Exposure": map[string]any{"Iris": 2.8},
	}); err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}

	rec = env.do(http.MethodGet, "/api/v1/cameras/"+testID+"/state", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if !resp.Live || resp.State["exposure"]["iris"] != 2.8 {
		t.Errorf("live state = %+v", resp)
	}
}

func TestSystemStatus(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/v1/system/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Version    string            `json:"version"`
		Components map[string]string `json:"components"`
		Fleet      fleet.Stats       `json:"fleet"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if resp.Version != "test" || resp.Components["api"] != "ok" {
		t.Errorf("response = %+v", resp)
	}
	// MQTT and InfluxDB were not wired, so they must not be reported.
	if _, ok := resp.Components["mqtt"]; ok {
		t.Error("mqtt reported without a client")
	}
}

func TestWSTicketFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/auth/ws-ticket", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ws-ticket: status = %d", rec.Code)
	}
	var resp struct {
		Ticket string `json:"ticket"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding ticket: %v", err)
	}
	if resp.Ticket == "" {
		t.Fatal("empty ticket")
	}

	entry, ok := env.server.tickets.consume(resp.Ticket)
	if !ok {
		t.Fatal("ticket did not validate")
	}
	if entry.user != "admin" {
		t.Errorf("ticket user = %q, want admin", entry.user)
	}
	if _, ok := env.server.tickets.consume(resp.Ticket); ok {
		t.Error("ticket validated twice")
	}
}

func TestFleetEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	env.events.events = []eventlog.Event{
		{ID: "evt-1", Event: eventlog.EventConnected, CameraID: testID},
		{ID: "evt-2", Event: eventlog.EventRemoved, CameraID: testID, Reason: "timeout"},
	}

	rec := env.do(http.MethodGet, "/api/v1/fleet/events?event=removed&camera="+testID+"&limit=10&offset=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var res eventlog.ListResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding events: %v", err)
	}
	if res.Total != 2 {
		t.Errorf("total = %d, want 2", res.Total)
	}

	f := env.events.lastFilter()
	if f.Event != "removed" || f.CameraID != testID || f.Limit != 10 || f.Offset != 5 {
		t.Errorf("filter = %+v, query params not applied", f)
	}

	rec = env.do(http.MethodGet, "/api/v1/fleet/events?limit=lots", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", rec.Code)
	}
}
