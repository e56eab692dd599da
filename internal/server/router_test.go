package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/loykin/devdash/internal/batch"
	"github.com/loykin/devdash/internal/event"
	"github.com/loykin/devdash/internal/manifest"
	"github.com/loykin/devdash/internal/metrics"
	"github.com/loykin/devdash/internal/registry"
	"github.com/loykin/devdash/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op, unit, script string
	paths            []string
}

type fakeService struct {
	mu       sync.Mutex
	units    []manifest.Unit
	running  []registry.Snapshot
	startErr error
	stopErr  error
	results  []batch.Result
	calls    []call
	bus      *event.Broadcaster
}

func newFakeService() *fakeService {
	return &fakeService{
		units: []manifest.Unit{
			{Name: "foo", Path: "/root/cat/foo", Scripts: map[string]string{"dev": "vite"}, Layout: manifest.LayoutCategories},
			{Name: "web", Path: "/apps/web", Scripts: map[string]string{}, Layout: manifest.LayoutApps},
		},
		bus: event.NewBroadcaster(),
	}
}

func (f *fakeService) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeService) ListUnits() ([]manifest.Unit, error) { return f.units, nil }

func (f *fakeService) ListUnitsIn(layout manifest.Layout) ([]manifest.Unit, error) {
	var out []manifest.Unit
	for _, u := range f.units {
		if u.Layout == layout {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeService) ListRunning(context.Context) ([]registry.Snapshot, error) {
	return f.running, nil
}

func (f *fakeService) RequestStart(_ context.Context, unit, script string) error {
	f.record(call{op: "start", unit: unit, script: script})
	return f.startErr
}

func (f *fakeService) RequestStop(_ context.Context, unit, script string) error {
	f.record(call{op: "stop", unit: unit, script: script})
	return f.stopErr
}

func (f *fakeService) SubscribeEvents(buffer int) (*event.Subscription, error) {
	return f.bus.Subscribe(buffer)
}

func (f *fakeService) Unsubscribe(id string) error { return f.bus.Unsubscribe(id) }

func (f *fakeService) InstallDependencies(_ context.Context, paths []string) ([]batch.Result, error) {
	f.record(call{op: "install", paths: paths})
	return f.results, nil
}

func (f *fakeService) LinkLocal(_ context.Context, paths []string) ([]batch.Result, error) {
	f.record(call{op: "link", paths: paths})
	return f.results, nil
}

func setupRouter(t *testing.T, svc Service, opts Options) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(svc, opts).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestListUnits(t *testing.T) {
	h := setupRouter(t, newFakeService(), Options{BasePath: "/api"})

	rec := doReq(t, h, http.MethodGet, "/api/units", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var units []manifest.Unit
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &units))
	assert.Len(t, units, 2)

	rec = doReq(t, h, http.MethodGet, "/api/modules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &units))
	require.Len(t, units, 1)
	assert.Equal(t, "/root/cat/foo", units[0].Path)
	assert.Equal(t, "vite", units[0].Scripts["dev"])

	rec = doReq(t, h, http.MethodGet, "/api/apps", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &units))
	require.Len(t, units, 1)
	assert.Equal(t, "web", units[0].Name)
}

func TestRunningScripts(t *testing.T) {
	svc := newFakeService()
	svc.running = []registry.Snapshot{{
		RunID: 1, UnitPath: "/root/cat/foo", Script: "dev", PID: 42,
		URL: "http://localhost:3000", Status: registry.StatusRunning,
	}}
	h := setupRouter(t, svc, Options{BasePath: "/api"})
	rec := doReq(t, h, http.MethodGet, "/api/running-scripts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "/root/cat/foo", got[0]["modulePath"])
	assert.Equal(t, "dev", got[0]["script"])
	assert.Equal(t, "http://localhost:3000", got[0]["url"])
	assert.Equal(t, "running", got[0]["status"])
}

func TestRunScriptStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		body any
		want int
	}{
		{"ok", nil, scriptRequest{ModulePath: "/root/cat/foo", Script: "dev"}, http.StatusOK},
		{"missing script", nil, scriptRequest{ModulePath: "/root/cat/foo"}, http.StatusBadRequest},
		{"relative path", nil, scriptRequest{ModulePath: "cat/foo", Script: "dev"}, http.StatusBadRequest},
		{"traversal", nil, scriptRequest{ModulePath: "/root/../etc", Script: "dev"}, http.StatusBadRequest},
		{"not found", supervisor.ErrNotFound, scriptRequest{ModulePath: "/root/cat/foo", Script: "nope"}, http.StatusNotFound},
		{"already running", supervisor.ErrAlreadyRunning, scriptRequest{ModulePath: "/root/cat/foo", Script: "dev"}, http.StatusConflict},
		{"spawn failure", &supervisor.SpawnError{UnitPath: "/root/cat/foo", Script: "dev", Err: errors.New("no such file")}, scriptRequest{ModulePath: "/root/cat/foo", Script: "dev"}, http.StatusInternalServerError},
		{"shutting down", supervisor.ErrShuttingDown, scriptRequest{ModulePath: "/root/cat/foo", Script: "dev"}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newFakeService()
			svc.startErr = tc.err
			h := setupRouter(t, svc, Options{BasePath: "/api"})
			rec := doReq(t, h, http.MethodPost, "/api/run-script", tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRunScriptInvalidJSON(t *testing.T) {
	h := setupRouter(t, newFakeService(), Options{BasePath: "/api"})
	req := httptest.NewRequest(http.MethodPost, "/api/run-script", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunScriptMessage(t *testing.T) {
	svc := newFakeService()
	h := setupRouter(t, svc, Options{BasePath: "/api"})
	rec := doReq(t, h, http.MethodPost, "/api/run-script", scriptRequest{ModulePath: "/root/cat/foo", Script: "dev"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp messageResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Running 'dev' in /root/cat/foo", resp.Message)
	assert.Equal(t, []call{{op: "start", unit: "/root/cat/foo", script: "dev"}}, svc.calls)
}

func TestStopScriptStatusCodes(t *testing.T) {
	for err, want := range map[error]int{
		nil:                      http.StatusOK,
		supervisor.ErrNotRunning: http.StatusBadRequest,
		&supervisor.SignalError{UnitPath: "/root/cat/foo", Script: "dev", PID: 9, Err: errors.New("operation not permitted")}: http.StatusInternalServerError,
	} {
		svc := newFakeService()
		svc.stopErr = err
		h := setupRouter(t, svc, Options{BasePath: "/api"})
		rec := doReq(t, h, http.MethodPost, "/api/stop-script", scriptRequest{ModulePath: "/root/cat/foo", Script: "dev"})
		assert.Equal(t, want, rec.Code, "error %v", err)
	}
}

func TestBatchEndpoints(t *testing.T) {
	svc := newFakeService()
	svc.results = []batch.Result{
		{Directory: "/root/cat/foo", Status: batch.StatusSuccess},
		{Directory: "/root/cat/bar", Status: batch.StatusFailed, Error: "exit status 1"},
	}
	h := setupRouter(t, svc, Options{BasePath: "/api"})
	paths := pathsRequest{Paths: []string{"/root/cat/foo", "/root/cat/bar"}}

	for _, p := range []string{"/api/install-dependencies", "/api/switch-to-local-files"} {
		rec := doReq(t, h, http.MethodPost, p, paths)
		require.Equal(t, http.StatusOK, rec.Code, p)
		var resp batchResp
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, svc.results, resp.Results)

		assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodPost, p, pathsRequest{}).Code)
		assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodPost, p, pathsRequest{Paths: []string{"rel"}}).Code)
	}
	require.Len(t, svc.calls, 2)
	assert.Equal(t, "install", svc.calls[0].op)
	assert.Equal(t, "link", svc.calls[1].op)
}

func TestHealthzAndCORS(t *testing.T) {
	h := setupRouter(t, newFakeService(), Options{BasePath: "/api"})
	rec := doReq(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = doReq(t, h, http.MethodOptions, "/api/run-script", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUsageEndpoint(t *testing.T) {
	svc := newFakeService()
	h := setupRouter(t, svc, Options{BasePath: "/api"})
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodGet, "/api/usage", nil).Code)

	h = setupRouter(t, svc, Options{BasePath: "/api", Usage: func() []metrics.Usage {
		return []metrics.Usage{{Unit: "/root/cat/foo", Script: "dev", PID: 42, CPUPercent: 1.5}}
	}})
	rec := doReq(t, h, http.MethodGet, "/api/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"modulePath":"/root/cat/foo"`)
}

func TestStaticFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>dash</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	h := setupRouter(t, newFakeService(), Options{BasePath: "/api", StaticDir: dir})

	rec := doReq(t, h, http.MethodGet, "/app.js", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	rec = doReq(t, h, http.MethodGet, "/modules/some/client/route", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dash")

	// dot segments never reach the filesystem
	rec = doReq(t, h, http.MethodGet, "/../../etc/passwd", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)

	rec = doReq(t, h, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventStream(t *testing.T) {
	svc := newFakeService()
	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(NewRouter(svc, Options{BasePath: "/api"}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	br := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for {
			line, err := br.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimPrefix(line, "data:")
			case line == "" && name != "":
				return name, data
			}
		}
	}
	name, _ := readEvent()
	require.Equal(t, "ready", name)
	require.Equal(t, 1, svc.bus.Subscribers())

	svc.bus.Publish(event.URLDetected("/root/cat/foo", "dev", "http://localhost:3000"))
	name, data := readEvent()
	assert.Equal(t, string(event.KindURLDetected), name)
	var e event.Event
	require.NoError(t, json.Unmarshal([]byte(data), &e))
	assert.Equal(t, "http://localhost:3000", e.URL)

	cancel()
	require.Eventually(t, func() bool { return svc.bus.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketStream(t *testing.T) {
	svc := newFakeService()
	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(NewRouter(svc, Options{BasePath: "/api"}).Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return svc.bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	svc.bus.Publish(event.Stopped("/root/cat/foo", "dev"))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e event.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, event.KindStopped, e.Type)
	assert.Equal(t, "dev", e.Script)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return svc.bus.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
