package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/RegionPiP/internal/config"
	"github.com/bryanchriswhite/RegionPiP/internal/controller"
	"github.com/bryanchriswhite/RegionPiP/internal/failure"
	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
	"github.com/bryanchriswhite/RegionPiP/internal/settings"
	"github.com/gorilla/websocket"
)

type fakeControl struct {
	mu           sync.Mutex
	phase        controller.Phase
	presentation settings.PresentationState
	target       config.TargetIdentity
	startErr     error
	starts       []*geometry.Rect
	started      chan struct{}
	stops        int
	events       chan controller.Event
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		phase:        controller.PhaseIdle,
		presentation: settings.Defaults(),
		started:      make(chan struct{}, 4),
		events:       make(chan controller.Event, 4),
	}
}

func (f *fakeControl) Status(context.Context) (controller.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return controller.Status{Phase: f.phase, Target: f.target, Presentation: f.presentation}, nil
}

func (f *fakeControl) StartCapture(_ context.Context, region *geometry.Rect) error {
	f.mu.Lock()
	f.starts = append(f.starts, region)
	err := f.startErr
	if err == nil {
		f.phase = controller.PhaseActive
	}
	f.mu.Unlock()
	f.started <- struct{}{}
	return err
}

func (f *fakeControl) StopCapture(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.phase = controller.PhaseIdle
	return nil
}

func (f *fakeControl) Presentation(context.Context) (settings.PresentationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presentation, nil
}

func (f *fakeControl) ApplyPresentation(_ context.Context, s settings.PresentationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presentation = s.Normalized()
	return nil
}

func (f *fakeControl) SetOpacity(_ context.Context, v float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presentation.Opacity = settings.ClampOpacity(v)
	return f.presentation.Opacity, nil
}

func (f *fakeControl) SetAlwaysOnTop(_ context.Context, onTop bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presentation.AlwaysOnTop = onTop
	return nil
}

func (f *fakeControl) SetFrameRate(_ context.Context, fps int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presentation.FrameRate = fps
	return nil
}

func (f *fakeControl) SetShowCursor(_ context.Context, show bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presentation.ShowCursor = show
	return nil
}

func (f *fakeControl) Target(context.Context) (config.TargetIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target, nil
}

func (f *fakeControl) SetTarget(_ context.Context, t config.TargetIdentity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = t
	return nil
}

func (f *fakeControl) Applications() ([]config.Application, error) {
	return []config.Application{{ID: "firefox", Name: "Firefox", WindowClass: "firefox"}}, nil
}

func (f *fakeControl) Subscribe(int) (<-chan controller.Event, func()) {
	return f.events, func() {}
}

func newTestServer(t *testing.T, ctrl *fakeControl) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(NewServer(ctx, ctrl, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newFakeControl())

	resp, body := do(t, "GET", srv.URL+"/api/health", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestStartRunsInBackground(t *testing.T) {
	ctrl := newFakeControl()
	srv := newTestServer(t, ctrl)

	resp, body := do(t, "POST", srv.URL+"/api/capture/start", `{"region":{"x":1,"y":2,"width":30,"height":40}}`)
	if resp.StatusCode != http.StatusAccepted || body["status"] != "starting" {
		t.Fatalf("start = %d %v", resp.StatusCode, body)
	}

	select {
	case <-ctrl.started:
	case <-time.After(2 * time.Second):
		t.Fatal("capture never started")
	}
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.starts) != 1 || ctrl.starts[0] == nil || ctrl.starts[0].Width != 30 {
		t.Errorf("starts = %v", ctrl.starts)
	}
}

func TestStartWithoutBodySelectsInteractively(t *testing.T) {
	ctrl := newFakeControl()
	srv := newTestServer(t, ctrl)

	resp, _ := do(t, "POST", srv.URL+"/api/capture/start", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	<-ctrl.started
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.starts[0] != nil {
		t.Errorf("region = %v, want nil", ctrl.starts[0])
	}
}

func TestStartWhileBusy(t *testing.T) {
	ctrl := newFakeControl()
	ctrl.phase = controller.PhaseSelecting
	srv := newTestServer(t, ctrl)

	resp, _ := do(t, "POST", srv.URL+"/api/capture/start", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestStartRejectsEmptyRegion(t *testing.T) {
	srv := newTestServer(t, newFakeControl())

	resp, _ := do(t, "POST", srv.URL+"/api/capture/start", `{"region":{"x":1,"y":2,"width":0,"height":40}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStartWaitReportsFailureKind(t *testing.T) {
	ctrl := newFakeControl()
	ctrl.startErr = failure.New(failure.TargetNotRunning, "resolve", nil)
	srv := newTestServer(t, ctrl)

	resp, body := do(t, "POST", srv.URL+"/api/capture/start", `{"wait":true}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if body["kind"] != failure.TargetNotRunning.String() || body["guidance"] == "" {
		t.Errorf("body = %v", body)
	}
}

func TestStartWaitCancelled(t *testing.T) {
	ctrl := newFakeControl()
	ctrl.startErr = controller.ErrCancelled
	srv := newTestServer(t, ctrl)

	resp, body := do(t, "POST", srv.URL+"/api/capture/start", `{"wait":true}`)
	if resp.StatusCode != http.StatusOK || body["status"] != "cancelled" {
		t.Errorf("cancel = %d %v", resp.StatusCode, body)
	}
}

func TestStop(t *testing.T) {
	ctrl := newFakeControl()
	ctrl.phase = controller.PhaseActive
	srv := newTestServer(t, ctrl)

	resp, body := do(t, "POST", srv.URL+"/api/capture/stop", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "stopped" {
		t.Errorf("stop = %d %v", resp.StatusCode, body)
	}
	if ctrl.stops != 1 {
		t.Errorf("stops = %d", ctrl.stops)
	}
}

func TestPatchPresentation(t *testing.T) {
	ctrl := newFakeControl()
	srv := newTestServer(t, ctrl)

	resp, body := do(t, "PATCH", srv.URL+"/api/presentation", `{"opacity":0.01,"show_cursor":false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch = %d %v", resp.StatusCode, body)
	}
	if body["opacity"] != settings.MinOpacity {
		t.Errorf("opacity = %v, want clamped to %v", body["opacity"], settings.MinOpacity)
	}
	if body["show_cursor"] != false {
		t.Errorf("show_cursor = %v", body["show_cursor"])
	}
	if body["frame_rate"] != float64(settings.Defaults().FrameRate) {
		t.Errorf("frame_rate changed: %v", body["frame_rate"])
	}
}

func TestPresentationRejectsBadFrameRate(t *testing.T) {
	srv := newTestServer(t, newFakeControl())

	for _, method := range []string{"PATCH", "PUT"} {
		resp, _ := do(t, method, srv.URL+"/api/presentation", `{"frame_rate":0,"opacity":1}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", method, resp.StatusCode)
		}
	}
}

func TestTargetRoundTrip(t *testing.T) {
	ctrl := newFakeControl()
	srv := newTestServer(t, ctrl)

	resp, _ := do(t, "PUT", srv.URL+"/api/target", `{"target":" firefox "}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put = %d", resp.StatusCode)
	}
	_, body := do(t, "GET", srv.URL+"/api/target", "")
	if body["target"] != "firefox" {
		t.Errorf("target = %v", body["target"])
	}
}

func TestApplications(t *testing.T) {
	srv := newTestServer(t, newFakeControl())

	resp, err := http.Get(srv.URL + "/api/applications")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var apps []config.Application
	if err := json.NewDecoder(resp.Body).Decode(&apps); err != nil {
		t.Fatal(err)
	}
	if len(apps) != 1 || apps[0].WindowClass != "firefox" {
		t.Errorf("apps = %v", apps)
	}
}

func TestEventsWebSocket(t *testing.T) {
	ctrl := newFakeControl()
	srv := newTestServer(t, ctrl)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first map[string]interface{}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first["type"] != "status" {
		t.Errorf("first message = %v", first)
	}

	ctrl.events <- controller.Event{Type: controller.EventPhase, Phase: controller.PhaseSelecting}

	var ev controller.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != controller.EventPhase || ev.Phase != controller.PhaseSelecting {
		t.Errorf("event = %+v", ev)
	}
}
