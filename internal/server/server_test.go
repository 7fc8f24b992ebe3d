package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"dvs-emu-go/internal/config"
	"dvs-emu-go/internal/mailbox"
	"dvs-emu-go/internal/perf"
	"dvs-emu-go/internal/pipeline"
	"dvs-emu-go/internal/processing"
	"dvs-emu-go/internal/types"
)

func newTestServer(t *testing.T) (*Server, *pipeline.Engine) {
	t.Helper()
	cfg := config.Default()
	cfg.Height = 4
	cfg.Width = 4
	cfg.Port = 9999
	engine, err := pipeline.NewEngine(pipeline.EngineConfig{
		Height:         4,
		Width:          4,
		Threshold:      0.15,
		LogEpsilon:     1e-3,
		BufferCapacity: 16,
		Border:         processing.BorderWrap,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	srv := New(Deps{
		Config:  cfg,
		Engine:  engine,
		Mailbox: mailbox.New(),
		Perf:    perf.NewMonitor(8, 0),
		RunID:   "test-run",
	})
	return srv, engine
}

func feedOneEvent(t *testing.T, engine *pipeline.Engine) {
	t.Helper()
	dark := types.Frame{Height: 4, Width: 4, Data: make([]uint8, 16), Index: 1, TimestampUs: 100}
	lit := types.Frame{Height: 4, Width: 4, Data: make([]uint8, 16), Index: 2, TimestampUs: 200}
	lit.Data[1*4+1] = 255
	for _, f := range []types.Frame{dark, lit} {
		if _, err := engine.Ingest(f); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}
}

func do(t *testing.T, h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleConfig(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Handler(), "GET", "/config", nil)
	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["height"].(float64) != 4 || payload["width"].(float64) != 4 {
		t.Fatalf("unexpected resolution: %v", payload)
	}
	if payload["port"].(float64) != 9999 {
		t.Fatalf("unexpected port: %v", payload["port"])
	}
	if payload["border"] != "wrap" {
		t.Fatalf("unexpected border: %v", payload["border"])
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Handler(), "GET", "/healthz", nil)
	if rec.Code != 200 || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestEventsJSONAndCBOR(t *testing.T) {
	srv, engine := newTestServer(t)
	feedOneEvent(t, engine)
	h := srv.Handler()
	want := []types.Event{{X: 1, Y: 1, Polarity: types.PolarityOn, TimestampUs: 200}}

	rec := do(t, h, "GET", "/events?window_ms=1e15", nil)
	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body struct {
		Count  int           `json:"count"`
		Events []types.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if body.Count != 1 || !reflect.DeepEqual(body.Events, want) {
		t.Fatalf("unexpected events: %+v", body)
	}

	rec = do(t, h, "GET", "/events?window_ms=1e15", map[string]string{"Accept": "application/cbor"})
	if ct := rec.Header().Get("Content-Type"); ct != "application/cbor" {
		t.Fatalf("unexpected content type: %q", ct)
	}
	var decoded []types.Event
	if err := cbor.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode cbor: %v", err)
	}
	if !reflect.DeepEqual(decoded, want) {
		t.Fatalf("unexpected cbor events: %+v", decoded)
	}
}

func TestEventsEmptyAndInvalidWindow(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, "GET", "/events", nil)
	if !strings.Contains(rec.Body.String(), `"events":[]`) {
		t.Fatalf("expected empty event list, got %s", rec.Body.String())
	}
	for _, bad := range []string{"abc", "-5"} {
		if rec := do(t, h, "GET", "/events?window_ms="+bad, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("window_ms=%s: status %d, want 400", bad, rec.Code)
		}
	}
}

func TestDensityReset(t *testing.T) {
	srv, engine := newTestServer(t)
	feedOneEvent(t, engine)
	h := srv.Handler()

	var body struct {
		Max     float32     `json:"max"`
		Density [][]float32 `json:"density"`
	}
	rec := do(t, h, "GET", "/density?reset=true", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Max != 1 || body.Density[1][1] != 1 {
		t.Fatalf("unexpected density: %+v", body)
	}

	rec = do(t, h, "GET", "/density", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Max != 0 {
		t.Fatalf("density not reset: %+v", body)
	}

	if rec := do(t, h, "GET", "/density?reset=maybe", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid reset flag: status %d", rec.Code)
	}
}

func TestResetReference(t *testing.T) {
	srv, engine := newTestServer(t)
	h := srv.Handler()

	if rec := do(t, h, "POST", "/reset", nil); rec.Code != http.StatusConflict {
		t.Fatalf("reset before first frame: status %d, want 409", rec.Code)
	}
	feedOneEvent(t, engine)
	if rec := do(t, h, "POST", "/reset", nil); rec.Code != http.StatusOK {
		t.Fatalf("reset: status %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	srv, engine := newTestServer(t)
	feedOneEvent(t, engine)
	rec := do(t, srv.Handler(), "GET", "/status", nil)

	var payload struct {
		RunID   string            `json:"run_id"`
		Engine  pipeline.Snapshot `json:"engine"`
		Mailbox map[string]uint64 `json:"mailbox"`
		Clients int               `json:"ws_clients"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.RunID != "test-run" {
		t.Fatalf("unexpected run id: %q", payload.RunID)
	}
	if payload.Engine.Frames != 2 || payload.Engine.EventCount != 1 || !payload.Engine.Seeded {
		t.Fatalf("unexpected engine snapshot: %+v", payload.Engine)
	}
	if _, ok := payload.Mailbox["drops"]; !ok {
		t.Fatalf("missing mailbox drops: %v", payload.Mailbox)
	}
}

func TestWebsocketConfigAndDensity(t *testing.T) {
	srv, engine := newTestServer(t)
	feedOneEvent(t, engine)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var hello map[string]any
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read config: %v", err)
	}
	if hello["type"] != "config" {
		t.Fatalf("unexpected first message: %v", hello)
	}

	if err := conn.WriteJSON(map[string]string{"type": "density_request"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var snap types.DensitySnapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read density: %v", err)
	}
	if snap.Type != "density" || len(snap.Values) != 16 || snap.Values[1*4+1] != 1 || snap.Max != 1 {
		t.Fatalf("unexpected density snapshot: %+v", snap)
	}
}
