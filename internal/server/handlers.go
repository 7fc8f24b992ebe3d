package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"dvs-emu-go/internal/render"
	"dvs-emu-go/internal/types"
)

const (
	contentCBOR    = "application/cbor"
	streamBoundary = "frame"
)

const indexPage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>dvs-emu</title></head>
<body style="background:#222;color:#ddd;font-family:monospace">
<img src="/stream" style="image-rendering:pixelated;width:100%;max-width:960px">
<pre id="status"></pre>
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (m) => {
  const msg = JSON.parse(m.data);
  if (msg.type === "status") document.getElementById("status").textContent = JSON.stringify(msg.data, null, 2);
};
</script>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexPage))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.configPayload())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.statusPayload())
}

// handleEvents returns the events inside the trailing window_ms window,
// defaulting to the render window. Clients sending Accept: application/cbor
// get the compact array encoding.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	windowUs := s.deps.Config.VizWindowUs()
	if raw := r.URL.Query().Get("window_ms"); raw != "" {
		ms, err := strconv.ParseFloat(raw, 64)
		if err != nil || ms < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid window_ms %q", raw))
			return
		}
		windowUs = ms * 1000
	}

	events := s.deps.Engine.Recent(windowUs)
	if events == nil {
		events = []types.Event{}
	}

	if strings.Contains(r.Header.Get("Accept"), contentCBOR) {
		payload, err := cbor.Marshal(events)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", contentCBOR)
		_, _ = w.Write(payload)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window_us": windowUs,
		"count":     len(events),
		"events":    events,
	})
}

func (s *Server) handleDensity(w http.ResponseWriter, r *http.Request) {
	reset := false
	if raw := r.URL.Query().Get("reset"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid reset %q", raw))
			return
		}
		reset = v
	}
	grid := s.deps.Engine.DensityMap(reset)
	h, wd := s.deps.Engine.Dims()
	writeJSON(w, http.StatusOK, map[string]any{
		"height":  h,
		"width":   wd,
		"max":     gridMax(grid),
		"density": grid,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Engine.ResetReference(nil); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.log.Info().Msg("reference reset")
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

// handleStream serves the rendered event view as MJPEG, one image per render
// window, until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	cfg := s.deps.Config
	h, wd := s.deps.Engine.Dims()
	renderer := render.New(h, wd, cfg.JPEGQuality)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	every := cfg.VizWindow
	if every <= 0 {
		every = 33 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		img, err := renderer.JPEG(s.deps.Engine.Recent(cfg.VizWindowUs()))
		if err != nil {
			s.log.Error().Err(err).Msg("encode stream frame")
			return
		}
		if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", streamBoundary, len(img)); err != nil {
			return
		}
		if _, err := w.Write(img); err != nil {
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) configPayload() map[string]any {
	cfg := s.deps.Config
	return map[string]any{
		"height":             cfg.Height,
		"width":              cfg.Width,
		"contrast_threshold": cfg.ContrastThreshold,
		"log_epsilon":        cfg.LogEpsilon,
		"noise_filter":       cfg.NoiseFilter,
		"border":             cfg.Border,
		"buffer_capacity":    cfg.BufferCapacity,
		"source":             cfg.Source,
		"viz_window_ms":      cfg.VizWindow.Milliseconds(),
		"port":               cfg.Port,
	}
}

func (s *Server) statusPayload() map[string]any {
	payload := map[string]any{
		"run_id":     s.deps.RunID,
		"uptime_s":   time.Since(s.started).Seconds(),
		"engine":     s.deps.Engine.Snapshot(),
		"ws_clients": s.clientCount(),
	}
	if s.deps.Perf != nil {
		payload["perf"] = s.deps.Perf.Stats()
	}
	if mb := s.deps.Mailbox; mb != nil {
		payload["mailbox"] = map[string]any{
			"published": mb.Published(),
			"drops":     mb.Drops(),
		}
	}
	return payload
}

func (s *Server) densitySnapshot(reset bool) types.DensitySnapshot {
	grid := s.deps.Engine.DensityMap(reset)
	h, w := s.deps.Engine.Dims()
	values := make([]float32, 0, h*w)
	for _, row := range grid {
		values = append(values, row...)
	}
	return types.DensitySnapshot{
		Type:   "density",
		Height: h,
		Width:  w,
		Max:    gridMax(grid),
		Values: values,
	}
}

func gridMax(grid [][]float32) float32 {
	var peak float32
	for _, row := range grid {
		for _, v := range row {
			if v > peak {
				peak = v
			}
		}
	}
	return peak
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
