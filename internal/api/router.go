package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BleedingXiko/GhostStream/internal/hlsserver"
	"github.com/BleedingXiko/GhostStream/internal/progressbus"
)

// requestTimeout is the default REST request deadline named in §5.
const requestTimeout = 30 * time.Second

// NewRouter builds the full HTTP mux: the REST surface (this package), the
// playlist/segment server (hlsserver), and the WebSocket progress bus
// (progressbus) onto one mux. metricsEnabled gates /api/metrics and apiKey
// gates every route but /api/health behind the single shared token (§6,
// §7). The REST JSON endpoints get the §5 request timeout; the streaming
// and WebSocket mounts are deliberately left outside it since they're
// long-lived by design.
func NewRouter(h *Handler, hls *hlsserver.Server, ws *progressbus.Handler, metricsEnabled bool, apiKey string) *http.ServeMux {
	restMux := http.NewServeMux()
	restMux.HandleFunc("GET /api/health", h.Health)
	restMux.HandleFunc("GET /api/capabilities", h.Capabilities)
	restMux.HandleFunc("GET /api/stats", h.Stats)
	restMux.HandleFunc("GET /api/status", h.Status)
	restMux.HandleFunc("POST /api/transcode/start", h.StartTranscode)
	restMux.HandleFunc("GET /api/transcode/{id}/status", h.JobStatus)
	restMux.HandleFunc("POST /api/transcode/{id}/cancel", h.CancelTranscode)
	restMux.HandleFunc("DELETE /api/transcode/{id}", h.DeleteTranscode)

	mux := http.NewServeMux()
	mux.Handle("/api/", WithAuth(apiKey, WithTimeout(restMux, requestTimeout)))

	hlsMux := http.NewServeMux()
	hls.Register(hlsMux)
	mux.Handle("GET /stream/", WithAuth(apiKey, hlsMux))
	mux.Handle("GET /api/transcode/{id}/download", WithAuth(apiKey, hlsMux))
	mux.Handle("GET /ws/progress", WithAuth(apiKey, ws))

	if metricsEnabled {
		mux.Handle("GET /api/metrics", WithAuth(apiKey, promhttp.Handler()))
	}

	return mux
}
