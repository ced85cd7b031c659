package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bryanchriswhite/RegionPiP/internal/config"
	"github.com/bryanchriswhite/RegionPiP/internal/controller"
	"github.com/bryanchriswhite/RegionPiP/internal/failure"
	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
	"github.com/bryanchriswhite/RegionPiP/internal/logger"
	"github.com/bryanchriswhite/RegionPiP/internal/settings"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// Control is the part of the controller the API drives
type Control interface {
	Status(ctx context.Context) (controller.Status, error)
	StartCapture(ctx context.Context, region *geometry.Rect) error
	StopCapture(ctx context.Context) error

	Presentation(ctx context.Context) (settings.PresentationState, error)
	ApplyPresentation(ctx context.Context, s settings.PresentationState) error
	SetOpacity(ctx context.Context, v float64) (float64, error)
	SetAlwaysOnTop(ctx context.Context, onTop bool) error
	SetFrameRate(ctx context.Context, fps int) error
	SetShowCursor(ctx context.Context, show bool) error

	Target(ctx context.Context) (config.TargetIdentity, error)
	SetTarget(ctx context.Context, target config.TargetIdentity) error
	Applications() ([]config.Application, error)

	Subscribe(buffer int) (<-chan controller.Event, func())
}

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	ctrl      Control
	configMgr *config.Manager
	upgrader  websocket.Upgrader
	baseCtx   context.Context
	log       *zerolog.Logger
}

// NewServer creates a new API server. Captures started without waiting live
// as long as ctx. configMgr may be nil, in which case target changes are not
// saved.
func NewServer(ctx context.Context, ctrl Control, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		ctrl:      ctrl,
		configMgr: configMgr,
		baseCtx:   ctx,
		log:       logger.WithComponent("api"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Only ever bound to loopback
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Capture lifecycle
	api.HandleFunc("/capture/start", s.handleStart).Methods("POST")
	api.HandleFunc("/capture/stop", s.handleStop).Methods("POST")

	// Presentation settings
	api.HandleFunc("/presentation", s.handleGetPresentation).Methods("GET")
	api.HandleFunc("/presentation", s.handlePutPresentation).Methods("PUT")
	api.HandleFunc("/presentation", s.handlePatchPresentation).Methods("PATCH")

	// Target application
	api.HandleFunc("/target", s.handleGetTarget).Methods("GET")
	api.HandleFunc("/target", s.handlePutTarget).Methods("PUT")
	api.HandleFunc("/applications", s.handleGetApplications).Methods("GET")

	api.HandleFunc("/events", s.handleEvents)

	s.router.PathPrefix("/").HandlerFunc(s.handleIndex)
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// ListenAndServe serves on 127.0.0.1:port until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", "http://"+addr).Msg("Starting control server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helpers

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error    string `json:"error"`
	Kind     string `json:"kind,omitempty"`
	Guidance string `json:"guidance,omitempty"`
}

// writeError maps controller and failure errors onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError

	if kind := failure.KindOf(err); kind != failure.Unknown {
		body.Kind = kind.String()
		body.Guidance = kind.Guidance()
		switch kind {
		case failure.PermissionDenied:
			status = http.StatusForbidden
		case failure.TargetNotRunning, failure.WindowNotFound:
			status = http.StatusNotFound
		case failure.StreamStartFailure, failure.StreamTerminated:
			status = http.StatusBadGateway
		}
	}

	switch {
	case errors.Is(err, controller.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, controller.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}

	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
}

// HTTP Handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

type startRequest struct {
	Region *geometry.Rect `json:"region,omitempty"`
	Wait   bool           `json:"wait,omitempty"`
}

// handleStart begins a capture. Without "wait" it answers 202 as soon as the
// workflow is under way; progress and the outcome arrive on /api/events.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	// An empty body means "open the selection overlay"
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, err)
		return
	}
	if req.Region != nil && req.Region.IsEmpty() {
		badRequest(w, fmt.Errorf("region must have a non-zero width and height"))
		return
	}

	if req.Wait {
		err := s.ctrl.StartCapture(r.Context(), req.Region)
		switch {
		case errors.Is(err, controller.ErrCancelled):
			writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
		case err != nil:
			writeError(w, err)
		default:
			s.handleStatus(w, r)
		}
		return
	}

	st, err := s.ctrl.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if st.Phase != controller.PhaseIdle {
		writeError(w, fmt.Errorf("%w (%s)", controller.ErrBusy, st.Phase))
		return
	}

	go func() {
		if err := s.ctrl.StartCapture(s.baseCtx, req.Region); err != nil && !errors.Is(err, controller.ErrBusy) {
			s.log.Debug().Err(err).Msg("Background capture start ended")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StopCapture(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleGetPresentation(w http.ResponseWriter, r *http.Request) {
	p, err := s.ctrl.Presentation(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutPresentation(w http.ResponseWriter, r *http.Request) {
	var p settings.PresentationState
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		badRequest(w, err)
		return
	}
	if err := settings.ValidateFrameRate(p.FrameRate); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.ctrl.ApplyPresentation(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	s.handleGetPresentation(w, r)
}

// presentationPatch carries only the fields the client wants to change
type presentationPatch struct {
	Opacity     *float64 `json:"opacity"`
	AlwaysOnTop *bool    `json:"always_on_top"`
	FrameRate   *int     `json:"frame_rate"`
	ShowCursor  *bool    `json:"show_cursor"`
}

func (s *Server) handlePatchPresentation(w http.ResponseWriter, r *http.Request) {
	var patch presentationPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		badRequest(w, err)
		return
	}
	if patch.FrameRate != nil {
		if err := settings.ValidateFrameRate(*patch.FrameRate); err != nil {
			badRequest(w, err)
			return
		}
	}

	ctx := r.Context()
	if patch.Opacity != nil {
		if _, err := s.ctrl.SetOpacity(ctx, *patch.Opacity); err != nil {
			writeError(w, err)
			return
		}
	}
	if patch.AlwaysOnTop != nil {
		if err := s.ctrl.SetAlwaysOnTop(ctx, *patch.AlwaysOnTop); err != nil {
			writeError(w, err)
			return
		}
	}
	if patch.FrameRate != nil {
		if err := s.ctrl.SetFrameRate(ctx, *patch.FrameRate); err != nil {
			writeError(w, err)
			return
		}
	}
	if patch.ShowCursor != nil {
		if err := s.ctrl.SetShowCursor(ctx, *patch.ShowCursor); err != nil {
			writeError(w, err)
			return
		}
	}
	s.handleGetPresentation(w, r)
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	t, err := s.ctrl.Target(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"target": string(t)})
}

func (s *Server) handlePutTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	target := config.TargetIdentity(strings.TrimSpace(req.Target))

	if err := s.ctrl.SetTarget(r.Context(), target); err != nil {
		writeError(w, err)
		return
	}
	if s.configMgr != nil {
		if err := s.configMgr.SetTarget(target); err != nil {
			s.log.Warn().Err(err).Msg("Failed to save target")
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"target": string(target)})
}

func (s *Server) handleGetApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.ctrl.Applications()
	if err != nil {
		writeError(w, err)
		return
	}
	if apps == nil {
		apps = []config.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

// handleEvents streams controller events over a websocket. The first message
// is a status snapshot.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	events, unsubscribe := s.ctrl.Subscribe(32)
	defer unsubscribe()

	if st, err := s.ctrl.Status(r.Context()); err == nil {
		if err := conn.WriteJSON(map[string]interface{}{"type": "status", "status": st}); err != nil {
			return
		}
	}

	// The client never sends anything meaningful; reading detects the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>RegionPiP</title>
    <style>
        body { font-family: sans-serif; max-width: 720px; margin: 40px auto; color: #333; }
        code { background: #f0f0f0; padding: 2px 6px; border-radius: 3px; }
    </style>
</head>
<body>
    <h1>RegionPiP</h1>
    <p>Control endpoints:</p>
    <ul>
        <li><a href="/api/status">/api/status</a></li>
        <li><code>POST /api/capture/start</code> / <code>POST /api/capture/stop</code></li>
        <li><a href="/api/presentation">/api/presentation</a> (GET, PUT, PATCH)</li>
        <li><a href="/api/target">/api/target</a> (GET, PUT)</li>
        <li><a href="/api/applications">/api/applications</a></li>
        <li><code>/api/events</code> (WebSocket)</li>
    </ul>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}
