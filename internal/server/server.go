package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/audiolibrelab/shabadfinder/internal/api"
	"github.com/audiolibrelab/shabadfinder/internal/config"
	"github.com/audiolibrelab/shabadfinder/internal/harness"
	"github.com/audiolibrelab/shabadfinder/internal/service"
	"github.com/audiolibrelab/shabadfinder/internal/telemetry"
)

// Server exposes the controller to a browser over HTTP and a websocket.
type Server struct {
	service  service.Service
	services harness.Services
	cfg      *config.Config
	metrics  *telemetry.Metrics
	port     string

	hub         *hub
	unsubscribe func()
	mux         *http.ServeMux
}

// GenericResponse is returned by the control endpoints.
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse wraps the controller snapshot.
type StatusResponse struct {
	State   service.State `json:"state"`
	Message string        `json:"message"`
}

// HealthResponse mirrors the recognition backend's health payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// New creates a web server around a running controller. services backs the
// content proxy and the live check endpoint.
func New(cfg *config.Config, svc service.Service, services harness.Services, metrics *telemetry.Metrics, port string) *Server {
	if port == "" {
		port = cfg.Server.Port
	}
	s := &Server{
		service:  svc,
		services: services,
		cfg:      cfg,
		metrics:  metrics,
		port:     port,
		hub:      newHub(),
		mux:      http.NewServeMux(),
	}
	s.unsubscribe = svc.Subscribe(s.hub)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("POST /listen", s.handleListen)
	s.mux.HandleFunc("POST /cancel", s.handleCancel)
	s.mux.HandleFunc("POST /back", s.handleBack)
	s.mux.HandleFunc("POST /retry", s.handleRetry)
	s.mux.HandleFunc("POST /explain", s.handleExplain)
	s.mux.HandleFunc("GET /api/playback/{id}", s.handlePlayback)
	s.mux.HandleFunc("GET /api/shabad/{id}", s.handleShabad)
	s.mux.HandleFunc("GET /api/tests", s.handleTests)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting shabadfinder web server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Close detaches from the controller and drops every websocket client.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.hub.closeAll()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

// handleStatus returns the current controller snapshot
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.service.Snapshot()
	s.sendJSON(w, http.StatusOK, StatusResponse{
		State:   st,
		Message: st.Status,
	})
}

// handleListen starts a session (home -> listening). simulate=true picks a
// demo hymn instead of the microphone.
func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	kind := service.SourceLive
	if r.URL.Query().Get("simulate") == "true" || r.FormValue("simulate") == "true" {
		kind = service.SourceSimulated
	}

	slog.Debug("Listen request received", "source", kind)
	if err := s.service.Start(r.Context(), kind); err != nil {
		s.sendControlError(w, err, "operation", "listen", "source", kind)
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Listening started"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Cancel(); err != nil {
		s.sendControlError(w, err, "operation", "cancel")
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Listening cancelled"})
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Back(); err != nil {
		s.sendControlError(w, err, "operation", "back")
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Returned home"})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Retry(); err != nil {
		s.sendControlError(w, err, "operation", "retry")
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Returned home"})
}

// handleExplain kicks off explanation generation. Progress is reported
// through /status and the websocket.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	st := s.service.Snapshot()
	if st.View != service.ViewResult || st.Hymn == nil {
		s.sendErrorResponse(w, http.StatusConflict,
			fmt.Sprintf("nothing to explain in %s view", st.View),
			"operation", "explain")
		return
	}

	go func() {
		if err := s.service.Explain(context.Background()); err != nil {
			slog.Warn("Explanation failed", "error", err)
		}
	}()
	s.sendJSON(w, http.StatusAccepted, GenericResponse{Success: true, Message: "Generating explanation"})
}

// handlePlayback streams the current explanation audio.
func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	asset, ok := s.service.Playback(id)
	if !ok {
		s.sendErrorResponse(w, http.StatusNotFound, "Playback not found", "id", id)
		return
	}
	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Content-Length", fmt.Sprint(len(asset.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.Write(asset.Data)
}

// handleShabad proxies a hymn document from the content API.
func (s *Server) handleShabad(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := s.services.FetchHymn(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		var notFound *api.NotFoundError
		if errors.As(err, &notFound) {
			status = http.StatusNotFound
		}
		s.sendErrorResponse(w, status, fmt.Sprintf("Failed to fetch Shabad: %v", err), "id", id)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if len(doc.Raw) > 0 {
		w.Write(doc.Raw)
		return
	}
	json.NewEncoder(w).Encode(doc)
}

// handleTests runs the live API checks. smoke=1 limits them to the
// recognition and content services.
func (s *Server) handleTests(w http.ResponseWriter, r *http.Request) {
	h := harness.New(s.services, s.cfg.Generative.APIKey)
	smoke := r.URL.Query().Get("smoke")
	if smoke == "1" || smoke == "true" {
		s.sendJSON(w, http.StatusOK, h.RunSmoke(r.Context()))
		return
	}
	s.sendJSON(w, http.StatusOK, h.RunAll(r.Context()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Service: "shabadfinder"})
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

// sendControlError maps controller errors to a status code: an event the
// current view does not accept is a conflict.
func (s *Server) sendControlError(w http.ResponseWriter, err error, logContext ...any) {
	status := http.StatusInternalServerError
	var transitionErr *service.TransitionError
	if errors.As(err, &transitionErr) {
		status = http.StatusConflict
	}
	s.sendErrorResponse(w, status, err.Error(), logContext...)
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...any) {
	logFields := []any{"error_message", errorMsg, "status_code", statusCode}
	logFields = append(logFields, logContext...)
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Debug("Sending error response to client", logFields...)
	}

	s.sendJSON(w, statusCode, GenericResponse{Success: false, Error: errorMsg})
}

func getLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "localhost"
	}
	return localAddr.IP.String()
}
