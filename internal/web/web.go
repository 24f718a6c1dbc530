package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"
	"time"

	"epdframe/internal/battery"
	"epdframe/internal/config"
	"epdframe/internal/convert"
	"epdframe/internal/epd"
	"epdframe/internal/frame"
	appLog "epdframe/internal/log"
	"epdframe/internal/octcolor"
)

// maxUploadBytes bounds POST /api/show bodies.
const maxUploadBytes = 32 << 20

// Controller is the panel service behind the API. *frame.Frame satisfies it.
type Controller interface {
	Show(img image.Image) error
	Refresh(ctx context.Context) error
	Clear(c *octcolor.OctColor) error
	Sleep() error
	Wake() error
	Status() frame.Status
	WritePreview(w io.Writer) (bool, error)
}

// Server provides the HTTP API for one panel.
type Server struct {
	cfg  *config.Config
	ctrl Controller
	batt battery.Reader
	mux  *http.ServeMux
}

// NewServer constructs a new Server. batt may be nil when no gauge is
// fitted.
func NewServer(cfg *config.Config, ctrl Controller, batt battery.Reader) *Server {
	s := &Server{
		cfg:  cfg,
		ctrl: ctrl,
		batt: batt,
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials are treated as disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="epdframe", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves the API on cfg.Listen until ctx is canceled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, ctrl Controller, batt battery.Reader) error {
	s := NewServer(cfg, ctrl, batt)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/show", s.handleShow)
	s.mux.HandleFunc("POST /api/clear", s.handleClear)
	s.mux.HandleFunc("POST /api/sleep", s.handleLifecycle("sleep", s.ctrl.Sleep))
	s.mux.HandleFunc("POST /api/wake", s.handleLifecycle("wake", s.ctrl.Wake))
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/battery", s.handleBattery)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

// handleShow accepts an encoded image as the request body.
//
//	curl --data-binary @photo.jpg http://frame:8080/api/show
func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	img, format, err := convert.Decode(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		writeError(w, http.StatusBadRequest, "body is not a supported image")
		return
	}
	appLog.Info("api show request", "format", format, "bounds", img.Bounds())

	if err := s.ctrl.Show(img); err != nil {
		s.panelError(w, "show", err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

// handleClear fills the panel. POST /api/clear?color=red changes the
// background first.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var c *octcolor.OctColor
	if name := r.URL.Query().Get("color"); name != "" {
		parsed, err := octcolor.Parse(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		c = &parsed
	}
	if err := s.ctrl.Clear(c); err != nil {
		s.panelError(w, "clear", err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleLifecycle(name string, op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := op(); err != nil {
			s.panelError(w, name, err)
			return
		}
		writeJSON(w, http.StatusOK, s.ctrl.Status())
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Refresh(r.Context()); err != nil {
		if errors.Is(err, frame.ErrNoSource) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.panelError(w, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

// handleBattery exposes the UPS charge. Readings are cached by the reader.
func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	if s.batt == nil {
		writeError(w, http.StatusNotFound, "no battery gauge configured")
		return
	}
	status, err := s.batt.Read(r.Context())
	if err != nil {
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handlePreview serves the last frame sent to the panel, as quantized.
func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	var b bytes.Buffer
	ok, err := s.ctrl.WritePreview(&b)
	if err != nil {
		appLog.Error("preview encode failed", err)
		writeError(w, http.StatusInternalServerError, "failed to encode preview")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "nothing shown yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b.Bytes())
}

// panelError logs err and maps it to a status code. A busy timeout means the
// panel stopped answering, everything else is a server-side failure.
func (s *Server) panelError(w http.ResponseWriter, op string, err error) {
	appLog.Error("panel operation failed", err, "op", op)
	status := http.StatusInternalServerError
	if errors.Is(err, epd.ErrBusyTimeout) {
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
