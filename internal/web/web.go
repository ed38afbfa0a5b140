package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"eventlane/internal/config"
	appLog "eventlane/internal/log"
	"eventlane/internal/model"
)

// Registry is the read side the status API needs.
type Registry interface {
	Get(id string) (model.EventRecord, error)
	ListAll() []model.EventRecord
}

// Admin performs the administrator actions exposed under /api/events/{id}.
type Admin interface {
	EndEvent(ctx context.Context, id string) error
	CloseThread(ctx context.Context, id string) error
	ExtendArchiveDelay(ctx context.Context, id string, minutes int) (int, error)
}

// Server exposes tracked events and the administrator actions over HTTP.
type Server struct {
	cfg   *config.Config
	reg   Registry
	admin Admin
	mux   *http.ServeMux
	now   func() time.Time
}

type Option func(*Server)

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer constructs a Server. admin may be nil, in which case the
// action endpoints answer 503.
func NewServer(cfg *config.Config, reg Registry, admin Admin, opts ...Option) *Server {
	s := &Server{
		cfg:   cfg,
		reg:   reg,
		admin: admin,
		mux:   http.NewServeMux(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, wrapped in Basic Auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials leave the API open rather than locking everyone out.
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
			w.Header().Set("WWW-Authenticate", `Basic realm="eventlane", charset="UTF-8"`)
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

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
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
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleEvent)
	s.mux.HandleFunc("POST /api/events/{id}/end", s.handleEndEvent)
	s.mux.HandleFunc("POST /api/events/{id}/close-thread", s.handleCloseThread)
	s.mux.HandleFunc("POST /api/events/{id}/extend-archive", s.handleExtendArchive)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO is a record plus its derived stage.
type eventDTO struct {
	model.EventRecord
	Stage model.Stage `json:"stage"`
}

type eventsResponse struct {
	Events      []eventDTO `json:"events"`
	GeneratedAt time.Time  `json:"generated_at"`
	TimeZone    string     `json:"timezone"`
}

// handleEvents lists tracked records ordered by start time.
//
// GET /api/events?stage=thread_created
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	want := model.Stage(r.URL.Query().Get("stage"))

	out := make([]eventDTO, 0)
	for _, rec := range s.reg.ListAll() {
		dto := s.dto(rec, now)
		if want != "" && dto.Stage != want {
			continue
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:      out,
		GeneratedAt: now,
		TimeZone:    s.cfg.Location().String(),
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.reg.Get(r.PathValue("id"))
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.dto(rec, s.now()))
}

func (s *Server) handleEndEvent(w http.ResponseWriter, r *http.Request) {
	if !s.adminAvailable(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.admin.EndEvent(r.Context(), id); err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "ended"})
}

func (s *Server) handleCloseThread(w http.ResponseWriter, r *http.Request) {
	if !s.adminAvailable(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.admin.CloseThread(r.Context(), id); err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "archived"})
}

// handleExtendArchive adds ?minutes=N (default one day) to the archive delay.
func (s *Server) handleExtendArchive(w http.ResponseWriter, r *http.Request) {
	if !s.adminAvailable(w) {
		return
	}
	minutes := 0
	if v := r.URL.Query().Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "minutes must be an integer")
			return
		}
		minutes = n
	}
	id := r.PathValue("id")
	total, err := s.admin.ExtendArchiveDelay(r.Context(), id, minutes)
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "archive_delay_minutes": total})
}

func (s *Server) adminAvailable(w http.ResponseWriter) bool {
	if s.admin == nil {
		writeError(w, http.StatusServiceUnavailable, "admin actions unavailable")
		return false
	}
	return true
}

func (s *Server) dto(rec model.EventRecord, now time.Time) eventDTO {
	lead := model.LeadTimes{
		EventCreate:  time.Duration(s.cfg.EventCreateLeadHours) * time.Hour,
		ThreadCreate: time.Duration(s.cfg.ThreadCreateLeadHours) * time.Hour,
	}
	cutoff := now.AddDate(0, 0, -s.cfg.RetentionDays)
	return eventDTO{EventRecord: rec, Stage: model.StageAt(rec, now, cutoff, lead)}
}

func writeActionError(w http.ResponseWriter, err error) {
	var (
		verr *model.ValidationError
		perr *model.PlatformActionError
	)
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &perr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		appLog.Error("api request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
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
