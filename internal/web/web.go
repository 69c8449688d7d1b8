package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"churchcal/internal/auth"
	"churchcal/internal/cache"
	"churchcal/internal/calendar"
	"churchcal/internal/capture"
	appLog "churchcal/internal/log"
	"churchcal/internal/store"
)

const maxBodyBytes = 64 * 1024

// PrintOptions enables GET /api/public/{slug}/agenda.pdf.
type PrintOptions struct {
	Enabled bool
	// BaseURL is where headless Chromium reaches this server.
	BaseURL string
	Timeout time.Duration
}

// Options wires the server dependencies.
type Options struct {
	Service *calendar.Service
	Auth    *auth.Authenticator
	Cache   cache.Cache
	// Pinger reports database health on /health. Optional.
	Pinger interface{ Ping(context.Context) error }
	Print  PrintOptions
}

// Server provides the HTTP API of the calendar.
type Server struct {
	svc      *calendar.Service
	auth     *auth.Authenticator
	cache    cache.Cache
	pinger   interface{ Ping(context.Context) error }
	validate *validator.Validate
	print    PrintOptions
	printPDF func(context.Context, capture.PrintOptions) ([]byte, error)

	router chi.Router
}

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	s := &Server{
		svc:      opts.Service,
		auth:     opts.Auth,
		cache:    opts.Cache,
		pinger:   opts.Pinger,
		validate: validator.New(),
		print:    opts.Print,
		printPDF: capture.PrintPDF,
	}
	if s.cache == nil {
		s.cache = cache.NewMemory(30 * time.Second)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(metricsMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(accessLog(appLog.Logger()))
	r.Use(chimw.Recoverer)
	r.Use(maxBodySize(maxBodyBytes))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/print/{slug}", s.handlePrintPage)
	r.Route("/api/public/{slug}", func(r chi.Router) {
		r.Get("/events", s.handlePublicEvents)
		r.Get("/calendar.ics", s.handlePublicICS)
		r.Get("/agenda.pdf", s.handleAgendaPDF)
		r.Group(func(r chi.Router) {
			if s.auth != nil {
				r.Use(s.auth.Middleware)
			}
			r.Get("/follow", s.handleFollowStatus)
			r.Post("/follow", s.handleToggleFollow)
		})
	})

	r.Group(func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware)
		}

		r.Post("/api/rooms", s.handleCreateRoom)
		r.Post("/api/rooms/join", s.handleJoinRoom)
		r.Route("/api/rooms/{roomID}", func(r chi.Router) {
			r.Get("/", s.handleGetRoom)
			r.Patch("/", s.handleUpdateRoom)
			r.Delete("/", s.handleDeleteRoom)
			r.Put("/children/{childID}/group", s.handleSetChildGroup)
			r.Get("/children/{childID}/events", s.handleMonitorChild)
			r.Get("/events", s.handleRoomEvents)
			r.Post("/events", s.handleCreateEvent)
			r.Post("/broadcasts", s.handleBroadcast)
			r.Get("/stats", s.handleStats)
			r.Get("/categories", s.handleListCategories)
			r.Post("/categories", s.handleCreateCategory)
			r.Delete("/categories/{categoryID}", s.handleDeleteCategory)
		})
		r.Patch("/api/events/{eventID}", s.handleUpdateEvent)
		r.Delete("/api/events/{eventID}", s.handleDeleteEvent)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			appLog.Error("health check: database ping failed", err)
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Start serves on listen until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// invalidate drops cached views of roomID. Failures only cost staleness.
func (s *Server) invalidate(ctx context.Context, roomID string) {
	if roomID == "" {
		return
	}
	if err := s.cache.InvalidateRoom(ctx, roomID); err != nil {
		appLog.Error("view cache invalidation failed", err, "room_id", roomID)
	}
}

// cached serves key from the cache, or builds it with build, stores it and
// serves it.
func (s *Server) cached(w http.ResponseWriter, r *http.Request, key, contentType string, build func() ([]byte, error)) {
	ctx := r.Context()
	if body, ok := cache.Lookup(ctx, s.cache, key); ok {
		writeBody(w, http.StatusOK, contentType, body)
		return
	}
	body, err := build()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := s.cache.Set(ctx, key, body); err != nil {
		appLog.Error("view cache write failed", err, "key", key)
	}
	writeBody(w, http.StatusOK, contentType, body)
}

func writeBody(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

const jsonContentType = "application/json; charset=utf-8"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonContentType)
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

// writeServiceError maps err to a status and writes it. Unexpected errors
// are logged and hidden from the client.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		appLog.Error("request failed", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, calendar.ErrValidation),
		errors.Is(err, calendar.ErrInvalidRule),
		errors.Is(err, calendar.ErrInvalidMode),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, calendar.ErrInvalidSplit),
		errors.Is(err, calendar.ErrNotAnOccurrence),
		errors.Is(err, calendar.ErrParentCycle):
		return http.StatusUnprocessableEntity
	case errors.Is(err, calendar.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, calendar.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, calendar.ErrAlreadyMember), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errPrintDisabled):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
