package callback

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"linkblocksbot/internal/storage"
)

// Fixed response bodies. Uptime monitors match on the liveness text.
const (
	LivenessText      = "Hello"
	AuthenticatedText = "You are now authenticated! You can close this tab."
)

// Server is the HTTP endpoint Linkblocks redirects the browser to once an
// API key has been issued.
type Server struct {
	http *http.Server
	log  logrus.FieldLogger
}

// New builds the callback server (router, middlewares, routes).
func New(addr string, repo storage.Repository, logger logrus.FieldLogger) *Server {
	log := logger.WithField("component", "callback")

	s := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(repo, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return &Server{http: s, log: log}
}

// NewRouter wires the callback routes onto a chi router.
func NewRouter(repo storage.Repository, log logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(log))

	r.Get("/", liveness)
	r.Get("/auth", authenticate(repo, log))
	r.Get("/readyz", readiness(repo, log))
	return r
}

// Start serves until Stop is called. It returns nil on graceful shutdown.
func (s *Server) Start() error {
	s.log.Infof("Callback server listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server with the provided context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Callback server shutting down...")
	return s.http.Shutdown(ctx)
}

func liveness(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, LivenessText)
}

// readiness reports whether the credential store is reachable.
func readiness(repo storage.Repository, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := repo.Ping(r.Context()); err != nil {
			log.WithError(err).Warn("Readiness check failed")
			writeText(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		writeText(w, http.StatusOK, "ok")
	}
}

// authenticate stores the credentials Linkblocks handed over. Parameters are
// passed through unvalidated and the confirmation is sent whatever the store
// answers.
func authenticate(repo storage.Repository, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		discordID := q.Get("discord_id")
		apiKey := q.Get("api_key")
		userID := q.Get("user_id")

		if _, err := repo.Upsert(r.Context(), discordID, apiKey, userID); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"discord_id": discordID,
				"request_id": middleware.GetReqID(r.Context()),
			}).Error("Failed to store credentials from callback")
		}
		writeText(w, http.StatusOK, AuthenticatedText)
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
