package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/strrl/sensor-chat/internal/artifact"
	"github.com/strrl/sensor-chat/internal/pipeline"
)

const maxMessageBytes = 16 << 10

// Chat is the part of the pipeline the HTTP surface needs.
type Chat interface {
	Handle(ctx context.Context, sess *pipeline.Session, text string) (*pipeline.Response, error)
	Status(ctx context.Context) (*pipeline.StatusReport, error)
	Artifact(ctx context.Context, id string) (*artifact.Artifact, error)
	SessionArtifacts(ctx context.Context, sessionID string) ([]*artifact.Artifact, error)
}

type Config struct {
	AllowedOrigins []string
	// MessageTimeout bounds one chat turn including the LLM call.
	MessageTimeout time.Duration
	SessionIdleTTL time.Duration
	MaxSessions    int
}

type Server struct {
	chat     Chat
	sessions *pipeline.Sessions
	config   Config
	logger   *zap.Logger
	router   *mux.Router
}

func New(chat Chat, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = 2 * time.Minute
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:5173"}
	}

	s := &Server{
		chat:     chat,
		sessions: pipeline.NewSessionsWithConfig(pipeline.SessionsConfig{
			IdleTTL:     cfg.SessionIdleTTL,
			MaxSessions: cfg.MaxSessions,
		}),
		config:   cfg,
		logger:   logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.status).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.createSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/messages", s.listMessages).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/messages", s.postMessage).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/artifacts", s.listArtifacts).Methods(http.MethodGet)
	api.HandleFunc("/artifacts/{id}", s.downloadArtifact).Methods(http.MethodGet)

	return router
}

// Handler returns the router wrapped with CORS for the dashboard front end.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	report, err := s.chat.Status(r.Context())
	if err != nil {
		s.logger.Warn("Status check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "sensor source unavailable")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) createSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.sessions.Create()
	s.logger.Info("Session created", zap.String("session", sess.ID))
	writeJSON(w, http.StatusCreated, sessionResponse{ID: sess.ID, CreatedAt: sess.CreatedAt})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*pipeline.Session, bool) {
	id := mux.Vars(r)["id"]
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Turns())
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.MessageTimeout)
	defer cancel()

	resp, err := s.chat.Handle(ctx, sess, req.Text)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "request timed out")
			return
		}
		s.logger.Error("Message handling failed", zap.String("session", sess.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to handle message")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	list, err := s.chat.SessionArtifacts(r.Context(), sess.ID)
	if err != nil {
		s.logger.Error("Failed to list artifacts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list artifacts")
		return
	}

	refs := make([]pipeline.ArtifactRef, 0, len(list))
	for _, a := range list {
		refs = append(refs, pipeline.ArtifactRef{ID: a.ID, Kind: a.Kind, Filename: a.Filename, MIMEType: a.MIMEType, Size: a.Size()})
	}
	writeJSON(w, http.StatusOK, refs)
}

func (s *Server) downloadArtifact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, err := s.chat.Artifact(r.Context(), id)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		s.logger.Error("Failed to load artifact", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load artifact")
		return
	}

	w.Header().Set("Content-Type", a.MIMEType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
	w.Header().Set("Content-Length", fmt.Sprint(len(a.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(a.Data); err != nil {
		s.logger.Debug("Artifact download interrupted", zap.String("id", id), zap.Error(err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
