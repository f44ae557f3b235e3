// Package server exposes the agents over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/service/identity"
	"github.com/m-mizutani/comanager/pkg/service/policy"
	"github.com/m-mizutani/comanager/pkg/usecase/agent"
	"github.com/m-mizutani/comanager/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Runner executes one chat turn and streams the reply to w
type Runner interface {
	Run(ctx context.Context, w io.Writer, input agent.Input) (*agent.Result, error)
}

const maxBodySize = 1 << 20

// ChatRequest is the body of POST /api/{persona}/chat
type ChatRequest struct {
	Messages []model.Message `json:"messages"`
}

type Server struct {
	router   *chi.Mux
	runner   Runner
	identity identity.Provider
	authz    *policy.Authorizer
	personas map[string]*agent.Persona
	gatherer prometheus.Gatherer
}

type Option func(*Server)

// WithPersona serves the persona at /api/{name}/chat
func WithPersona(p *agent.Persona) Option {
	return func(s *Server) {
		s.personas[p.Name] = p
	}
}

// WithAuthorizer enables the persona access policy
func WithAuthorizer(a *policy.Authorizer) Option {
	return func(s *Server) {
		s.authz = a
	}
}

// WithGatherer serves the collectors of g at /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func New(runner Runner, id identity.Provider, opts ...Option) *Server {
	s := &Server{
		runner:   runner,
		identity: id,
		personas: make(map[string]*agent.Persona),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(withLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Post("/api/{persona}/chat", s.handleChat)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("server started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "server stopped", goerr.V("addr", addr))
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shutdown server")
		}
		return nil
	}
}

func withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.From(r.Context()).With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(logging.With(r.Context(), logger)))
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.From(ctx)

	userID, err := s.identity.UserID(r)
	if err != nil {
		logger.Info("unauthenticated chat request", "persona", chi.URLParam(r, "persona"), "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	persona, ok := s.personas[chi.URLParam(r, "persona")]
	if !ok {
		http.NotFound(w, r)
		return
	}

	allowed, err := s.authz.Allow(ctx, policy.Input{UserID: userID, Persona: persona.Name})
	if err != nil {
		logger.Error("failed to evaluate policy", "error", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		logger.Info("chat denied by policy", "persona", persona.Name, "user_id", userID)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	req, err := decodeChatRequest(r)
	if err != nil {
		logger.Info("invalid chat request", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	sw := &streamWriter{ResponseWriter: w}
	result, err := s.runner.Run(ctx, sw, agent.Input{
		Persona: persona,
		UserID:  userID,
		History: req.Messages,
	})
	if err != nil {
		if sw.written == 0 {
			http.Error(w, "Internal Error", http.StatusInternalServerError)
		}
		return
	}

	logger.Info("chat turn finished",
		"persona", persona.Name,
		"state", result.State,
		"rounds", result.Rounds,
		"tool_calls", result.ToolCalls,
		"bytes", sw.written,
	)
}

func decodeChatRequest(r *http.Request) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		return nil, goerr.Wrap(err, "failed to decode chat request")
	}
	if len(req.Messages) == 0 {
		return nil, goerr.New("messages are required")
	}
	for i, msg := range req.Messages {
		if !msg.Role.Valid() {
			return nil, goerr.New("invalid message role", goerr.V("index", i), goerr.V("role", msg.Role))
		}
	}
	return &req, nil
}

// streamWriter flushes every write so tokens reach the caller as they
// arrive
type streamWriter struct {
	http.ResponseWriter
	written int
}

func (w *streamWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.written += n
	if err != nil {
		return n, err
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
	return n, nil
}
