package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/totl433/pushgate/internal/catalog"
	"github.com/totl433/pushgate/internal/dispatch"
)

// Server exposes the dispatch engine over HTTP. Handlers only decode an
// intent and hand it to the orchestrator; no dispatch logic lives here.
type Server struct {
	orchestrator *dispatch.Orchestrator
	catalog      *catalog.Catalog
	logger       *zap.Logger
	httpServer   *http.Server
	router       chi.Router
}

func New(orchestrator *dispatch.Orchestrator, cat *catalog.Catalog, logger *zap.Logger) *Server {
	return &Server{orchestrator: orchestrator, catalog: cat, logger: logger}
}

func (s *Server) Start(addr string) error {
	s.logger.Info("starting server", zap.String("addr", addr))
	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/ping", s.handlePing)

		r.Post("/dispatch", s.handleDispatch)
		r.Post("/broadcast", s.handleBroadcast)

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/", s.handleListCatalog)
			r.Get("/{key}", s.handleGetCatalogEntry)
		})
	})

	return r
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("pong"))
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var intent dispatch.Intent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if intent.NotificationKey == "" {
		http.Error(w, "notification_key is required", http.StatusBadRequest)
		return
	}
	if len(intent.RecipientIDs) == 0 {
		http.Error(w, "recipient_ids is required", http.StatusBadRequest)
		return
	}

	result, err := s.orchestrator.DispatchNotification(r.Context(), &intent)
	if err != nil {
		s.respondDispatchError(w, err)
		return
	}
	s.respond(w, r, result, http.StatusOK)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var intent dispatch.Intent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if intent.NotificationKey == "" {
		http.Error(w, "notification_key is required", http.StatusBadRequest)
		return
	}

	result, err := s.orchestrator.DispatchBroadcast(r.Context(), &intent)
	if err != nil {
		s.respondDispatchError(w, err)
		return
	}
	s.respond(w, r, result, http.StatusOK)
}

func (s *Server) respondDispatchError(w http.ResponseWriter, err error) {
	var configErr *catalog.ConfigError
	if errors.As(err, &configErr) {
		http.Error(w, configErr.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.logger.Error("dispatch failed", zap.Error(err))
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (s *Server) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.catalog.All(), http.StatusOK)
}

func (s *Server) handleGetCatalogEntry(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	entry, ok := s.catalog.Get(key)
	if !ok {
		http.Error(w, "Unknown notification key", http.StatusNotFound)
		return
	}
	s.respond(w, r, entry, http.StatusOK)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Error("error encoding response",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Error(err))
		}
	}
}
