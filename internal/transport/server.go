// Package transport exposes the engine supervisor over REST/JSON and the
// spectator websocket stream. Grounded on the teacher's internal/api
// server: a gorilla/mux router, a CORS middleware wrapper, and one
// handler method per endpoint returning JSON.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/segfaultgame/engine/internal/config"
	"github.com/segfaultgame/engine/internal/fabric"
	"github.com/segfaultgame/engine/internal/middleware"
	"github.com/segfaultgame/engine/internal/supervisor"
)

// Server exposes the engine supervisor's join/submit/perceive surface and
// the spectator stream over HTTP.
type Server struct {
	sup         *supervisor.Supervisor
	hub         *fabric.Hub
	rateLimiter *middleware.RateLimiter
	cfg         config.ServerConfig
	logger      *slog.Logger
}

// NewServer builds a transport Server. hub may be nil when spectator
// streaming is not wired in.
func NewServer(sup *supervisor.Supervisor, hub *fabric.Hub, rl *middleware.RateLimiter, cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{sup: sup, hub: hub, rateLimiter: rl, cfg: cfg, logger: logger}
}

// Handler builds the mux router for this server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.Use(s.corsMiddleware)

	r.HandleFunc("/api/join", s.handleJoin).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/perceive", s.handlePerceive).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/shutdown/{shard_id}", s.handleShutdown).Methods("POST", "OPTIONS")

	submit := r.Path("/api/submit").Subrouter()
	submit.Methods("POST", "OPTIONS").HandlerFunc(s.handleSubmit)
	if s.rateLimiter != nil {
		submit.Use(s.rateLimiter.Middleware)
	}

	if s.hub != nil {
		r.HandleFunc("/api/spectate", s.hub.HandleSpectatorStream).Methods("GET")
	}

	return r
}

// Start runs the server's HTTP listener until the process is killed or
// ctx is canceled, whichever comes first.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.Interface, s.cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("transport: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.ShutdownTimeout)*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.cfg.CORSAllowOrigins) > 0 {
			origin = s.cfg.CORSAllowOrigins[0]
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Session-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallSign string `json:"call_sign"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.CallSign == "" {
		writeError(w, http.StatusBadRequest, errors.New("call_sign is required"))
		return
	}

	result, err := s.sup.Join(r.Context(), req.CallSign)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"shard_id":   result.ShardID,
		"process_id": result.ProcessID,
		"token":      result.Token.Token,
		"token_id":   result.Token.TokenID,
		"expires_at": result.Token.ExpiresAt,
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
		Verb  string `json:"verb"`
		Arg   int    `json:"arg"`
		Text  string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cmd, err := supervisor.ParseCommand(req.Verb, req.Arg, req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.sup.Submit(r.Context(), req.Token, cmd); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handlePerceive(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-Session-ID")
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, errors.New("token is required"))
		return
	}

	payload, err := s.sup.Perceive(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	shardID := mux.Vars(r)["shard_id"]
	if err := s.sup.Shutdown(r.Context(), shardID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated", "shard_id": shardID})
}
