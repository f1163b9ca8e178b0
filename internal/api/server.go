// Package api serves the local status and control endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tengjizhang/feedsync/internal/account"
	"github.com/tengjizhang/feedsync/internal/model"
	"github.com/tengjizhang/feedsync/internal/newsblur"
	"github.com/tengjizhang/feedsync/internal/progress"
	"github.com/tengjizhang/feedsync/internal/store"
)

// Service is what the HTTP handlers need from the account manager.
type Service interface {
	Accounts(ctx context.Context) ([]model.AccountInfo, error)
	Tree(ctx context.Context, accountRef string) (account.Snapshot, error)
	Stats(ctx context.Context, accountRef string) (model.Stats, error)
	Progress() progress.Snapshot
	RefreshAll(ctx context.Context) error
	RefreshAccount(ctx context.Context, accountRef string) error
}

type Server struct {
	svc    Service
	logger *slog.Logger
	router chi.Router
}

func New(svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/accounts", s.handleAccounts)
		r.Get("/accounts/{accountID}/tree", s.handleTree)
		r.Get("/accounts/{accountID}/stats", s.handleStats)
		r.Post("/accounts/{accountID}/refresh", s.handleRefreshAccount)
		r.Get("/progress", s.handleProgress)
		r.Post("/refresh", s.handleRefresh)
	})
	s.router = r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
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

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.svc.Accounts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Session IDs never leave the process.
	for i := range accounts {
		accounts[i].SessionID = ""
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Tree(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Progress())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RefreshAll(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "progress": s.svc.Progress()})
}

func (s *Server) handleRefreshAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RefreshAccount(r.Context(), chi.URLParam(r, "accountID")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("api request failed", "err", err)
	}
	var rl *newsblur.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, newsblur.ErrInvalidParameter):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, newsblur.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, newsblur.ErrUnauthorized):
		return http.StatusBadGateway, "auth"
	case errors.Is(err, newsblur.ErrSuspended):
		return http.StatusServiceUnavailable, "suspended"
	}
	var ae *newsblur.AccountError
	if errors.As(err, &ae) {
		return http.StatusBadGateway, "remote"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
