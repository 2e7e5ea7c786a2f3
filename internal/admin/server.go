// Package admin serves the liveness probe, Prometheus metrics and a small
// basic-auth API for operators.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/digkill/imaginebot/internal/models"
	"github.com/digkill/imaginebot/internal/repository"
	"github.com/digkill/imaginebot/internal/service"
)

const defaultHistoryLimit = 20

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	users    *service.UserService
	router   *chi.Mux
}

// NewServer builds the router. The admin routes are mounted only when a
// password is configured.
func NewServer(addr, username, password string, log *slog.Logger, users *service.UserService, gatherer prometheus.Gatherer) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		users:    users,
		router:   r,
	}

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	if password != "" {
		r.Route("/admin/users/{id}", func(protected chi.Router) {
			protected.Use(s.basicAuthMiddleware())
			protected.Get("/", s.handleGetUser)
			protected.Put("/premium", s.handleSetPremium)
			protected.Get("/generations", s.handleListGenerations)
		})
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.addr, "admin_api", s.password != "")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Bot is running!"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

type userResponse struct {
	UserID             string    `json:"user_id"`
	TotalGenerations   int       `json:"total_generations"`
	DailyGenerations   int       `json:"daily_generations"`
	DailyLimit         int       `json:"daily_limit"`
	LastGenerationDate string    `json:"last_generation_date"`
	PreferredModel     string    `json:"preferred_model"`
	PreferredStyle     string    `json:"preferred_style"`
	PreferredQuality   string    `json:"preferred_quality"`
	IsPremium          bool      `json:"is_premium"`
	CreatedAt          time.Time `json:"created_at"`
}

func (s *Server) toResponse(u *models.UserAccount) userResponse {
	return userResponse{
		UserID:             u.UserID,
		TotalGenerations:   u.TotalGenerations,
		DailyGenerations:   u.DailyGenerations,
		DailyLimit:         s.users.Limits().For(u),
		LastGenerationDate: u.LastGenerationDate,
		PreferredModel:     u.PreferredModel,
		PreferredStyle:     u.PreferredStyle,
		PreferredQuality:   u.PreferredQuality,
		IsPremium:          u.IsPremium,
		CreatedAt:          u.CreatedAt,
	}
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.Find(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.internalError(w, err)
		return
	}
	if user == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, s.toResponse(user))
}

type premiumRequest struct {
	Premium *bool `json:"premium"`
}

func (s *Server) handleSetPremium(w http.ResponseWriter, r *http.Request) {
	var req premiumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Premium == nil {
		http.Error(w, "premium required", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	user, err := s.users.SetPremium(r.Context(), id, *req.Premium)
	if errors.Is(err, repository.ErrUserNotFound) {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.log.Info("premium flag changed", "user_id", id, "premium", *req.Premium)
	s.writeJSON(w, http.StatusOK, s.toResponse(user))
}

type generationResponse struct {
	ID             int64     `json:"id"`
	Prompt         string    `json:"prompt"`
	Model          string    `json:"model"`
	Style          string    `json:"style"`
	Quality        string    `json:"quality"`
	GenerationTime float64   `json:"generation_time"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	list, err := s.users.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]generationResponse, 0, len(list))
	for _, g := range list {
		out = append(out, generationResponse{
			ID:             g.ID,
			Prompt:         g.Prompt,
			Model:          g.Model,
			Style:          g.Style,
			Quality:        g.Quality,
			GenerationTime: g.GenerationTime,
			CreatedAt:      g.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="imaginebot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
