package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkarlsen/pacerelay/internal/feed"
	"github.com/mkarlsen/pacerelay/internal/logging"
	"github.com/mkarlsen/pacerelay/internal/models"
	"github.com/mkarlsen/pacerelay/internal/ratelimit"
	"github.com/mkarlsen/pacerelay/internal/relay"
)

type Server struct {
	assembler      *feed.Assembler
	pool           relay.Pool
	refreshLimiter ratelimit.RateLimiter
	logger         *logging.Logger
	server         *http.Server
}

func New(assembler *feed.Assembler, pool relay.Pool, refreshLimiter ratelimit.RateLimiter, logger *logging.Logger) *Server {
	return &Server{
		assembler:      assembler,
		pool:           pool,
		refreshLimiter: refreshLimiter,
		logger:         logger,
	}
}

func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/feed", s.corsMiddleware(s.handleGetFeed))
	mux.HandleFunc("/api/feed/more", s.corsMiddleware(s.handleLoadMore))
	mux.HandleFunc("/api/leaderboard", s.corsMiddleware(s.handleLeaderboard))
	mux.HandleFunc("/api/sources", s.corsMiddleware(s.handleGetSources))
	mux.HandleFunc("/api/refresh", s.corsMiddleware(s.handleRefresh))

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("HTTP API server starting", logging.WithField("addr", addr))
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// queryFromRequest maps request parameters onto a feed query. Limit is
// capped so one request cannot ask for an unbounded page.
func queryFromRequest(r *http.Request) models.FeedQuery {
	q := r.URL.Query()

	query := models.FeedQuery{
		ActivityType: q.Get("type"),
	}

	if authors := q.Get("authors"); authors != "" {
		for _, a := range strings.Split(authors, ",") {
			if trimmed := strings.TrimSpace(a); trimmed != "" {
				query.Authors = append(query.Authors, trimmed)
			}
		}
	}

	query.Limit = 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			query.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			query.Offset = n
		}
	}
	if v := q.Get("since"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			query.Since = n
		}
	}
	if v := q.Get("until"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			query.Until = n
		}
	}

	return query
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := queryFromRequest(r)

	page, err := s.assembler.GetFeed(r.Context(), query)
	if err != nil {
		s.logger.Warn("Feed request failed", logging.WithField("error", err.Error()))
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := queryFromRequest(r)
	query.Limit = 0 // load-more always uses the assembler's display cursor

	page, err := s.assembler.LoadMore(r.Context(), query)
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := s.assembler.Leaderboard(queryFromRequest(r))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleGetSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"relays": s.pool.Status(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.refreshLimiter != nil && !s.refreshLimiter.Allow("feed") {
		s.writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "refresh rate limit exceeded, try again later",
		})
		return
	}

	query := queryFromRequest(r)
	if err := s.assembler.Refresh(r.Context(), query); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, s.assembler.Page(query))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	phase, _ := s.assembler.Phase()
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"phase":  string(phase),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", logging.WithField("error", err.Error()))
	}
}
