package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/cacheguard"
	"github.com/unkn0wn-root/cacheguard/breaker"
)

type server struct {
	cache *cacheguard.Cache[Shop]
	repo  *shopRepo
	load  cacheguard.Loader[Shop]
	mode  string
	log   *zap.Logger
}

func (s *server) routes(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/shops/{id}", func(r chi.Router) {
		r.Get("/", s.getShop)
		r.Put("/", s.putShop)
		r.Post("/warm", s.warmShop)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func (s *server) reader(mode string) (cacheguard.Reader[Shop], bool) {
	if mode == "" {
		mode = s.mode
	}
	switch mode {
	case "aside":
		return s.cache.Aside(), true
	case "mutex":
		return s.cache.Mutex(), true
	case "logical":
		return s.cache.Logical(), true
	default:
		return nil, false
	}
}

func (s *server) getShop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rd, ok := s.reader(r.URL.Query().Get("mode"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown mode")
		return
	}
	shop, found, err := rd.Read(r.Context(), id, s.load)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "shop not found")
		return
	}
	writeJSON(w, http.StatusOK, shop)
}

// putShop writes the source first, then drops the cache entry. A PUT in
// logical mode re-warms the entry instead, since logical reads never load.
// The mode comes from ?mode= like on reads.
func (s *server) putShop(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = s.mode
	}
	if _, ok := s.reader(mode); !ok {
		writeError(w, http.StatusBadRequest, "unknown mode")
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be numeric")
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	shop := Shop{ID: id, Name: body.Name}
	s.repo.Put(shop)

	key := strconv.Itoa(id)
	if mode == "logical" {
		err = s.cache.Warm(r.Context(), key, s.load)
	} else {
		err = s.cache.Invalidate(r.Context(), key)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shop)
}

func (s *server) warmShop(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Warm(r.Context(), chi.URLParam(r, "id"), s.load); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps cache errors to statuses. Internal error types never reach the
// client.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var le *cacheguard.LoadError
	switch {
	case errors.Is(err, breaker.ErrOpen), errors.Is(err, breaker.ErrTooManyRequests):
		status = http.StatusServiceUnavailable
	case cacheguard.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		status = http.StatusServiceUnavailable
	case errors.As(err, &le):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	}
	s.log.Warn("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Int("status", status),
		zap.Error(err))
	writeError(w, status, http.StatusText(status))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
