package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cespare/xxhash/v2"
	"github.com/ldesign/toolkit/builder"
	"github.com/ldesign/toolkit/cache"
	"github.com/rs/zerolog/log"
)

const maxPlanBody = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("writing response")
	}
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cache_unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "cache_unavailable", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPlanBody))
	dec.DisallowUnknownFields()
	var cfg builder.Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, builder.ErrUnsupportedLibraryType) {
			writeError(w, http.StatusBadRequest, "unsupported_library_type", err)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("decoding build config: %w", err))
		return
	}
	cfg.Root = s.cfg.ProjectRoot

	key, err := planKey(&cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	cached, err := s.cache.Has(r.Context(), key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("checking plan cache")
	}

	plan, err := cache.Remember(r.Context(), s.cache, key, s.planTTL, func(ctx context.Context) (builder.UnifiedConfig, error) {
		p, err := s.registry.Plan(ctx, &cfg, s.toolchain)
		if err != nil {
			return builder.UnifiedConfig{}, err
		}
		return *p, nil
	})
	if err != nil {
		status, code := planStatus(err)
		log.Debug().Err(err).Str("library_type", cfg.LibraryType.String()).Int("status", status).Msg("plan rejected")
		writeError(w, status, code, err)
		return
	}

	if cached {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	writeJSON(w, http.StatusOK, plan)
}

func planStatus(err error) (int, string) {
	var depErr *builder.DependencyError
	switch {
	case errors.Is(err, builder.ErrUnsupportedLibraryType):
		return http.StatusBadRequest, "unsupported_library_type"
	case errors.As(err, &depErr):
		return http.StatusFailedDependency, "missing_dependency"
	case errors.Is(err, builder.ErrInvalidConfig):
		return http.StatusUnprocessableEntity, "invalid_config"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func planKey(cfg *builder.Config) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("hashing build config: %w", err)
	}
	return fmt.Sprintf("plan:%016x", xxhash.Sum64(data)), nil
}
