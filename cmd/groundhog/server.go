package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ghErrors "github.com/mirkobrombin/go-groundhog/v1/errors"
	"github.com/mirkobrombin/go-groundhog/v1/presets"
)

type entryResponse struct {
	Key   string   `json:"key"`
	Value []string `json:"value"`
}

type setResponse struct {
	Previous []string `json:"previous,omitempty"`
	Present  bool     `json:"present"`
}

// newMux exposes the cache over HTTP:
//
//	GET  /entries/{key}   read a key
//	PUT  /entries/{key}   overwrite a key with a JSON string array
//	POST /reload          reset this process and every peer on the topic
//	GET  /metrics         Prometheus metrics
func newMux(s *presets.Setup[[]string], reg *prometheus.Registry, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /entries/{key}", func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		v, err := s.Cache.Get(r.Context(), key)
		switch {
		case errors.Is(err, ghErrors.ErrKeyNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case errors.Is(err, ghErrors.ErrTimeout):
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		case err != nil:
			logger.Error("get failed", "key", key, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, entryResponse{Key: key, Value: v})
	})
	mux.HandleFunc("PUT /entries/{key}", func(w http.ResponseWriter, r *http.Request) {
		var v []string
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			http.Error(w, "body must be a JSON array of strings", http.StatusBadRequest)
			return
		}
		prev := s.Cache.Set(r.Context(), r.PathValue("key"), v)
		writeJSON(w, setResponse{Previous: prev.Value, Present: prev.Present})
	})
	mux.HandleFunc("POST /reload", func(w http.ResponseWriter, r *http.Request) {
		if err := s.Reloader.Reload(r.Context()); err != nil {
			// the local reset already happened
			logger.Warn("reload not propagated", "error", err)
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
