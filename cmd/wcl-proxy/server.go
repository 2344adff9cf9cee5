package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/wcl-client/internal/config"
	"github.com/Sternrassler/wcl-client/pkg/client"
	"github.com/Sternrassler/wcl-client/pkg/metrics"
	"github.com/Sternrassler/wcl-client/pkg/pagination"
	"github.com/Sternrassler/wcl-client/pkg/query"
)

// newRouter wires the proxy routes. redisClient may be nil.
func newRouter(wcl *client.Client, redisClient *redis.Client, cfg config.ServerConfig, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(redisClient))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.RateLimitRequests > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}
		r.Get("/operations", operationsHandler)
		r.Get("/{operation}", queryHandler(wcl, logger))
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// operationInfo describes one operation in the /v1/operations listing.
type operationInfo struct {
	Name       string   `json:"name"`
	Endpoint   string   `json:"endpoint"`
	Params     []string `json:"params"`
	Pagination string   `json:"pagination,omitempty"`
}

func operationsHandler(w http.ResponseWriter, r *http.Request) {
	ops := client.Operations()
	infos := make([]operationInfo, 0, len(ops))
	for _, op := range ops {
		info := operationInfo{
			Name:     op.Name,
			Endpoint: op.Endpoint,
			Params:   op.Params,
		}
		if op.Pagination != nil {
			info.Pagination = op.Pagination.Kind.String()
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, infos)
}

// queryHandler runs /v1/{operation}?param=value. Every query parameter must
// be declared by the operation; path placeholders are passed the same way.
func queryHandler(wcl *client.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "operation")
		if _, ok := client.Operation(name); !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown operation %q", name))
			return
		}

		values := make(query.Values)
		for key, vals := range r.URL.Query() {
			if len(vals) > 1 {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("parameter %q given more than once", key))
				return
			}
			values[key] = vals[0]
		}

		q, err := client.NewQuery(name, values)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		data, err := wcl.Run(r.Context(), q)
		if err != nil {
			status := statusFor(err)
			logger.Warn().
				Err(err).
				Str("operation", name).
				Int("status_code", status).
				Msg("WCL query failed")
			writeError(w, status, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

// statusFor maps a query failure to the proxy response status.
func statusFor(err error) int {
	var authErr *client.AuthenticationError
	var connErr *client.ConnectionError

	switch {
	case errors.Is(err, query.ErrMissingPathParam):
		return http.StatusBadRequest
	case errors.As(err, &authErr):
		return http.StatusBadGateway
	case errors.Is(err, client.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.As(err, &connErr):
		// Upstream client errors (bad report code, bad view) are the caller's.
		if connErr.StatusCode >= 400 && connErr.StatusCode < 500 && connErr.StatusCode != http.StatusTooManyRequests {
			return connErr.StatusCode
		}
		return http.StatusBadGateway
	case errors.Is(err, pagination.ErrMalformedPage), errors.Is(err, pagination.ErrStalled):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// accessLog logs one line per request.
func accessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status_code", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("Handled request")
		})
	}
}
