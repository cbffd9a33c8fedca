// Package api assembles the HTTP surface next to a measurement: the live
// session feed, the read-only history API and a health check.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/saveenergy/chunkbench/internal/logging"
	"github.com/saveenergy/chunkbench/internal/results"
	"github.com/saveenergy/chunkbench/pkg/types"
)

type Router struct {
	feed           http.HandlerFunc
	resultsHandler *results.Handler
	limiter        *RateLimiter
	allowedOrigins []string
}

func NewRouter() *Router {
	return &Router{}
}

// SetFeedHandler mounts the websocket feed at /ws.
func (r *Router) SetFeedHandler(h http.HandlerFunc) {
	r.feed = h
}

func (r *Router) SetResultsHandler(h *results.Handler) {
	r.resultsHandler = h
}

// SetRateLimiter limits /api/v1 to perMinute requests per client IP.
func (r *Router) SetRateLimiter(perMinute int) {
	if perMinute <= 0 {
		r.limiter = nil
		return
	}
	r.limiter = NewRateLimiter(perMinute)
}

func (r *Router) SetAllowedOrigins(origins []string) {
	r.allowedOrigins = origins
}

func (r *Router) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", r.HealthCheck)

	if r.feed != nil {
		mux.HandleFunc("GET /ws", r.feed)
	}

	if r.resultsHandler != nil {
		v1 := http.NewServeMux()
		r.resultsHandler.Register(v1)
		var h http.Handler = v1
		if r.limiter != nil {
			h = RateLimitMiddleware(r.limiter)(h)
		}
		mux.Handle("/api/v1/", h)
	}

	// Wrap with middleware (outermost runs first)
	var handler http.Handler = mux
	handler = r.CORSMiddleware(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	return handler
}

func (r *Router) HealthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func respondJSON(w http.ResponseWriter, payload any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warn("api: write response", logging.Field{Key: "error", Value: err})
	}
}

func (r *Router) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		originAllowed := origin != "" && r.isAllowedOrigin(origin)
		if originAllowed {
			allowOrigin := origin
			if r.isAllowAllOrigins() {
				allowOrigin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
			if allowOrigin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		if req.Method == http.MethodOptions {
			if origin != "" && !originAllowed {
				respondJSON(w, map[string]string{"error": "origin not allowed"}, http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Router) isAllowedOrigin(origin string) bool {
	if len(r.allowedOrigins) == 0 {
		return false
	}
	originHostValue := types.OriginHost(origin)
	for _, allowed := range r.allowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == "*" {
			return true
		}
		if strings.EqualFold(allowed, origin) {
			return true
		}
		if strings.HasPrefix(allowed, "*.") {
			suffix := strings.TrimPrefix(allowed, "*.")
			if originHostValue != "" && (originHostValue == suffix || strings.HasSuffix(originHostValue, "."+suffix)) {
				return true
			}
		}
		allowedHost := types.OriginHost(allowed)
		if allowedHost != "" && originHostValue != "" && strings.EqualFold(allowedHost, originHostValue) {
			return true
		}
	}
	return false
}

func (r *Router) isAllowAllOrigins() bool {
	for _, allowed := range r.allowedOrigins {
		if allowed == "*" {
			return true
		}
	}
	return false
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs /api/ requests. The websocket feed is passed
// through untouched so the upgrade can hijack the connection.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path := req.URL.Path
		if !strings.HasPrefix(path, "/api/") {
			next.ServeHTTP(w, req)
			return
		}

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, req)

		logging.Info("HTTP request",
			logging.Field{Key: "method", Value: req.Method},
			logging.Field{Key: "path", Value: path},
			logging.Field{Key: "status", Value: rw.statusCode},
			logging.Field{Key: "duration_ms", Value: float64(time.Since(start).Microseconds()) / 1000},
			logging.Field{Key: "ip", Value: clientIP(req)},
		)
	})
}

func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}
