package api

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/rucat-project/rucat/internal/apierr"
	"github.com/rucat-project/rucat/internal/metrics"
	"github.com/rucat-project/rucat/pkg/logger"
)

// recoverer converts a panic in a downstream handler into a 500 response
// instead of crashing the process.
func recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithContext(r.Context()).WithField("panic", rec).WithField("stack", string(debug.Stack())).Error("panic recovered")
					writeJSON(w, http.StatusInternalServerError, ErrorResponse{
						Code: "INTERNAL", Message: "internal error", TraceID: logger.TraceID(r.Context()),
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// traceID assigns a trace id to every request's context, reusing an inbound
// X-Trace-ID header if present.
func traceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Trace-ID"))
		if id == "" {
			id = logger.TraceID(r.Context())
		}
		ctx := logger.WithTraceID(r.Context(), id)
		w.Header().Set("X-Trace-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLog logs one structured line per completed request and records HTTP
// metrics.
func accessLog(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			duration := time.Since(started)
			log.WithContext(r.Context()).
				WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", sw.status).
				WithField("duration_ms", duration.Milliseconds()).
				Info("request handled")
			metrics.Default().ObserveRequest(r.Method, r.URL.Path, httpStatusLabel(sw.status), duration)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

func httpStatusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// newCORS builds a permissive-by-default CORS middleware atop go-chi/cors,
// origin list configurable.
func newCORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Trace-ID"},
		MaxAge:         300,
	})
}

// rateLimit enforces a process-wide token bucket atop golang.org/x/time/rate.
func rateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
					Code: "RATE_LIMITED", Message: "too many requests", TraceID: logger.TraceID(r.Context()),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// staticAuth checks a bearer token against a fixed set of configured tokens.
// Each configured token is hashed with bcrypt once at construction so the
// plaintext values are not retained in memory for the life of the process,
// and a request's bearer token is checked against every hash with
// bcrypt.CompareHashAndPassword rather than a plain string comparison. A
// nil/empty tokens set disables the check entirely.
func staticAuth(tokens []string) func(http.Handler) http.Handler {
	hashes := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(t), bcrypt.DefaultCost)
		if err != nil {
			continue
		}
		hashes = append(hashes, hash)
	}
	return func(next http.Handler) http.Handler {
		if len(hashes) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				writeError(w, r, apierr.AuthError("missing bearer token"))
				return
			}
			token := []byte(strings.TrimPrefix(header, prefix))
			for _, hash := range hashes {
				if bcrypt.CompareHashAndPassword(hash, token) == nil {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, apierr.AuthError("invalid credentials"))
		})
	}
}
