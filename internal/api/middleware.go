package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/nerrad567/pulse-gateway/internal/auth"
	"github.com/nerrad567/pulse-gateway/internal/point"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// ctxKeyRequestID is the context key for the request ID.
	ctxKeyRequestID contextKey = "request_id"

	// ctxKeyTenantID is the context key for the caller's tenant.
	ctxKeyTenantID contextKey = "tenant_id"
)

// defaultTenantHeader is used when the security config names none.
const defaultTenantHeader = "X-Tenant-ID"

// tenantFrom returns the tenant set by tenantMiddleware.
func tenantFrom(ctx context.Context) string {
	tenantID, _ := ctx.Value(ctxKeyTenantID).(string) //nolint:errcheck // type assertion, not an error
	return tenantID
}

// requestIDMiddleware generates a unique request ID for each request.
// If the client sends an X-Request-ID header, it is used; otherwise one is generated.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each HTTP request with method, path, status, and
// duration, and feeds the HTTP collectors when they are configured.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		elapsed := time.Since(start)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.observe(r.Method, route, wrapped.status, elapsed)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	})
}

// recoveryMiddleware catches panics in handlers and returns a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles Cross-Origin Resource Sharing with go-chi/cors.
// An empty origin list allows all origins.
func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	origins := s.cfg.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := s.cfg.CORS.AllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	}
	headers := s.cfg.CORS.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Authorization", "Content-Type", "X-Request-ID", s.tenantHeader()}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         86400,
	})
}

// rateLimitMiddleware limits requests per client IP with go-chi/httprate.
func (s *Server) rateLimitMiddleware() func(http.Handler) http.Handler {
	rl := s.secCfg.RateLimit
	if !rl.Enabled || rl.RequestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return httprate.Limit(
		rl.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
		}),
	)
}

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// bodySizeLimitMiddleware limits the size of incoming request bodies to prevent
// denial-of-service attacks via oversized payloads.
func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// tenantMiddleware resolves the caller's tenant.
//
// With a JWT secret configured the tenant comes from the tenant_id claim
// of a bearer token. Without one, the upstream proxy is trusted to set the
// tenant header.
func (s *Server) tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var tenantID string

		if secret := s.secCfg.JWT.Secret; secret != "" {
			token, ok := bearerToken(r)
			if !ok {
				writeUnauthorised(w, "bearer token required")
				return
			}
			claims, err := auth.ParseTenantToken(token, secret)
			if err != nil {
				s.logger.Debug("tenant token rejected", "error", err)
				writeUnauthorised(w, "invalid tenant token")
				return
			}
			tenantID = claims.TenantID
		} else {
			tenantID = strings.TrimSpace(r.Header.Get(s.tenantHeader()))
			if tenantID == "" {
				writeUnauthorised(w, "tenant identity required")
				return
			}
			if !point.ValidTenant(tenantID) {
				writeUnauthorised(w, "tenant identity is malformed")
				return
			}
		}

		ctx := context.WithValue(r.Context(), ctxKeyTenantID, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) tenantHeader() string {
	if s.secCfg.TenantHeader != "" {
		return s.secCfg.TenantHeader
	}
	return defaultTenantHeader
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
