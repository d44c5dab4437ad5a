package api

import (
	"log/slog"
	"net/http"
	"time"

	"oauth-gateway/internal/auth"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const requestIDHeader = "X-Request-ID"

// NewRouter 创建路由并注册所有 handler
func NewRouter(authHandler *AuthHandler, cookies *auth.Cookies, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	logRequests := RequestLogger(logger)

	r := mux.NewRouter()
	// 未匹配的请求不经过 r.Use 中间件，单独包装日志
	r.NotFoundHandler = logRequests(http.HandlerFunc(emptyStatus(http.StatusNotFound)))
	r.MethodNotAllowedHandler = logRequests(http.HandlerFunc(emptyStatus(http.StatusMethodNotAllowed)))

	r.Use(logRequests)
	r.Use(auth.SessionMiddleware(cookies))

	// Health check endpoint (public, no session)
	r.HandleFunc("/health", HealthCheckHandler).Methods(http.MethodGet)

	authHandler.RegisterRoutes(r)
	return r
}

func emptyStatus(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}
}

// RequestLogger 记录每个请求，只记录 path，query 中可能含有 code 与 state
func RequestLogger(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(requestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, requestID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.InfoContext(r.Context(), "request",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}
