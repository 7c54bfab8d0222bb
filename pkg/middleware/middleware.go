package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sraphaz/araponga/pkg/observability"
)

// CallerIDHeader names the internal service calling the access core. The ops
// surface is not exposed to end users; the header is trusted.
const CallerIDHeader = "X-Caller-Id"

// RequestIDHeader carries the request id, propagated or generated.
const RequestIDHeader = "X-Request-Id"

// RequestID attaches a request id to the context and response, reusing the
// inbound header when the caller already assigned one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), requestID)))
	})
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Logging emits one structured log line per request.
func Logging(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(recorder, r.WithContext(observability.WithLogger(r.Context(), logger)))

			logger.WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      recorder.status,
				"duration_ms": time.Since(start).Milliseconds(),
				"caller":      r.Header.Get(CallerIDHeader),
			}).Info("request handled")
		})
	}
}

// Recovery turns a handler panic into a 500 instead of killing the server.
func Recovery(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if logger != nil {
						logger.WithFields(map[string]interface{}{
							"panic": rec,
							"path":  r.URL.Path,
						}).Error("handler panicked")
					}
					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// callerKey identifies the rate limit bucket for a request: the declared
// caller service when present, otherwise the client address.
func callerKey(r *http.Request) string {
	if caller := r.Header.Get(CallerIDHeader); caller != "" {
		return "caller:" + caller
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
