package api

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/eden-env/internal/version"
)

// LoggingMiddleware logs the start and end of every request.
func (s *Server) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		s.logger.Printf(
			"request_start method=%s path=%s request_id=%s remote_addr=%s user_agent=%q",
			r.Method, r.URL.Path, requestID, r.RemoteAddr, r.UserAgent(),
		)

		next.ServeHTTP(ww, r)

		s.logger.Printf(
			"request_completed method=%s path=%s status=%d duration=%v request_id=%s bytes_written=%d version=%s",
			r.Method, r.URL.Path, ww.Status(), time.Since(start), requestID, ww.BytesWritten(), version.Version,
		)
	})
}

// RateLimitMiddleware applies the per-client limiter, keyed by client IP.
// Health and metrics endpoints are exempt.
func (s *Server) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || r.URL.Path == "/health" || r.URL.Path == "/health/live" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := clientIP(r)
		if !s.limiter.Allow(key, time.Now()) {
			w.Header().Set("Retry-After", strconv.Itoa(1))
			s.errorHandler.HandleError(w, r, NewError(ErrTypeRateLimit, "Rate limit exceeded").
				WithContext("client", key).
				Build())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
