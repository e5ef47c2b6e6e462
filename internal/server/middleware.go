package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"saferoute/internal/metrics"
)

// newRateLimiter builds the per-IP limiter for API routes from a
// "<limit>-<period>" rate such as "120-M". An empty rate disables it.
// Forwarded-for headers are only honoured when trustProxy is set.
func newRateLimiter(rate string, trustProxy bool) (func(http.Handler) http.Handler, error) {
	if strings.TrimSpace(rate) == "" {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", rate, err)
	}
	lim := limiter.New(memory.NewStore(), r, limiter.WithTrustForwardHeader(trustProxy))
	mw := stdlib.NewMiddleware(lim, stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
		zap.S().Warnf("[HTTP] Rate limit reached: path=%s", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":"RATE_LIMITED","message":"Too many requests. Please slow down."}}`))
	}))
	return mw.Handler, nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		zap.S().Infof("[HTTP] %s %s %d %v", r.Method, r.URL.Path, lrw.statusCode, time.Since(start))
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		metrics.ObserveHTTP(r.Method, routeLabel(r.URL.Path), lrw.statusCode, time.Since(start))
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the e-mail function sets its own open CORS headers
		if strings.HasPrefix(r.URL.Path, "/functions/") {
			next.ServeHTTP(w, r)
			return
		}

		origin := r.Header.Get("Origin")

		// Only allow localhost origins for local development
		if origin == "" ||
			strings.HasPrefix(origin, "http://localhost:") ||
			strings.HasPrefix(origin, "http://127.0.0.1:") {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, HX-Request, HX-Target, HX-Current-URL, HX-Trigger")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
