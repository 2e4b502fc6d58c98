package daemon

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"aco/internal/logging"
	"aco/internal/services"
)

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// requestMiddleware tags each request with an id, recovers panics, records
// metrics, and logs completion.
func requestMiddleware(logger *slog.Logger, metrics *apiMetrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := services.WithRequestID(r.Context(), id)
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w}
		metrics.inFlight.Inc()
		defer func() {
			metrics.inFlight.Dec()
			if p := recover(); p != nil {
				logging.WithContext(ctx, logger).Error("panic serving request",
					logging.String(logging.FieldEventType, "api_panic"),
					logging.Any("panic", p),
					logging.String("stack", string(debug.Stack())),
					logging.String("path", r.URL.Path),
				)
				if rec.status == 0 {
					writeDetail(rec, http.StatusInternalServerError, "internal server error")
				}
			}
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			elapsed := time.Since(start)
			metrics.observe(r.Method, route, rec.status, elapsed)
			if r.URL.Path == "/metrics" {
				return
			}
			logging.WithContext(ctx, logger).Debug("request completed",
				logging.String(logging.FieldEventType, "api_request"),
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", rec.status),
				logging.Int("bytes", rec.bytes),
				logging.Duration("elapsed", elapsed),
			)
		}()
		next.ServeHTTP(rec, r)
	})
}
