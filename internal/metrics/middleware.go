package metrics

import (
	"net/http"
	"strconv"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts, latency and in-flight gauge for the
// preview server. Paths are deliberately not labels.
func (m *BuildMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inflight.Inc()
		defer m.inflight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		m.reqDur.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		m.reqTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
	})
}
