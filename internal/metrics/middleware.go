package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type responseWriterWithStatus struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWithStatus) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker for websocket upgrades.
func (w *responseWriterWithStatus) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriterWithStatus{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		endpoint := Endpoint(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)
		HTTPRequestsTotal.WithLabelValues(endpoint, status, r.Method).Inc()
		HTTPRequestDuration.WithLabelValues(endpoint, r.Method).Observe(time.Since(start).Seconds())
		if wrapped.statusCode >= 400 && wrapped.statusCode < 600 {
			HTTPErrorsTotal.WithLabelValues(endpoint, status, r.Method).Inc()
		}
	})
}

// Endpoint replaces identifier segments (anything carrying a digit after the
// version prefix) so label cardinality stays bounded.
func Endpoint(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "api" {
		return path
	}
	for i := 2; i < len(parts); i++ {
		if strings.ContainsAny(parts[i], "0123456789") {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func Handler() http.Handler {
	return promhttp.Handler()
}
