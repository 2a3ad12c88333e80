package api

import (
	"net/http"
	"strconv"

	"github.com/cuemby/rollout/pkg/metrics"
)

// ReadOnly only lets read requests through. It guards the Unix socket
// listener so local tooling cannot change clusters.
func ReadOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isReadOnlyMethod(r.Method) {
			http.Error(w, "write operations not allowed on the local socket, use the TCP API", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isReadOnlyMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method, strconv.Itoa(rec.code))

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("code", rec.code).
			Dur("duration", timer.Duration()).
			Msg("HTTP request")
	})
}
