package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bleepstore/azdls/internal/metrics"
	"github.com/bleepstore/azdls/internal/uid"
)

// commonHeaders is HTTP middleware that stamps every response with a request
// ID, Date and Server header. The request ID is also passed upstream on the
// request so it can be correlated with gateway logs.
func commonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uid.New()
			r.Header.Set("X-Request-Id", requestID)
		}
		w.Header().Set("X-Request-Id", requestID)
		w.Header().Set("Date", time.Now().UTC().Format(http.TimeFormat))
		w.Header().Set("Server", "azdls-gateway")
		next.ServeHTTP(w, r)
	})
}

// responseRecorder wraps http.ResponseWriter to capture the HTTP status code.
// This is used by the metrics middleware.
type responseRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

// WriteHeader captures the status code and delegates to the wrapped ResponseWriter.
func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.wroteHeader {
		rr.statusCode = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if !rr.wroteHeader {
		rr.statusCode = http.StatusOK
		rr.wroteHeader = true
	}
	return rr.ResponseWriter.Write(b)
}

// Flush implements the http.Flusher interface if the underlying ResponseWriter supports it.
func (rr *responseRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// metricsMiddleware records request count, duration and upload size for each
// request. The /metrics endpoint is excluded from self-instrumentation.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &responseRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		path := metrics.NormalizePath(r.URL.Path)
		status := strconv.Itoa(rec.statusCode)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		if r.ContentLength > 0 {
			metrics.HTTPRequestSize.WithLabelValues(r.Method, path).Observe(float64(r.ContentLength))
		}
	})
}

// transferEncodingCheck rejects uploads with a Transfer-Encoding other than
// chunked; the body must be read to a known length before it is forwarded.
func transferEncodingCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if te := r.Header.Get("Transfer-Encoding"); te != "" {
			if strings.ToLower(strings.TrimSpace(te)) != "chunked" {
				writeError(w, http.StatusBadRequest, "InvalidRequest", "unsupported Transfer-Encoding "+te, "")
				return
			}
		}
		// Go's net/http strips the header but keeps non-chunked values here.
		for _, enc := range r.TransferEncoding {
			if strings.ToLower(enc) != "chunked" {
				writeError(w, http.StatusBadRequest, "InvalidRequest", "unsupported Transfer-Encoding "+enc, "")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
