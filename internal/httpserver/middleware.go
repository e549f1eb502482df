package httpserver

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// HTTPMetrics records one observation per served request.
type HTTPMetrics interface {
	HTTPRequest(route, method string, code int, d time.Duration)
}

// responseWriter captures the response code. It passes Hijack through so the
// chat websocket can upgrade behind the middleware chain.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{w, http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingMiddleware logs the request method, uri, duration and response code
// of each request. Only 5xx responses are logged as errors; client errors are
// logged as warnings.
func LoggingMiddleware(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			respWriter := newResponseWriter(w)
			handler.ServeHTTP(respWriter, req)

			var ev *zerolog.Event
			switch {
			case respWriter.statusCode >= http.StatusInternalServerError:
				ev = logger.Error()
			case respWriter.statusCode >= http.StatusBadRequest:
				ev = logger.Warn()
			default:
				ev = logger.Info()
			}
			ev.Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("client_ip", req.RemoteAddr).
				Str("user_agent", req.UserAgent()).
				Dur("duration", time.Since(start)).
				Int("response_code", respWriter.statusCode).
				Msg("api")
		})
	}
}

// MetricsMiddleware labels requests by route template rather than raw path so
// incident ids do not explode label cardinality.
func MetricsMiddleware(metrics HTTPMetrics) mux.MiddlewareFunc {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			respWriter := newResponseWriter(w)
			handler.ServeHTTP(respWriter, req)

			route := "unmatched"
			if cur := mux.CurrentRoute(req); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			metrics.HTTPRequest(route, req.Method, respWriter.statusCode, time.Since(start))
		})
	}
}
