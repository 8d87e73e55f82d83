package reqlog

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sdko-org/traffic-guard/internal/ipaddr"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytesSent  int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesSent += n
	return n, err
}

// Middleware enqueues a record once the downstream handler has produced its
// response. It expects the client address to be in the request context.
func (l *Logger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		ip, _ := ipaddr.FromContext(r.Context())
		l.log.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    lrw.statusCode,
			"duration":  time.Since(start),
			"client_ip": ip,
			"bytes":     lrw.bytesSent,
		}).Debug("Request processed")

		l.Enqueue(Record{IP: ip, Path: r.URL.Path})
	})
}
