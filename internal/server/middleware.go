package server

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/embedsrv/embedsrv/internal/util"
)

// requestTimeout bounds every request: fixed at 15 seconds,
// independent of inference progress.
const requestTimeout = 15 * time.Second

var timeoutBody = []byte(`{"error":"request timed out"}`)

// timeoutWriter buffers a handler's response, headers included, instead
// of writing it straight through, so the handler goroutine and the
// timeout goroutine in timeoutMiddleware never touch the same
// gin.ResponseWriter concurrently. Header() returns an isolated map
// until commit, since Header().Set is a direct map write the caller
// performs outside any mutex we control. Exactly one of commit or
// commitTimeout wins; the other is a no-op.
type timeoutWriter struct {
	gin.ResponseWriter
	mu        sync.Mutex
	header    http.Header
	buf       bytes.Buffer
	status    int
	committed bool
}

func (w *timeoutWriter) Header() http.Header {
	return w.header
}

func (w *timeoutWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.committed {
		return
	}
	w.status = code
}

func (w *timeoutWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.committed {
		return len(b), nil
	}
	return w.buf.Write(b)
}

func (w *timeoutWriter) WriteString(s string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.committed {
		return len(s), nil
	}
	return w.buf.WriteString(s)
}

// commit flushes the buffered handler response to the real writer. Called
// when the handler finished before the deadline.
func (w *timeoutWriter) commit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.committed {
		return
	}
	w.committed = true
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	realHeader := w.ResponseWriter.Header()
	for k, v := range w.header {
		realHeader[k] = v
	}
	w.ResponseWriter.WriteHeader(status)
	_, _ = w.ResponseWriter.Write(w.buf.Bytes())
}

// commitTimeout discards whatever the handler buffered and writes the
// 408 response directly. Called when the deadline fires first; any
// later write from the still-running handler goroutine lands in
// Write/WriteHeader above and is dropped.
func (w *timeoutWriter) commitTimeout() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.committed {
		return
	}
	w.committed = true
	w.ResponseWriter.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.ResponseWriter.WriteHeader(http.StatusRequestTimeout)
	_, _ = w.ResponseWriter.Write(timeoutBody)
}

// timeoutMiddleware replaces the request's context with one that
// expires after requestTimeout, then responds 408 if the handler
// hasn't finished by the time it fires. The in-flight inference task
// is not cancelled: the worker completes it and discards the result.
// The handler keeps running in its own goroutine after a timeout; its
// response lands in the timeoutWriter buffer instead of racing a
// second write onto the real connection.
func timeoutMiddleware() gin.HandlerFunc {
	return timeoutMiddlewareWithTimeout(requestTimeout)
}

// timeoutMiddlewareWithTimeout is timeoutMiddleware parameterized on the
// deadline, split out so tests can exercise the timeout path without
// waiting out the real requestTimeout.
func timeoutMiddlewareWithTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		tw := &timeoutWriter{ResponseWriter: c.Writer, header: make(http.Header)}
		c.Writer = tw

		done := make(chan struct{})
		go func() {
			defer close(done)
			c.Next()
		}()

		select {
		case <-done:
			tw.commit()
		case <-ctx.Done():
			tw.commitTimeout()
			c.Abort()
		}
	}
}

// traceMiddleware logs the matched route at debug level and request
// latency at trace-equivalent verbosity. It also attaches a per-request
// logger carrying a request id to the request's context, so downstream
// handlers can log with util.FromContext instead of the bare global
// logger.
func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := util.WithField(c.Request.Context(), "request_id", uuid.NewString())
		c.Request = c.Request.WithContext(ctx)
		logger := util.FromContext(ctx)

		start := time.Now()
		logger.Debug("http request", "method", c.Request.Method, "path", c.FullPath())

		c.Next()

		duration := time.Since(start)
		logger.Debug("http response",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", duration)

		labels := map[string]string{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": http.StatusText(c.Writer.Status()),
		}
		util.DefaultMetrics.IncCounter("embedsrv_http_requests_total", labels)
		util.DefaultMetrics.ObserveHistogram("embedsrv_http_request_seconds", duration.Seconds(), labels)
	}
}
