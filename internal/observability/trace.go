// Package observability provides request tracing for verbose mode.
package observability

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// sensitiveParams are query parameter names that should be scrubbed from
// trace output. This list is intentionally specific to avoid hiding
// useful debug info.
var sensitiveParams = map[string]bool{
	"access_token":  true, // OAuth tokens
	"refresh_token": true, // OAuth refresh
	"token":         true, // Generic tokens
	"code":          true, // Authorization codes
	"client_secret": true, // OAuth client secret
	"password":      true, // Passwords
	"secret":        true, // Generic secrets
}

// TraceWriter outputs human-readable trace information to stderr.
// It formats output with timestamps relative to session start.
type TraceWriter struct {
	mu        sync.Mutex
	writer    io.Writer
	startTime time.Time
}

// NewTraceWriter creates a new TraceWriter that writes to stderr.
func NewTraceWriter() *TraceWriter {
	return &TraceWriter{
		writer:    os.Stderr,
		startTime: time.Now(),
	}
}

// NewTraceWriterTo creates a new TraceWriter that writes to the given writer.
func NewTraceWriterTo(w io.Writer) *TraceWriter {
	return &TraceWriter{
		writer:    w,
		startTime: time.Now(),
	}
}

// WriteRequest writes a request start trace line.
// Format: [0.234s] -> GET https://.../v3/company/123/customer (attempt 1)
// Sensitive query parameters are redacted.
func (t *TraceWriter) WriteRequest(method, rawURL string, attempt int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.startTime).Seconds()
	fmt.Fprintf(t.writer, "[%.3fs] -> %s %s (attempt %d)\n", elapsed, method, scrubURL(rawURL), attempt)
}

// WriteResponse writes a request completion trace line.
// Format: [0.234s] <- 200 (45ms, 1824 bytes)
func (t *TraceWriter) WriteResponse(status int, bodyLen int, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.startTime).Seconds()
	fmt.Fprintf(t.writer, "[%.3fs] <- %d (%dms, %d bytes)\n", elapsed, status, duration.Milliseconds(), bodyLen)
}

// WriteError writes a transport failure trace line.
func (t *TraceWriter) WriteError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.startTime).Seconds()
	fmt.Fprintf(t.writer, "[%.3fs] <- ERROR: %v\n", elapsed, err)
}

// WriteRetry writes a retry trace line.
// Format: [0.234s] RETRY after 401: refreshing tokens
func (t *TraceWriter) WriteRetry(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.startTime).Seconds()
	fmt.Fprintf(t.writer, "[%.3fs] RETRY %s\n", elapsed, reason)
}

// Reset resets the start time for relative timestamps.
func (t *TraceWriter) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTime = time.Now()
}

// scrubURL redacts sensitive query parameters from a URL for safe logging.
// Returns a safe placeholder if the URL cannot be parsed.
func scrubURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// Don't leak potentially sensitive malformed URLs
		return "[unparseable URL]"
	}

	query := u.Query()
	modified := false
	for key := range query {
		if sensitiveParams[strings.ToLower(key)] {
			query.Set(key, "[REDACTED]")
			modified = true
		}
	}

	if !modified {
		return rawURL
	}

	u.RawQuery = query.Encode()
	return u.String()
}
