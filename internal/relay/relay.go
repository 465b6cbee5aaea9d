// Package relay pipes chat streaming requests to the AI server and
// forwards the response bytes to the client as they arrive.
package relay

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"sprintplanner/internal/util"
)

const backendErrorBody = "Backend error"

// DefaultTimeout bounds a single streamed exchange end to end.
const DefaultTimeout = 120 * time.Second

// Relay forwards request bodies to the upstream stream endpoint and
// copies the streamed reply back verbatim.
type Relay struct {
	upstreamURL string
	timeout     time.Duration
	httpClient  *http.Client
}

// New constructs a relay against the AI server base URL. A zero timeout
// falls back to DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Relay {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Relay{
		upstreamURL: strings.TrimRight(baseURL, "/") + "/stream",
		timeout:     timeout,
		// The response is a long-lived stream; the per-exchange
		// deadline comes from the request context instead.
		httpClient: &http.Client{},
	}
}

// Stream proxies one streaming exchange. The client body goes upstream
// untouched; the upstream body comes back chunk by chunk with
// event-stream headers. Closing the client connection cancels the
// upstream request.
func (rl *Relay) Stream(w http.ResponseWriter, r *http.Request) {
	log := util.LoggerFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), rl.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rl.upstreamURL, r.Body)
	if err != nil {
		backendError(w)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rl.httpClient.Do(req)
	if err != nil {
		log.Warn("stream upstream unreachable", "error", err)
		backendError(w)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("stream upstream status", "status", resp.StatusCode)
		backendError(w)
		return
	}

	// Peek one byte so an upstream that answers 200 with an empty body
	// still surfaces as a backend failure instead of an empty stream.
	first := make([]byte, 1)
	n, err := resp.Body.Read(first)
	if n == 0 {
		if err != nil && err != io.EOF {
			log.Warn("stream upstream read", "error", err)
		}
		backendError(w)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	out := newFlushWriter(w)
	if _, err := out.Write(first[:n]); err != nil {
		return
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		// Client gone or upstream died mid-stream; headers are out, so
		// all we can do is stop.
		log.Debug("stream interrupted", "error", err)
	}
}

func backendError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = io.WriteString(w, backendErrorBody)
}

type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newFlushWriter(w http.ResponseWriter) *flushWriter {
	f, _ := w.(http.Flusher)
	return &flushWriter{w: w, f: f}
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}

