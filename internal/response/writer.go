// Package response provides a buffered http.ResponseWriter whose body is
// finalized exactly once through an explicit chain of stages.
//
// Handlers write into the Writer as they would into any ResponseWriter.
// Nothing reaches the network until Commit runs the chain:
//
//	stage[0] -> stage[1] -> ... -> raw write
//
// Each stage may inspect the request, mutate headers, replace the body and
// then call the next finalizer. The raw write is always innermost, so a
// stage that rewrites the body (compression) hands its output straight to
// the socket without it passing through any other stage again.
package response

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// ErrAlreadySent is returned when a response is written to or committed after
// it has been finalized.
var ErrAlreadySent = errors.New("response: already sent")

// Finalizer commits a complete response body.
type Finalizer interface {
	Finalize(w *Writer, body []byte) error
}

// FinalizerFunc adapts a function to the Finalizer interface.
type FinalizerFunc func(w *Writer, body []byte) error

// Finalize calls f(w, body).
func (f FinalizerFunc) Finalize(w *Writer, body []byte) error {
	return f(w, body)
}

// Stage decorates a Finalizer with cross-cutting behavior.
type Stage func(next Finalizer) Finalizer

// Chain composes stages around final. The first stage is the outermost and
// runs first.
func Chain(final Finalizer, stages ...Stage) Finalizer {
	f := final
	for i := len(stages) - 1; i >= 0; i-- {
		f = stages[i](f)
	}
	return f
}

type state uint8

const (
	statePending state = iota
	stateSent
)

// Writer buffers a single response until Commit.
// It is owned by one request and is not safe for concurrent use.
type Writer struct {
	dst   http.ResponseWriter
	req   *http.Request
	start time.Time
	chain Finalizer

	status int
	body   bytes.Buffer
	state  state
	sent   int
}

// NewWriter wraps dst. start is the time the request entered the pipeline.
func NewWriter(dst http.ResponseWriter, req *http.Request, start time.Time, stages ...Stage) *Writer {
	w := &Writer{
		dst:   dst,
		req:   req,
		start: start,
	}
	w.chain = Chain(FinalizerFunc(writeRaw), stages...)
	return w
}

// Header returns the header map of the underlying writer. Headers set before
// Commit are sent with the response.
func (w *Writer) Header() http.Header {
	return w.dst.Header()
}

// WriteHeader records the status code. Only the first call takes effect.
func (w *Writer) WriteHeader(code int) {
	if w.status != 0 || w.state == stateSent {
		return
	}
	w.status = code
}

// Write appends p to the pending body.
func (w *Writer) Write(p []byte) (int, error) {
	if w.state == stateSent {
		return 0, ErrAlreadySent
	}
	return w.body.Write(p)
}

// Reset drops the pending status and body so the response can be rewritten.
// Headers are kept. It has no effect once the response has been sent.
func (w *Writer) Reset() {
	if w.state == stateSent {
		return
	}
	w.status = 0
	w.body.Reset()
}

// Status returns the recorded status code, defaulting to 200.
func (w *Writer) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Request returns the request being served.
func (w *Writer) Request() *http.Request {
	return w.req
}

// Start returns the time the request entered the pipeline.
func (w *Writer) Start() time.Time {
	return w.start
}

// Sent reports whether Commit has run.
func (w *Writer) Sent() bool {
	return w.state == stateSent
}

// BytesSent returns the number of body bytes handed to the network.
func (w *Writer) BytesSent() int {
	return w.sent
}

// Commit runs the finalize chain over the buffered body. It may be called
// once; later calls return ErrAlreadySent and write nothing.
func (w *Writer) Commit() error {
	if w.state == stateSent {
		return ErrAlreadySent
	}
	w.state = stateSent

	body := w.body.Bytes()
	return w.chain.Finalize(w, body)
}

// writeRaw is the innermost finalizer: it flushes headers, status and body
// to the underlying writer.
func writeRaw(w *Writer, body []byte) error {
	status := w.Status()
	if bodyAllowed(status) {
		w.dst.Header().Set("Content-Length", strconv.Itoa(len(body)))
	} else {
		w.dst.Header().Del("Content-Length")
		body = nil
	}

	w.dst.WriteHeader(status)
	if len(body) == 0 || w.req.Method == http.MethodHead {
		return nil
	}

	n, err := w.dst.Write(body)
	w.sent = n
	return err
}

// bodyAllowed mirrors net/http: 1xx, 204 and 304 responses carry no body.
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
