package middleware

import (
	"strconv"
	"time"

	"carlisting-api/internal/response"
	"carlisting-api/internal/stats"
)

// HeaderResponseTime carries the server-side latency of a response.
const HeaderResponseTime = "X-Response-Time"

// Timing returns the outermost finalize stage. It stamps X-Response-Time
// when the handler's output is finalized, before compression runs, and
// records the completed response in acc once the inner stages return.
func Timing(acc *stats.Accumulator) response.Stage {
	return func(next response.Finalizer) response.Finalizer {
		return response.FinalizerFunc(func(w *response.Writer, body []byte) error {
			req := w.Request()
			elapsed := time.Since(w.Start())

			w.Header().Set(HeaderResponseTime, FormatResponseTime(elapsed))
			acc.ObserveLatency(req.Method, req.URL.Path, elapsed)

			err := next.Finalize(w, body)

			acc.ObserveCompletion(req.Method, req.URL.Path, w.Status())
			return err
		})
	}
}

// FormatResponseTime renders d as milliseconds with three decimals, e.g. "12.345ms".
func FormatResponseTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := float64(d) / float64(time.Millisecond)
	return strconv.FormatFloat(ms, 'f', 3, 64) + "ms"
}
