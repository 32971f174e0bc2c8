package middleware

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/labstack/echo/v4"

	"carlisting-api/internal/metrics"
	"carlisting-api/internal/response"
)

// HeaderNoCompression opts a request out of response compression.
const HeaderNoCompression = "X-No-Compression"

// Supported content codings.
const (
	EncodingBrotli  = "br"
	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
)

// encodingPriority is the server's preference order.
var encodingPriority = []string{EncodingBrotli, EncodingGzip, EncodingDeflate}

// CompressionConfig holds configuration for the compression stage.
type CompressionConfig struct {
	// MinSize is the minimum body size in bytes before compression is applied.
	MinSize int
	// BrotliQuality is the brotli quality (0-11).
	BrotliQuality int
	// Level is the gzip/deflate level (1-9).
	Level int
}

// DefaultCompressionConfig returns moderate settings: 1 KiB minimum,
// brotli quality 4, gzip/deflate level 6.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:       1024,
		BrotliQuality: 4,
		Level:         6,
	}
}

// encoderFunc opens a compressing writer over w.
type encoderFunc func(w io.Writer, cfg CompressionConfig) (io.WriteCloser, error)

var defaultEncoders = map[string]encoderFunc{
	EncodingBrotli: func(w io.Writer, cfg CompressionConfig) (io.WriteCloser, error) {
		return brotli.NewWriterLevel(w, cfg.BrotliQuality), nil
	},
	EncodingGzip: func(w io.Writer, cfg CompressionConfig) (io.WriteCloser, error) {
		return gzip.NewWriterLevel(w, cfg.Level)
	},
	EncodingDeflate: func(w io.Writer, cfg CompressionConfig) (io.WriteCloser, error) {
		return zlib.NewWriterLevel(w, cfg.Level)
	},
}

type compressor struct {
	cfg      CompressionConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	encoders map[string]encoderFunc
}

// Compression returns a finalize stage that compresses bodies of at least
// cfg.MinSize bytes with the best coding the client accepts. The metrics
// parameter is optional; pass nil to disable compression metrics.
func Compression(cfg CompressionConfig, logger *slog.Logger, m *metrics.Metrics) response.Stage {
	cp := &compressor{
		cfg:      cfg,
		logger:   logger.With("component", "compression"),
		metrics:  m,
		encoders: defaultEncoders,
	}
	return cp.stage
}

func (cp *compressor) stage(next response.Finalizer) response.Finalizer {
	return response.FinalizerFunc(func(w *response.Writer, body []byte) error {
		enc := cp.negotiate(w, body)
		if enc == "" {
			return next.Finalize(w, body)
		}

		out, err := cp.encode(enc, body)
		if err != nil {
			cp.logger.Warn("compression failed; sending uncompressed",
				"encoding", enc,
				"path", w.Request().URL.Path,
				"err", err,
			)
			w.Header().Set(echo.HeaderContentLength, strconv.Itoa(len(body)))
			return next.Finalize(w, body)
		}

		h := w.Header()
		h.Set(echo.HeaderContentEncoding, enc)
		h.Set(echo.HeaderContentLength, strconv.Itoa(len(out)))
		if !varyHas(h.Values(echo.HeaderVary), echo.HeaderAcceptEncoding) {
			h.Add(echo.HeaderVary, echo.HeaderAcceptEncoding)
		}

		if cp.metrics != nil {
			cp.metrics.CompressedResponses.WithLabelValues(enc).Inc()
			if saved := len(body) - len(out); saved > 0 {
				cp.metrics.CompressionSaved.Add(float64(saved))
			}
		}

		// next is the raw write: the compressed body is not reprocessed.
		return next.Finalize(w, out)
	})
}

// negotiate returns the coding to apply, or "" to send body as is.
func (cp *compressor) negotiate(w *response.Writer, body []byte) string {
	req := w.Request()
	if len(req.Header.Values(HeaderNoCompression)) > 0 {
		return ""
	}
	if w.Header().Get(echo.HeaderContentEncoding) != "" {
		return ""
	}
	if len(body) < cp.cfg.MinSize {
		return ""
	}
	return SelectEncoding(req.Header.Get(echo.HeaderAcceptEncoding))
}

func (cp *compressor) encode(enc string, body []byte) ([]byte, error) {
	open, ok := cp.encoders[enc]
	if !ok {
		return nil, fmt.Errorf("no encoder for %q", enc)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) / 2)

	zw, err := open(&buf, cp.cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s encoder: %w", enc, err)
	}
	if _, err := zw.Write(body); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("%s write: %w", enc, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%s close: %w", enc, err)
	}
	return buf.Bytes(), nil
}

// SelectEncoding picks the first of br, gzip, deflate that the
// Accept-Encoding value lists. Codings with q=0 are refused. Returns ""
// when nothing supported is acceptable.
func SelectEncoding(acceptEncoding string) string {
	if acceptEncoding == "" {
		return ""
	}

	accepted := make(map[string]bool, 4)
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(part, ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || refused(params) {
			continue
		}
		accepted[name] = true
	}

	for _, enc := range encodingPriority {
		if accepted[enc] {
			return enc
		}
	}
	return ""
}

// refused reports whether a coding's parameters carry q=0.
func refused(params string) bool {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "q") {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return err == nil && q == 0
	}
	return false
}

func varyHas(values []string, token string) bool {
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}
