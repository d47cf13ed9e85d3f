package server

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/watt-toolkit/strand/pkg/strand/http11"
)

// CompressionConfig enables response compression.
//
// Only fixed bodies are compressed: streamed bodies, takeover responses
// and responses that already carry Content-Encoding are sent as is.
type CompressionConfig struct {
	// MinSize is the smallest body worth compressing.
	// Default: 1024 bytes
	MinSize int

	// GzipLevel is the klauspost/compress gzip level.
	// Default: gzip.DefaultCompression
	GzipLevel int

	// BrotliLevel is the brotli quality (0-11).
	// Default: 4
	BrotliLevel int

	// DisableBrotli offers gzip only.
	DisableBrotli bool

	// ContentTypes lists compressible media type prefixes.
	// Default: text/, application/json, application/javascript,
	// application/xml, image/svg+xml
	ContentTypes []string
}

// DefaultCompressionConfig returns the compression defaults.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:     1024,
		GzipLevel:   gzip.DefaultCompression,
		BrotliLevel: 4,
		ContentTypes: []string{
			"text/",
			"application/json",
			"application/javascript",
			"application/xml",
			"image/svg+xml",
		},
	}
}

const (
	encodingGzip   = "gzip"
	encodingBrotli = "br"
)

type compressor struct {
	config   CompressionConfig
	gzipPool sync.Pool
	brPool   sync.Pool
}

func newCompressor(config CompressionConfig) *compressor {
	def := DefaultCompressionConfig()
	if config.MinSize <= 0 {
		config.MinSize = def.MinSize
	}
	if config.GzipLevel == 0 {
		config.GzipLevel = def.GzipLevel
	}
	if config.BrotliLevel <= 0 {
		config.BrotliLevel = def.BrotliLevel
	}
	if len(config.ContentTypes) == 0 {
		config.ContentTypes = def.ContentTypes
	}

	c := &compressor{config: config}
	c.gzipPool.New = func() any {
		w, err := gzip.NewWriterLevel(io.Discard, c.config.GzipLevel)
		if err != nil {
			w = gzip.NewWriter(io.Discard)
		}
		return w
	}
	c.brPool.New = func() any {
		return brotli.NewWriterLevel(io.Discard, c.config.BrotliLevel)
	}
	return c
}

// apply replaces resp.Body with its compressed form when the request
// accepts an offered encoding and the result is smaller.
func (c *compressor) apply(req *http11.Request, resp *http11.Response) {
	if !c.eligible(req, resp) {
		return
	}
	encoding := c.negotiate(req.Header.Values(http11.HeaderAcceptEncoding))
	if encoding == "" {
		return
	}

	compressed, err := c.compress(encoding, resp.Body)
	if err != nil || len(compressed) >= len(resp.Body) {
		return
	}

	resp.Body = compressed
	resp.Header.Del(http11.HeaderContentLength)
	resp.Header.Set(http11.HeaderContentEncoding, encoding)
	if !resp.Header.HasToken(http11.HeaderVary, http11.HeaderAcceptEncoding) {
		resp.Header.Add(http11.HeaderVary, http11.HeaderAcceptEncoding)
	}
}

func (c *compressor) eligible(req *http11.Request, resp *http11.Response) bool {
	switch {
	case req.Method == http11.MethodHead:
		return false
	case resp.Takeover != nil, resp.Stream != nil:
		return false
	case resp.Status < 200, resp.Status == http11.StatusNoContent,
		resp.Status == http11.StatusNotModified, resp.Status == 206:
		return false
	case len(resp.Body) < c.config.MinSize:
		return false
	case resp.Header.Has(http11.HeaderContentEncoding):
		return false
	}

	ct := strings.ToLower(resp.Header.Get(http11.HeaderContentType))
	for _, prefix := range c.config.ContentTypes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

// negotiate picks the offered encoding with the highest q-value in
// Accept-Encoding, preferring br on ties. "*" covers encodings not listed
// explicitly and q=0 refuses an encoding.
func (c *compressor) negotiate(values []string) string {
	q := map[string]float64{}
	wildcard := -1.0
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			name, weight := parseCoding(item)
			if name == "" {
				continue
			}
			if name == "*" {
				wildcard = weight
				continue
			}
			q[name] = weight
		}
	}

	weightOf := func(enc string) float64 {
		if w, ok := q[enc]; ok {
			return w
		}
		return wildcard
	}

	best, bestQ := "", 0.0
	if !c.config.DisableBrotli {
		if w := weightOf(encodingBrotli); w > bestQ {
			best, bestQ = encodingBrotli, w
		}
	}
	if w := weightOf(encodingGzip); w > bestQ {
		best = encodingGzip
	}
	return best
}

// parseCoding splits "gzip;q=0.5" into its lowercase name and weight.
// A malformed weight counts as 0.
func parseCoding(item string) (string, float64) {
	name, params, _ := strings.Cut(item, ";")
	name = strings.ToLower(strings.TrimSpace(name))
	weight := 1.0
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "q") {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || f < 0 || f > 1 {
			f = 0
		}
		weight = f
	}
	return name, weight
}

func (c *compressor) compress(encoding string, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(body) / 2)

	switch encoding {
	case encodingBrotli:
		w := c.brPool.Get().(*brotli.Writer)
		defer c.brPool.Put(w)
		w.Reset(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		w := c.gzipPool.Get().(*gzip.Writer)
		defer c.gzipPool.Put(w)
		w.Reset(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
