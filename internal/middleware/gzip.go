package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"
)

// GzipConfig holds response compression configuration
type GzipConfig struct {
	Enabled   bool
	MinLength int // Responses shorter than this are sent as is
	Level     int // 1-9
	// Paths lists the path prefixes whose JSON responses are compressed.
	// Auction responses carry creative markup and are the only large ones.
	Paths []string
}

// DefaultGzipConfig returns default gzip configuration
func DefaultGzipConfig() *GzipConfig {
	return &GzipConfig{
		Enabled:   true,
		MinLength: 1024,
		Level:     gzip.DefaultCompression,
		Paths:     []string{"/c1x/auction", "/info/bidders"},
	}
}

// Gzip compresses selected JSON responses for clients that accept it
type Gzip struct {
	config *GzipConfig
	pool   sync.Pool
}

// NewGzip creates a new Gzip middleware
func NewGzip(config *GzipConfig) *Gzip {
	if config == nil {
		config = DefaultGzipConfig()
	}

	level := config.Level
	if level != gzip.DefaultCompression && (level < gzip.BestSpeed || level > gzip.BestCompression) {
		level = gzip.DefaultCompression
	}

	g := &Gzip{config: config}
	g.pool.New = func() interface{} {
		// level is validated above
		w, _ := gzip.NewWriterLevel(io.Discard, level)
		return w
	}
	return g
}

// bufferedWriter holds the whole response so the size is known before
// choosing an encoding
type bufferedWriter struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (bw *bufferedWriter) WriteHeader(code int) {
	if bw.status == 0 {
		bw.status = code
	}
}

func (bw *bufferedWriter) Write(b []byte) (int, error) {
	return bw.buf.Write(b)
}

// Middleware returns the gzip compression middleware handler
func (g *Gzip) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.config.Enabled || !g.matches(r.URL.Path) || !acceptsGzip(r) {
			next.ServeHTTP(w, r)
			return
		}

		bw := &bufferedWriter{ResponseWriter: w}
		next.ServeHTTP(bw, r)

		status := bw.status
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Add("Vary", "Accept-Encoding")

		if bw.buf.Len() < g.config.MinLength || !isJSON(w.Header().Get("Content-Type")) {
			w.WriteHeader(status)
			w.Write(bw.buf.Bytes())
			return
		}

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
		w.WriteHeader(status)

		gz := g.pool.Get().(*gzip.Writer)
		gz.Reset(w)
		gz.Write(bw.buf.Bytes())
		gz.Close()
		gz.Reset(io.Discard)
		g.pool.Put(gz)
	})
}

func (g *Gzip) matches(path string) bool {
	for _, prefix := range g.config.Paths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func acceptsGzip(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name := strings.TrimSpace(strings.SplitN(enc, ";", 2)[0])
		if strings.EqualFold(name, "gzip") {
			return true
		}
	}
	return false
}

func isJSON(contentType string) bool {
	base := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	return strings.EqualFold(base, "application/json")
}
