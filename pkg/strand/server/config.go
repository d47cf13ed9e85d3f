package server

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/watt-toolkit/strand/pkg/strand/http11"
	"github.com/watt-toolkit/strand/pkg/strand/metrics"
	"github.com/watt-toolkit/strand/pkg/strand/socket"
)

// Mode selects how accepted connections are dispatched.
type Mode int

const (
	// ModeWorkerPool serves connections on a fixed set of worker goroutines.
	// When every worker is busy, new sockets wait in the OS backlog.
	ModeWorkerPool Mode = iota

	// ModeSingle serves each connection to completion on the accept
	// goroutine before accepting the next one.
	ModeSingle

	// ModePerConn starts one goroutine per accepted connection.
	ModePerConn
)

// String returns the flag spelling of the mode.
func (m Mode) String() string {
	switch m {
	case ModeWorkerPool:
		return "pool"
	case ModeSingle:
		return "single"
	case ModePerConn:
		return "per-conn"
	default:
		return "unknown"
	}
}

// ParseMode converts a flag value ("pool", "single", "per-conn") to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "pool", "":
		return ModeWorkerPool, true
	case "single":
		return ModeSingle, true
	case "per-conn", "perconn":
		return ModePerConn, true
	}
	return ModeWorkerPool, false
}

// Config holds server configuration
type Config struct {
	// Addr is the TCP address to listen on (e.g., ":8080")
	// Default: ":8080"
	Addr string

	// Handler handles every parsed request. Required.
	Handler Handler

	// Mode selects the dispatch strategy.
	// Default: ModeWorkerPool
	Mode Mode

	// Workers is the size of the worker pool in ModeWorkerPool.
	// Default: 64 per CPU
	Workers int

	// ReadTimeout bounds reading a request once its first byte arrived.
	// Default: 30 seconds
	ReadTimeout time.Duration

	// WriteTimeout bounds writing one response.
	// Default: 30 seconds
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alive is enabled. It is advertised in the Keep-Alive header.
	// Default: 5 seconds
	IdleTimeout time.Duration

	// MaxRequestsPerConn closes a connection after that many requests; the
	// last response carries "Connection: close". 0 means unlimited.
	MaxRequestsPerConn int

	// Limits bound request line, header and body sizes.
	// Default: http11.DefaultLimits()
	Limits http11.Limits

	// ReadBufferSize is the size of the read buffer per connection
	// Default: 4096 bytes
	ReadBufferSize int

	// WriteBufferSize is the size of the write buffer per connection
	// Default: 4096 bytes
	WriteBufferSize int

	// MaxConnections caps concurrently open connections. Accept blocks
	// while the cap is reached. 0 means unlimited.
	MaxConnections int

	// DisableKeepAlive closes every connection after one response.
	DisableKeepAlive bool

	// ServerName is sent in the Server header when non-empty.
	ServerName string

	// Date, when set, supplies the Date header value for each response.
	Date func() string

	// Compression enables gzip/br response compression when non-nil.
	Compression *CompressionConfig

	// Socket tunes every accepted TCP connection when non-nil.
	Socket *socket.Config

	// Logger receives server events. Default: zap.NewNop()
	Logger *zap.Logger

	// Metrics records Prometheus metrics when non-nil.
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		Mode:            ModeWorkerPool,
		Workers:         runtime.NumCPU() * 64,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     5 * time.Second,
		Limits:          http11.DefaultLimits(),
		ReadBufferSize:  http11.DefaultBufferSize,
		WriteBufferSize: http11.DefaultBufferSize,
		Socket:          socket.DefaultConfig(),
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.Limits.MaxBodyBytes <= 0 {
		c.Limits.MaxBodyBytes = http11.DefaultMaxBodyBytes
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = def.WriteBufferSize
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

func (c *Config) connectionConfig() http11.ConnectionConfig {
	cc := http11.ConnectionConfig{
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		IdleTimeout:     c.IdleTimeout,
		MaxRequests:     c.MaxRequestsPerConn,
		Limits:          c.Limits,
		ReadBufferSize:  c.ReadBufferSize,
		WriteBufferSize: c.WriteBufferSize,
	}
	if c.DisableKeepAlive {
		cc.MaxRequests = 1
	}
	return cc
}
