// Package client sends HTTP/1.1 requests over pooled, blocking connections.
//
// A Client checks idle connections out of a ConnectionPool keyed by
// (host, port, scheme), writes the request, reads the complete response and
// checks the connection back in when the peer allows keep-alive. A reused
// connection that turns out to be closed by the peer is retried once on a
// fresh connection for idempotent methods.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/watt-toolkit/strand/pkg/strand/http11"
	"github.com/watt-toolkit/strand/pkg/strand/metrics"
	"github.com/watt-toolkit/strand/pkg/strand/socket"
)

var (
	// ErrMissingURL is returned for a request without an absolute URL
	ErrMissingURL = errors.New("client: request has no URL")

	// ErrTLSDialerRequired is returned for https URLs when Config.DialTLS
	// is not set
	ErrTLSDialerRequired = errors.New("client: https requires Config.DialTLS")
)

// DefaultUserAgent is sent when neither the request nor Config sets one.
const DefaultUserAgent = "strand/1.0"

// ConnectError reports a failure to establish a connection.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("client: connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// DialFunc opens a transport connection to addr.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config holds client configuration
type Config struct {
	// Dial opens plain connections. Default: net.Dialer.DialContext
	Dial DialFunc

	// DialTLS opens connections for https URLs. TLS is left to the caller;
	// https requests fail with ErrTLSDialerRequired when it is nil.
	DialTLS DialFunc

	// DialTimeout bounds connection establishment.
	// Default: 10 seconds
	DialTimeout time.Duration

	// ReadTimeout bounds reading one response.
	// Default: 30 seconds
	ReadTimeout time.Duration

	// WriteTimeout bounds writing one request.
	// Default: 30 seconds
	WriteTimeout time.Duration

	// Limits bound response header and body sizes.
	Limits http11.Limits

	// Header is merged into every request; fields already present on the
	// request win.
	Header http11.HeaderMap

	// UserAgent is sent unless the request or Header sets one.
	// Default: DefaultUserAgent
	UserAgent string

	// Pool configures connection reuse.
	Pool PoolConfig

	// DisablePool closes every connection after one exchange.
	DisablePool bool

	// Socket tunes dialed TCP connections when non-nil.
	Socket *socket.Config

	// Logger receives client events. Default: zap.NewNop()
	Logger *zap.Logger

	// Metrics records pool and retry metrics when non-nil.
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default client configuration
func DefaultConfig() Config {
	return Config{
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Limits:       http11.DefaultLimits(),
		UserAgent:    DefaultUserAgent,
		Pool:         DefaultPoolConfig(),
		Socket:       socket.DefaultConfig(),
	}
}

// Client is an HTTP/1.1 client with a connection pool. It is safe for
// concurrent use.
type Client struct {
	config     Config
	connConfig http11.ConnectionConfig
	pool       *ConnectionPool
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// New creates a client. Zero fields of config take their defaults.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.Dial == nil {
		d := &net.Dialer{}
		config.Dial = d.DialContext
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = def.DialTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	c := &Client{
		config: config,
		connConfig: http11.ConnectionConfig{
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			Limits:       config.Limits,
		},
		logger:  config.Logger.Named("client"),
		metrics: config.Metrics,
	}
	if !config.DisablePool {
		c.pool = NewConnectionPool(config.Pool, config.Logger, config.Metrics)
	}
	return c
}

// Pool returns the connection pool, or nil when pooling is disabled.
func (c *Client) Pool() *ConnectionPool {
	return c.pool
}

// Close closes the idle connections of the pool.
func (c *Client) Close() error {
	if c.pool == nil {
		return nil
	}
	return c.pool.Close()
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, rawURL string) (*http11.Response, error) {
	req, err := http11.NewRequest(http11.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// Post performs a POST request with the given body.
func (c *Client) Post(ctx context.Context, rawURL, contentType string, body []byte) (*http11.Response, error) {
	req, err := http11.NewRequest(http11.MethodPost, rawURL, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		if err := req.Header.Set(http11.HeaderContentType, contentType); err != nil {
			return nil, err
		}
	}
	return c.Do(ctx, req)
}

// Do sends req and returns the complete response.
//
// The ctx deadline bounds the whole exchange and cancelling ctx closes the
// connection. A 101 response carries the released connection in
// Response.Upgraded; it never returns to the pool. req is not modified.
func (c *Client) Do(ctx context.Context, req *http11.Request) (*http11.Response, error) {
	if req.URL == nil {
		return nil, ErrMissingURL
	}
	key, err := KeyFor(req.URL)
	if err != nil {
		return nil, err
	}
	out := c.prepare(req)

	if c.pool != nil {
		if pc := c.pool.Get(key); pc != nil {
			resp, err := c.roundTrip(ctx, pc, out)
			if err == nil || !retryable(ctx, out, err) {
				return resp, err
			}
			c.metrics.ClientRetry()
			c.logger.Debug("stale pooled connection, retrying",
				zap.Stringer("key", key),
				zap.Error(err))
		}
	}

	pc, err := c.dial(ctx, key)
	if err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, pc, out)
}

// prepare copies req and merges the configured headers.
func (c *Client) prepare(req *http11.Request) *http11.Request {
	out := *req
	out.Header = req.Header.Clone()
	c.config.Header.VisitAll(func(name, value string) bool {
		if !out.Header.Has(name) {
			out.Header.Add(name, value)
		}
		return true
	})
	if !out.Header.Has(http11.HeaderUserAgent) {
		out.Header.Set(http11.HeaderUserAgent, c.config.UserAgent)
	}
	if c.pool == nil && !out.Header.Has(http11.HeaderConnection) {
		out.Header.Set(http11.HeaderConnection, "close")
	}
	return &out
}

func (c *Client) dial(ctx context.Context, key PoolKey) (*PooledConnection, error) {
	dial := c.config.Dial
	if key.Scheme == "https" {
		if c.config.DialTLS == nil {
			return nil, &ConnectError{Addr: key.Addr(), Err: ErrTLSDialerRequired}
		}
		dial = c.config.DialTLS
	}

	dctx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()
	conn, err := dial(dctx, "tcp", key.Addr())
	if err != nil {
		return nil, &ConnectError{Addr: key.Addr(), Err: err}
	}
	if c.config.Socket != nil {
		if err := socket.Apply(conn, c.config.Socket); err != nil {
			c.logger.Debug("socket tuning failed", zap.Error(err))
		}
	}

	hc := http11.NewConnection(conn, c.connConfig)
	if c.pool == nil {
		return &PooledConnection{Connection: hc, key: key, createdAt: time.Now()}, nil
	}
	return c.pool.Wrap(key, hc), nil
}

// roundTrip performs one exchange on pc and checks it back in.
func (c *Client) roundTrip(ctx context.Context, pc *PooledConnection, req *http11.Request) (*http11.Response, error) {
	if deadline, ok := ctx.Deadline(); ok {
		pc.SetDeadline(deadline)
	} else {
		pc.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { pc.Close() })

	resp, err := c.exchange(pc, req)
	interrupted := !stop()
	if err != nil {
		pc.Close()
		pc.Release()
		return nil, contextError(ctx, err)
	}

	if resp.Status == http11.StatusSwitchingProtocols {
		up, err := pc.Hijack()
		if err != nil {
			pc.Close()
			pc.Release()
			return nil, err
		}
		resp.Upgraded = up
		return resp, nil
	}

	if c.pool == nil || interrupted {
		pc.Close()
		pc.Release()
	} else {
		c.pool.Put(pc)
	}
	return resp, nil
}

// contextError attributes err to ctx when ctx is done, or when err is the
// socket timeout that enforces the ctx deadline and the deadline has passed.
func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	var ioErr *http11.IoError
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) &&
		errors.As(err, &ioErr) && ioErr.Timeout() {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

func (c *Client) exchange(pc *PooledConnection, req *http11.Request) (*http11.Response, error) {
	if err := pc.WriteRequest(req); err != nil {
		return nil, err
	}
	return pc.ReadResponse(req.Method)
}

// retryable reports whether a failure on a reused connection means the
// peer had already closed it, so the request can be repeated safely.
func retryable(ctx context.Context, req *http11.Request, err error) bool {
	if ctx.Err() != nil || !http11.IsIdempotent(req.Method) {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// Fetch performs a single request on a new connection and closes it
// afterwards, unless the response is 101 and the connection is handed to
// the caller through Response.Upgraded.
func Fetch(ctx context.Context, req *http11.Request) (*http11.Response, error) {
	c := New(Config{DisablePool: true})
	return c.Do(ctx, req)
}
