package http11

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// ConnectionState is a position in the per-connection state machine:
//
//	Idle → ReadingStartLine → ReadingHeaders → ReadingBody → Handling →
//	WritingResponse → {Idle | Closed | HandedOver}
//
// Any failure moves the connection to Closed.
type ConnectionState int32

const (
	StateIdle ConnectionState = iota
	StateReadingStartLine
	StateReadingHeaders
	StateReadingBody
	StateHandling
	StateWritingResponse
	StateClosed
	StateHandedOver
)

// String returns the string representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReadingStartLine:
		return "reading-start-line"
	case StateReadingHeaders:
		return "reading-headers"
	case StateReadingBody:
		return "reading-body"
	case StateHandling:
		return "handling"
	case StateWritingResponse:
		return "writing-response"
	case StateClosed:
		return "closed"
	case StateHandedOver:
		return "handed-over"
	default:
		return "unknown"
	}
}

// ConnectionConfig holds configuration for an HTTP connection
type ConnectionConfig struct {
	// ReadTimeout bounds reading one message once its first byte arrived.
	// 0 means no timeout.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing one message. 0 means no timeout.
	WriteTimeout time.Duration

	// IdleTimeout bounds the wait for the first byte of the next request
	// on a kept-alive connection. 0 falls back to ReadTimeout.
	IdleTimeout time.Duration

	// MaxRequests is the maximum number of requests per connection.
	// 0 means unlimited.
	MaxRequests int

	// Limits bound header and body sizes.
	Limits Limits

	// ReadBufferSize is the size of the read buffer
	// Default: 4096 bytes
	ReadBufferSize int

	// WriteBufferSize is the size of the write buffer
	// Default: 4096 bytes
	WriteBufferSize int
}

// DefaultConnectionConfig returns the default connection configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		Limits:          DefaultLimits(),
		ReadBufferSize:  DefaultBufferSize,
		WriteBufferSize: DefaultBufferSize,
	}
}

// Connection is one HTTP/1.1 transport connection.
//
// A Connection is owned by a single goroutine: only that goroutine calls
// its read and write methods. State, LastActive and Close are safe to call
// from other goroutines so that a server can observe and interrupt it
// during shutdown.
type Connection struct {
	state      atomic.Int32
	lastActive atomic.Int64 // unix nanoseconds
	requests   atomic.Int64

	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	parser Parser
	config ConnectionConfig
	peer   string

	keepAlive bool
	deadline  time.Time // caller-imposed upper bound for every I/O deadline
}

// NewConnection wraps conn.
func NewConnection(conn net.Conn, config ConnectionConfig) *Connection {
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = DefaultBufferSize
	}
	if config.WriteBufferSize <= 0 {
		config.WriteBufferSize = DefaultBufferSize
	}
	config.Limits = config.Limits.withDefaults()

	c := &Connection{
		conn:      conn,
		reader:    getBufioReader(conn, config.ReadBufferSize),
		writer:    getBufioWriter(conn, config.WriteBufferSize),
		parser:    Parser{Limits: config.Limits},
		config:    config,
		keepAlive: true,
	}
	if addr := conn.RemoteAddr(); addr != nil {
		c.peer = addr.String()
	}
	c.touch()
	return c
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// setState moves to s unless the connection was closed or handed over
// concurrently.
func (c *Connection) setState(s ConnectionState) {
	for {
		cur := c.state.Load()
		if cur == int32(StateClosed) || cur == int32(StateHandedOver) {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (c *Connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last completed read or write.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// IdleTime returns how long the connection has been inactive.
func (c *Connection) IdleTime() time.Duration {
	return time.Since(c.LastActive())
}

// RequestCount returns the number of requests read from (server side) or
// written to (client side) this connection.
func (c *Connection) RequestCount() int {
	return int(c.requests.Load())
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string {
	return c.peer
}

// NetConn returns the underlying connection.
func (c *Connection) NetConn() net.Conn {
	return c.conn
}

// KeepAlive reports whether the connection may carry another exchange.
func (c *Connection) KeepAlive() bool {
	return c.keepAlive
}

// DisableKeepAlive marks the connection to be closed after the current
// exchange.
func (c *Connection) DisableKeepAlive() {
	c.keepAlive = false
}

// SetDeadline imposes an upper bound on every subsequent I/O deadline.
// The zero time removes the bound.
func (c *Connection) SetDeadline(t time.Time) {
	c.deadline = t
}

func (c *Connection) deadlineFor(timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if !c.deadline.IsZero() && (d.IsZero() || c.deadline.Before(d)) {
		d = c.deadline
	}
	return d
}

func (c *Connection) closedErr() error {
	switch c.State() {
	case StateClosed, StateHandedOver:
		return ErrConnectionClosed
	}
	return nil
}

// ReadRequest waits up to IdleTimeout for the next request and reads it
// completely within ReadTimeout. It returns io.EOF if the peer closed the
// connection between requests.
//
// A request carrying "Expect: 100-continue" receives an interim
// 100 Continue before its body is read.
func (c *Connection) ReadRequest() (*Request, error) {
	if err := c.closedErr(); err != nil {
		return nil, err
	}

	c.setState(StateIdle)
	idle := c.config.IdleTimeout
	if idle <= 0 {
		idle = c.config.ReadTimeout
	}
	c.conn.SetReadDeadline(c.deadlineFor(idle))
	if _, err := c.reader.Peek(1); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &IoError{Op: "read", Err: err}
	}

	c.setState(StateReadingStartLine)
	c.conn.SetReadDeadline(c.deadlineFor(c.config.ReadTimeout))
	req := &Request{RemoteAddr: c.peer}
	if err := c.parser.readRequestLine(c.reader, req); err != nil {
		if err == io.EOF {
			err = parseError(Truncated, "eof in request line")
		}
		return nil, err
	}

	c.setState(StateReadingHeaders)
	if err := c.parser.readRequestHeaders(c.reader, req); err != nil {
		return nil, err
	}

	c.setState(StateReadingBody)
	if c.expectsContinue(req) {
		// a body that will be rejected is never invited
		if err := c.parser.checkRequestFraming(&req.Header); err != nil {
			return nil, err
		}
		c.conn.SetWriteDeadline(c.deadlineFor(c.config.WriteTimeout))
		if err := WriteInterim(c.writer, StatusContinue); err != nil {
			return nil, err
		}
	}
	if err := c.parser.readRequestBody(c.reader, req); err != nil {
		return nil, err
	}

	n := c.requests.Add(1)
	c.keepAlive = c.keepAlive && req.WantsKeepAlive()
	if c.config.MaxRequests > 0 && n >= int64(c.config.MaxRequests) {
		c.keepAlive = false
	}
	c.touch()
	c.setState(StateHandling)
	return req, nil
}

// expectsContinue reports whether the client is waiting for 100 Continue
// before sending a body it has not sent yet.
func (c *Connection) expectsContinue(req *Request) bool {
	if req.Proto != HTTP11 || !req.Header.HasToken(HeaderExpect, "100-continue") {
		return false
	}
	if !req.Header.Has(HeaderContentLength) && !req.Header.Has(HeaderTransferEncoding) {
		return false
	}
	return c.reader.Buffered() == 0
}

// WriteResponse writes resp within WriteTimeout. On success the connection
// returns to Idle, except after a takeover response, which leaves it in
// WritingResponse until Hijack is called.
func (c *Connection) WriteResponse(resp *Response, method string) error {
	if err := c.closedErr(); err != nil {
		return err
	}
	c.setState(StateWritingResponse)
	c.conn.SetWriteDeadline(c.deadlineFor(c.config.WriteTimeout))
	if err := WriteResponse(c.writer, resp, method); err != nil {
		return err
	}
	c.touch()
	if resp.Takeover == nil {
		c.setState(StateIdle)
	}
	return nil
}

// WriteRequest writes a client request within WriteTimeout.
func (c *Connection) WriteRequest(req *Request) error {
	if err := c.closedErr(); err != nil {
		return err
	}
	c.setState(StateWritingResponse)
	c.conn.SetWriteDeadline(c.deadlineFor(c.config.WriteTimeout))
	if err := WriteRequest(c.writer, req); err != nil {
		return err
	}
	c.requests.Add(1)
	c.keepAlive = c.keepAlive && req.WantsKeepAlive()
	c.touch()
	return nil
}

// ReadResponse reads the response to a request with the given method
// within ReadTimeout. Interim 1xx responses other than 101 are skipped.
//
// If the peer closes the connection before sending any byte, the error
// wraps io.EOF; callers use this to detect a stale kept-alive connection.
func (c *Connection) ReadResponse(method string) (*Response, error) {
	if err := c.closedErr(); err != nil {
		return nil, err
	}
	c.setState(StateReadingStartLine)
	c.conn.SetReadDeadline(c.deadlineFor(c.config.ReadTimeout))
	for {
		resp, err := c.parser.ReadResponse(c.reader, method)
		if err == io.EOF {
			return nil, &IoError{Op: "read", Err: io.EOF}
		}
		if err != nil {
			return nil, err
		}
		if resp.Status >= 100 && resp.Status < 200 && resp.Status != StatusSwitchingProtocols {
			continue
		}
		if resp.Close {
			c.keepAlive = false
		}
		c.touch()
		c.setState(StateIdle)
		return resp, nil
	}
}

// Hijack releases the connection to the caller. Bytes already buffered
// from the peer stay available through Upgraded.Reader. The Connection
// performs no further I/O and Close becomes a no-op.
func (c *Connection) Hijack() (*Upgraded, error) {
	for {
		cur := c.state.Load()
		if cur == int32(StateClosed) || cur == int32(StateHandedOver) {
			return nil, ErrConnectionClosed
		}
		if c.state.CompareAndSwap(cur, int32(StateHandedOver)) {
			break
		}
	}
	if err := c.writer.Flush(); err != nil {
		return nil, &IoError{Op: "write", Err: err}
	}
	c.conn.SetDeadline(time.Time{})
	up := &Upgraded{Conn: c.conn, Reader: c.reader}
	putBufioWriter(c.writer)
	c.writer = nil
	c.reader = nil
	return up, nil
}

// Alive probes an idle connection for a peer close. It returns false if
// the peer closed or reset the socket, or sent unsolicited bytes.
func (c *Connection) Alive() bool {
	if c.closedErr() != nil {
		return false
	}
	if c.reader.Buffered() > 0 {
		return false
	}
	c.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	_, err := c.reader.Peek(1)
	c.conn.SetReadDeadline(time.Time{})
	var te interface{ Timeout() bool }
	return err != nil && errors.As(err, &te) && te.Timeout()
}

// Close closes the socket. It is safe to call from any goroutine and more
// than once; it does nothing after Hijack.
func (c *Connection) Close() error {
	for {
		cur := c.state.Load()
		if cur == int32(StateClosed) || cur == int32(StateHandedOver) {
			return nil
		}
		if c.state.CompareAndSwap(cur, int32(StateClosed)) {
			break
		}
	}
	return c.conn.Close()
}

// Release returns the buffers to their pools. Only the owning goroutine
// may call it, after Close.
func (c *Connection) Release() {
	if c.State() != StateClosed {
		return
	}
	if c.reader != nil {
		putBufioReader(c.reader)
		c.reader = nil
	}
	if c.writer != nil {
		putBufioWriter(c.writer)
		c.writer = nil
	}
}
