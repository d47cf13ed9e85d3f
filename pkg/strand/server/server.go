// Package server runs an HTTP/1.1 server on top of http11.Connection.
//
// Each connection is owned by one goroutine for its whole life: a worker of
// the pool (ModeWorkerPool), the accept loop itself (ModeSingle) or its own
// goroutine (ModePerConn). Shutdown stops accepting, closes idle
// connections and waits for busy ones; handlers are never interrupted.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/watt-toolkit/strand/pkg/strand/http11"
	"github.com/watt-toolkit/strand/pkg/strand/metrics"
	"github.com/watt-toolkit/strand/pkg/strand/socket"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown or
// Close has been called.
var ErrServerClosed = errors.New("server: closed")

// ErrStreamTooLarge is reported when a streamed body buffered for an
// HTTP/1.0 client outgrows Limits.MaxBodyBytes.
var ErrStreamTooLarge = errors.New("server: buffered stream exceeds body limit")

// idleSweepInterval is how often Shutdown re-closes connections that went
// idle after it started.
const idleSweepInterval = 10 * time.Millisecond

// Bounds on draining a peer after an error response.
const (
	lingerTimeout  = 500 * time.Millisecond
	lingerMaxBytes = 256 << 10
)

// Server is a blocking HTTP/1.1 server.
type Server struct {
	config     Config
	connConfig http11.ConnectionConfig
	handler    Handler
	compressor *compressor
	logger     *zap.Logger
	metrics    *metrics.Metrics
	stats      Stats

	mu       sync.Mutex
	listener net.Listener
	conns    map[*http11.Connection]struct{}
	wg       sync.WaitGroup
	shutdown atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a server. config.Handler is required.
func New(config Config) *Server {
	if config.Handler == nil {
		panic("server: Handler is required")
	}
	config = config.withDefaults()

	s := &Server{
		config:     config,
		connConfig: config.connectionConfig(),
		handler:    config.Handler,
		logger:     config.Logger.Named("server"),
		metrics:    config.Metrics,
		conns:      make(map[*http11.Connection]struct{}),
		done:       make(chan struct{}),
	}
	if config.Compression != nil {
		s.compressor = newCompressor(*config.Compression)
	}
	s.stats.StartTime = time.Now()
	return s
}

// Stats returns server statistics
func (s *Server) Stats() *Stats {
	return &s.stats
}

// Addr returns the listener address, or nil before Serve is called.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe listens on the configured address and serves requests
func (s *Server) ListenAndServe() error {
	var (
		ln  net.Listener
		err error
	)
	if s.config.Socket != nil {
		ln, err = socket.Listen(context.Background(), "tcp", s.config.Addr, s.config.Socket)
	} else {
		ln, err = net.Listen("tcp", s.config.Addr)
	}
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on l until Shutdown or Close. It returns
// ErrServerClosed once the server stopped and, in ModeWorkerPool, every
// worker has returned.
func (s *Server) Serve(l net.Listener) error {
	if s.config.MaxConnections > 0 {
		l = netutil.LimitListener(l, s.config.MaxConnections)
	}

	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()
	defer l.Close()

	s.logger.Info("serving",
		zap.Stringer("addr", l.Addr()),
		zap.Stringer("mode", s.config.Mode),
		zap.Int("workers", s.config.Workers))

	switch s.config.Mode {
	case ModeSingle:
		return s.acceptLoop(l, func(conn net.Conn) bool {
			s.serveConn(conn)
			return true
		})
	case ModePerConn:
		return s.acceptLoop(l, func(conn net.Conn) bool {
			go s.serveConn(conn)
			return true
		})
	default:
		return s.serveWorkers(l)
	}
}

func (s *Server) serveWorkers(l net.Listener) error {
	queue := make(chan net.Conn)
	var g errgroup.Group
	for i := 0; i < s.config.Workers; i++ {
		g.Go(func() error {
			for conn := range queue {
				s.serveConn(conn)
			}
			return nil
		})
	}

	err := s.acceptLoop(l, func(conn net.Conn) bool {
		select {
		case queue <- conn:
			return true
		case <-s.done:
			conn.Close()
			return false
		}
	})
	close(queue)
	g.Wait()
	return err
}

// acceptLoop accepts connections and passes them to dispatch until the
// listener fails or dispatch reports the server is stopping.
func (s *Server) acceptLoop(l net.Listener, dispatch func(net.Conn) bool) error {
	var delay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay = min(2*delay, time.Second)
				}
				s.logger.Warn("accept failed, retrying", zap.Error(err), zap.Duration("delay", delay))
				time.Sleep(delay)
				continue
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		delay = 0

		if s.config.Socket != nil {
			if err := socket.Apply(conn, s.config.Socket); err != nil {
				s.logger.Debug("socket tuning failed", zap.Error(err))
			}
		}
		if !dispatch(conn) {
			return ErrServerClosed
		}
	}
}

// track registers c unless the server is shutting down.
func (s *Server) track(c *http11.Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.stats.TotalConnections.Add(1)
	s.stats.ActiveConnections.Add(1)
	s.metrics.ConnAccepted()
	return true
}

func (s *Server) untrack(c *http11.Connection) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	c.Close()
	c.Release()
	s.stats.ActiveConnections.Add(-1)
	s.metrics.ConnClosed()
	s.wg.Done()
}

// closeConns closes tracked connections; with idleOnly it skips those
// currently reading, handling or writing a request.
func (s *Server) closeConns(idleOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		state := c.State()
		if idleOnly && state != http11.StateIdle {
			continue
		}
		s.logger.Debug("closing connection",
			zap.String("remote", c.RemoteAddr()),
			zap.Stringer("state", state),
			zap.Duration("idle", c.IdleTime()))
		c.Close()
	}
}

func (s *Server) beginShutdown() {
	s.mu.Lock()
	s.shutdown.Store(true)
	l := s.listener
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })
	if l != nil {
		l.Close()
	}
}

// Shutdown gracefully shuts down the server: it stops accepting, closes
// idle connections and waits for in-flight requests to complete. When ctx
// ends first the remaining connections are closed and ctx.Err() returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.beginShutdown()
	s.logger.Info("shutting down", zap.Int64("active", s.stats.ActiveConnections.Load()))

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()
	for {
		s.closeConns(true)
		select {
		case <-finished:
			return nil
		case <-ctx.Done():
			s.closeConns(false)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close immediately closes the listener and every connection, then waits
// for the connection goroutines to return.
func (s *Server) Close() error {
	s.beginShutdown()
	s.closeConns(false)
	s.wg.Wait()
	return nil
}

// serveConn runs the request loop of one connection.
func (s *Server) serveConn(netConn net.Conn) {
	conn := http11.NewConnection(netConn, s.connConfig)
	if !s.track(conn) {
		conn.Close()
		conn.Release()
		return
	}
	defer s.untrack(conn)

	log := s.logger.With(zap.String("remote", conn.RemoteAddr()))
	for !s.shutdown.Load() {
		req, err := conn.ReadRequest()
		if err != nil {
			s.readFailed(conn, err, log)
			return
		}
		if !s.serveRequest(conn, req, log) || !conn.KeepAlive() {
			return
		}
	}
}

// readFailed answers a request that could not be read, when a response is
// still meaningful, and logs the failure.
func (s *Server) readFailed(conn *http11.Connection, err error, log *zap.Logger) {
	if errors.Is(err, io.EOF) || errors.Is(err, http11.ErrConnectionClosed) {
		return
	}
	state := conn.State()

	if kind, ok := http11.ParseErrorKindOf(err); ok {
		s.stats.ParseErrors.Add(1)
		s.metrics.ParseError(kind.String())
		log.Debug("malformed request", zap.Error(err), zap.Stringer("state", state))
		if state == http11.StateReadingStartLine {
			// no valid request line: nothing to answer
			return
		}
		s.writeError(conn, parseErrorStatus(kind))
		return
	}

	var ioErr *http11.IoError
	if errors.As(err, &ioErr) && ioErr.Timeout() {
		switch state {
		case http11.StateReadingHeaders, http11.StateReadingBody:
			log.Debug("request read timed out", zap.Stringer("state", state))
			s.writeError(conn, http11.StatusRequestTimeout)
		}
		return
	}
	if state != http11.StateClosed {
		log.Debug("read failed", zap.Error(err), zap.Stringer("state", state))
	}
}

func parseErrorStatus(kind http11.ParseErrorKind) int {
	switch kind {
	case http11.HeaderTooLarge, http11.TooManyHeaders:
		return http11.StatusRequestHeaderFieldsTooLarge
	case http11.BodyTooLarge:
		return http11.StatusPayloadTooLarge
	default:
		return http11.StatusBadRequest
	}
}

// writeError sends a best-effort error response and marks the connection
// for closing.
func (s *Server) writeError(conn *http11.Connection, status int) {
	conn.DisableKeepAlive()
	resp := http11.Text(status, http11.StatusText(status))
	s.decorate(resp)
	resp.Header.Set(http11.HeaderConnection, "close")
	if err := conn.WriteResponse(resp, http11.MethodGet); err == nil {
		s.metrics.ObserveRequest(status, 0)
	}
	lingerClose(conn.NetConn())
}

// lingerClose half-closes c and discards what the peer is still sending,
// so that the final close does not reset the connection before the peer
// has read the error response.
func lingerClose(c net.Conn) {
	cw, ok := c.(interface{ CloseWrite() error })
	if !ok || cw.CloseWrite() != nil {
		return
	}
	c.SetReadDeadline(time.Now().Add(lingerTimeout))
	io.CopyN(io.Discard, c, lingerMaxBytes)
}

// serveRequest runs the handler and writes its response. It reports
// whether the connection may serve another request.
func (s *Server) serveRequest(conn *http11.Connection, req *http11.Request, log *zap.Logger) bool {
	start := time.Now()
	s.stats.TotalRequests.Add(1)

	resp, err := invoke(s.handler, req)
	if err == nil {
		resp, err = s.prepare(conn, req, resp)
	}
	if err != nil {
		s.handlerFailed(conn, req, err, log)
		resp = http11.Text(http11.StatusInternalServerError, "Internal Server Error")
		resp, _ = s.prepare(conn, req, resp)
	}

	if err := conn.WriteResponse(resp, req.Method); err != nil {
		if http11.IsStreamError(err) {
			s.handlerFailed(conn, req, err, log)
		} else {
			log.Debug("write failed", zap.Error(err))
		}
		return false
	}
	s.metrics.ObserveRequest(resp.Status, time.Since(start))
	log.Debug("request served",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.Status),
		zap.Duration("took", time.Since(start)))

	if resp.Takeover != nil {
		up, err := conn.Hijack()
		if err != nil {
			log.Warn("hijack failed", zap.Error(err))
			return false
		}
		s.stats.HandedOver.Add(1)
		s.metrics.HandedOver()
		go s.runTakeover(resp.Takeover, up, log)
		return false
	}
	return true
}

// invoke calls h, converting errors, panics and nil responses into
// *HandlerError.
func invoke(h Handler, req *http11.Request) (resp *http11.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = &HandlerError{Panic: r, Stack: debug.Stack()}
		}
	}()

	resp, err = h.Handle(req)
	if err != nil {
		var he *HandlerError
		if !errors.As(err, &he) {
			err = &HandlerError{Err: err}
		}
		return nil, err
	}
	if resp == nil {
		return nil, &HandlerError{Err: errNilResponse}
	}
	return resp, nil
}

func (s *Server) handlerFailed(conn *http11.Connection, req *http11.Request, err error, log *zap.Logger) {
	s.stats.HandlerErrors.Add(1)
	s.metrics.HandlerError()

	var he *HandlerError
	if errors.As(err, &he) && he.Panic != nil {
		conn.DisableKeepAlive()
		log.Error("handler panicked",
			zap.String("path", req.Path),
			zap.Any("panic", he.Panic),
			zap.ByteString("stack", he.Stack))
		return
	}
	log.Warn("handler failed", zap.String("path", req.Path), zap.Error(err))
}

// prepare copies resp and adds the connection management, Server and Date
// headers, buffers streamed bodies for HTTP/1.0 peers and applies
// compression. The handler's response is left untouched.
func (s *Server) prepare(conn *http11.Connection, req *http11.Request, resp *http11.Response) (*http11.Response, error) {
	if err := resp.Validate(); err != nil {
		return nil, &HandlerError{Err: err}
	}
	out := *resp
	out.Header = resp.Header.Clone()
	out.Trailer = resp.Trailer.Clone()
	s.decorate(&out)

	if out.Takeover != nil {
		return &out, nil
	}

	if out.Stream != nil && req.Proto == http11.HTTP10 {
		buf := cappedBuffer{max: s.config.Limits.MaxBodyBytes}
		err := out.Stream(&buf)
		if buf.err != nil {
			err = buf.err
		}
		if err != nil {
			return nil, &HandlerError{Err: err}
		}
		out.Body = buf.Bytes()
		out.Stream = nil
	}

	if s.compressor != nil {
		s.compressor.apply(req, &out)
	}

	if s.shutdown.Load() || out.Close || out.Header.HasToken(http11.HeaderConnection, "close") {
		conn.DisableKeepAlive()
	}
	if !conn.KeepAlive() {
		out.Header.Set(http11.HeaderConnection, "close")
		out.Header.Del(http11.HeaderKeepAlive)
		return &out, nil
	}

	out.Header.Set(http11.HeaderConnection, "keep-alive")
	if ka := s.keepAliveParams(conn); ka != "" {
		out.Header.Set(http11.HeaderKeepAlive, ka)
	} else {
		out.Header.Del(http11.HeaderKeepAlive)
	}
	return &out, nil
}

// keepAliveParams formats the Keep-Alive header value. The timeout is
// rounded down to whole seconds and left out below one second, so a client
// never waits longer than the server keeps the connection.
func (s *Server) keepAliveParams(conn *http11.Connection) string {
	var params []string
	if secs := int(s.config.IdleTimeout / time.Second); secs > 0 {
		params = append(params, "timeout="+strconv.Itoa(secs))
	}
	if limit := s.config.MaxRequestsPerConn; limit > 0 {
		params = append(params, "max="+strconv.Itoa(limit-conn.RequestCount()))
	}
	return strings.Join(params, ", ")
}

// cappedBuffer collects a streamed body up to max bytes. The overflow error
// sticks, so producers that ignore write errors still fail.
type cappedBuffer struct {
	bytes.Buffer
	max int64
	err error
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if int64(b.Len()+len(p)) > b.max {
		b.err = ErrStreamTooLarge
		return 0, b.err
	}
	return b.Buffer.Write(p)
}

// decorate adds the Server and Date headers when configured and absent.
func (s *Server) decorate(resp *http11.Response) {
	if s.config.ServerName != "" && !resp.Header.Has(http11.HeaderServer) {
		resp.Header.Set(http11.HeaderServer, s.config.ServerName)
	}
	if s.config.Date != nil && !resp.Header.Has(http11.HeaderDate) {
		resp.Header.Set(http11.HeaderDate, s.config.Date())
	}
}

func (s *Server) runTakeover(fn func(*http11.Upgraded), up *http11.Upgraded, log *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("takeover panicked", zap.Any("panic", r))
			up.Close()
		}
	}()
	fn(up)
}
