package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/watt-toolkit/strand/pkg/strand/http11"
	"github.com/watt-toolkit/strand/pkg/strand/metrics"
)

// countingListener counts accepted connections.
type countingListener struct {
	net.Listener
	accepted atomic.Int32
}

func (l *countingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err == nil {
		l.accepted.Add(1)
	}
	return c, err
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

// serveOn runs a server on ln and closes it when the test ends.
func serveOn(t *testing.T, ln net.Listener, cfg Config) *Server {
	t.Helper()
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	srv := New(cfg)
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	t.Cleanup(func() {
		srv.Close()
		if err := <-errc; !errors.Is(err, ErrServerClosed) {
			t.Errorf("Serve returned %v, want ErrServerClosed", err)
		}
	})
	return srv
}

func startServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	ln := listen(t)
	return serveOn(t, ln, cfg), ln.Addr().String()
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, br: bufio.NewReader(conn)}
}

func (c *testClient) send(raw string) {
	c.t.Helper()
	if _, err := io.WriteString(c.conn, raw); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) read(method string) *http11.Response {
	c.t.Helper()
	resp, err := http11.NewParser(http11.Limits{}).ReadResponse(c.br, method)
	if err != nil {
		c.t.Fatalf("ReadResponse: %v", err)
	}
	return resp
}

func (c *testClient) do(raw string) *http11.Response {
	c.t.Helper()
	c.send(raw)
	return c.read(strings.Fields(raw)[0])
}

// expectClosed asserts that the server closes the connection without
// sending anything further.
func (c *testClient) expectClosed() {
	c.t.Helper()
	rest, err := io.ReadAll(c.br)
	if err != nil && !errors.Is(err, net.ErrClosed) && !strings.Contains(err.Error(), "reset") {
		c.t.Fatalf("read after close: %v", err)
	}
	if len(rest) != 0 {
		c.t.Fatalf("unexpected bytes before close: %q", rest)
	}
}

func helloHandler() Handler {
	return HandlerFunc(func(req *http11.Request) (*http11.Response, error) {
		switch req.Path {
		case "/stream":
			return http11.NewResponse(http11.StatusOK).WithStream(func(w io.Writer) error {
				io.WriteString(w, "Wiki")
				io.WriteString(w, "pedia")
				return nil
			}), nil
		case "/echo":
			return http11.NewResponse(http11.StatusOK).WithBody(req.Body), nil
		case "/fail":
			return nil, errors.New("boom")
		case "/panic":
			panic("kaboom")
		case "/nil":
			return nil, nil
		}
		return http11.Text(http11.StatusOK, "Hello World!"), nil
	})
}

func TestServerHelloWorld(t *testing.T) {
	for _, mode := range []Mode{ModeWorkerPool, ModeSingle, ModePerConn} {
		t.Run(mode.String(), func(t *testing.T) {
			_, addr := startServer(t, Config{Handler: helloHandler(), Mode: mode})

			c := dial(t, addr)
			c.send("GET / HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n")
			raw, err := io.ReadAll(c.br)
			if err != nil {
				t.Fatalf("read: %v", err)
			}

			want := "HTTP/1.1 200 OK\r\n" +
				"Content-Type: text/plain; charset=utf-8\r\n" +
				"Connection: close\r\n" +
				"Content-Length: 12\r\n" +
				"\r\n" +
				"Hello World!"
			if string(raw) != want {
				t.Errorf("Got %q, want %q", raw, want)
			}
		})
	}
}

func TestServerKeepAlive(t *testing.T) {
	ln := &countingListener{Listener: listen(t)}
	serveOn(t, ln, Config{Handler: helloHandler(), IdleTimeout: 7 * time.Second})

	c := dial(t, ln.Addr().String())
	for i := 0; i < 3; i++ {
		resp := c.do("GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
		if resp.Status != http11.StatusOK || string(resp.Body) != "Hello World!" {
			t.Fatalf("request %d: %d %q", i, resp.Status, resp.Body)
		}
		if got := resp.Header.Get("connection"); got != "keep-alive" {
			t.Errorf("Connection = %q, want keep-alive", got)
		}
		if got := resp.Header.Get("keep-alive"); got != "timeout=7" {
			t.Errorf("Keep-Alive = %q, want timeout=7", got)
		}
	}

	if n := ln.accepted.Load(); n != 1 {
		t.Errorf("accepted %d connections, want 1", n)
	}
}

func TestServerHTTP10(t *testing.T) {
	_, addr := startServer(t, Config{Handler: helloHandler()})

	t.Run("closes by default", func(t *testing.T) {
		c := dial(t, addr)
		resp := c.do("GET / HTTP/1.0\r\n\r\n")
		if resp.Header.Get("connection") != "close" {
			t.Errorf("Connection = %q, want close", resp.Header.Get("connection"))
		}
		c.expectClosed()
	})

	t.Run("keep-alive on request", func(t *testing.T) {
		c := dial(t, addr)
		c.do("GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
		resp := c.do("GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
		if resp.Header.Get("connection") != "keep-alive" {
			t.Errorf("Connection = %q, want keep-alive", resp.Header.Get("connection"))
		}
	})

	t.Run("stream is buffered", func(t *testing.T) {
		c := dial(t, addr)
		resp := c.do("GET /stream HTTP/1.0\r\n\r\n")
		if resp.Header.Has("transfer-encoding") {
			t.Error("chunked response sent to an HTTP/1.0 client")
		}
		if resp.Header.Get("content-length") != "9" || string(resp.Body) != "Wikipedia" {
			t.Errorf("response = %q (length %q)", resp.Body, resp.Header.Get("content-length"))
		}
	})
}

func TestServerKeepAliveParams(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"whole seconds", Config{IdleTimeout: 3 * time.Second}, "timeout=3"},
		{"rounded down", Config{IdleTimeout: 1500 * time.Millisecond}, "timeout=1"},
		{"below one second", Config{IdleTimeout: 500 * time.Millisecond}, ""},
		{"max only", Config{IdleTimeout: 500 * time.Millisecond, MaxRequestsPerConn: 3}, "max=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Handler = helloHandler()
			_, addr := startServer(t, tt.cfg)

			resp := dial(t, addr).do("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
			if got := resp.Header.Get("connection"); got != "keep-alive" {
				t.Errorf("Connection = %q, want keep-alive", got)
			}
			if got := resp.Header.Get("keep-alive"); got != tt.want {
				t.Errorf("Keep-Alive = %q, want %q", got, tt.want)
			}
			if tt.want == "" && resp.Header.Has("keep-alive") {
				t.Error("empty Keep-Alive header sent")
			}
		})
	}
}

func TestServerHTTP10StreamLimit(t *testing.T) {
	_, addr := startServer(t, Config{
		Handler: helloHandler(),
		Limits:  http11.Limits{MaxBodyBytes: 4},
	})

	c := dial(t, addr)
	resp := c.do("GET /stream HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	if resp.Status != http11.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.Status)
	}
	if strings.Contains(string(resp.Body), "Wiki") {
		t.Errorf("partial stream leaked into the error response: %q", resp.Body)
	}

	resp = c.do("GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	if string(resp.Body) != "Hello World!" {
		t.Errorf("next response = %q", resp.Body)
	}
}

func TestCappedBuffer(t *testing.T) {
	buf := cappedBuffer{max: 8}
	if _, err := io.WriteString(&buf, "Wikipe"); err != nil {
		t.Fatalf("write within limit: %v", err)
	}
	if _, err := io.WriteString(&buf, "dia"); !errors.Is(err, ErrStreamTooLarge) {
		t.Errorf("write over limit = %v, want ErrStreamTooLarge", err)
	}
	if _, err := io.WriteString(&buf, "!"); !errors.Is(err, ErrStreamTooLarge) {
		t.Errorf("write after overflow = %v, want ErrStreamTooLarge", err)
	}
	if got := buf.String(); got != "Wikipe" {
		t.Errorf("buffer = %q", got)
	}
}

func TestServerMaxRequestsPerConn(t *testing.T) {
	_, addr := startServer(t, Config{Handler: helloHandler(), MaxRequestsPerConn: 2})

	c := dial(t, addr)
	first := c.do("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	if got := first.Header.Get("keep-alive"); got != "timeout=5, max=1" {
		t.Errorf("Keep-Alive = %q", got)
	}
	second := c.do("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	if second.Header.Get("connection") != "close" {
		t.Errorf("last response Connection = %q, want close", second.Header.Get("connection"))
	}
	c.expectClosed()
}

func TestServerStreamChunked(t *testing.T) {
	_, addr := startServer(t, Config{Handler: helloHandler()})

	c := dial(t, addr)
	c.send("GET /stream HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	raw, _ := io.ReadAll(c.br)

	if !strings.Contains(string(raw), "Transfer-Encoding: chunked\r\n") {
		t.Errorf("missing chunked framing: %q", raw)
	}
	if !strings.HasSuffix(string(raw), "\r\n\r\n4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n") {
		t.Errorf("unexpected chunks: %q", raw)
	}
}

func TestServerMalformedRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv, addr := startServer(t, Config{
		Handler: helloHandler(),
		Limits:  http11.Limits{MaxHeaderBytes: 1024},
		Metrics: metrics.New(reg, ""),
	})

	t.Run("invalid start line closes silently", func(t *testing.T) {
		c := dial(t, addr)
		c.send("GET\r\n\r\n")
		c.expectClosed()
	})

	tests := []struct {
		name   string
		raw    string
		status int
	}{
		{"header too large", "GET / HTTP/1.1\r\nHost: x\r\nX-Big: " + strings.Repeat("a", 2048) + "\r\n\r\n", http11.StatusRequestHeaderFieldsTooLarge},
		{"invalid header", "GET / HTTP/1.1\r\nHost: x\r\nBad Header: y\r\n\r\n", http11.StatusBadRequest},
		{"missing host", "GET / HTTP/1.1\r\n\r\n", http11.StatusBadRequest},
		{"smuggling", "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\nTransfer-Encoding: chunked\r\n\r\n0\r\n\r\n", http11.StatusBadRequest},
		{"body too large", "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 99999999999\r\n\r\n", http11.StatusPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := dial(t, addr)
			c.send(tt.raw)
			resp := c.read(http11.MethodGet)
			if resp.Status != tt.status {
				t.Errorf("status = %d, want %d", resp.Status, tt.status)
			}
			if resp.Header.Get("connection") != "close" {
				t.Errorf("Connection = %q, want close", resp.Header.Get("connection"))
			}
			c.expectClosed()
		})
	}

	if got := srv.Stats().ParseErrors.Load(); got != uint64(len(tests)+1) {
		t.Errorf("ParseErrors = %d, want %d", got, len(tests)+1)
	}
	if n, err := testutil.GatherAndCount(reg, "strand_server_parse_errors_total"); err != nil || n == 0 {
		t.Errorf("parse error series = %d (%v)", n, err)
	}
}

func TestServerRequestTimeout(t *testing.T) {
	_, addr := startServer(t, Config{Handler: helloHandler(), ReadTimeout: 50 * time.Millisecond})

	c := dial(t, addr)
	c.send("GET / HTTP/1.1\r\nHost: x\r\n")
	resp := c.read(http11.MethodGet)
	if resp.Status != http11.StatusRequestTimeout {
		t.Errorf("status = %d, want 408", resp.Status)
	}
}

func TestServerHandlerErrors(t *testing.T) {
	srv, addr := startServer(t, Config{Handler: helloHandler()})

	t.Run("error keeps the connection", func(t *testing.T) {
		c := dial(t, addr)
		resp := c.do("GET /fail HTTP/1.1\r\nHost: x\r\n\r\n")
		if resp.Status != http11.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", resp.Status)
		}
		if resp := c.do("GET / HTTP/1.1\r\nHost: x\r\n\r\n"); resp.Status != http11.StatusOK {
			t.Errorf("follow-up status = %d", resp.Status)
		}
	})

	t.Run("nil response", func(t *testing.T) {
		c := dial(t, addr)
		if resp := c.do("GET /nil HTTP/1.1\r\nHost: x\r\n\r\n"); resp.Status != http11.StatusInternalServerError {
			t.Errorf("status = %d, want 500", resp.Status)
		}
	})

	t.Run("panic closes the connection", func(t *testing.T) {
		c := dial(t, addr)
		resp := c.do("GET /panic HTTP/1.1\r\nHost: x\r\n\r\n")
		if resp.Status != http11.StatusInternalServerError {
			t.Errorf("status = %d, want 500", resp.Status)
		}
		if resp.Header.Get("connection") != "close" {
			t.Errorf("Connection = %q, want close", resp.Header.Get("connection"))
		}
		c.expectClosed()
	})

	if got := srv.Stats().HandlerErrors.Load(); got != 3 {
		t.Errorf("HandlerErrors = %d, want 3", got)
	}
}

func TestServerStreamErrorClosesConnection(t *testing.T) {
	h := HandlerFunc(func(*http11.Request) (*http11.Response, error) {
		return http11.NewResponse(http11.StatusOK).WithStream(func(w io.Writer) error {
			io.WriteString(w, "partial")
			return errors.New("producer failed")
		}), nil
	})
	_, addr := startServer(t, Config{Handler: h})

	c := dial(t, addr)
	c.send("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	raw, _ := io.ReadAll(c.br)
	if !strings.Contains(string(raw), "7\r\npartial\r\n") {
		t.Errorf("partial chunk missing: %q", raw)
	}
	if strings.HasSuffix(string(raw), "0\r\n\r\n") {
		t.Errorf("failed stream was terminated as complete: %q", raw)
	}
}

func TestServerHeaders(t *testing.T) {
	_, addr := startServer(t, Config{
		Handler:    helloHandler(),
		ServerName: "strand",
		Date:       func() string { return "Mon, 19 Oct 2026 10:00:00 GMT" },
	})

	c := dial(t, addr)
	resp := c.do("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	if resp.Header.Get("server") != "strand" {
		t.Errorf("Server = %q", resp.Header.Get("server"))
	}
	if resp.Header.Get("date") != "Mon, 19 Oct 2026 10:00:00 GMT" {
		t.Errorf("Date = %q", resp.Header.Get("date"))
	}
}

func TestServerSharedResponseIsNotModified(t *testing.T) {
	shared := http11.Text(http11.StatusOK, "shared")
	_, addr := startServer(t, Config{
		Handler:    HandlerFunc(func(*http11.Request) (*http11.Response, error) { return shared, nil }),
		ServerName: "strand",
	})

	c := dial(t, addr)
	c.do("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	c.do("GET / HTTP/1.1\r\nHost: x\r\n\r\n")

	if shared.Header.Len() != 1 {
		t.Errorf("handler response gained headers: %d fields", shared.Header.Len())
	}
}

func TestServerTakeover(t *testing.T) {
	h := HandlerFunc(func(req *http11.Request) (*http11.Response, error) {
		return http11.NewResponse(http11.StatusSwitchingProtocols).
			WithHeader(http11.HeaderUpgrade, "echo").
			WithHeader(http11.HeaderConnection, "Upgrade").
			WithTakeover(func(up *http11.Upgraded) {
				defer up.Close()
				io.Copy(up, up)
			}), nil
	})
	srv, addr := startServer(t, Config{Handler: h})

	c := dial(t, addr)
	c.send("GET /chat HTTP/1.1\r\nHost: x\r\nUpgrade: echo\r\nConnection: Upgrade\r\n\r\nearly")
	resp := c.read(http11.MethodGet)
	if resp.Status != http11.StatusSwitchingProtocols {
		t.Fatalf("status = %d, want 101", resp.Status)
	}
	if resp.Header.Has("keep-alive") {
		t.Error("takeover response carries Keep-Alive")
	}

	buf := make([]byte, len("early"))
	if _, err := io.ReadFull(c.br, buf); err != nil || string(buf) != "early" {
		t.Fatalf("echo of early bytes = %q (%v)", buf, err)
	}
	c.send("late")
	buf = buf[:4]
	if _, err := io.ReadFull(c.br, buf); err != nil || string(buf) != "late" {
		t.Fatalf("echo = %q (%v)", buf, err)
	}

	if got := srv.Stats().HandedOver.Load(); got != 1 {
		t.Errorf("HandedOver = %d, want 1", got)
	}
	deadline := time.Now().Add(2 * time.Second)
	for srv.Stats().ActiveConnections.Load() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ActiveConnections = %d after hand-over, want 0", srv.Stats().ActiveConnections.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerMaxConnections(t *testing.T) {
	_, addr := startServer(t, Config{Handler: helloHandler(), Mode: ModePerConn, MaxConnections: 1})

	first := dial(t, addr)
	first.do("GET / HTTP/1.1\r\nHost: x\r\n\r\n")

	second := dial(t, addr)
	second.send("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	second.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := second.br.Peek(1); err == nil {
		t.Fatal("second connection served while the limit was reached")
	}

	first.conn.Close()
	second.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if resp := second.read(http11.MethodGet); resp.Status != http11.StatusOK {
		t.Errorf("status = %d", resp.Status)
	}
}

func TestServerShutdownWaitsForBusyConnections(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := HandlerFunc(func(req *http11.Request) (*http11.Response, error) {
		if req.Path == "/slow" {
			close(entered)
			<-release
		}
		return http11.Text(http11.StatusOK, "done"), nil
	})
	srv, addr := startServer(t, Config{Handler: h})

	idle := dial(t, addr)
	idle.do("GET / HTTP/1.1\r\nHost: x\r\n\r\n")

	busy := dial(t, addr)
	busy.send("GET /slow HTTP/1.1\r\nHost: x\r\n\r\n")
	<-entered

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- srv.Shutdown(context.Background()) }()

	idle.expectClosed()

	close(release)
	resp := busy.read(http11.MethodGet)
	if resp.Status != http11.StatusOK || string(resp.Body) != "done" {
		t.Errorf("in-flight response = %d %q", resp.Status, resp.Body)
	}
	if resp.Header.Get("connection") != "close" {
		t.Errorf("Connection = %q during shutdown, want close", resp.Header.Get("connection"))
	}

	select {
	case err := <-shutdownErr:
		if err != nil {
			t.Errorf("Shutdown = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return")
	}
}

func TestServerShutdownDeadline(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := HandlerFunc(func(*http11.Request) (*http11.Response, error) {
		close(entered)
		<-release
		return http11.Text(http11.StatusOK, "late"), nil
	})
	srv, addr := startServer(t, Config{Handler: h})
	t.Cleanup(func() { close(release) })

	c := dial(t, addr)
	c.send("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown = %v, want DeadlineExceeded", err)
	}
	c.expectClosed()
}

func TestServerCloseLogsConnections(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	srv, addr := startServer(t, Config{Handler: helloHandler(), Logger: zap.New(core)})

	c := dial(t, addr)
	c.do("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	time.Sleep(20 * time.Millisecond)
	srv.Close()

	entries := logs.FilterMessage("closing connection").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d connection closes, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["state"] != "idle" {
		t.Errorf("state = %v, want idle", fields["state"])
	}
	if idle, ok := fields["idle"].(time.Duration); !ok || idle < 20*time.Millisecond {
		t.Errorf("idle = %v, want at least 20ms", fields["idle"])
	}
}

func TestServeAfterShutdown(t *testing.T) {
	srv := New(Config{Handler: helloHandler()})
	srv.Shutdown(context.Background())

	if err := srv.Serve(listen(t)); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Serve = %v, want ErrServerClosed", err)
	}
}

func TestServerWithFasthttpClient(t *testing.T) {
	_, addr := startServer(t, Config{Handler: helloHandler()})
	client := &fasthttp.Client{}

	tests := []struct {
		method string
		path   string
		body   string
		want   string
	}{
		{fasthttp.MethodGet, "/", "", "Hello World!"},
		{fasthttp.MethodPost, "/echo", "ping", "ping"},
		{fasthttp.MethodGet, "/stream", "", "Wikipedia"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := fasthttp.AcquireRequest()
			defer fasthttp.ReleaseRequest(req)
			resp := fasthttp.AcquireResponse()
			defer fasthttp.ReleaseResponse(resp)

			req.SetRequestURI("http://" + addr + tt.path)
			req.Header.SetMethod(tt.method)
			if tt.body != "" {
				req.SetBodyString(tt.body)
			}

			if err := client.DoTimeout(req, resp, 5*time.Second); err != nil {
				t.Fatalf("Do failed: %v", err)
			}
			if resp.StatusCode() != fasthttp.StatusOK {
				t.Errorf("status = %d", resp.StatusCode())
			}
			if string(resp.Body()) != tt.want {
				t.Errorf("body = %q, want %q", resp.Body(), tt.want)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"pool", ModeWorkerPool, true},
		{"single", ModeSingle, true},
		{"per-conn", ModePerConn, true},
		{"threads", ModeWorkerPool, false},
	}
	for _, tt := range tests {
		got, ok := ParseMode(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseMode(%q) = %v, %v", tt.in, got, ok)
		}
	}
}
