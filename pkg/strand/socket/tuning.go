// Package socket applies TCP tuning to accepted and dialed connections.
//
// Portable options go through the net package. Linux-only options
// (TCP_QUICKACK, TCP_USER_TIMEOUT, TCP_DEFER_ACCEPT, TCP_FASTOPEN) are set
// with golang.org/x/sys/unix in tuning_linux.go.
package socket

import (
	"context"
	"net"
	"syscall"
	"time"
)

// Config represents socket tuning configuration.
// Zero values mean "use system defaults".
type Config struct {
	// NoDelay disables Nagle's algorithm (TCP_NODELAY).
	NoDelay bool

	// KeepAlive enables TCP keepalive probes on idle connections.
	KeepAlive bool

	// KeepAlivePeriod is the idle time before the first probe.
	// Default: 0 (system default)
	KeepAlivePeriod time.Duration

	// RecvBuffer is SO_RCVBUF in bytes. 0 keeps the system default.
	RecvBuffer int

	// SendBuffer is SO_SNDBUF in bytes. 0 keeps the system default.
	SendBuffer int

	// QuickAck sends immediate ACKs (Linux only).
	QuickAck bool

	// UserTimeout bounds how long unacknowledged data may stay in flight
	// before the kernel drops the connection (Linux only).
	UserTimeout time.Duration

	// DeferAccept delays accept() until the first bytes arrive (Linux only,
	// listener option).
	DeferAccept bool

	// FastOpen enables TCP Fast Open on the listener (Linux only).
	FastOpen bool
}

// DefaultConfig returns the configuration used for HTTP/1.1 traffic.
func DefaultConfig() *Config {
	return &Config{
		NoDelay:         true,
		KeepAlive:       true,
		KeepAlivePeriod: 60 * time.Second,
		QuickAck:        true,
	}
}

// LowLatencyConfig favours small request/response exchanges.
func LowLatencyConfig() *Config {
	return &Config{
		NoDelay:         true,
		KeepAlive:       true,
		KeepAlivePeriod: 30 * time.Second,
		RecvBuffer:      128 * 1024,
		SendBuffer:      128 * 1024,
		QuickAck:        true,
		UserTimeout:     10 * time.Second,
	}
}

// HighThroughputConfig favours large bodies.
func HighThroughputConfig() *Config {
	return &Config{
		NoDelay:         true,
		KeepAlive:       true,
		KeepAlivePeriod: 60 * time.Second,
		RecvBuffer:      1024 * 1024,
		SendBuffer:      1024 * 1024,
		DeferAccept:     true,
	}
}

// Apply applies tuning options to a connection. Connections that are not
// TCP (pipes, in-memory listeners, TLS wrappers) are left untouched.
// Only a TCP_NODELAY failure is reported; the remaining options are best effort.
func Apply(conn net.Conn, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	if err := tcpConn.SetNoDelay(cfg.NoDelay); err != nil {
		return err
	}
	if cfg.KeepAlive {
		_ = tcpConn.SetKeepAlive(true)
		if cfg.KeepAlivePeriod > 0 {
			_ = tcpConn.SetKeepAlivePeriod(cfg.KeepAlivePeriod)
		}
	}
	if cfg.RecvBuffer > 0 {
		_ = tcpConn.SetReadBuffer(cfg.RecvBuffer)
	}
	if cfg.SendBuffer > 0 {
		_ = tcpConn.SetWriteBuffer(cfg.SendBuffer)
	}

	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return nil
	}
	return rawConn.Control(func(fd uintptr) {
		applyPlatformOptions(fd, cfg)
	})
}

// Listen opens a TCP listener with the listener-level options of cfg
// (DeferAccept, FastOpen) applied before bind.
func Listen(ctx context.Context, network, addr string, cfg *Config) (net.Listener, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	lc := net.ListenConfig{
		KeepAlive: -1,
		Control: func(_, _ string, c syscall.RawConn) error {
			var optErr error
			err := c.Control(func(fd uintptr) {
				optErr = applyListenerOptions(fd, cfg)
			})
			if err != nil {
				return err
			}
			return optErr
		},
	}
	return lc.Listen(ctx, network, addr)
}
