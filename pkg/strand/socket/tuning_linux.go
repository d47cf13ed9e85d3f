//go:build linux

package socket

import (
	"golang.org/x/sys/unix"
)

// applyPlatformOptions applies Linux-specific per-connection options.
func applyPlatformOptions(fd uintptr, cfg *Config) {
	// TCP_QUICKACK is not sticky; the kernel clears it after the next ACK.
	if cfg.QuickAck {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
	}
	if cfg.UserTimeout > 0 {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(cfg.UserTimeout.Milliseconds()))
	}
	if cfg.KeepAlive && cfg.KeepAlivePeriod > 0 {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10)
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3)
	}
}

// applyListenerOptions applies Linux-specific listener options.
func applyListenerOptions(fd uintptr, cfg *Config) error {
	if cfg.DeferAccept {
		// seconds to wait for the first data segment
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, 5); err != nil && err != unix.ENOPROTOOPT {
			return err
		}
	}
	if cfg.FastOpen {
		// queue length for pending TFO requests; disabled kernels reject it
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_FASTOPEN, 256)
	}
	return nil
}
