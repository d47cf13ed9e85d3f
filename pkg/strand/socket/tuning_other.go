//go:build !linux

package socket

func applyPlatformOptions(fd uintptr, cfg *Config) {}

func applyListenerOptions(fd uintptr, cfg *Config) error { return nil }
