// Package http11 implements a blocking HTTP/1.1 engine: header storage,
// request and response parsing, serialization with Content-Length or
// chunked framing, and a single-owner Connection wrapper around net.Conn.
package http11

// Protocol versions
const (
	HTTP11 = "HTTP/1.1"
	HTTP10 = "HTTP/1.0"
)

// Wire constants
const (
	crlf        = "\r\n"
	colonSpace  = ": "
	lastChunk   = "0\r\n"
	chunkedCode = "chunked"
)

// Well-known header names
const (
	HeaderHost             = "Host"
	HeaderConnection       = "Connection"
	HeaderKeepAlive        = "Keep-Alive"
	HeaderContentLength    = "Content-Length"
	HeaderContentType      = "Content-Type"
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderUpgrade          = "Upgrade"
	HeaderLocation         = "Location"
	HeaderExpect           = "Expect"
	HeaderDate             = "Date"
	HeaderServer           = "Server"
	HeaderUserAgent        = "User-Agent"
	HeaderAcceptEncoding   = "Accept-Encoding"
	HeaderContentEncoding  = "Content-Encoding"
	HeaderVary             = "Vary"
)

// Default limits
const (
	// DefaultMaxLineBytes bounds the start line and every header line
	DefaultMaxLineBytes = 8 * 1024

	// DefaultMaxHeaderBytes bounds the whole header section
	DefaultMaxHeaderBytes = 32 * 1024

	// DefaultMaxHeaderCount bounds the number of header fields
	DefaultMaxHeaderCount = 100

	// DefaultMaxBodyBytes bounds a decoded body
	DefaultMaxBodyBytes = 10 * 1024 * 1024
)

// Limits bound the memory a single message may consume.
// Zero fields fall back to the defaults above.
type Limits struct {
	MaxLineBytes   int
	MaxHeaderBytes int
	MaxHeaderCount int
	MaxBodyBytes   int64
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxLineBytes:   DefaultMaxLineBytes,
		MaxHeaderBytes: DefaultMaxHeaderBytes,
		MaxHeaderCount: DefaultMaxHeaderCount,
		MaxBodyBytes:   DefaultMaxBodyBytes,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxLineBytes <= 0 {
		l.MaxLineBytes = DefaultMaxLineBytes
	}
	if l.MaxHeaderBytes <= 0 {
		l.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if l.MaxHeaderCount <= 0 {
		l.MaxHeaderCount = DefaultMaxHeaderCount
	}
	if l.MaxBodyBytes <= 0 {
		l.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return l
}
