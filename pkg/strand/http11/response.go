package http11

import (
	"bufio"
	"io"
	"net"
	"time"
)

// Response is an HTTP/1.1 response.
//
// The body is either fixed (Body, sent with Content-Length) or produced by
// Stream (sent with chunked framing). A response with a Takeover function
// hands the raw connection to that function once the head is written; it
// must not carry a body.
type Response struct {
	Status int

	// Reason defaults to StatusText(Status) when empty.
	Reason string

	// Proto defaults to "HTTP/1.1" when empty.
	Proto string

	Header HeaderMap
	Body   []byte

	// Stream writes the body incrementally. Each Write becomes one chunk.
	Stream func(w io.Writer) error

	// Trailer is sent after the last chunk of a streamed body.
	Trailer HeaderMap

	// Takeover receives the connection after the response head is flushed.
	// The engine performs no further I/O on it.
	Takeover func(*Upgraded)

	// Upgraded is set on client responses with status 101: the connection
	// has left the pool and belongs to the caller.
	Upgraded *Upgraded

	// Close marks a response after which the connection must not be reused.
	// The parser sets it for close-delimited bodies and "Connection: close".
	Close bool

	err error
}

// NewResponse returns an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{Status: status}
}

// Text returns a text/plain response.
func Text(status int, body string) *Response {
	r := &Response{Status: status, Body: []byte(body)}
	r.Header.set(HeaderContentType, "text/plain; charset=utf-8")
	return r
}

// Redirect returns a 307 Temporary Redirect to location.
func Redirect(location string) *Response {
	return NewResponse(StatusTemporaryRedirect).WithHeader(HeaderLocation, location)
}

// WithHeader sets a header and returns r for chaining. An invalid field is
// recorded and reported by Validate.
func (r *Response) WithHeader(name, value string) *Response {
	if err := r.Header.Set(name, value); err != nil && r.err == nil {
		r.err = err
	}
	return r
}

// WithBody sets a fixed body.
func (r *Response) WithBody(body []byte) *Response {
	r.Body = body
	r.Stream = nil
	return r
}

// WithStream sets a streamed body.
func (r *Response) WithStream(fn func(w io.Writer) error) *Response {
	r.Stream = fn
	r.Body = nil
	return r
}

// WithTakeover marks the response as a connection hand-off.
func (r *Response) WithTakeover(fn func(*Upgraded)) *Response {
	r.Takeover = fn
	return r
}

// ReasonPhrase returns Reason or the standard text for Status.
func (r *Response) ReasonPhrase() string {
	if r.Reason != "" {
		return r.Reason
	}
	return StatusText(r.Status)
}

// Validate checks the response before it is written: valid status, no
// deferred header errors, consistent framing, and no body on a takeover.
func (r *Response) Validate() error {
	if r.err != nil {
		return r.err
	}
	if r.Status < 100 || r.Status > 999 {
		return ErrInvalidStatusCode
	}
	if r.Takeover != nil && (len(r.Body) > 0 || r.Stream != nil) {
		return ErrTakeoverWithBody
	}
	if r.Stream != nil {
		return nil
	}
	return validateFraming(&r.Header, r.Body)
}

// Upgraded is a connection released by the engine after a protocol switch.
//
// Reader holds any bytes the peer sent after the handshake that were
// already buffered; reads must go through it (or through Upgraded.Read)
// rather than Conn directly.
type Upgraded struct {
	Conn   net.Conn
	Reader *bufio.Reader
}

func (u *Upgraded) Read(p []byte) (int, error) {
	return u.Reader.Read(p)
}

func (u *Upgraded) Write(p []byte) (int, error) {
	return u.Conn.Write(p)
}

func (u *Upgraded) Close() error {
	return u.Conn.Close()
}

// SetDeadline sets read and write deadlines on the underlying connection.
func (u *Upgraded) SetDeadline(t time.Time) error {
	return u.Conn.SetDeadline(t)
}
