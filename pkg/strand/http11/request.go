package http11

import (
	"net/url"
	"strconv"
	"strings"
)

// Request is a fully buffered HTTP/1.1 request.
//
// Body is owned by the Request. On the server side it holds the decoded
// body (chunk framing removed); on the client side it is sent with
// Content-Length framing unless Header declares Transfer-Encoding: chunked.
type Request struct {
	Method string

	// Path is the request-target path ("/" or "*" for OPTIONS), without query.
	Path string

	// Query is the raw query string without the leading '?'.
	Query string

	// Proto is "HTTP/1.1" or "HTTP/1.0".
	Proto string

	Header HeaderMap
	Body   []byte

	// Trailer holds fields sent after a chunked body.
	Trailer HeaderMap

	// RemoteAddr is the peer address of the server-side connection.
	RemoteAddr string

	// URL is the absolute target of a client request. Nil for server
	// requests received in origin form.
	URL *url.URL
}

// NewRequest builds a client request for an absolute http or https URL.
func NewRequest(method, rawURL string, body []byte) (*Request, error) {
	if !ValidMethod(method) {
		return nil, parseError(InvalidStartLine, "unsupported method "+quoteForError(method))
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, ErrMissingHost
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return &Request{
		Method: method,
		Path:   path,
		Query:  u.RawQuery,
		Proto:  HTTP11,
		Body:   body,
		URL:    u,
	}, nil
}

// Target returns the origin-form request target ("path?query").
func (r *Request) Target() string {
	path := r.Path
	if path == "" {
		path = "/"
	}
	if r.Query == "" {
		return path
	}
	return path + "?" + r.Query
}

// Host returns the Host header, falling back to URL.Host.
func (r *Request) Host() string {
	if h := r.Header.Get(HeaderHost); h != "" {
		return h
	}
	if r.URL != nil {
		return r.URL.Host
	}
	return ""
}

// IsChunked reports whether the request is framed with chunked encoding.
func (r *Request) IsChunked() bool {
	return isChunked(&r.Header)
}

// WantsKeepAlive reports whether the sender allows the connection to stay
// open after this exchange. HTTP/1.1 defaults to persistent connections;
// HTTP/1.0 requires an explicit "Connection: keep-alive".
func (r *Request) WantsKeepAlive() bool {
	return keepAlive(r.Proto, &r.Header)
}

// Validate checks the framing invariants: a Content-Length header must
// equal len(Body), and it must not be combined with chunked encoding.
func (r *Request) Validate() error {
	return validateFraming(&r.Header, r.Body)
}

func validateFraming(h *HeaderMap, body []byte) error {
	cl := h.Get(HeaderContentLength)
	if cl == "" {
		return nil
	}
	if isChunked(h) {
		return parseError(InvalidHeader, "Content-Length with chunked Transfer-Encoding")
	}
	n, ok := parseContentLength(cl)
	if !ok || n != int64(len(body)) {
		return ErrContentLengthMismatch
	}
	return nil
}

func isChunked(h *HeaderMap) bool {
	vals := h.Values(HeaderTransferEncoding)
	if len(vals) == 0 {
		return false
	}
	// chunked must be the final coding (RFC 7230 §3.3.3)
	last := vals[len(vals)-1]
	if i := strings.LastIndexByte(last, ','); i >= 0 {
		last = last[i+1:]
	}
	return strings.EqualFold(strings.TrimSpace(last), chunkedCode)
}

func keepAlive(proto string, h *HeaderMap) bool {
	if h.HasToken(HeaderConnection, "close") {
		return false
	}
	if proto == HTTP10 {
		return h.HasToken(HeaderConnection, "keep-alive")
	}
	return true
}

// parseContentLength accepts only a plain decimal number. Signs, spaces and
// hex forms are rejected (RFC 7230 §3.3.2).
func parseContentLength(s string) (int64, bool) {
	if s == "" || len(s) > 18 {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}
