package http11

import "errors"

// ParseErrorKind classifies a protocol violation found while decoding a
// message. The zero value is not a valid kind.
type ParseErrorKind uint8

const (
	// InvalidStartLine: malformed request line or status line, unknown
	// method, or unsupported version.
	InvalidStartLine ParseErrorKind = iota + 1

	// InvalidHeader: malformed header line, forbidden characters, or a
	// framing conflict (Content-Length with Transfer-Encoding, differing
	// duplicate Content-Length values).
	InvalidHeader

	// HeaderTooLarge: a single line or the whole header section exceeds the
	// configured byte limits.
	HeaderTooLarge

	// TooManyHeaders: the header section has more fields than allowed.
	TooManyHeaders

	// BodyTooLarge: the declared or decoded body exceeds MaxBodyBytes.
	BodyTooLarge

	// InvalidChunk: bad chunk-size line or missing CRLF after chunk data.
	InvalidChunk

	// Truncated: the peer closed the stream in the middle of a message.
	Truncated
)

func (k ParseErrorKind) String() string {
	switch k {
	case InvalidStartLine:
		return "invalid start line"
	case InvalidHeader:
		return "invalid header"
	case HeaderTooLarge:
		return "header too large"
	case TooManyHeaders:
		return "too many headers"
	case BodyTooLarge:
		return "body too large"
	case InvalidChunk:
		return "invalid chunk"
	case Truncated:
		return "truncated message"
	default:
		return "unknown"
	}
}

// ParseError reports a malformed message. A connection that produced a
// ParseError is never read from again.
type ParseError struct {
	Kind   ParseErrorKind
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return "http11: " + e.Kind.String()
	}
	return "http11: " + e.Kind.String() + ": " + e.Detail
}

// Is matches any ParseError of the same kind, so
// errors.Is(err, ErrHeaderTooLarge) works regardless of Detail.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidStartLine = &ParseError{Kind: InvalidStartLine}
	ErrInvalidHeader    = &ParseError{Kind: InvalidHeader}
	ErrHeaderTooLarge   = &ParseError{Kind: HeaderTooLarge}
	ErrTooManyHeaders   = &ParseError{Kind: TooManyHeaders}
	ErrBodyTooLarge     = &ParseError{Kind: BodyTooLarge}
	ErrInvalidChunk     = &ParseError{Kind: InvalidChunk}
	ErrTruncated        = &ParseError{Kind: Truncated}
)

func parseError(kind ParseErrorKind, detail string) *ParseError {
	return &ParseError{Kind: kind, Detail: detail}
}

// ParseErrorKindOf returns the kind of the first ParseError in err's chain.
func ParseErrorKindOf(err error) (ParseErrorKind, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IoError wraps a socket failure on an established connection.
type IoError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *IoError) Error() string {
	return "http11: " + e.Op + ": " + e.Err.Error()
}

func (e *IoError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry.
func (e *IoError) Timeout() bool {
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

// StreamError wraps an error returned by a Response.Stream producer. Part
// of the response may already be on the wire when it is reported.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return "http11: response stream: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error { return e.Err }

// Connection and message errors
var (
	// ErrConnectionClosed indicates the connection has been closed or handed over
	ErrConnectionClosed = errors.New("http11: connection closed")

	// ErrContentLengthMismatch indicates a Content-Length header that does
	// not match the body carried by the message
	ErrContentLengthMismatch = errors.New("http11: Content-Length does not match body length")

	// ErrTakeoverWithBody indicates a takeover response that also declares a body
	ErrTakeoverWithBody = errors.New("http11: takeover response must not carry a body")

	// ErrInvalidStatusCode indicates a status code outside 100-999
	ErrInvalidStatusCode = errors.New("http11: invalid status code")

	// ErrMissingHost indicates a request with no Host header and no URL to derive it from
	ErrMissingHost = errors.New("http11: request has no host")
)
