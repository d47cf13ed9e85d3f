package http11

// HTTP methods
const (
	MethodGet     = "GET"
	MethodHead    = "HEAD"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodDelete  = "DELETE"
	MethodConnect = "CONNECT"
	MethodOptions = "OPTIONS"
	MethodTrace   = "TRACE"
	MethodPatch   = "PATCH"
)

// ValidMethod reports whether m is one of the methods the engine accepts.
// Method tokens are case-sensitive (RFC 7230 §3.1.1).
func ValidMethod(m string) bool {
	switch m {
	case MethodGet, MethodHead, MethodPost, MethodPut, MethodDelete,
		MethodConnect, MethodOptions, MethodTrace, MethodPatch:
		return true
	}
	return false
}

// IsIdempotent reports whether a request with method m may be replayed
// safely (RFC 7231 §4.2.2).
func IsIdempotent(m string) bool {
	switch m {
	case MethodGet, MethodHead, MethodPut, MethodDelete, MethodOptions, MethodTrace:
		return true
	}
	return false
}

// methodExpectsBody reports whether a request with method m is sent with
// an explicit Content-Length even when the body is empty.
func methodExpectsBody(m string) bool {
	return m == MethodPost || m == MethodPut || m == MethodPatch
}
