package server

import (
	"errors"
	"fmt"

	"github.com/watt-toolkit/strand/pkg/strand/http11"
)

// Handler produces the response to one request.
//
// The server owns the returned response once Handle returns; a handler may
// return the same *http11.Response from several calls as long as it does
// not modify it. A returned error, or a panic, becomes a 500 response.
type Handler interface {
	Handle(req *http11.Request) (*http11.Response, error)
}

// HandlerFunc is an adapter to allow the use of ordinary functions as handlers.
type HandlerFunc func(req *http11.Request) (*http11.Response, error)

// Handle calls f(req).
func (f HandlerFunc) Handle(req *http11.Request) (*http11.Response, error) {
	return f(req)
}

// HandlerError reports a handler that failed, panicked or returned no
// response.
type HandlerError struct {
	// Err is the error returned by the handler, if any.
	Err error

	// Panic is the recovered value when the handler panicked.
	Panic any

	// Stack is the goroutine stack captured at the panic.
	Stack []byte
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("server: handler panic: %v", e.Panic)
	}
	return "server: handler: " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error { return e.Err }

var errNilResponse = errors.New("nil response")

// NotFound answers every request with 404.
var NotFound Handler = HandlerFunc(func(*http11.Request) (*http11.Response, error) {
	return http11.Text(http11.StatusNotFound, "Not Found"), nil
})
