package server

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/watt-toolkit/strand/pkg/strand/http11"
)

func TestServeCGIGet(t *testing.T) {
	env := []string{
		"GATEWAY_INTERFACE=CGI/1.1",
		"REQUEST_METHOD=GET",
		"SERVER_PROTOCOL=HTTP/1.1",
		"PATH_INFO=/test.txt",
		"QUERY_STRING=x=1&y=2",
		"HTTP_HOST=example.com",
		"HTTP_X_REQUEST_ID=abc",
		"REMOTE_ADDR=::ffff:10.0.0.7",
		"REMOTE_PORT=5555",
	}

	var got *http11.Request
	h := HandlerFunc(func(req *http11.Request) (*http11.Response, error) {
		got = req
		return http11.Text(http11.StatusOK, "Hello World!"), nil
	})

	var out bytes.Buffer
	if err := ServeCGIEnv(h, env, strings.NewReader(""), &out); err != nil {
		t.Fatalf("ServeCGIEnv failed: %v", err)
	}

	if got.Method != http11.MethodGet || got.Path != "/test.txt" || got.Query != "x=1&y=2" {
		t.Errorf("request = %s %s?%s", got.Method, got.Path, got.Query)
	}
	if got.Header.Get("x-request-id") != "abc" {
		t.Errorf("X-Request-Id = %q", got.Header.Get("x-request-id"))
	}
	if got.RemoteAddr != "10.0.0.7:5555" {
		t.Errorf("RemoteAddr = %q", got.RemoteAddr)
	}

	want := "Status: 200 OK\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Length: 12\r\n" +
		"\r\n" +
		"Hello World!"
	if out.String() != want {
		t.Errorf("Got %q, want %q", out.String(), want)
	}
}

func TestServeCGIPostBody(t *testing.T) {
	env := []string{
		"REQUEST_METHOD=POST",
		"SERVER_PROTOCOL=HTTP/1.0",
		"PATH_INFO=",
		"CONTENT_LENGTH=4",
		"CONTENT_TYPE=text/plain",
	}
	h := HandlerFunc(func(req *http11.Request) (*http11.Response, error) {
		if req.Path != "/" || req.Header.Get("content-type") != "text/plain" {
			t.Errorf("request = %s %q", req.Path, req.Header.Get("content-type"))
		}
		return http11.NewResponse(http11.StatusOK).WithStream(func(w io.Writer) error {
			_, err := w.Write(req.Body)
			return err
		}), nil
	})

	var out bytes.Buffer
	if err := ServeCGIEnv(h, env, strings.NewReader("pingEXTRA"), &out); err != nil {
		t.Fatalf("ServeCGIEnv failed: %v", err)
	}
	if !strings.HasSuffix(out.String(), "Content-Length: 4\r\n\r\nping") {
		t.Errorf("output = %q", out.String())
	}
}

func TestServeCGIErrors(t *testing.T) {
	tests := []struct {
		name   string
		env    []string
		h      Handler
		status string
	}{
		{"missing method", []string{"PATH_INFO=/"}, helloHandler(), "Status: 400 Bad Request"},
		{"missing path", []string{"REQUEST_METHOD=GET"}, helloHandler(), "Status: 400 Bad Request"},
		{"missing host", []string{"REQUEST_METHOD=GET", "PATH_INFO=/"}, helloHandler(), "Status: 400 Bad Request"},
		{"body too large", []string{"REQUEST_METHOD=POST", "PATH_INFO=/", "SERVER_PROTOCOL=HTTP/1.0", "CONTENT_LENGTH=999999999999"}, helloHandler(), "Status: 413 Payload Too Large"},
		{"short body", []string{"REQUEST_METHOD=POST", "PATH_INFO=/", "SERVER_PROTOCOL=HTTP/1.0", "CONTENT_LENGTH=10"}, helloHandler(), "Status: 400 Bad Request"},
		{"handler error", []string{"REQUEST_METHOD=GET", "PATH_INFO=/fail", "HTTP_HOST=x"}, helloHandler(), "Status: 500 Internal Server Error"},
		{"takeover", []string{"REQUEST_METHOD=GET", "PATH_INFO=/", "HTTP_HOST=x"},
			HandlerFunc(func(*http11.Request) (*http11.Response, error) {
				return http11.NewResponse(http11.StatusSwitchingProtocols).WithTakeover(func(*http11.Upgraded) {}), nil
			}), "Status: 500 Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := ServeCGIEnv(tt.h, tt.env, strings.NewReader("abc"), &out)
			if err == nil {
				t.Error("ServeCGIEnv succeeded")
			}
			if !strings.HasPrefix(out.String(), tt.status+"\r\n") {
				t.Errorf("output = %q, want %q", out.String(), tt.status)
			}
		})
	}
}

func TestServeCGIHandlerErrorType(t *testing.T) {
	env := []string{"REQUEST_METHOD=GET", "PATH_INFO=/panic", "HTTP_HOST=x"}
	err := ServeCGIEnv(helloHandler(), env, strings.NewReader(""), io.Discard)

	var he *HandlerError
	if !errors.As(err, &he) || he.Panic != "kaboom" {
		t.Errorf("error = %v, want HandlerError with panic value", err)
	}
}
