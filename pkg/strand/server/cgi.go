package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/watt-toolkit/strand/pkg/strand/http11"
)

var errCGIEnv = errors.New("server: incomplete CGI environment")

// ServeCGI handles a single CGI request using the process environment,
// stdin and stdout.
func ServeCGI(h Handler) error {
	return ServeCGIEnv(h, os.Environ(), os.Stdin, os.Stdout)
}

// ServeCGIEnv handles a single CGI request described by env ("KEY=value"
// entries) with the body on stdin, writing the response to stdout as a
// CGI document with a "Status:" line.
//
// A request that cannot be built from the environment is answered with
// 400 and the error returned. Streamed bodies are buffered; takeover
// responses are not possible behind a gateway and become 500.
func ServeCGIEnv(h Handler, env []string, stdin io.Reader, stdout io.Writer) error {
	bw := bufio.NewWriter(stdout)
	defer bw.Flush()

	req, err := requestFromCGI(env, stdin, http11.DefaultLimits())
	if err != nil {
		status := http11.StatusBadRequest
		if errors.Is(err, http11.ErrBodyTooLarge) {
			status = http11.StatusPayloadTooLarge
		}
		writeCGI(bw, http11.NewResponse(status), nil, false)
		return err
	}

	var body []byte
	resp, err := invoke(h, req)
	if err == nil {
		body, err = cgiBody(resp)
	}
	if err != nil {
		resp = http11.Text(http11.StatusInternalServerError, "Internal Server Error")
		body = resp.Body
	}
	writeCGI(bw, resp, body, req.Method == http11.MethodHead)
	return err
}

func cgiBody(resp *http11.Response) ([]byte, error) {
	if err := resp.Validate(); err != nil {
		return nil, &HandlerError{Err: err}
	}
	if resp.Takeover != nil {
		return nil, &HandlerError{Err: errors.New("takeover response over CGI")}
	}
	if resp.Stream == nil {
		return resp.Body, nil
	}
	var buf bytes.Buffer
	if err := resp.Stream(&buf); err != nil {
		return nil, &HandlerError{Err: err}
	}
	return buf.Bytes(), nil
}

// requestFromCGI builds a request from the meta-variables of RFC 3875.
func requestFromCGI(env []string, stdin io.Reader, limits http11.Limits) (*http11.Request, error) {
	vars := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}

	method, ok := vars["REQUEST_METHOD"]
	if !ok || !http11.ValidMethod(method) {
		return nil, fmt.Errorf("%w: REQUEST_METHOD %q", errCGIEnv, method)
	}
	path, ok := vars["PATH_INFO"]
	if !ok {
		return nil, fmt.Errorf("%w: PATH_INFO missing", errCGIEnv)
	}
	if path == "" {
		path = "/"
	}

	req := &http11.Request{
		Method: method,
		Path:   path,
		Query:  vars["QUERY_STRING"],
		Proto:  http11.HTTP11,
	}
	if vars["SERVER_PROTOCOL"] == http11.HTTP10 {
		req.Proto = http11.HTTP10
	}

	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		name, ok := strings.CutPrefix(k, "HTTP_")
		if !ok {
			continue
		}
		if err := req.Header.Add(strings.ReplaceAll(name, "_", "-"), v); err != nil {
			return nil, err
		}
	}
	if ct := vars["CONTENT_TYPE"]; ct != "" {
		if err := req.Header.Set(http11.HeaderContentType, ct); err != nil {
			return nil, err
		}
	}
	if req.Proto == http11.HTTP11 && !req.Header.Has(http11.HeaderHost) {
		return nil, http11.ErrMissingHost
	}

	if cl := vars["CONTENT_LENGTH"]; cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: CONTENT_LENGTH %q", errCGIEnv, cl)
		}
		if limits.MaxBodyBytes > 0 && n > limits.MaxBodyBytes {
			return nil, http11.ErrBodyTooLarge
		}
		if n > 0 {
			req.Body = make([]byte, n)
			if _, err := io.ReadFull(stdin, req.Body); err != nil {
				return nil, &http11.IoError{Op: "read", Err: err}
			}
		}
	}

	if addr := strings.TrimPrefix(vars["REMOTE_ADDR"], "::ffff:"); addr != "" {
		port := vars["REMOTE_PORT"]
		if port == "" {
			port = "0"
		}
		req.RemoteAddr = net.JoinHostPort(addr, port)
	}
	return req, nil
}

func writeCGI(bw *bufio.Writer, resp *http11.Response, body []byte, head bool) {
	fmt.Fprintf(bw, "Status: %d %s\r\n", resp.Status, resp.ReasonPhrase())
	resp.Header.VisitAll(func(name, value string) bool {
		if strings.EqualFold(name, http11.HeaderContentLength) ||
			strings.EqualFold(name, http11.HeaderTransferEncoding) ||
			strings.EqualFold(name, http11.HeaderConnection) {
			return true
		}
		bw.WriteString(name)
		bw.WriteString(": ")
		bw.WriteString(value)
		bw.WriteString("\r\n")
		return true
	})
	fmt.Fprintf(bw, "%s: %d\r\n\r\n", http11.HeaderContentLength, len(body))
	if !head {
		bw.Write(body)
	}
}
