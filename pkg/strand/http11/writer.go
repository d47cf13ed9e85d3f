package http11

import (
	"bufio"
	"errors"
	"io"
	"strconv"
)

// WriteResponse serializes resp to bw and flushes it.
//
// Framing is chosen here and any caller-supplied Content-Length or
// Transfer-Encoding is replaced: a fixed body gets Content-Length, a
// Stream gets chunked encoding, and takeover, 1xx, 204 and 304 responses
// get neither. For a HEAD request the head is written as for GET but the
// body is omitted. resp is not modified.
func WriteResponse(bw *bufio.Writer, resp *Response, method string) error {
	if err := resp.Validate(); err != nil {
		return err
	}

	proto := resp.Proto
	if proto == "" {
		proto = HTTP11
	}
	bw.WriteString(proto)
	bw.WriteByte(' ')
	bw.Write(strconv.AppendInt(nil, int64(resp.Status), 10))
	bw.WriteByte(' ')
	bw.WriteString(resp.ReasonPhrase())
	bw.WriteString(crlf)

	resp.Header.writeExcept(bw, HeaderContentLength, HeaderTransferEncoding)

	noBody := resp.Takeover != nil || !bodyAllowed(resp.Status)
	switch {
	case noBody:
	case resp.Stream != nil:
		writeField(bw, HeaderTransferEncoding, chunkedCode)
	default:
		writeField(bw, HeaderContentLength, strconv.Itoa(len(resp.Body)))
	}
	bw.WriteString(crlf)

	if !noBody && method != MethodHead {
		if resp.Stream != nil {
			cw := NewChunkedWriter(bw)
			if err := resp.Stream(cw); err != nil {
				// the peer sees a truncated chunk stream
				bw.Flush()
				return &StreamError{Err: err}
			}
			if err := cw.CloseWithTrailer(&resp.Trailer); err != nil {
				return &IoError{Op: "write", Err: err}
			}
		} else {
			bw.Write(resp.Body)
		}
	}

	if err := bw.Flush(); err != nil {
		return &IoError{Op: "write", Err: err}
	}
	return nil
}

// WriteInterim writes a 1xx response head such as "100 Continue".
func WriteInterim(bw *bufio.Writer, status int) error {
	bw.WriteString(HTTP11)
	bw.WriteByte(' ')
	bw.Write(strconv.AppendInt(nil, int64(status), 10))
	bw.WriteByte(' ')
	bw.WriteString(StatusText(status))
	bw.WriteString(crlf + crlf)
	if err := bw.Flush(); err != nil {
		return &IoError{Op: "write", Err: err}
	}
	return nil
}

// WriteRequest serializes req to bw and flushes it.
//
// A Host header is added from req.URL when missing. If req declares
// Transfer-Encoding: chunked the body is sent as chunks followed by
// req.Trailer; otherwise Content-Length is set when there is a body or the
// method normally carries one.
func WriteRequest(bw *bufio.Writer, req *Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.Host() == "" && req.Proto != HTTP10 {
		return ErrMissingHost
	}

	proto := req.Proto
	if proto == "" {
		proto = HTTP11
	}
	bw.WriteString(req.Method)
	bw.WriteByte(' ')
	bw.WriteString(req.Target())
	bw.WriteByte(' ')
	bw.WriteString(proto)
	bw.WriteString(crlf)

	if !req.Header.Has(HeaderHost) && req.URL != nil {
		writeField(bw, HeaderHost, req.URL.Host)
	}

	chunked := req.IsChunked()
	if chunked {
		req.Header.writeExcept(bw, HeaderContentLength)
	} else {
		req.Header.writeExcept(bw, HeaderContentLength, HeaderTransferEncoding)
		if len(req.Body) > 0 || methodExpectsBody(req.Method) {
			writeField(bw, HeaderContentLength, strconv.Itoa(len(req.Body)))
		}
	}
	bw.WriteString(crlf)

	if chunked {
		cw := NewChunkedWriter(bw)
		cw.Write(req.Body)
		cw.CloseWithTrailer(&req.Trailer)
	} else {
		bw.Write(req.Body)
	}

	if err := bw.Flush(); err != nil {
		return &IoError{Op: "write", Err: err}
	}
	return nil
}

func writeField(w io.StringWriter, name, value string) {
	w.WriteString(name)
	w.WriteString(colonSpace)
	w.WriteString(value)
	w.WriteString(crlf)
}

// IsStreamError reports whether err came from a Response.Stream producer.
func IsStreamError(err error) bool {
	var se *StreamError
	return errors.As(err, &se)
}
