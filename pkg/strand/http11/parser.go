package http11

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Parser decodes requests and responses from a buffered reader.
//
// Every read is bounded by Limits: a hostile peer can make the parser fail
// but cannot make it buffer more than MaxHeaderBytes of header data or
// MaxBodyBytes of body. After any error the stream position is undefined
// and the connection must be closed.
type Parser struct {
	Limits Limits
}

// NewParser returns a parser with the given limits; zero fields use defaults.
func NewParser(limits Limits) *Parser {
	return &Parser{Limits: limits.withDefaults()}
}

var (
	errLineTooLong = errors.New("line too long")
	errBareLF      = errors.New("line not terminated by CRLF")
)

// readLine returns the next CRLF-terminated line without its terminator.
// io.EOF is returned only when the stream ends before any byte of the line.
func readLine(br *bufio.Reader, max int) (string, error) {
	var buf []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if len(buf)+len(chunk) > max+2 {
			return "", errLineTooLong
		}
		switch err {
		case nil:
			var line []byte
			if buf == nil {
				line = chunk
			} else {
				line = append(buf, chunk...)
			}
			if len(line) < 2 || line[len(line)-2] != '\r' {
				return "", errBareLF
			}
			return string(line[:len(line)-2]), nil
		case bufio.ErrBufferFull:
			buf = append(buf, chunk...)
		case io.EOF:
			if len(buf)+len(chunk) == 0 {
				return "", io.EOF
			}
			return "", io.ErrUnexpectedEOF
		default:
			return "", err
		}
	}
}

// lineError maps a readLine failure onto the error taxonomy.
func lineError(err error, tooLong, malformed ParseErrorKind, what string) error {
	switch {
	case err == errLineTooLong:
		return parseError(tooLong, what+" exceeds line limit")
	case err == errBareLF:
		return parseError(malformed, what+" not terminated by CRLF")
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return parseError(Truncated, "eof in "+what)
	default:
		return &IoError{Op: "read", Err: err}
	}
}

// ReadRequest reads one complete request. It returns io.EOF if the stream
// ends cleanly before the first byte.
func (p *Parser) ReadRequest(br *bufio.Reader) (*Request, error) {
	req := &Request{}
	if err := p.readRequestLine(br, req); err != nil {
		return nil, err
	}
	if err := p.readRequestHeaders(br, req); err != nil {
		return nil, err
	}
	if err := p.readRequestBody(br, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (p *Parser) readRequestLine(br *bufio.Reader, req *Request) error {
	line, err := readLine(br, p.Limits.MaxLineBytes)
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return lineError(err, HeaderTooLarge, InvalidStartLine, "request line")
	}
	return parseRequestLine(line, req)
}

// parseRequestLine parses "METHOD SP request-target SP HTTP-version".
func parseRequestLine(line string, req *Request) error {
	method, rest, ok1 := strings.Cut(line, " ")
	target, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || target == "" {
		return parseError(InvalidStartLine, "malformed request line")
	}
	if !ValidMethod(method) {
		return parseError(InvalidStartLine, "unsupported method "+quoteForError(method))
	}
	if proto != HTTP11 && proto != HTTP10 {
		return parseError(InvalidStartLine, "unsupported version "+quoteForError(proto))
	}
	for i := 0; i < len(target); i++ {
		if target[i] <= ' ' || target[i] == 0x7f {
			return parseError(InvalidStartLine, "control character in request target")
		}
	}

	switch {
	case target == "*":
		if method != MethodOptions {
			return parseError(InvalidStartLine, "asterisk target outside OPTIONS")
		}
		req.Path = target
	case target[0] == '/':
		req.Path, req.Query, _ = strings.Cut(target, "?")
	case strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://"):
		// absolute-form (RFC 7230 §5.3.2)
		u, err := url.ParseRequestURI(target)
		if err != nil || u.Host == "" {
			return parseError(InvalidStartLine, "malformed absolute target")
		}
		req.URL = u
		req.Path = u.EscapedPath()
		if req.Path == "" {
			req.Path = "/"
		}
		req.Query = u.RawQuery
	default:
		return parseError(InvalidStartLine, "request target must start with '/'")
	}

	req.Method = method
	req.Proto = proto
	return nil
}

func (p *Parser) readRequestHeaders(br *bufio.Reader, req *Request) error {
	if err := p.readHeaderBlock(br, &req.Header, "header"); err != nil {
		return err
	}
	hosts := req.Header.Values(HeaderHost)
	switch {
	case len(hosts) > 1:
		return parseError(InvalidHeader, "multiple Host headers")
	case len(hosts) == 0 && req.Proto == HTTP11:
		// RFC 7230 §5.4
		return parseError(InvalidHeader, "missing Host header")
	}
	return nil
}

// readHeaderBlock reads field lines up to and including the blank line.
// It is shared by the header section and chunked trailers.
func (p *Parser) readHeaderBlock(br *bufio.Reader, h *HeaderMap, what string) error {
	total := 0
	for {
		line, err := readLine(br, p.Limits.MaxLineBytes)
		if err != nil {
			return lineError(err, HeaderTooLarge, InvalidHeader, what)
		}
		if line == "" {
			return nil
		}

		total += len(line) + 2
		if total > p.Limits.MaxHeaderBytes {
			return parseError(HeaderTooLarge, what+" section exceeds limit")
		}
		if h.Len() >= p.Limits.MaxHeaderCount {
			return parseError(TooManyHeaders, "more than "+strconv.Itoa(p.Limits.MaxHeaderCount)+" fields")
		}

		// obs-fold is rejected (RFC 7230 §3.2.4)
		if line[0] == ' ' || line[0] == '\t' {
			return parseError(InvalidHeader, "obsolete line folding")
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return parseError(InvalidHeader, "missing colon")
		}
		// whitespace between name and colon fails the token check (RFC 7230 §3.2.4)
		if !httpguts.ValidHeaderFieldName(name) {
			return parseError(InvalidHeader, "invalid field name "+quoteForError(name))
		}
		value = strings.Trim(value, " \t")
		if !httpguts.ValidHeaderFieldValue(value) {
			return parseError(InvalidHeader, "invalid value for "+name)
		}
		h.fields = append(h.fields, headerField{name: name, value: value})
	}
}

type framing uint8

const (
	framingNone framing = iota
	framingLength
	framingChunked
	framingUnknownCoding
)

// resolveFraming decides how the body is delimited. Content-Length
// combined with Transfer-Encoding and conflicting Content-Length values
// are rejected as smuggling vectors (RFC 7230 §3.3.3).
func resolveFraming(h *HeaderMap) (framing, int64, error) {
	lengths := h.Values(HeaderContentLength)
	if h.Has(HeaderTransferEncoding) {
		if len(lengths) > 0 {
			return 0, 0, parseError(InvalidHeader, "Content-Length with Transfer-Encoding")
		}
		if isChunked(h) {
			return framingChunked, 0, nil
		}
		return framingUnknownCoding, 0, nil
	}
	if len(lengths) == 0 {
		return framingNone, 0, nil
	}

	n := int64(-1)
	for _, v := range lengths {
		for _, part := range strings.Split(v, ",") {
			m, ok := parseContentLength(strings.TrimSpace(part))
			if !ok {
				return 0, 0, parseError(InvalidHeader, "invalid Content-Length")
			}
			if n >= 0 && m != n {
				return 0, 0, parseError(InvalidHeader, "conflicting Content-Length values")
			}
			n = m
		}
	}
	return framingLength, n, nil
}

func (p *Parser) readRequestBody(br *bufio.Reader, req *Request) error {
	kind, n, err := resolveFraming(&req.Header)
	if err != nil {
		return err
	}
	switch kind {
	case framingChunked:
		req.Body, err = p.readChunkedBody(br, &req.Trailer)
	case framingLength:
		req.Body, err = p.readFixedBody(br, n)
	case framingUnknownCoding:
		return parseError(InvalidHeader, "unsupported transfer coding")
	}
	return err
}

// checkRequestFraming rejects invalid framing and declared lengths above
// MaxBodyBytes without reading any body bytes.
func (p *Parser) checkRequestFraming(h *HeaderMap) error {
	kind, n, err := resolveFraming(h)
	switch {
	case err != nil:
		return err
	case kind == framingUnknownCoding:
		return parseError(InvalidHeader, "unsupported transfer coding")
	case kind == framingLength && n > p.Limits.MaxBodyBytes:
		return parseError(BodyTooLarge, "declared length "+strconv.FormatInt(n, 10))
	}
	return nil
}

func (p *Parser) readFixedBody(br *bufio.Reader, n int64) ([]byte, error) {
	if n > p.Limits.MaxBodyBytes {
		return nil, parseError(BodyTooLarge, "declared length "+strconv.FormatInt(n, 10))
	}
	if n == 0 {
		return nil, nil
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, bodyReadError(err)
	}
	return body, nil
}

func (p *Parser) readChunkedBody(br *bufio.Reader, trailer *HeaderMap) ([]byte, error) {
	cr := p.newChunkedReader(br)
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(cr); err != nil {
		return nil, err
	}
	*trailer = cr.trailer
	if buf.Len() == 0 {
		return nil, nil
	}
	return buf.Bytes(), nil
}

// readUntilClose implements the close-delimited response body: everything
// up to EOF, bounded by MaxBodyBytes.
func (p *Parser) readUntilClose(br *bufio.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(br, p.Limits.MaxBodyBytes+1))
	if err != nil {
		return nil, &IoError{Op: "read", Err: err}
	}
	if int64(len(body)) > p.Limits.MaxBodyBytes {
		return nil, parseError(BodyTooLarge, "close-delimited body exceeds limit")
	}
	if len(body) == 0 {
		return nil, nil
	}
	return body, nil
}

func bodyReadError(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return parseError(Truncated, "eof in body")
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &IoError{Op: "read", Err: err}
}

// ReadResponse reads one complete response to a request with the given
// method. Responses to HEAD and 1xx/204/304 responses have no body. A
// response with neither Content-Length nor chunked encoding is read until
// the peer closes and is marked Close.
func (p *Parser) ReadResponse(br *bufio.Reader, method string) (*Response, error) {
	resp := &Response{}
	if err := p.readStatusLine(br, resp); err != nil {
		return nil, err
	}
	if err := p.readHeaderBlock(br, &resp.Header, "header"); err != nil {
		return nil, err
	}
	if err := p.readResponseBody(br, resp, method); err != nil {
		return nil, err
	}
	if !keepAlive(resp.Proto, &resp.Header) {
		resp.Close = true
	}
	return resp, nil
}

func (p *Parser) readStatusLine(br *bufio.Reader, resp *Response) error {
	line, err := readLine(br, p.Limits.MaxLineBytes)
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return lineError(err, HeaderTooLarge, InvalidStartLine, "status line")
	}
	return parseStatusLine(line, resp)
}

// parseStatusLine parses "HTTP-version SP status-code SP [reason-phrase]".
func parseStatusLine(line string, resp *Response) error {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok {
		return parseError(InvalidStartLine, "malformed status line")
	}
	if proto != HTTP11 && proto != HTTP10 {
		return parseError(InvalidStartLine, "unsupported version "+quoteForError(proto))
	}
	code, reason, _ := strings.Cut(rest, " ")
	if len(code) != 3 {
		return parseError(InvalidStartLine, "malformed status code")
	}
	status := 0
	for i := 0; i < 3; i++ {
		if code[i] < '0' || code[i] > '9' {
			return parseError(InvalidStartLine, "malformed status code")
		}
		status = status*10 + int(code[i]-'0')
	}
	if status < 100 {
		return parseError(InvalidStartLine, "status code out of range")
	}
	resp.Proto = proto
	resp.Status = status
	resp.Reason = reason
	return nil
}

func (p *Parser) readResponseBody(br *bufio.Reader, resp *Response, method string) error {
	if method == MethodHead || !bodyAllowed(resp.Status) {
		return nil
	}
	kind, n, err := resolveFraming(&resp.Header)
	if err != nil {
		return err
	}
	switch kind {
	case framingChunked:
		resp.Body, err = p.readChunkedBody(br, &resp.Trailer)
	case framingLength:
		resp.Body, err = p.readFixedBody(br, n)
	default:
		resp.Body, err = p.readUntilClose(br)
		resp.Close = true
	}
	return err
}
