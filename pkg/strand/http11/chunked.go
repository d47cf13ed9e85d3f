package http11

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// ChunkedReader decodes a chunked transfer-encoded body (RFC 7230 §4.1).
//
// Format:
//
//	chunk-size [; extensions] CRLF
//	chunk-data CRLF
//	...
//	0 CRLF
//	[trailer-fields CRLF]
//	CRLF
//
// Extensions are ignored. Trailers are collected and available through
// Trailer once Read has returned io.EOF. The decoded size is bounded by
// Limits.MaxBodyBytes.
type ChunkedReader struct {
	p         *Parser
	br        *bufio.Reader
	remaining int64 // bytes left in the current chunk
	total     int64
	needCRLF  bool // chunk data consumed, CRLF pending
	done      bool
	err       error
	trailer   HeaderMap
}

// NewChunkedReader returns a reader that decodes chunked data from br.
func NewChunkedReader(br *bufio.Reader, limits Limits) *ChunkedReader {
	return NewParser(limits).newChunkedReader(br)
}

func (p *Parser) newChunkedReader(br *bufio.Reader) *ChunkedReader {
	return &ChunkedReader{p: p, br: br}
}

// Read reads decoded body bytes.
func (cr *ChunkedReader) Read(b []byte) (int, error) {
	if cr.err != nil {
		return 0, cr.err
	}
	for cr.remaining == 0 {
		if cr.done {
			return 0, io.EOF
		}
		if err := cr.nextChunk(); err != nil {
			cr.err = err
			return 0, err
		}
	}
	if len(b) == 0 {
		return 0, nil
	}

	if int64(len(b)) > cr.remaining {
		b = b[:cr.remaining]
	}
	n, err := cr.br.Read(b)
	cr.remaining -= int64(n)
	cr.total += int64(n)
	if cr.remaining == 0 {
		cr.needCRLF = true
	}
	if err != nil {
		if err == io.EOF {
			err = parseError(Truncated, "eof in chunk data")
		} else {
			err = &IoError{Op: "read", Err: err}
		}
		cr.err = err
		if n > 0 {
			return n, nil
		}
	}
	return n, err
}

// nextChunk consumes the CRLF after the previous chunk and the next
// chunk-size line. On the last chunk it also reads the trailer section.
func (cr *ChunkedReader) nextChunk() error {
	if cr.needCRLF {
		if err := cr.readCRLF(); err != nil {
			return err
		}
		cr.needCRLF = false
	}

	line, err := readLine(cr.br, cr.p.Limits.MaxLineBytes)
	if err != nil {
		return lineError(err, InvalidChunk, InvalidChunk, "chunk size line")
	}
	size, err := parseChunkSize(line)
	if err != nil {
		return err
	}

	if size == 0 {
		if err := cr.p.readHeaderBlock(cr.br, &cr.trailer, "trailer"); err != nil {
			return err
		}
		cr.done = true
		return nil
	}
	if cr.total+size > cr.p.Limits.MaxBodyBytes {
		return parseError(BodyTooLarge, "chunked body exceeds limit")
	}
	cr.remaining = size
	return nil
}

// parseChunkSize parses the hex size, dropping chunk extensions.
func parseChunkSize(line string) (int64, error) {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimRight(line, " \t")
	if line == "" || len(line) > 15 {
		return 0, parseError(InvalidChunk, "bad chunk size "+quoteForError(line))
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return 0, parseError(InvalidChunk, "bad chunk size "+quoteForError(line))
		}
	}
	size, err := strconv.ParseInt(line, 16, 64)
	if err != nil {
		return 0, parseError(InvalidChunk, "bad chunk size "+quoteForError(line))
	}
	return size, nil
}

func (cr *ChunkedReader) readCRLF() error {
	var b [2]byte
	if _, err := io.ReadFull(cr.br, b[:]); err != nil {
		return bodyReadError(err)
	}
	if b[0] != '\r' || b[1] != '\n' {
		return parseError(InvalidChunk, "missing CRLF after chunk data")
	}
	return nil
}

// Trailer returns the trailer fields. It is complete only after Read has
// returned io.EOF.
func (cr *ChunkedReader) Trailer() *HeaderMap {
	return &cr.trailer
}

// TotalRead returns the number of decoded body bytes read so far.
func (cr *ChunkedReader) TotalRead() int64 {
	return cr.total
}

// ChunkedWriter frames every Write as one chunk. Close writes the
// terminating zero-size chunk; the underlying writer is not closed.
type ChunkedWriter struct {
	w      io.Writer
	closed bool
	hdr    [20]byte
}

// NewChunkedWriter returns a writer that applies chunked framing to w.
func NewChunkedWriter(w io.Writer) *ChunkedWriter {
	return &ChunkedWriter{w: w}
}

// Write emits p as a single chunk. Empty writes emit nothing, since a
// zero-size chunk would terminate the body.
func (cw *ChunkedWriter) Write(p []byte) (int, error) {
	if cw.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p) == 0 {
		return 0, nil
	}
	hdr := strconv.AppendInt(cw.hdr[:0], int64(len(p)), 16)
	hdr = append(hdr, '\r', '\n')
	if _, err := cw.w.Write(hdr); err != nil {
		return 0, err
	}
	n, err := cw.w.Write(p)
	if err != nil {
		return n, err
	}
	if _, err := io.WriteString(cw.w, crlf); err != nil {
		return n, err
	}
	return n, nil
}

// Close writes "0\r\n\r\n".
func (cw *ChunkedWriter) Close() error {
	return cw.CloseWithTrailer(nil)
}

// CloseWithTrailer writes the last chunk followed by trailer fields.
func (cw *ChunkedWriter) CloseWithTrailer(trailer *HeaderMap) error {
	if cw.closed {
		return nil
	}
	cw.closed = true
	if _, err := io.WriteString(cw.w, lastChunk); err != nil {
		return err
	}
	if trailer != nil {
		if _, err := trailer.WriteTo(cw.w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(cw.w, crlf)
	return err
}
