package http11

import (
	"bufio"
	"io"
	"sync"
)

// DefaultBufferSize is the default size for connection read/write buffers
const DefaultBufferSize = 4096

// Buffers of DefaultBufferSize are recycled; other sizes are allocated per
// connection.
var (
	bufioReaderPool = sync.Pool{
		New: func() interface{} {
			return bufio.NewReaderSize(nil, DefaultBufferSize)
		},
	}

	bufioWriterPool = sync.Pool{
		New: func() interface{} {
			return bufio.NewWriterSize(nil, DefaultBufferSize)
		},
	}
)

func getBufioReader(r io.Reader, size int) *bufio.Reader {
	if size != DefaultBufferSize {
		return bufio.NewReaderSize(r, size)
	}
	br := bufioReaderPool.Get().(*bufio.Reader)
	br.Reset(r)
	return br
}

func putBufioReader(br *bufio.Reader) {
	if br.Size() != DefaultBufferSize {
		return
	}
	br.Reset(nil)
	bufioReaderPool.Put(br)
}

func getBufioWriter(w io.Writer, size int) *bufio.Writer {
	if size != DefaultBufferSize {
		return bufio.NewWriterSize(w, size)
	}
	bw := bufioWriterPool.Get().(*bufio.Writer)
	bw.Reset(w)
	return bw
}

func putBufioWriter(bw *bufio.Writer) {
	if bw.Size() != DefaultBufferSize {
		return
	}
	bw.Reset(nil)
	bufioWriterPool.Put(bw)
}
