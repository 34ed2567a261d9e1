package stream

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
)

// NormalizeEncoding lower-cases a content-encoding value and maps the
// legacy x-gzip alias.
func NormalizeEncoding(encoding string) string {
	e := strings.ToLower(strings.TrimSpace(encoding))
	if e == "x-gzip" {
		return EncodingGzip
	}
	return e
}

// Supported reports whether the encoding has a codec.
func Supported(encoding string) bool {
	switch NormalizeEncoding(encoding) {
	case EncodingGzip, EncodingDeflate:
		return true
	}
	return false
}

// UnzipStream returns a decompressing stream for encoding, or nil when the
// encoding is empty or unsupported.
func UnzipStream(encoding string) Stream {
	switch e := NormalizeEncoding(encoding); e {
	case EncodingGzip, EncodingDeflate:
		return &unzipper{encoding: e}
	}
	return nil
}

// ZipStream returns a compressing stream for encoding, or nil when the
// encoding is empty or unsupported.
func ZipStream(encoding string) Stream {
	switch e := NormalizeEncoding(encoding); e {
	case EncodingGzip, EncodingDeflate:
		return &zipper{encoding: e}
	}
	return nil
}

type unzipper struct {
	encoding string
}

func (u *unzipper) Pipe(src io.Reader) io.ReadCloser {
	return &lazyReader{open: func() (io.Reader, error) {
		return openDecompressor(u.encoding, src)
	}}
}

func (u *unzipper) String() string {
	return "unzip(" + u.encoding + ")"
}

func openDecompressor(encoding string, src io.Reader) (io.Reader, error) {
	switch encoding {
	case EncodingGzip:
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("gzip.NewReader: %w", err)
		}
		return zr, nil
	case EncodingDeflate:
		// Servers disagree on whether "deflate" carries the zlib wrapper.
		br := bufio.NewReader(src)
		head, _ := br.Peek(2)
		if len(head) == 2 && head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
			zr, err := zlib.NewReader(br)
			if err != nil {
				return nil, fmt.Errorf("zlib.NewReader: %w", err)
			}
			return zr, nil
		}
		return flate.NewReader(br), nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", encoding)
}

// lazyReader defers opening the decompressor until the first Read so that
// building a pipeline never blocks on the body.
type lazyReader struct {
	open func() (io.Reader, error)
	r    io.Reader
	err  error
}

func (l *lazyReader) Read(p []byte) (int, error) {
	if l.r == nil && l.err == nil {
		l.r, l.err = l.open()
	}
	if l.err != nil {
		return 0, l.err
	}
	return l.r.Read(p)
}

func (l *lazyReader) Close() error {
	if l.err == nil {
		l.err = errClosed
	}
	if c, ok := l.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var errClosed = errors.New("stream closed")

type zipper struct {
	encoding string
}

func (z *zipper) Pipe(src io.Reader) io.ReadCloser {
	return &zipReader{encoding: z.encoding, src: src}
}

// zipReader starts the compressing goroutine on the first Read. Close stops
// it even when nobody drains the output.
type zipReader struct {
	encoding string
	src      io.Reader

	mu     sync.Mutex
	pr     *io.PipeReader
	closed bool
}

func (z *zipReader) start() (*io.PipeReader, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.closed {
		return nil, errClosed
	}
	if z.pr == nil {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(compress(z.encoding, pw, z.src))
		}()
		z.pr = pr
	}
	return z.pr, nil
}

func (z *zipReader) Read(p []byte) (int, error) {
	pr, err := z.start()
	if err != nil {
		return 0, err
	}
	return pr.Read(p)
}

func (z *zipReader) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.closed = true
	if z.pr != nil {
		return z.pr.CloseWithError(errClosed)
	}
	return nil
}

func (z *zipper) String() string {
	return "zip(" + z.encoding + ")"
}

func compress(encoding string, dst io.Writer, src io.Reader) error {
	var w io.WriteCloser
	switch encoding {
	case EncodingGzip:
		w = gzip.NewWriter(dst)
	case EncodingDeflate:
		w = zlib.NewWriter(dst)
	default:
		return fmt.Errorf("unsupported encoding %q", encoding)
	}
	if _, err := io.Copy(w, src); err != nil {
		_ = w.Close()
		return fmt.Errorf("compress %s: %w", encoding, err)
	}
	return w.Close()
}
