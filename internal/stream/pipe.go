package stream

import (
	"errors"
	"io"
	"log/slog"
)

// Stream transforms a byte stream. Pipe returns a reader yielding the
// transformed bytes of src. Closing the reader stops the stage and frees
// what it holds; it never closes src.
type Stream interface {
	Pipe(src io.Reader) io.ReadCloser
}

// Func adapts a plain function to Stream.
type Func func(src io.Reader) io.Reader

func (f Func) Pipe(src io.Reader) io.ReadCloser {
	return io.NopCloser(f(src))
}

// Chain runs its stages in order: bytes flow through Stages[0] first.
type Chain struct {
	Stages []Stream
}

func (c *Chain) Pipe(src io.Reader) io.ReadCloser {
	if len(c.Stages) == 0 {
		return io.NopCloser(src)
	}
	readers := make([]io.ReadCloser, 0, len(c.Stages))
	r := src
	for _, s := range c.Stages {
		rc := s.Pipe(r)
		readers = append(readers, rc)
		r = rc
	}
	return &chainReader{ReadCloser: readers[len(readers)-1], readers: readers}
}

// Close releases stages that hold resources before they are piped.
func (c *Chain) Close() error {
	var errs []error
	for _, s := range c.Stages {
		if cl, ok := s.(io.Closer); ok {
			errs = append(errs, cl.Close())
		}
	}
	return errors.Join(errs...)
}

func (c *Chain) LogValue() slog.Value {
	return slog.IntValue(len(c.Stages))
}

// chainReader reads from the last stage and closes every stage, outermost
// first.
type chainReader struct {
	io.ReadCloser
	readers []io.ReadCloser
}

func (r *chainReader) Close() error {
	var errs []error
	for i := len(r.readers) - 1; i >= 0; i-- {
		errs = append(errs, r.readers[i].Close())
	}
	return errors.Join(errs...)
}

// Compose chains a and b so data passes through a, then b. A nil operand is
// skipped; if both are nil the result is nil. Chains are flattened, so
// Compose(Compose(a, b), c) and Compose(a, Compose(b, c)) both run a, b, c.
// Operands are never modified.
func Compose(a, b Stream) Stream {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	stages := make([]Stream, 0, stageCount(a)+stageCount(b))
	stages = appendStages(stages, a)
	stages = appendStages(stages, b)
	return &Chain{Stages: stages}
}

func stageCount(s Stream) int {
	if c, ok := s.(*Chain); ok {
		return len(c.Stages)
	}
	return 1
}

func appendStages(dst []Stream, s Stream) []Stream {
	if c, ok := s.(*Chain); ok {
		return append(dst, c.Stages...)
	}
	return append(dst, s)
}

// Apply pipes body through s. A nil stream passes body through untouched;
// closing the result then does nothing.
func Apply(s Stream, body io.Reader) io.ReadCloser {
	if body == nil {
		return nil
	}
	if s == nil {
		return io.NopCloser(body)
	}
	return s.Pipe(body)
}

// Release frees a stream that was built but will never be piped, such as a
// plugin socket whose handler is already waiting for input.
func Release(s Stream) {
	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}
}
