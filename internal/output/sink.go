// Package output defines where rendered text goes. Sinks are append only
// and report backpressure through SoftLimitReached; the renderer checks the
// signal only at safe points, so a sink may receive more than its limit.
package output

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// Sink receives rendered text.
type Sink interface {
	Append(s string) error
	// SoftLimitReached asks the producer to pause at its next safe point.
	SoftLimitReached() bool
}

// Flusher is implemented by sinks that buffer before a downstream writer.
// The renderer flushes before it returns Detach or Limited.
type Flusher interface {
	Flush() error
}

// ClosingSink is a sink that must be closed to emit withheld content.
type ClosingSink interface {
	Sink
	Close() error
}

// BufferingSink accumulates everything and never reports a limit.
type BufferingSink struct {
	b strings.Builder
}

// NewBufferingSink creates an empty buffer.
func NewBufferingSink() *BufferingSink {
	return &BufferingSink{}
}

func (s *BufferingSink) Append(str string) error {
	s.b.WriteString(str)
	return nil
}

func (*BufferingSink) SoftLimitReached() bool { return false }

// String returns everything appended so far.
func (s *BufferingSink) String() string { return s.b.String() }

// Len returns the number of bytes appended.
func (s *BufferingSink) Len() int { return s.b.Len() }

// Reset discards the content.
func (s *BufferingSink) Reset() { s.b.Reset() }

// WriterSink buffers output for an io.Writer and reports the soft limit
// once the buffer holds at least limit bytes. The buffer grows past the
// limit rather than writing on its own; Flush writes it through in one
// Write and clears the limit. A limit of zero never limits, and then the
// buffer is written through every chunkSize bytes.
type WriterSink struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	under io.Writer
	limit int
	err   error
}

// chunkSize bounds the buffer of a sink without a limit.
const chunkSize = 4096

// NewWriterSink wraps w.
func NewWriterSink(w io.Writer, limit int) *WriterSink {
	return &WriterSink{under: w, limit: limit}
}

func (s *WriterSink) Append(str string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.buf.WriteString(str)
	if s.limit <= 0 && s.buf.Len() >= chunkSize {
		s.err = s.writeThrough()
	}
	return s.err
}

func (s *WriterSink) SoftLimitReached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit > 0 && s.buf.Len() >= s.limit
}

// Flush writes buffered output to the underlying writer, and flushes that
// writer too when it can be flushed.
func (s *WriterSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.err = s.writeThrough(); s.err != nil {
		return s.err
	}
	switch f := s.under.(type) {
	case Flusher:
		s.err = f.Flush()
	case interface{ Flush() }:
		f.Flush()
	}
	return s.err
}

func (s *WriterSink) writeThrough() error {
	if s.buf.Len() == 0 {
		return nil
	}
	_, err := s.under.Write(s.buf.Bytes())
	s.buf.Reset()
	return err
}

// Buffered returns the number of bytes waiting for Flush.
func (s *WriterSink) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// LimitFunc reports backpressure.
type LimitFunc func() bool

type limitedSink struct {
	Sink
	limited LimitFunc
}

func (s limitedSink) SoftLimitReached() bool {
	return s.limited() || s.Sink.SoftLimitReached()
}

func (s limitedSink) Flush() error {
	if f, ok := s.Sink.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// WithSoftLimit adds an external backpressure signal to s.
func WithSoftLimit(s Sink, limited LimitFunc) Sink {
	return limitedSink{Sink: s, limited: limited}
}

// FlushIfPossible flushes s when it implements Flusher.
func FlushIfPossible(s Sink) error {
	if f, ok := s.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// Func adapts a function into a sink that is never limited.
type Func func(s string) error

func (f Func) Append(s string) error { return f(s) }

func (Func) SoftLimitReached() bool { return false }
