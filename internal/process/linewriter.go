package process

import (
	"bytes"
	"sync"
)

// maxLine bounds a buffered partial line; longer lines are emitted in chunks.
const maxLine = 64 * 1024

// LineWriter is an io.Writer that calls fn once per complete line, without
// the trailing newline or carriage return. Flush emits a trailing partial line.
type LineWriter struct {
	mu      sync.Mutex
	buf     []byte
	fn      func(string)
	partial func(string)
}

func NewLineWriter(fn func(string)) *LineWriter {
	return &LineWriter{fn: fn}
}

// OnPartial registers fn to see the unterminated tail after every Write that
// leaves one buffered. The tail is still emitted as a line later.
func (w *LineWriter) OnPartial(fn func(string)) {
	w.mu.Lock()
	w.partial = fn
	w.mu.Unlock()
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	for len(w.buf) >= maxLine {
		w.emit(w.buf[:maxLine])
		w.buf = w.buf[maxLine:]
	}
	if len(w.buf) == 0 {
		w.buf = nil
	} else if w.partial != nil {
		w.partial(string(bytes.TrimRight(w.buf, "\r")))
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
	}
	w.buf = nil
}

func (w *LineWriter) emit(b []byte) {
	if w.fn == nil {
		return
	}
	w.fn(string(bytes.TrimRight(b, "\r")))
}
