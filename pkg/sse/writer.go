package sse

import (
	"io"
)

// DoneSentinel is the data payload that marks successful end of stream.
const DoneSentinel = "[DONE]"

type flusher interface {
	Flush() error
}

type httpFlusher interface {
	Flush()
}

// Writer writes "data:" frames to a downstream client, flushing after every
// frame so each one reaches the socket as soon as it is produced.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer framing onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteData writes a single "data: <payload>\n\n" frame and flushes.
// payload must not contain newlines; JSON payloads from encoding/json never do.
func (w *Writer) WriteData(payload []byte) error {
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')

	if _, err := w.w.Write(frame); err != nil {
		return err
	}
	return w.flush()
}

// WriteComment writes a ": <text>\n\n" comment frame and flushes. Readers
// skip comments, so it is safe to send at any point in a stream.
func (w *Writer) WriteComment(text string) error {
	if _, err := io.WriteString(w.w, ": "+text+"\n\n"); err != nil {
		return err
	}
	return w.flush()
}

// WriteDone writes the terminal "[DONE]" frame.
func (w *Writer) WriteDone() error {
	return w.WriteData([]byte(DoneSentinel))
}

func (w *Writer) flush() error {
	switch f := w.w.(type) {
	case flusher:
		return f.Flush()
	case httpFlusher:
		f.Flush()
	}
	return nil
}
