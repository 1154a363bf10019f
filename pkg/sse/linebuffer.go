package sse

import "bytes"

// LineBuffer accumulates raw bytes from a network stream and hands back
// complete lines. Network reads split lines at arbitrary byte offsets, so any
// trailing partial line is retained until a later Push completes it.
//
// A line is terminated by "\n"; a single "\r" immediately before the "\n" is
// stripped so CRLF streams decode the same as LF streams.
type LineBuffer struct {
	buf []byte
	off int
}

// Push appends p to the buffer. p is copied; the caller may reuse it.
func (b *LineBuffer) Push(p []byte) {
	if b.off > 0 && b.off == len(b.buf) {
		b.buf = b.buf[:0]
		b.off = 0
	} else if b.off > 0 && b.off >= cap(b.buf)/2 {
		// Compact so a long-running stream does not grow the backing
		// array without bound.
		n := copy(b.buf, b.buf[b.off:])
		b.buf = b.buf[:n]
		b.off = 0
	}
	b.buf = append(b.buf, p...)
}

// Next returns the next complete line without its terminator.
// ok is false when no complete line is buffered yet.
func (b *LineBuffer) Next() (line string, ok bool) {
	rest := b.buf[b.off:]
	i := bytes.IndexByte(rest, '\n')
	if i < 0 {
		return "", false
	}

	raw := rest[:i]
	b.off += i + 1
	raw = bytes.TrimSuffix(raw, []byte{'\r'})
	return string(raw), true
}

// Flush returns whatever partial line remains at end of input and empties the
// buffer. ok is false when nothing is left.
func (b *LineBuffer) Flush() (line string, ok bool) {
	rest := b.buf[b.off:]
	b.buf = b.buf[:0]
	b.off = 0
	if len(rest) == 0 {
		return "", false
	}
	return string(bytes.TrimSuffix(rest, []byte{'\r'})), true
}

// Len reports the number of buffered bytes not yet returned as lines.
func (b *LineBuffer) Len() int {
	return len(b.buf) - b.off
}
