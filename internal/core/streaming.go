package core

// streaming.go provides io.Reader wrappers for decoding uploaded roster
// files. CSV exports from Norwegian CRM systems are frequently Latin-1
// rather than UTF-8, and Excel on Windows prepends a byte order mark;
// wrapping the reader fixes both on the fly instead of materializing a
// second sanitized copy of the file.

import (
	"io"
	"unicode/utf8"
)

// decodeReader wraps a roster file reader so the CSV decoder sees clean
// UTF-8: the BOM is skipped first, then invalid byte sequences are replaced.
func decodeReader(r io.Reader) io.Reader {
	return newUTF8Sanitizer(newBOMSkipper(r))
}

// utf8Sanitizer replaces invalid UTF-8 sequences with '?' as bytes stream
// through. A multi-byte sequence split across two reads is held back until
// the next read completes it. Invalid bytes become '?' rather than U+FFFD
// so the output never grows past the input.
type utf8Sanitizer struct {
	reader  io.Reader
	scratch [4096]byte
	outbuf  []byte
	out     []byte // sanitized bytes not yet handed out
	pending []byte // incomplete trailing sequence awaiting more input
	err     error  // deferred until out drains
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{
		reader:  r,
		outbuf:  make([]byte, 0, 4096+utf8.UTFMax),
		pending: make([]byte, 0, utf8.UTFMax),
	}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for len(s.out) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		s.fill()
	}

	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

// fill reads one chunk, prepends any held-back bytes, and sanitizes the
// result into out. fill only runs when out is empty, so out may alias
// scratch until the next call.
func (s *utf8Sanitizer) fill() {
	n, err := s.reader.Read(s.scratch[:])
	if err != nil {
		s.err = err
	}

	data := s.scratch[:n]
	if len(s.pending) > 0 {
		merged := make([]byte, 0, len(s.pending)+n)
		merged = append(append(merged, s.pending...), data...)
		data = merged
		s.pending = s.pending[:0]
	}

	// Unless the stream ended, hold back a trailing incomplete sequence
	// instead of judging it early.
	if err == nil {
		if trailing := incompleteTrailingBytes(data); trailing > 0 {
			s.pending = append(s.pending, data[len(data)-trailing:]...)
			data = data[:len(data)-trailing]
		}
	}

	if utf8.Valid(data) {
		s.out = data
		return
	}

	out := s.outbuf[:0]
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			out = append(out, '?')
			i++
		} else {
			out = append(out, data[i:i+size]...)
			i += size
		}
	}
	s.out = out
}

// incompleteTrailingBytes returns how many bytes at the end of data form the
// start of a multi-byte sequence whose remainder has not arrived yet.
func incompleteTrailingBytes(data []byte) int {
	for i := 1; i <= 3 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b >= 0xC0 {
			if i < runeLen(b) {
				return i
			}
			return 0
		}
		if b&0xC0 != 0x80 {
			return 0
		}
	}
	return 0
}

// runeLen returns the expected byte length of a UTF-8 sequence starting with
// b, or 0 for a continuation byte.
func runeLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}

// bomSkipper drops a UTF-8 byte order mark from the start of the stream.
type bomSkipper struct {
	reader     io.Reader
	bomChecked bool
	buf        [3]byte
	bufData    []byte
	bufOffset  int
}

func newBOMSkipper(r io.Reader) *bomSkipper {
	return &bomSkipper{reader: r}
}

func (r *bomSkipper) Read(p []byte) (int, error) {
	if !r.bomChecked {
		r.bomChecked = true

		n, err := io.ReadFull(r.reader, r.buf[:])
		if n == 0 {
			return 0, err
		}

		if n >= 3 && r.buf[0] == 0xEF && r.buf[1] == 0xBB && r.buf[2] == 0xBF {
			r.bufData = nil
		} else {
			r.bufData = r.buf[:n]
			r.bufOffset = 0
		}

		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		if len(r.bufData) > 0 {
			copied := copy(p, r.bufData[r.bufOffset:])
			r.bufOffset += copied
			if r.bufOffset < len(r.bufData) {
				// Probe bytes remain; EOF is reported once they drain.
				return copied, nil
			}
			r.bufData = nil
			if copied < len(p) && err == nil {
				n, err2 := r.reader.Read(p[copied:])
				return copied + n, err2
			}
			return copied, err
		}
	}

	if len(r.bufData) > r.bufOffset {
		copied := copy(p, r.bufData[r.bufOffset:])
		r.bufOffset += copied
		if r.bufOffset >= len(r.bufData) {
			r.bufData = nil
		}
		return copied, nil
	}

	return r.reader.Read(p)
}
