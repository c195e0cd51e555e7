package chunked

import (
	"math"

	"github.com/frankli0324/go-http1/internal/errs"
)

type state int

const (
	stateSize state = iota
	stateData
	stateDataEnd
	stateTrailer
	stateDone
)

// maxSizeDigits bounds the chunk-size line; 16 hex digits already overflow
// any plausible chunk and anything longer is an attack or garbage.
const maxSizeDigits = 16

// Decoder is an incremental chunked-transfer decoder driven by the codec.
// It consumes leading bytes from a caller-owned view of the read buffer and
// never holds references across calls.
type Decoder struct {
	state     state
	remaining int64 // unread bytes of the current chunk
	total     int64 // accumulated payload length, guards overflow
}

// Decode consumes zero or more leading bytes of src. It returns payload
// bytes as a subslice of src when a chunk's data is (partially) available,
// done once the terminal chunk and its trailer section are fully consumed,
// and consumed as the count of bytes eaten from src. A (nil, 0, false, nil)
// return means more bytes must be buffered first.
func (d *Decoder) Decode(src []byte) (data []byte, consumed int, done bool, err error) {
	for consumed < len(src) {
		rest := src[consumed:]
		switch d.state {
		case stateSize:
			size, n, ok, err := parseSizeLine(rest)
			if err != nil {
				return nil, consumed, false, err
			}
			if !ok {
				return nil, consumed, false, nil
			}
			consumed += n
			if size > math.MaxInt64-d.total {
				return nil, consumed, false, errs.ErrInvalidChunkFrame
			}
			d.total += size
			if size == 0 {
				d.state = stateTrailer
			} else {
				d.remaining = size
				d.state = stateData
			}
		case stateData:
			take := int64(len(rest))
			if take > d.remaining {
				take = d.remaining
			}
			d.remaining -= take
			if d.remaining == 0 {
				d.state = stateDataEnd
			}
			return rest[:take], consumed + int(take), false, nil
		case stateDataEnd:
			if len(rest) < 2 {
				return nil, consumed, false, nil
			}
			if rest[0] != '\r' || rest[1] != '\n' {
				return nil, consumed, false, errs.ErrInvalidChunkFrame
			}
			consumed += 2
			d.state = stateSize
		case stateTrailer:
			// trailer lines are consumed and dropped; the section ends at
			// the first empty line
			i := indexCRLF(rest)
			if i < 0 {
				return nil, consumed, false, nil
			}
			consumed += i + 2
			if i == 0 {
				d.state = stateDone
				return nil, consumed, true, nil
			}
		case stateDone:
			return nil, consumed, true, nil
		}
	}
	if d.state == stateDone {
		done = true
	}
	return nil, consumed, done, nil
}

// Done reports whether the terminal chunk has been fully consumed.
func (d *Decoder) Done() bool { return d.state == stateDone }

// parseSizeLine decodes "<hex>\r\n". ok is false when the line is not yet
// complete. Anything but hex digits terminated by CRLF is a framing error,
// chunk extensions included.
func parseSizeLine(b []byte) (size int64, n int, ok bool, err error) {
	i := 0
	for ; i < len(b); i++ {
		c := b[i]
		var v int64
		switch {
		case '0' <= c && c <= '9':
			v = int64(c - '0')
		case 'a' <= c && c <= 'f':
			v = int64(c-'a') + 10
		case 'A' <= c && c <= 'F':
			v = int64(c-'A') + 10
		case c == '\r':
			if i == 0 {
				return 0, 0, false, errs.ErrInvalidChunkFrame
			}
			if i+1 >= len(b) {
				return 0, 0, false, nil
			}
			if b[i+1] != '\n' {
				return 0, 0, false, errs.ErrInvalidChunkFrame
			}
			return size, i + 2, true, nil
		default:
			return 0, 0, false, errs.ErrInvalidChunkFrame
		}
		if i >= maxSizeDigits {
			return 0, 0, false, errs.ErrInvalidChunkFrame
		}
		size = size<<4 | v
		if size < 0 {
			return 0, 0, false, errs.ErrInvalidChunkFrame
		}
	}
	return 0, 0, false, nil
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}
