package chunked

import (
	"io"
	"strconv"
)

// Writer frames payload bytes as chunked transfer coding onto an
// underlying writer. Close writes the terminal zero chunk; trailers are
// not emitted.
type Writer struct {
	Wire io.Writer
}

func NewWriter(w io.Writer) *Writer { return &Writer{w} }

func (cw *Writer) Write(data []byte) (n int, err error) {
	// a zero-length chunk would read as EOF on the wire
	if len(data) == 0 {
		return 0, nil
	}
	size := strconv.AppendUint(make([]byte, 0, 18), uint64(len(data)), 16)
	size = append(size, '\r', '\n')
	if _, err = cw.Wire.Write(size); err != nil {
		return 0, err
	}
	if n, err = cw.Wire.Write(data); err != nil {
		return
	}
	if n != len(data) {
		return n, io.ErrShortWrite
	}
	_, err = io.WriteString(cw.Wire, "\r\n")
	return
}

func (cw *Writer) Close() error {
	n, err := io.WriteString(cw.Wire, "0\r\n\r\n")
	if err == nil && n != 5 {
		return io.ErrShortWrite
	}
	return err
}
