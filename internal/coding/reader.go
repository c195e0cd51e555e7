package coding

import (
	"compress/flate"
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/frankli0324/go-http1/internal/errs"
)

// DefaultInlineThreshold is the payload size above which decompression is
// offloaded to the filter's Runner instead of running on the connection
// goroutine. Streams of unknown length always offload.
const DefaultInlineThreshold = 16 << 10

// Filter wraps payload streams with the negotiated content coding.
type Filter struct {
	Offload Runner
	// Threshold in bytes; payloads at or above it decompress on the
	// Runner. Zero means DefaultInlineThreshold.
	Threshold int64
}

func (f *Filter) threshold() int64 {
	if f.Threshold == 0 {
		return DefaultInlineThreshold
	}
	return f.Threshold
}

// DecodeReader wraps r so reads yield the decoded payload. size is the
// declared payload length, -1 when unknown. Corrupt streams surface
// ErrDecompress from Read; the caller terminates that message's payload
// without touching sibling messages already framed.
func (f *Filter) DecodeReader(c Coding, r io.Reader, size int64) io.ReadCloser {
	if c == Identity {
		if rc, ok := r.(io.ReadCloser); ok {
			return rc
		}
		return io.NopCloser(r)
	}
	if f.Offload != nil && (size < 0 || size >= f.threshold()) {
		return f.offloadDecode(c, r)
	}
	return &decodeReader{c: c, src: r}
}

// offloadDecode moves the decompress loop onto the Runner; bytes come back
// through a pipe owned by this one message, so completions correlate to
// their stream no matter how the Runner schedules them. The submission
// rides its own goroutine: the caller is the pipe's reader, so a Runner
// that executes jobs synchronously must never run on the caller.
func (f *Filter) offloadDecode(c Coding, r io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	go f.Offload.Submit(func() {
		dec := &decodeReader{c: c, src: r}
		_, err := io.Copy(pw, dec)
		pw.CloseWithError(err)
	})
	return pr
}

type decodeReader struct {
	c   Coding
	src io.Reader
	r   io.Reader
}

func (d *decodeReader) Read(p []byte) (int, error) {
	if d.r == nil {
		switch d.c {
		case Gzip:
			zr, err := gzip.NewReader(d.src)
			if err != nil {
				return 0, errs.ErrDecompress.Wrap(err)
			}
			d.r = zr
		case Deflate:
			d.r = flate.NewReader(d.src)
		case Brotli:
			d.r = brotli.NewReader(d.src)
		default:
			d.r = d.src
		}
	}
	n, err := d.r.Read(p)
	if err != nil && err != io.EOF {
		err = errs.ErrDecompress.Wrap(err)
	}
	return n, err
}

func (d *decodeReader) Close() error {
	if c, ok := d.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
