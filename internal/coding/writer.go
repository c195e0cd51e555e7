package coding

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"
)

// EncodeReader returns a stream of body's bytes compressed with c. Small
// fixed-size bodies compress inline into a buffer; anything at or above
// the threshold, or of unknown length, compresses on the Runner and
// streams back through a per-message pipe.
func (f *Filter) EncodeReader(c Coding, body io.Reader, size int64) io.ReadCloser {
	if c == Identity {
		if rc, ok := body.(io.ReadCloser); ok {
			return rc
		}
		return io.NopCloser(body)
	}
	if f.Offload != nil && (size < 0 || size >= f.threshold()) {
		pr, pw := io.Pipe()
		// the caller reads pr; submit from a goroutine so a synchronous
		// Runner cannot block against its own consumer
		go f.Offload.Submit(func() {
			cw := EncodeWriter(c, pw)
			_, err := io.Copy(cw, body)
			if cerr := cw.Close(); err == nil {
				err = cerr
			}
			pw.CloseWithError(err)
		})
		return pr
	}
	var buf bytes.Buffer
	cw := EncodeWriter(c, &buf)
	if _, err := io.Copy(cw, body); err != nil {
		return errReader{err}
	}
	if err := cw.Close(); err != nil {
		return errReader{err}
	}
	return io.NopCloser(&buf)
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
func (e errReader) Close() error             { return nil }

// EncodeWriter wraps w so writes are compressed with c. Close flushes the
// compressor's trailer without closing the underlying writer.
func EncodeWriter(c Coding, w io.Writer) io.WriteCloser {
	switch c {
	case Gzip:
		return gzip.NewWriter(w)
	case Deflate:
		// the only error is an invalid level
		fw, _ := flate.NewWriter(w, flate.DefaultCompression)
		return fw
	case Brotli:
		return brotli.NewWriter(w)
	}
	return nopWriteCloser{w}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
