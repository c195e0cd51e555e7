package model

import (
	"bytes"
	"io"
	"strings"
)

type BodyKind int

const (
	BodyEmpty BodyKind = iota
	BodyFixed
	BodyStreaming
)

// Body is a response payload source. It produces byte chunks until EOF,
// and reports its size upfront when known so the encoder can pick the
// payload discipline (Content-Length vs chunked vs close-delimited).
type Body struct {
	kind BodyKind
	size int64
	r    io.Reader
}

func NoBody() Body { return Body{kind: BodyEmpty, size: 0} }

func BytesBody(b []byte) Body {
	if len(b) == 0 {
		return NoBody()
	}
	return Body{kind: BodyFixed, size: int64(len(b)), r: bytes.NewReader(b)}
}

func StringBody(s string) Body {
	if len(s) == 0 {
		return NoBody()
	}
	return Body{kind: BodyFixed, size: int64(len(s)), r: strings.NewReader(s)}
}

// ReaderBody wraps an arbitrary byte stream. size is -1 when unknown,
// which forces chunked or close-delimited framing.
func ReaderBody(r io.Reader, size int64) Body {
	if r == nil || size == 0 {
		return NoBody()
	}
	kind := BodyStreaming
	if size > 0 {
		if sizer, ok := r.(interface{ Size() int64 }); ok && sizer.Size() == size {
			kind = BodyFixed
		}
	}
	return Body{kind: kind, size: size, r: r}
}

func (b Body) Kind() BodyKind { return b.kind }

// Size is the total payload length in bytes, or -1 when unknown.
func (b Body) Size() int64 { return b.size }

func (b Body) Read(p []byte) (int, error) {
	if b.r == nil {
		return 0, io.EOF
	}
	return b.r.Read(p)
}

func (b Body) Close() error {
	if c, ok := b.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
