// Package client drives the client half of the codec over one
// already-established connection: it writes request frames out and pulls
// response frames back, applying the content-coding filter to the
// response payload. Dialing, DNS and TLS are the caller's business.
package client

import (
	"context"
	"io"
	"net/http"

	"github.com/frankli0324/go-http1/internal/codec"
	"github.com/frankli0324/go-http1/internal/coding"
	"github.com/frankli0324/go-http1/internal/errs"
	"github.com/frankli0324/go-http1/internal/model"
	"github.com/frankli0324/go-http1/internal/transport"
)

type Options struct {
	transport.Options
	Filter coding.Filter
}

// Conn speaks HTTP/1.x as the initiating side of one connection. It is
// not safe for concurrent round trips; serialize or pool connections.
type Conn struct {
	fr     *transport.Framed
	filter *coding.Filter
}

func NewConn(rw io.ReadWriteCloser, opts Options) *Conn {
	f := opts.Filter
	return &Conn{
		fr:     transport.NewFramed(rw, codec.ModeClient, opts.Options),
		filter: &f,
	}
}

// RoundTrip writes one request and decodes its response head. The
// response body streams lazily from the connection; the caller must
// drain or close it before the next round trip.
func (c *Conn) RoundTrip(ctx context.Context, req *model.RequestHead, body io.Reader) (*model.Response, error) {
	if err := c.writeRequest(ctx, req, body); err != nil {
		return nil, err
	}

	f, err := c.fr.ReadFrame()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	head, ok := f.(*model.ResponseHead)
	if !ok {
		return nil, errs.ErrMalformedHead
	}

	cod, err := coding.Parse(head.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	raw := &frameReader{fr: c.fr}
	respBody := model.NoBody()
	if req.Method == http.MethodHead || head.BodilessStatus() || head.ContentLength == 0 {
		// still consume the message's terminal frame so the next round
		// trip starts on a message boundary
		if _, err := io.Copy(io.Discard, raw); err != nil {
			return nil, err
		}
	} else {
		respBody = model.ReaderBody(
			c.filter.DecodeReader(cod, raw, head.ContentLength),
			head.ContentLength,
		)
	}
	return &model.Response{ResponseHead: head, Body: respBody}, nil
}

func (c *Conn) writeRequest(ctx context.Context, req *model.RequestHead, body io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.fr.WriteFrame(req); err != nil {
		return err
	}
	// the decoder frames the matching response off the request's method;
	// a HEAD response declares a length for a body that never arrives
	c.fr.NoteRequest(req.Method)
	if body != nil && (req.Chunked || req.ContentLength > 0) {
		buf := make([]byte, 8<<10)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				if werr := c.fr.WriteFrame(codec.Chunk(buf[:n])); werr != nil {
					return werr
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return errs.ErrPayloadRead.Wrap(err)
			}
		}
	}
	if err := c.fr.WriteFrame(codec.EOF{}); err != nil {
		return err
	}
	return c.fr.Flush()
}

func (c *Conn) Close() error { return c.fr.Close() }

// frameReader adapts the response's payload frames to an io.Reader. A
// Chunk can outsize the caller's buffer; the remainder is carried over
// because frames alias the transport's read buffer and must be copied
// out before the next ReadFrame.
type frameReader struct {
	fr   *transport.Framed
	rest []byte
	eof  bool
}

func (r *frameReader) Read(p []byte) (int, error) {
	if len(r.rest) > 0 {
		n := copy(p, r.rest)
		r.rest = r.rest[n:]
		return n, nil
	}
	if r.eof {
		return 0, io.EOF
	}
	f, err := r.fr.ReadFrame()
	if err != nil {
		return 0, err
	}
	switch f := f.(type) {
	case codec.Chunk:
		n := copy(p, f)
		if n < len(f) {
			r.rest = append(r.rest[:0], f[n:]...)
		}
		return n, nil
	case codec.EOF:
		r.eof = true
		return 0, io.EOF
	}
	return 0, errs.ErrMalformedHead
}
