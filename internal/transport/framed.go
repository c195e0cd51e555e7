package transport

import (
	"bufio"
	"io"
	"time"

	"github.com/frankli0324/go-http1/internal/codec"
	"github.com/frankli0324/go-http1/internal/errs"
)

const (
	DefaultReadBufferSize  = 8 << 10
	DefaultWriteBufferSize = 8 << 10
)

// deadliner is the optional deadline surface of the underlying stream.
// net.Conn has it; in-memory pipes used in tests may not.
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxHeadBytes    int
	Date            *codec.DateClock
}

func (o Options) withDefaults() Options {
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = DefaultWriteBufferSize
	}
	if o.MaxHeadBytes <= 0 {
		o.MaxHeadBytes = codec.DefaultMaxHeadBytes
	}
	if o.MaxHeadBytes > o.ReadBufferSize {
		// a head must be decodable from a full read buffer
		o.ReadBufferSize = o.MaxHeadBytes
	}
	return o
}

// Framed owns the buffers of one connection and moves Frames across them.
// A single dispatcher drives it; neither ReadFrame nor WriteFrame is safe
// for concurrent calls, but the two directions share no state beyond the
// stream itself and may run from separate goroutines.
type Framed struct {
	conn io.ReadWriteCloser
	rb   *codec.Buffer
	wb   *bufio.Writer
	dec  *codec.Decoder
	enc  *codec.Encoder

	eof bool
}

func NewFramed(conn io.ReadWriteCloser, mode codec.Mode, opts Options) *Framed {
	opts = opts.withDefaults()
	return &Framed{
		conn: conn,
		rb:   codec.NewBuffer(opts.ReadBufferSize),
		wb:   bufio.NewWriterSize(conn, opts.WriteBufferSize),
		dec:  codec.NewDecoder(mode, opts.MaxHeadBytes),
		enc:  codec.NewEncoder(mode, opts.Date),
	}
}

// ReadFrame returns the next decoded frame, filling the read buffer from
// the stream as needed. A clean peer close on a message boundary returns
// io.EOF; mid-message it is a framing error. Chunk frames alias the read
// buffer and must be consumed before the next ReadFrame call.
func (f *Framed) ReadFrame() (codec.Frame, error) {
	for {
		fr, err := f.dec.Decode(f.rb)
		if fr != nil || err != nil {
			return fr, err
		}
		if f.eof {
			if f.dec.Idle() && f.rb.Len() == 0 {
				return nil, io.EOF
			}
			return nil, errs.ErrUnexpectedEOF
		}
		n, err := f.rb.Fill(f.conn)
		if err == io.EOF {
			f.eof = true
			f.dec.SignalEOF()
			continue
		}
		if err != nil {
			return nil, err
		}
		if n == 0 && f.rb.Full() {
			// decoder refused a full buffer: whatever sits there cannot
			// frame, and it can only be an oversized head
			return nil, errs.ErrHeaderTooLarge
		}
	}
}

// WriteFrame encodes fr into the write buffer. Bytes beyond the buffer's
// capacity flush through to the stream, blocking the caller when the peer
// is slow; that suspension is the write-side back-pressure.
func (f *Framed) WriteFrame(fr codec.Frame) error {
	return f.enc.Encode(fr, f.wb)
}

// Flush drains the write buffer to the stream.
func (f *Framed) Flush() error { return f.wb.Flush() }

// NoteRequest tells the decoder the method of a request written on this
// stream; client mode needs it to frame HEAD responses as bodiless.
func (f *Framed) NoteRequest(method string) { f.dec.NoteRequest(method) }

// WriteCredit is the remaining write-buffer capacity before the next
// WriteFrame would hit the stream.
func (f *Framed) WriteCredit() int { return f.wb.Available() }

// ReadCredit is the remaining read-buffer capacity.
func (f *Framed) ReadCredit() int { return f.rb.Credit() }

// CloseDelimited reports whether the response being written can only be
// terminated by closing the connection.
func (f *Framed) CloseDelimited() bool { return f.enc.CloseDelimited() }

func (f *Framed) SetReadDeadline(t time.Time) error {
	if d, ok := f.conn.(deadliner); ok {
		return d.SetReadDeadline(t)
	}
	return nil
}

func (f *Framed) SetWriteDeadline(t time.Time) error {
	if d, ok := f.conn.(deadliner); ok {
		return d.SetWriteDeadline(t)
	}
	return nil
}

// Conn exposes the underlying stream, for upgrade handoff and liveness
// probing only.
func (f *Framed) Conn() io.ReadWriteCloser { return f.conn }

func (f *Framed) Close() error { return f.conn.Close() }
