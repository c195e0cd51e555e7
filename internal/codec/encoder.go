package codec

import (
	"bufio"
	"strconv"

	"github.com/frankli0324/go-http1/internal/codec/chunked"
	"github.com/frankli0324/go-http1/internal/errs"
	"github.com/frankli0324/go-http1/internal/model"
)

// Encoder appends wire bytes for Frames to a connection's write buffer.
// Encoding a well-formed frame only fails when the buffer's flush to the
// underlying stream fails. The payload framing of the message being
// written is decided at head-encode time and applied to the Chunk/EOF
// frames that follow.
type Encoder struct {
	mode Mode
	date *DateClock

	disc  model.Discipline
	chunk *chunked.Writer
}

func NewEncoder(mode Mode, date *DateClock) *Encoder {
	if date == nil {
		date = SharedDateClock
	}
	return &Encoder{mode: mode, date: date}
}

// CloseDelimited reports whether the message just headed can only be
// terminated by closing the connection.
func (e *Encoder) CloseDelimited() bool { return e.disc == model.DisciplineClose }

func (e *Encoder) Encode(f Frame, w *bufio.Writer) error {
	switch f := f.(type) {
	case *model.ResponseHead:
		return e.responseHead(f, w)
	case *model.RequestHead:
		return e.requestHead(f, w)
	case Chunk:
		return e.payload(f, w)
	case EOF:
		return e.payloadEOF(w)
	}
	panic("codec: cannot encode frame")
}

func (e *Encoder) responseHead(h *model.ResponseHead, w *bufio.Writer) error {
	w.WriteString(h.Proto.String())
	w.WriteByte(' ')
	w.WriteString(strconv.Itoa(h.Status))
	w.WriteByte(' ')
	if h.Reason != "" {
		w.WriteString(h.Reason)
	} else {
		w.WriteString(model.StatusReason(h.Status))
	}
	w.WriteString("\r\n")

	if h.Header.Get("Date") == "" {
		w.WriteString("Date: ")
		w.WriteString(e.date.Now())
		w.WriteString("\r\n")
	}

	switch {
	case h.BodilessStatus():
		e.disc = model.DisciplineNone
	case h.ContentLength >= 0:
		w.WriteString("Content-Length: ")
		w.WriteString(strconv.FormatInt(h.ContentLength, 10))
		w.WriteString("\r\n")
		e.disc = model.DisciplineLength
	case h.Proto == model.V11:
		w.WriteString("Transfer-Encoding: chunked\r\n")
		e.disc = model.DisciplineChunked
	default:
		// HTTP/1.0 cannot frame an unknown length, the body runs to close
		e.disc = model.DisciplineClose
		h.ConnType = model.ConnClose
	}

	switch h.ConnType {
	case model.ConnClose:
		w.WriteString("Connection: close\r\n")
	case model.ConnKeepAlive:
		if h.Proto == model.V10 {
			w.WriteString("Connection: keep-alive\r\n")
		}
	case model.ConnUpgrade:
		w.WriteString("Connection: upgrade\r\n")
	}

	return e.writeFields(h.Header, w)
}

func (e *Encoder) requestHead(h *model.RequestHead, w *bufio.Writer) error {
	w.WriteString(h.Method)
	w.WriteByte(' ')
	w.WriteString(h.RequestURI)
	w.WriteByte(' ')
	w.WriteString(h.Proto.String())
	w.WriteString("\r\n")

	switch {
	case h.Chunked:
		w.WriteString("Transfer-Encoding: chunked\r\n")
		e.disc = model.DisciplineChunked
	case h.ContentLength > 0:
		w.WriteString("Content-Length: ")
		w.WriteString(strconv.FormatInt(h.ContentLength, 10))
		w.WriteString("\r\n")
		e.disc = model.DisciplineLength
	default:
		e.disc = model.DisciplineNone
	}
	if h.ConnType == model.ConnClose {
		w.WriteString("Connection: close\r\n")
	}
	return e.writeFields(h.Header, w)
}

func (e *Encoder) writeFields(header map[string][]string, w *bufio.Writer) error {
	for k, vv := range header {
		if skipField(k) {
			continue
		}
		for _, v := range vv {
			w.WriteString(k)
			w.WriteString(": ")
			w.WriteString(v)
			w.WriteString("\r\n")
		}
	}
	_, err := w.WriteString("\r\n")
	return err
}

// skipField filters fields the encoder owns. They were either already
// written from the head's dedicated fields or must not be forwarded
// verbatim (hop-by-hop framing).
func skipField(k string) bool {
	switch k {
	case "Content-Length", "Transfer-Encoding", "Connection", "Date":
		return true
	}
	return false
}

func (e *Encoder) payload(c Chunk, w *bufio.Writer) error {
	switch e.disc {
	case model.DisciplineNone:
		if len(c) > 0 {
			return errs.ErrPayloadTooLong
		}
		return nil
	case model.DisciplineChunked:
		if e.chunk == nil {
			e.chunk = chunked.NewWriter(w)
		}
		_, err := e.chunk.Write(c)
		return err
	default:
		_, err := w.Write(c)
		return err
	}
}

func (e *Encoder) payloadEOF(w *bufio.Writer) error {
	if e.disc == model.DisciplineChunked && e.chunk != nil {
		err := e.chunk.Close()
		e.chunk = nil
		return err
	}
	e.chunk = nil
	return nil
}
