package codec

import (
	"bytes"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/frankli0324/go-http1/internal/codec/chunked"
	"github.com/frankli0324/go-http1/internal/errs"
	"github.com/frankli0324/go-http1/internal/model"
)

// Mode selects which direction of the protocol a codec instance speaks:
// a server decodes requests and encodes responses, a client the reverse.
type Mode int

const (
	ModeServer Mode = iota
	ModeClient
)

const DefaultMaxHeadBytes = 8 << 10

type decodeState int

const (
	decodeHead decodeState = iota
	decodePayload
	decodeEOF // payload finished, EOF frame pending
)

// Decoder turns buffered connection bytes into Frames. It consumes leading
// bytes from the Buffer and returns nil when more bytes are needed; it
// never emits a partial frame. All errors are terminal: after a non-nil
// error the stream offset can no longer be trusted.
type Decoder struct {
	mode    Mode
	maxHead int

	state     decodeState
	disc      model.Discipline
	remaining int64 // decodePayload, DisciplineLength
	chunk     chunked.Decoder
	streamEOF bool // underlying stream hit EOF (close-delimited payloads)

	// client mode: methods of requests written but not yet answered, in
	// wire order; a HEAD response carries framing headers but no body
	methods []string
}

// NoteRequest records the method of a request written on this stream so
// the matching response is framed correctly. Server mode ignores it.
func (d *Decoder) NoteRequest(method string) {
	if d.mode == ModeClient {
		d.methods = append(d.methods, method)
	}
}

func NewDecoder(mode Mode, maxHead int) *Decoder {
	if maxHead <= 0 {
		maxHead = DefaultMaxHeadBytes
	}
	return &Decoder{mode: mode, maxHead: maxHead}
}

// SignalEOF tells the decoder the underlying stream is exhausted. It ends
// close-delimited payloads cleanly; anywhere else a mid-message EOF is a
// framing error surfaced by the next Decode.
func (d *Decoder) SignalEOF() { d.streamEOF = true }

// Idle reports whether the decoder sits on a message boundary, i.e. a
// stream EOF right now is a clean peer close, not a truncated message.
func (d *Decoder) Idle() bool { return d.state == decodeHead }

// Decode consumes zero or more leading bytes from b and returns the next
// Frame, or nil when more bytes must be buffered first. Chunk frames alias
// b and must be used before the next Fill.
func (d *Decoder) Decode(b *Buffer) (Frame, error) {
	switch d.state {
	case decodeHead:
		return d.decodeHead(b)
	case decodePayload:
		return d.decodePayload(b)
	case decodeEOF:
		d.state = decodeHead
		return EOF{}, nil
	}
	panic("codec: bad decoder state")
}

func (d *Decoder) decodePayload(b *Buffer) (Frame, error) {
	switch d.disc {
	case model.DisciplineLength:
		view := b.Bytes()
		if len(view) == 0 {
			if d.streamEOF {
				return nil, errs.ErrPayloadIncomplete
			}
			return nil, nil
		}
		take := int64(len(view))
		if take > d.remaining {
			take = d.remaining
		}
		b.Consume(int(take))
		d.remaining -= take
		if d.remaining == 0 {
			d.state = decodeEOF
		}
		return Chunk(view[:take]), nil

	case model.DisciplineChunked:
		view := b.Bytes()
		data, consumed, done, err := d.chunk.Decode(view)
		b.Consume(consumed)
		if err != nil {
			return nil, err
		}
		if done {
			d.chunk = chunked.Decoder{}
			d.state = decodeHead
			return EOF{}, nil
		}
		if data != nil {
			return Chunk(data), nil
		}
		if d.streamEOF {
			return nil, errs.ErrUnexpectedEOF
		}
		return nil, nil

	case model.DisciplineClose:
		view := b.Bytes()
		if len(view) > 0 {
			b.Consume(len(view))
			return Chunk(view), nil
		}
		if d.streamEOF {
			d.state = decodeHead
			return EOF{}, nil
		}
		return nil, nil
	}
	panic("codec: bad payload discipline")
}

func (d *Decoder) decodeHead(b *Buffer) (Frame, error) {
	view := b.Bytes()
	// tolerate stray CRLFs between messages
	skip := 0
	for len(view) >= 2 && view[0] == '\r' && view[1] == '\n' {
		view = view[2:]
		skip += 2
	}
	end := bytes.Index(view, []byte("\r\n\r\n"))
	if end < 0 {
		if b.Full() || b.Len() > d.maxHead {
			return nil, errs.ErrHeaderTooLarge
		}
		return nil, nil
	}
	if end+4 > d.maxHead {
		return nil, errs.ErrHeaderTooLarge
	}
	block := view[:end+2] // keep the last line's CRLF for uniform splitting
	b.Consume(skip + end + 4)

	line, rest, ok := cutLine(block)
	if !ok {
		return nil, errs.ErrMalformedHead
	}
	header, err := parseHeaderLines(rest)
	if err != nil {
		return nil, err
	}

	if d.mode == ModeServer {
		return d.requestHead(line, header)
	}
	return d.responseHead(line, header)
}

func (d *Decoder) requestHead(line string, header http.Header) (Frame, error) {
	method, rest, ok := strings.Cut(line, " ")
	if !ok {
		return nil, errs.ErrMalformedHead
	}
	uri, proto, ok := strings.Cut(rest, " ")
	if !ok || method == "" || uri == "" || !validMethod(method) {
		return nil, errs.ErrMalformedHead
	}
	version, err := parseVersion(proto)
	if err != nil {
		return nil, err
	}

	h := &model.RequestHead{
		Method:        method,
		RequestURI:    uri,
		Proto:         version,
		Header:        header,
		ContentLength: -1,
	}
	if err := d.framingHeaders(version, header, &h.ContentLength, &h.Chunked); err != nil {
		return nil, err
	}
	h.ConnType = connectionType(version, header)
	h.Expect100 = strings.EqualFold(header.Get("Expect"), "100-continue")

	d.startPayload(h.Discipline(), h.ContentLength)
	return h, nil
}

func (d *Decoder) responseHead(line string, header http.Header) (Frame, error) {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok {
		return nil, errs.ErrMalformedHead
	}
	version, err := parseVersion(proto)
	if err != nil {
		return nil, err
	}
	code, reason, _ := strings.Cut(rest, " ")
	if len(code) != 3 {
		return nil, errs.ErrMalformedHead
	}
	status, err := strconv.Atoi(code)
	if err != nil || status < 100 {
		return nil, errs.ErrMalformedHead
	}

	h := &model.ResponseHead{
		Status:        status,
		Reason:        reason,
		Proto:         version,
		Header:        header,
		ContentLength: -1,
	}
	var chunkedBody bool
	if err := d.framingHeaders(version, header, &h.ContentLength, &chunkedBody); err != nil {
		return nil, err
	}
	h.ConnType = connectionType(version, header)

	var headResponse bool
	if len(d.methods) > 0 {
		headResponse = d.methods[0] == http.MethodHead
		d.methods = d.methods[1:]
	}

	switch {
	case headResponse, h.BodilessStatus():
		d.startPayload(model.DisciplineNone, 0)
	case chunkedBody:
		d.startPayload(model.DisciplineChunked, -1)
	case h.ContentLength >= 0:
		d.startPayload(model.DisciplineLength, h.ContentLength)
	default:
		d.startPayload(model.DisciplineClose, -1)
	}
	return h, nil
}

func (d *Decoder) startPayload(disc model.Discipline, length int64) {
	switch disc {
	case model.DisciplineNone:
		d.state = decodeEOF
	case model.DisciplineLength:
		if length <= 0 {
			d.state = decodeEOF
			return
		}
		d.remaining = length
		d.disc = disc
		d.state = decodePayload
	default:
		d.disc = disc
		d.state = decodePayload
	}
}

// framingHeaders extracts Content-Length and Transfer-Encoding, enforcing
// the rules that keep message boundaries unambiguous. Declaring both
// disciplines at once is a request smuggling vector and is rejected
// outright.
func (d *Decoder) framingHeaders(v model.Version, header http.Header, cl *int64, chunkedBody *bool) error {
	if tes := header.Values("Transfer-Encoding"); len(tes) > 0 {
		if v == model.V10 {
			return errs.ErrMalformedHead
		}
		if len(tes) > 1 || !strings.EqualFold(textproto.TrimString(tes[0]), "chunked") {
			return errs.ErrMalformedHead
		}
		*chunkedBody = true
	}
	if cls := header.Values("Content-Length"); len(cls) > 0 {
		first := textproto.TrimString(cls[0])
		for _, v := range cls[1:] {
			if textproto.TrimString(v) != first {
				return errs.ErrMalformedHead
			}
		}
		n, err := strconv.ParseUint(first, 10, 63)
		if err != nil {
			return errs.ErrMalformedHead
		}
		if *chunkedBody {
			return errs.ErrAmbiguousFraming
		}
		*cl = int64(n)
	}
	return nil
}

func connectionType(v model.Version, header http.Header) model.ConnectionType {
	conn := header.Get("Connection")
	switch {
	case model.TokenListContains(conn, "close"):
		return model.ConnClose
	case model.TokenListContains(conn, "upgrade"):
		return model.ConnUpgrade
	case v == model.V10 && !model.TokenListContains(conn, "keep-alive"):
		return model.ConnClose
	}
	return model.ConnKeepAlive
}

func parseVersion(proto string) (model.Version, error) {
	switch proto {
	case "HTTP/1.1":
		return model.V11, nil
	case "HTTP/1.0":
		return model.V10, nil
	}
	if strings.HasPrefix(proto, "HTTP/") {
		return model.Version{}, errs.ErrUnsupportedVersion
	}
	return model.Version{}, errs.ErrMalformedHead
}

func parseHeaderLines(block []byte) (http.Header, error) {
	header := http.Header{}
	for len(block) > 0 {
		line, rest, ok := cutLine(block)
		if !ok {
			return nil, errs.ErrMalformedHead
		}
		block = rest
		name, value, ok := strings.Cut(line, ":")
		if !ok || name == "" || name != textproto.TrimString(name) {
			return nil, errs.ErrMalformedHead
		}
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, errs.ErrMalformedHead
		}
		value = textproto.TrimString(value)
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, errs.ErrMalformedHead
		}
		header[textproto.CanonicalMIMEHeaderKey(name)] = append(header[textproto.CanonicalMIMEHeaderKey(name)], value)
	}
	return header, nil
}

// cutLine splits one CRLF terminated line off block. Bare LF and bare CR
// are rejected, the grammar requires CRLF.
func cutLine(block []byte) (line string, rest []byte, ok bool) {
	i := bytes.IndexByte(block, '\n')
	if i <= 0 || block[i-1] != '\r' {
		return "", nil, false
	}
	if bytes.IndexByte(block[:i-1], '\r') >= 0 {
		return "", nil, false
	}
	return string(block[:i-1]), block[i+1:], true
}

func validMethod(m string) bool {
	for i := 0; i < len(m); i++ {
		if !httpguts.IsTokenRune(rune(m[i])) {
			return false
		}
	}
	return true
}
