package model

import (
	"io"
	"net/http"
	"strconv"
	"strings"
)

type Version struct {
	Major, Minor int
}

var (
	V10 = Version{1, 0}
	V11 = Version{1, 1}
)

func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// ConnectionType is the connection disposition a message head declares,
// after folding protocol version defaults and Connection header tokens.
type ConnectionType int

const (
	ConnKeepAlive ConnectionType = iota
	ConnClose
	ConnUpgrade
)

// Discipline is how a message's payload length is delimited on the wire.
// Exactly one applies per message, decided when the head is decoded.
type Discipline int

const (
	DisciplineNone    Discipline = iota // no payload at all
	DisciplineLength                    // Content-Length octets follow
	DisciplineChunked                   // chunked transfer coding
	DisciplineClose                     // payload runs until connection close
)

// RequestHead is the decoded start line and header block of one request.
type RequestHead struct {
	Method     string
	RequestURI string
	Proto      Version
	Header     http.Header

	// ContentLength is -1 when no Content-Length header was present.
	ContentLength int64
	Chunked       bool
	ConnType      ConnectionType
	Expect100     bool
}

// Discipline reports how the request payload is delimited. Requests never
// use close-delimited payloads; absent framing headers mean no payload.
func (h *RequestHead) Discipline() Discipline {
	if h.Chunked {
		return DisciplineChunked
	}
	if h.ContentLength > 0 {
		return DisciplineLength
	}
	return DisciplineNone
}

func (h *RequestHead) KeepAlive() bool { return h.ConnType == ConnKeepAlive }

// ResponseHead is the start line and header block of one response.
type ResponseHead struct {
	Status int
	Reason string
	Proto  Version
	Header http.Header

	// ContentLength is -1 when unknown; the encoder then uses chunked
	// framing on HTTP/1.1 and close-delimited framing on HTTP/1.0.
	ContentLength int64
	ConnType      ConnectionType
}

// BodilessStatus reports whether the status code forbids a payload.
func (h *ResponseHead) BodilessStatus() bool {
	return h.Status < 200 || h.Status == http.StatusNoContent || h.Status == http.StatusNotModified
}

// Request is a decoded request head plus its lazily pulled payload stream.
// Body is never nil; bodiless requests read io.EOF immediately.
type Request struct {
	*RequestHead
	Body io.ReadCloser
}

// Response is what a handler produces: a head plus a payload source.
type Response struct {
	*ResponseHead
	Body Body
}

// NewResponse builds a response head with the fields the encoder requires.
func NewResponse(status int, body Body) *Response {
	return &Response{
		ResponseHead: &ResponseHead{
			Status:        status,
			Proto:         V11,
			Header:        http.Header{},
			ContentLength: body.Size(),
		},
		Body: body,
	}
}

func StatusReason(code int) string {
	if r := http.StatusText(code); r != "" {
		return r
	}
	return "Unknown"
}

// TokenListContains reports whether a comma separated header value
// contains token, compared case-insensitively.
func TokenListContains(value, token string) bool {
	for len(value) > 0 {
		var t string
		if i := strings.IndexByte(value, ','); i >= 0 {
			t, value = value[:i], value[i+1:]
		} else {
			t, value = value, ""
		}
		if strings.EqualFold(strings.TrimSpace(t), token) {
			return true
		}
	}
	return false
}
