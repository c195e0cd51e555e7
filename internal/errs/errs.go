package errs

// ProtocolError is fatal to the connection: once the decoder reports one,
// no further bytes on the stream can be trusted to sit on a frame boundary.
type ProtocolError struct {
	msg string
	error
}

func (e ProtocolError) Error() string {
	if e.error != nil {
		return e.msg + ": " + e.error.Error()
	}
	return e.msg
}

func (e ProtocolError) Wrap(err error) ProtocolError {
	if err == nil {
		return e
	}
	return ProtocolError{e.msg, err}
}

func (e ProtocolError) Unwrap() error { return e.error }

func (e ProtocolError) Is(err error) bool {
	if err, ok := err.(ProtocolError); ok {
		return e.msg == err.msg
	}
	return false
}

func proto(msg string) ProtocolError { return ProtocolError{msg, nil} }

var (
	ErrMalformedHead      = proto("malformed message head")
	ErrHeaderTooLarge     = proto("header block exceeds size limit")
	ErrInvalidChunkFrame  = proto("invalid chunked framing")
	ErrAmbiguousFraming   = proto("both content-length and chunked framing declared")
	ErrUnexpectedEOF      = proto("connection closed mid frame")
	ErrPipelineOverflow   = proto("too many pipelined requests")
	ErrUnsupportedVersion = proto("unsupported protocol version")
)

// PayloadError is fatal to the current message. Whether the connection
// survives depends on whether framing boundaries are still recoverable,
// which the dispatcher decides.
type PayloadError struct {
	msg string
	error
}

func (e PayloadError) Error() string {
	if e.error != nil {
		return e.msg + ": " + e.error.Error()
	}
	return e.msg
}

func (e PayloadError) Wrap(err error) PayloadError {
	if err == nil {
		return e
	}
	return PayloadError{e.msg, err}
}

func (e PayloadError) Unwrap() error { return e.error }

func (e PayloadError) Is(err error) bool {
	if err, ok := err.(PayloadError); ok {
		return e.msg == err.msg
	}
	return false
}

func payload(msg string) PayloadError { return PayloadError{msg, nil} }

var (
	ErrDecompress          = payload("payload decompress failed")
	ErrUnsupportedEncoding = payload("unsupported content coding")
	ErrPayloadTooLong      = payload("payload exceeds declared length")
	ErrPayloadIncomplete   = payload("payload ended before declared length")
	ErrPayloadRead         = payload("payload stream read error")
)

// TimeoutScope identifies which guard fired. Timeouts drive a clean close,
// they are not surfaced to the handler as processing errors.
type TimeoutScope int

const (
	ScopeHandshake TimeoutScope = iota
	ScopeSlowRequest
	ScopeKeepAlive
	ScopeDisconnect
)

func (s TimeoutScope) String() string {
	switch s {
	case ScopeHandshake:
		return "handshake"
	case ScopeSlowRequest:
		return "slow-request"
	case ScopeKeepAlive:
		return "keep-alive"
	case ScopeDisconnect:
		return "disconnect"
	}
	return "unknown"
}

type TimeoutError struct {
	Scope TimeoutScope
}

func (e TimeoutError) Error() string { return e.Scope.String() + " timeout" }

func (e TimeoutError) Is(err error) bool {
	if err, ok := err.(TimeoutError); ok {
		return e.Scope == err.Scope
	}
	return false
}

// HandlerError wraps an application-level failure. If no response bytes
// have been written the dispatcher answers with a generated 500, otherwise
// it closes the connection immediately.
type HandlerError struct {
	error
}

func (e HandlerError) Error() string { return "handler failed: " + e.error.Error() }

func (e HandlerError) Unwrap() error { return e.error }

func Handler(err error) error {
	if err == nil {
		return nil
	}
	return HandlerError{err}
}
