// Package transport pairs one connection's byte stream with its read and
// write buffers and the frame codec, per RFC9112 message syntax.
//
// The read buffer is a fixed ceiling: a head that does not decode from a
// full buffer is an oversized-header error, never silent truncation. The
// write buffer is the primary back-pressure mechanism against slow
// consumers; writes past its capacity flush to the stream and suspend the
// producing goroutine until the peer drains.
//
// net/http components are reused on the "semantics" part ([net/http.Header] etc.)
package transport
