// Package payload buffers one message's decoded body between the
// connection goroutine and the handler pulling it. The buffer is bounded
// by watermarks: the producer observes Paused and stops reading the socket
// once the handler falls behind, and Resume signals when consumption
// crosses back under the low watermark.
package payload

import (
	"io"
	"sync"
)

const (
	DefaultHighWatermark = 32 << 10
	defaultLowDivisor    = 2
)

type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	chunks [][]byte
	size   int
	high   int
	low    int

	eof     bool
	err     error
	dropped bool // consumer closed early; further pushes are discarded

	resume chan struct{}
}

func New(high int) *Buffer {
	if high <= 0 {
		high = DefaultHighWatermark
	}
	b := &Buffer{
		high:   high,
		low:    high / defaultLowDivisor,
		resume: make(chan struct{}, 1),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends a copy of data for the consumer. The chunk is copied
// because decoded frames alias the connection's read buffer, which the
// next fill reuses. Push never blocks; the producer is expected to check
// Paused and stop pulling socket bytes instead.
func (b *Buffer) Push(data []byte) {
	if len(data) == 0 {
		return
	}
	b.mu.Lock()
	if b.eof || b.err != nil || b.dropped {
		b.mu.Unlock()
		return
	}
	c := make([]byte, len(data))
	copy(c, data)
	b.chunks = append(b.chunks, c)
	b.size += len(c)
	b.cond.Signal()
	b.mu.Unlock()
}

// PushEOF marks the payload complete.
func (b *Buffer) PushEOF() {
	b.mu.Lock()
	b.eof = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Fail poisons the stream; pending and future reads return err.
func (b *Buffer) Fail(err error) {
	b.mu.Lock()
	if b.err == nil && !b.eof {
		b.err = err
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Paused reports whether the producer should stop feeding the buffer.
func (b *Buffer) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size >= b.high && !b.dropped
}

// Resume is signaled when a paused producer may continue: consumption
// crossed under the low watermark or the consumer went away.
func (b *Buffer) Resume() <-chan struct{} { return b.resume }

func (b *Buffer) signalResume() {
	select {
	case b.resume <- struct{}{}:
	default:
	}
}

// Reader is the consumer end handed to the application.
func (b *Buffer) Reader() io.ReadCloser { return (*reader)(b) }

type reader Buffer

func (r *reader) Read(p []byte) (int, error) {
	b := (*Buffer)(r)
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.chunks) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		if b.eof {
			return 0, io.EOF
		}
		if b.dropped {
			return 0, io.ErrClosedPipe
		}
		b.cond.Wait()
	}
	n := copy(p, b.chunks[0])
	if n == len(b.chunks[0]) {
		b.chunks = b.chunks[1:]
	} else {
		b.chunks[0] = b.chunks[0][n:]
	}
	wasOver := b.size >= b.low
	b.size -= n
	if wasOver && b.size < b.low {
		b.signalResume()
	}
	return n, nil
}

// Close abandons the remaining payload. The producer keeps draining the
// wire to preserve framing but discards the bytes.
func (r *reader) Close() error {
	b := (*Buffer)(r)
	b.mu.Lock()
	b.dropped = true
	b.chunks = nil
	b.size = 0
	b.cond.Broadcast()
	b.signalResume()
	b.mu.Unlock()
	return nil
}
