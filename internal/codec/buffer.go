package codec

import "io"

// Buffer is the read-side byte arena for one connection. Decoded frames
// reference ranges of it by offset rather than holding copies, so a frame's
// bytes are valid only until the next Fill or Compact. Capacity is a hard
// ceiling; a head that cannot decode from a full buffer is oversized, never
// silently truncated.
type Buffer struct {
	b    []byte
	r, w int
	cap  int
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{b: make([]byte, 0, min(capacity, 512)), cap: capacity}
}

// Bytes is the unread view. Valid until the next Fill.
func (b *Buffer) Bytes() []byte { return b.b[b.r:b.w] }

func (b *Buffer) Len() int { return b.w - b.r }

// Credit is the remaining fill capacity, the read-side back-pressure token.
func (b *Buffer) Credit() int { return b.cap - b.Len() }

func (b *Buffer) Full() bool { return b.Credit() == 0 }

// Consume discards n leading unread bytes.
func (b *Buffer) Consume(n int) {
	b.r += n
	if b.r > b.w {
		panic("codec: consume past write offset")
	}
	if b.r == b.w {
		b.r, b.w = 0, 0
		b.b = b.b[:0]
	}
}

// Fill reads once from r into the spare region, growing the backing slice
// up to the capacity ceiling. It reports bytes read; n == 0 with nil error
// only when the buffer is already full.
func (b *Buffer) Fill(r io.Reader) (int, error) {
	if b.Full() {
		return 0, nil
	}
	b.compact()
	if free := cap(b.b) - b.w; free == 0 {
		grow := cap(b.b) * 2
		if grow > b.cap {
			grow = b.cap
		}
		nb := make([]byte, b.w, grow)
		copy(nb, b.b)
		b.b = nb
	}
	spare := b.b[b.w:cap(b.b)]
	if over := b.w + len(spare) - b.cap; over > 0 {
		spare = spare[:len(spare)-over]
	}
	n, err := r.Read(spare)
	b.b = b.b[:b.w+n]
	b.w += n
	return n, err
}

func (b *Buffer) compact() {
	if b.r == 0 {
		return
	}
	copy(b.b, b.b[b.r:b.w])
	b.w -= b.r
	b.r = 0
	b.b = b.b[:b.w]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
