package codec

import "github.com/frankli0324/go-http1/internal/model"

// Frame is one decoded protocol unit. Concrete variants are
// *model.RequestHead, *model.ResponseHead, Chunk and EOF; consumers type
// switch over them. Heads and payload frames appear strictly in protocol
// order: every Chunk/EOF sequence follows exactly one head.
type Frame interface{}

// Chunk is a run of payload bytes. It aliases the decoder's read buffer
// and must be consumed before the next decode call.
type Chunk []byte

// EOF terminates one message's payload.
type EOF struct{}

var (
	_ Frame = (*model.RequestHead)(nil)
	_ Frame = (*model.ResponseHead)(nil)
	_ Frame = Chunk(nil)
	_ Frame = EOF{}
)
