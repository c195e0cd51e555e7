package http1

import (
	"github.com/frankli0324/go-http1/internal/client"
	"github.com/frankli0324/go-http1/internal/coding"
)

type ClientConn = client.Conn
type ClientOptions = client.Options

var NewClientConn = client.NewConn

// Content codings, for pinning a response coding instead of negotiating.
type Coding = coding.Coding

const (
	CodingAuto     = coding.Auto
	CodingIdentity = coding.Identity
	CodingGzip     = coding.Gzip
	CodingDeflate  = coding.Deflate
	CodingBrotli   = coding.Brotli
)

// NewOffloadPool builds the shared worker pool large payloads are
// (de)compressed on; inject it through Config.Offload.
var NewOffloadPool = coding.NewPool
