package http1

import (
	"net/http"

	"github.com/frankli0324/go-http1/internal/dispatch"
	"github.com/frankli0324/go-http1/internal/model"
)

type Header = http.Header
type Version = model.Version
type Request = model.Request
type Response = model.Response
type RequestHead = model.RequestHead
type ResponseHead = model.ResponseHead
type Body = model.Body

type Handler = dispatch.Handler
type Config = dispatch.Config
type Dispatcher = dispatch.Dispatcher
type State = dispatch.State

// Supervisor backs the dispatcher's deadlines; acceptors may use the same
// mechanism to bound the TLS/first-byte handshake before handing the
// stream to a dispatcher.
type Supervisor = dispatch.Supervisor

var (
	V10 = model.V10
	V11 = model.V11
)

var NewResponse = model.NewResponse
var NoBody = model.NoBody
var BytesBody = model.BytesBody
var StringBody = model.StringBody
var ReaderBody = model.ReaderBody

// NewDispatcher pairs an established, already-secured byte stream with a
// handler. The dispatcher owns the stream until Serve returns.
var NewDispatcher = dispatch.New

var NewSupervisor = dispatch.NewSupervisor
