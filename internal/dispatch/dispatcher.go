// Package dispatch drives one connection's byte stream through
// request/response framing: it pulls decoded frames from the framed
// transport, feeds messages to the application handler, pushes produced
// responses back in pipeline order, and applies keep-alive, slow-request
// and disconnect deadlines through the timeout supervisor.
package dispatch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/frankli0324/go-http1/internal/codec"
	"github.com/frankli0324/go-http1/internal/coding"
	"github.com/frankli0324/go-http1/internal/errs"
	"github.com/frankli0324/go-http1/internal/model"
	"github.com/frankli0324/go-http1/internal/payload"
	"github.com/frankli0324/go-http1/internal/transport"
	"github.com/frankli0324/go-http1/utils/nettools"
)

// Handler produces one response message for one request message. The
// request body is pulled lazily; ctx is cancelled when the connection
// goes away and the handler is expected to abandon work promptly.
type Handler func(ctx context.Context, req *model.Request) (*model.Response, error)

type State int32

const (
	StateAwaitingRequest State = iota
	StateReadingHead
	StateReadingBody
	StateDispatched
	StateWritingHead
	StateWritingBody
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingRequest:
		return "awaiting-request"
	case StateReadingHead:
		return "reading-head"
	case StateReadingBody:
		return "reading-body"
	case StateDispatched:
		return "dispatched"
	case StateWritingHead:
		return "writing-head"
	case StateWritingBody:
		return "writing-body"
	case StateClosing:
		return "closing"
	}
	return "closed"
}

const (
	DefaultKeepAliveTimeout   = 5 * time.Second
	DefaultSlowRequestTimeout = 5 * time.Second
	DefaultDisconnectTimeout  = time.Second
)

// Config carries every tunable of one dispatcher. The zero value is
// usable: buffers and deadlines fall back to the documented defaults and
// response coding negotiates automatically. Negative durations disable
// the corresponding guard.
type Config struct {
	Logger *zap.Logger

	ReadBufferSize  int
	WriteBufferSize int
	MaxHeadBytes    int

	// PipelineDepth bounds requests accepted ahead of their responses;
	// 1 means strict request/response alternation.
	PipelineDepth        int
	PayloadHighWatermark int

	ResponseCoding  coding.Coding
	InlineThreshold int64
	// Offload runs (de)compression for payloads at or above the inline
	// threshold; nil picks a process-wide pool shared by all dispatchers.
	Offload coding.Runner

	KeepAliveTimeout   time.Duration
	SlowRequestTimeout time.Duration
	DisconnectTimeout  time.Duration
}

// sharedOffload lazily builds the process-wide (de)compression pool used
// when no Runner is injected, sized to the scheduler's parallelism.
var (
	offloadOnce sync.Once
	offloadPool *coding.Pool
)

func sharedOffload() coding.Runner {
	offloadOnce.Do(func() {
		offloadPool = coding.NewPool(runtime.GOMAXPROCS(0), 64)
	})
	return offloadPool
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Offload == nil {
		c.Offload = sharedOffload()
	}
	if c.PipelineDepth <= 0 {
		c.PipelineDepth = DefaultPipelineDepth
	}
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	if c.SlowRequestTimeout == 0 {
		c.SlowRequestTimeout = DefaultSlowRequestTimeout
	}
	if c.DisconnectTimeout == 0 {
		c.DisconnectTimeout = DefaultDisconnectTimeout
	}
	return c
}

type readEvent struct {
	f   codec.Frame
	err error
}

// Dispatcher owns one connection: its buffers, its pipeline queue and its
// timers. At most one dispatcher drives a connection; the connection dies
// with it.
type Dispatcher struct {
	fr  *transport.Framed
	raw io.ReadWriteCloser
	h   Handler
	cfg Config
	log *zap.Logger

	sup    *Supervisor
	filter *coding.Filter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	q      chan *exchange
	demand chan struct{}
	events chan readEvent

	// demandOut tracks whether a frame request is outstanding; only the
	// read loop goroutine touches it. It lets awaitFrame be re-entered
	// after a timeout without double-requesting a frame.
	demandOut bool

	inflight int32

	state    int32
	started  bool
	upgraded bool

	mu       sync.Mutex
	closeErr error
	closeSet bool
}

func New(conn io.ReadWriteCloser, h Handler, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	log := cfg.Logger
	if nc, ok := conn.(net.Conn); ok {
		log = log.With(zap.String("remote", nc.RemoteAddr().String()))
	}
	return &Dispatcher{
		fr: transport.NewFramed(conn, codec.ModeServer, transport.Options{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			MaxHeadBytes:    cfg.MaxHeadBytes,
		}),
		raw:    conn,
		h:      h,
		cfg:    cfg,
		log:    log,
		sup:    NewSupervisor(),
		filter: &coding.Filter{Offload: cfg.Offload, Threshold: cfg.InlineThreshold},
		// depth-1 buffered: one more exchange sits with the write loop,
		// so total in flight equals the configured depth
		q:      make(chan *exchange, cfg.PipelineDepth-1),
		demand: make(chan struct{}, 1),
		events: make(chan readEvent, 1),
	}
}

func (d *Dispatcher) State() State { return State(atomic.LoadInt32(&d.state)) }

func (d *Dispatcher) setState(s State) {
	atomic.StoreInt32(&d.state, int32(s))
}

// Upgraded reports whether dispatch stopped to hand the stream to an
// upgraded protocol; the connection is then left open for Conn.
func (d *Dispatcher) Upgraded() bool { return d.upgraded }

func (d *Dispatcher) Conn() io.ReadWriteCloser { return d.raw }

// Serve runs the connection to completion. It returns nil for a clean
// lifecycle (peer close, idle timeout, explicit Connection: close) and
// the terminating error otherwise.
func (d *Dispatcher) Serve(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	defer d.cancel()

	d.wg.Add(1)
	go d.writeLoop()
	go d.readFrames()

	d.readLoop()
	close(d.q)
	d.wg.Wait()

	d.shutdownConn()
	d.setState(StateClosed)
	return d.reason()
}

// readFrames is the only goroutine touching the read side of the framed
// transport. It reads strictly on demand so back-pressure decisions stay
// with the dispatch loop.
func (d *Dispatcher) readFrames() {
	for range d.demand {
		f, err := d.fr.ReadFrame()
		select {
		case d.events <- readEvent{f, err}:
		case <-d.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// awaitFrame requests one frame and waits for it, the guard firing, or
// cancellation, whichever is first. Fires from other (already cancelled
// or superseded) handles are discarded.
func (d *Dispatcher) awaitFrame(guard *Handle) (codec.Frame, error) {
	if !d.demandOut {
		select {
		case d.demand <- struct{}{}:
			d.demandOut = true
		case <-d.ctx.Done():
			return nil, d.ctx.Err()
		}
	}
	for {
		select {
		case ev := <-d.events:
			d.demandOut = false
			return ev.f, ev.err
		case h := <-d.sup.Expired():
			if h != guard || guard == nil {
				continue
			}
			return nil, errs.TimeoutError{Scope: h.Scope()}
		case <-d.ctx.Done():
			return nil, d.ctx.Err()
		}
	}
}

func (d *Dispatcher) readLoop() {
	defer close(d.demand)
	for {
		d.setState(StateAwaitingRequest)
		var guard *Handle
		if d.started {
			guard = d.sup.Arm(d.cfg.KeepAliveTimeout, errs.ScopeKeepAlive)
		} else {
			// the slow-request guard doubles as the first-byte bound
			guard = d.sup.Arm(d.cfg.SlowRequestTimeout, errs.ScopeSlowRequest)
		}
		f, err := d.awaitFrame(guard)
		guard.Cancel()
		if err != nil {
			var te errs.TimeoutError
			if errors.As(err, &te) && te.Scope == errs.ScopeKeepAlive &&
				atomic.LoadInt32(&d.inflight) > 0 {
				// not idle yet: responses are still in flight, the idle
				// window restarts once they are written
				continue
			}
			d.finishRead(err)
			return
		}

		head, ok := f.(*model.RequestHead)
		if !ok {
			d.finishRead(errs.ErrMalformedHead)
			return
		}
		d.setState(StateReadingHead)
		d.started = true
		d.log.Debug("request head",
			zap.String("method", head.Method),
			zap.String("uri", head.RequestURI))

		stop, err := d.serveRequest(head)
		if err != nil {
			d.finishRead(err)
			return
		}
		if stop {
			return
		}
	}
}

func (d *Dispatcher) serveRequest(head *model.RequestHead) (stop bool, err error) {
	disc := head.Discipline()

	var pb *payload.Buffer
	body := io.ReadCloser(http.NoBody)
	var codingErr error
	if disc != model.DisciplineNone {
		c, cerr := coding.Parse(head.Header.Get("Content-Encoding"))
		if cerr != nil {
			codingErr = cerr
		} else {
			pb = payload.New(d.cfg.PayloadHighWatermark)
			body = d.filter.DecodeReader(c, pb.Reader(), head.ContentLength)
		}
	}

	if codingErr != nil {
		// the encoding is unsupported but the framing is intact: answer
		// 415, drain the body by framing, keep the connection
		d.log.Warn("unsupported content coding",
			zap.String("coding", head.Header.Get("Content-Encoding")))
		ex := &exchange{
			proto:      head.Proto,
			done:       make(chan result, 1),
			closeAfter: head.ConnType != model.ConnKeepAlive,
			counted:    true,
		}
		ex.deliver(model.NewResponse(http.StatusUnsupportedMediaType, model.NoBody()), nil)
		atomic.AddInt32(&d.inflight, 1)
		if !d.enqueue(ex) {
			return true, nil
		}
		if err := d.readBody(nil); err != nil {
			return true, err
		}
		return ex.closeAfter, nil
	}

	if head.Expect100 && disc != model.DisciplineNone {
		if !d.enqueue(&exchange{interim: http.StatusContinue, proto: head.Proto}) {
			return true, nil
		}
	}

	exctx, excancel := context.WithCancel(d.ctx)
	ex := &exchange{
		req:        &model.Request{RequestHead: head, Body: body},
		accept:     head.Header.Get("Accept-Encoding"),
		proto:      head.Proto,
		head:       head.Method == http.MethodHead,
		done:       make(chan result, 1),
		cancel:     excancel,
		body:       pb,
		closeAfter: head.ConnType == model.ConnClose,
		upgrade:    head.ConnType == model.ConnUpgrade,
		counted:    true,
	}
	atomic.AddInt32(&d.inflight, 1)
	if !d.enqueue(ex) {
		excancel()
		return true, nil
	}

	d.setState(StateDispatched)
	go func() {
		defer excancel()
		resp, herr := d.h(exctx, ex.req)
		ex.deliver(resp, herr)
	}()

	if err := d.readBody(pb); err != nil {
		return true, err
	}

	if head.ConnType == model.ConnUpgrade {
		d.upgraded = true
		return true, nil
	}
	return ex.closeAfter, nil
}

// enqueue reserves a pipeline slot, suspending the read side when the
// queue is at depth. A false return means the connection is going away.
func (d *Dispatcher) enqueue(ex *exchange) bool {
	select {
	case d.q <- ex:
		return true
	case <-d.ctx.Done():
		if ex.cancel != nil {
			ex.cancel()
		}
		return false
	}
}

// readBody pulls payload frames until EOF, pausing socket reads while the
// handler lags behind the buffer's high watermark. pb nil means drain and
// discard. The slow-request guard re-arms per frame, bounding the gap
// between consecutive body chunks.
func (d *Dispatcher) readBody(pb *payload.Buffer) error {
	d.setState(StateReadingBody)
	for {
		if pb != nil && pb.Paused() {
			select {
			case <-pb.Resume():
			case <-d.sup.Expired():
				// no guard is armed while paused, drop the stale fire
			case <-d.ctx.Done():
				pb.Fail(io.ErrClosedPipe)
				return d.ctx.Err()
			}
			continue
		}
		slow := d.sup.Arm(d.cfg.SlowRequestTimeout, errs.ScopeSlowRequest)
		f, err := d.awaitFrame(slow)
		slow.Cancel()
		if err != nil {
			if pb != nil {
				pb.Fail(errs.ErrPayloadRead.Wrap(err))
			}
			return err
		}
		switch f := f.(type) {
		case codec.Chunk:
			if pb != nil {
				pb.Push(f)
			}
		case codec.EOF:
			if pb != nil {
				pb.PushEOF()
			}
			return nil
		default:
			if pb != nil {
				pb.Fail(errs.ErrMalformedHead)
			}
			return errs.ErrMalformedHead
		}
	}
}

// finishRead classifies the event that ended the read loop and queues a
// best-effort error response when protocol state still permits one.
func (d *Dispatcher) finishRead(err error) {
	if err == io.EOF {
		d.log.Debug("peer closed connection")
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	var te errs.TimeoutError
	if errors.As(err, &te) {
		if te.Scope == errs.ScopeKeepAlive {
			d.log.Debug("keep-alive timeout, closing idle connection")
			return
		}
		d.log.Debug("timeout", zap.String("scope", te.Scope.String()))
		d.requestClose(err)
		d.enqueue(errorExchange(http.StatusRequestTimeout, model.V11))
		return
	}

	var pe errs.ProtocolError
	if errors.As(err, &pe) {
		d.log.Warn("protocol error", zap.Error(err))
		d.requestClose(err)
		d.enqueue(errorExchange(statusFor(pe), model.V11))
		return
	}

	d.log.Warn("connection error", zap.Error(err))
	d.requestClose(err)
}

func statusFor(err errs.ProtocolError) int {
	switch {
	case errors.Is(err, errs.ErrHeaderTooLarge):
		return http.StatusRequestHeaderFieldsTooLarge
	case errors.Is(err, errs.ErrUnsupportedVersion):
		return http.StatusHTTPVersionNotSupported
	}
	return http.StatusBadRequest
}

// requestClose records the first close reason and flags the connection as
// going away. A nil err is a clean, intended close.
func (d *Dispatcher) requestClose(err error) {
	d.mu.Lock()
	if !d.closeSet {
		d.closeSet = true
		d.closeErr = err
	}
	d.mu.Unlock()
}

func (d *Dispatcher) closing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeSet
}

func (d *Dispatcher) reason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeErr
}

// fatal is the write side's unrecoverable exit: record, cancel, abandon.
func (d *Dispatcher) fatal(err error) {
	d.log.Warn("write failed", zap.Error(err))
	d.requestClose(err)
	d.cancel()
}

// shutdownConn is the Closing state: flush what is queued, then bound the
// wait for the peer's FIN before tearing the stream down.
func (d *Dispatcher) shutdownConn() {
	if d.upgraded {
		return
	}
	d.setState(StateClosing)
	d.fr.Flush()

	if nc, ok := d.raw.(net.Conn); ok && d.cfg.DisconnectTimeout > 0 && d.reason() == nil {
		dh := d.sup.Arm(d.cfg.DisconnectTimeout, errs.ScopeDisconnect)
		done := make(chan struct{})
		go func() {
			nettools.PeerClosed(nc, d.cfg.DisconnectTimeout)
			close(done)
		}()
		select {
		case <-done:
			dh.Cancel()
		case <-d.sup.Expired():
		}
	}
	d.fr.Close()
}
