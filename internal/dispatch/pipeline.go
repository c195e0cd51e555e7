package dispatch

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/frankli0324/go-http1/internal/codec"
	"github.com/frankli0324/go-http1/internal/coding"
	"github.com/frankli0324/go-http1/internal/errs"
	"github.com/frankli0324/go-http1/internal/model"
	"github.com/frankli0324/go-http1/internal/payload"
)

// DefaultPipelineDepth bounds requests accepted ahead of their responses.
// Depth 1 degrades to strict request/response alternation.
const DefaultPipelineDepth = 16

type result struct {
	resp *model.Response
	err  error
}

// exchange is one request travelling the pipeline. Responses leave in
// exchange order no matter when handlers complete: the write loop pops
// exchanges FIFO and parks on each one's done channel in turn.
type exchange struct {
	req    *model.Request
	accept string // Accept-Encoding snapshot for Auto negotiation
	proto  model.Version
	head   bool // HEAD request, response body suppressed

	// interim responses (100 Continue) carry a status only and no result
	interim int

	done       chan result
	cancel     context.CancelFunc
	body       *payload.Buffer
	closeAfter bool
	upgrade    bool // stream hands off after the response, no close marker
	terminal   bool // generated protocol-error response, flush is bounded
	counted    bool // participates in the in-flight count
}

func (ex *exchange) deliver(resp *model.Response, err error) {
	ex.done <- result{resp, err}
}

// errorExchange is a synthetic exchange carrying a generated response for
// a protocol violation; it takes its FIFO turn like any other.
func errorExchange(status int, proto model.Version) *exchange {
	ex := &exchange{
		proto:      proto,
		done:       make(chan result, 1),
		closeAfter: true,
		terminal:   true,
	}
	resp := model.NewResponse(status, model.NoBody())
	resp.ConnType = model.ConnClose
	ex.deliver(resp, nil)
	return ex
}

// writeLoop serializes responses in pipeline order. It exits when the
// exchange queue closes (read side done), after a close-after response,
// or when the dispatcher context is cancelled mid-wait.
func (d *Dispatcher) writeLoop() {
	defer d.wg.Done()
	// unblock a read side suspended on a full pipeline once no more
	// responses will ever be written
	defer d.cancel()
	for {
		var ex *exchange
		var ok bool
		select {
		case ex, ok = <-d.q:
			if !ok {
				return
			}
		case <-d.ctx.Done():
			d.drainExchanges()
			return
		}

		if ex.interim != 0 {
			if err := d.writeInterim(ex.interim, ex.proto); err != nil {
				d.fatal(err)
				return
			}
			continue
		}

		var res result
		select {
		case res = <-ex.done:
		case <-d.ctx.Done():
			d.drainExchanges()
			return
		}
		if ex.terminal && d.cfg.DisconnectTimeout > 0 {
			// the violating peer may never read; bound the error flush so
			// it cannot pin the connection
			d.fr.SetWriteDeadline(time.Now().Add(d.cfg.DisconnectTimeout))
		}
		err := d.writeResponse(ex, res)
		if ex.counted {
			atomic.AddInt32(&d.inflight, -1)
		}
		if err != nil {
			d.fatal(err)
			return
		}
		if ex.upgrade {
			return
		}
		if ex.closeAfter {
			d.requestClose(nil)
			d.drainExchanges()
			return
		}
	}
}

// drainExchanges cancels whatever is still queued after the write side
// stopped emitting responses.
func (d *Dispatcher) drainExchanges() {
	for {
		select {
		case ex, ok := <-d.q:
			if !ok {
				return
			}
			if ex.cancel != nil {
				ex.cancel()
			}
			if ex.body != nil {
				ex.body.Fail(io.ErrClosedPipe)
			}
		default:
			return
		}
	}
}

func (d *Dispatcher) writeInterim(status int, proto model.Version) error {
	head := &model.ResponseHead{
		Status: status,
		Proto:  proto,
		Header: http.Header{},
		// interim responses never carry a payload
		ContentLength: 0,
	}
	if err := d.fr.WriteFrame(head); err != nil {
		return err
	}
	return d.fr.Flush()
}

func (d *Dispatcher) writeResponse(ex *exchange, res result) error {
	d.setState(StateWritingHead)
	resp := res.resp
	if res.err != nil || resp == nil || resp.ResponseHead == nil {
		if res.err != nil {
			d.log.Warn("handler failed", zap.Error(errs.Handler(res.err)))
		}
		resp = model.NewResponse(http.StatusInternalServerError, model.NoBody())
		ex.closeAfter = true
	}

	head := *resp.ResponseHead
	if head.Header == nil {
		head.Header = http.Header{}
	}
	head.Proto = ex.proto
	if ex.upgrade && head.Status != http.StatusSwitchingProtocols {
		// handler declined the upgrade, the stream cannot be handed off
		ex.upgrade = false
		ex.closeAfter = true
	}
	if !ex.upgrade && (ex.closeAfter || d.closing() || head.ConnType == model.ConnClose) {
		head.ConnType = model.ConnClose
		ex.closeAfter = true
	}

	body := resp.Body
	head.ContentLength = body.Size()

	// response coding: never wrap empty or status-forbidden bodies, and
	// respect a coding the handler already applied itself
	var bodyStream io.ReadCloser
	coded := d.responseCoding(ex.accept)
	if coded != coding.Identity && !ex.head && body.Kind() != model.BodyEmpty &&
		!head.BodilessStatus() && head.Header.Get("Content-Encoding") == "" {
		head.Header.Set("Content-Encoding", coded.String())
		head.ContentLength = -1 // coded length is unknown upfront
		bodyStream = d.filter.EncodeReader(coded, body, body.Size())
	} else {
		bodyStream = io.NopCloser(body)
	}
	defer bodyStream.Close()

	if err := d.fr.WriteFrame(&head); err != nil {
		return err
	}
	if d.fr.CloseDelimited() {
		ex.closeAfter = true
	}

	d.setState(StateWritingBody)
	if !ex.head && head.ContentLength != 0 && !head.BodilessStatus() {
		buf := make([]byte, 8<<10)
		for {
			n, err := bodyStream.Read(buf)
			if n > 0 {
				if werr := d.fr.WriteFrame(codec.Chunk(buf[:n])); werr != nil {
					return werr
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				// mid-body failure: the framing is unrecoverable once the
				// head promised more bytes than we can deliver
				d.log.Warn("response body read failed", zap.Error(err))
				d.requestClose(errs.ErrPayloadRead.Wrap(err))
				ex.closeAfter = true
				break
			}
		}
	}
	if err := d.fr.WriteFrame(codec.EOF{}); err != nil {
		return err
	}
	return d.fr.Flush()
}

func (d *Dispatcher) responseCoding(accept string) coding.Coding {
	c := d.cfg.ResponseCoding
	if c == coding.Auto {
		return coding.Negotiate(accept)
	}
	return c
}
